package database

import (
	"fmt"
	"strings"

	"github.com/semmidev/pgstash/internal/config"
	"github.com/semmidev/pgstash/internal/domain"
)

// New returns the adapter for cfg.Type.
func New(cfg *config.DatabaseConfig) (domain.Database, error) {
	switch strings.ToLower(cfg.Type) {
	case "postgresql", "postgres":
		return NewPostgreSQL(cfg), nil
	case "mysql":
		return NewMySQL(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
