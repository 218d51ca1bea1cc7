package database

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"

	"github.com/semmidev/pgstash/internal/config"
)

type PostgreSQLDatabase struct {
	config *config.DatabaseConfig
}

func NewPostgreSQL(cfg *config.DatabaseConfig) *PostgreSQLDatabase {
	return &PostgreSQLDatabase{config: cfg}
}

// Dump runs pg_dump in plain format. The password travels through
// PGPASSWORD so it never shows up in the process list.
func (p *PostgreSQLDatabase) Dump(ctx context.Context, outputPath string) error {
	args := []string{
		fmt.Sprintf("--host=%s", p.config.Host),
		fmt.Sprintf("--port=%d", p.config.Port),
		fmt.Sprintf("--username=%s", p.config.Username),
		"--format=plain",
		"--no-password",
		fmt.Sprintf("--file=%s", outputPath),
		p.config.Database,
	}

	return runDump(ctx, p.GetType(), orDefault(p.config.DumpCommand, "pg_dump"), args, p.env())
}

func (p *PostgreSQLDatabase) GetName() string {
	return p.config.Database
}

func (p *PostgreSQLDatabase) GetType() string {
	return "postgresql"
}

func (p *PostgreSQLDatabase) Endpoint() string {
	return net.JoinHostPort(p.config.Host, strconv.Itoa(p.config.Port))
}

func (p *PostgreSQLDatabase) DumpExt() string {
	return ".sql"
}

// Ping asks pg_isready whether the server accepts connections.
func (p *PostgreSQLDatabase) Ping(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, orDefault(p.config.ProbeCommand, "pg_isready"),
		fmt.Sprintf("--host=%s", p.config.Host),
		fmt.Sprintf("--port=%d", p.config.Port),
		fmt.Sprintf("--username=%s", p.config.Username),
		fmt.Sprintf("--dbname=%s", p.config.Database),
	)
	cmd.Env = append(os.Environ(), p.env()...)

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("postgresql ping failed: %w, output: %s", err, tail(string(output), 256))
	}

	return nil
}

func (p *PostgreSQLDatabase) env() []string {
	return []string{fmt.Sprintf("PGPASSWORD=%s", p.config.Password)}
}
