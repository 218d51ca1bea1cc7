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

type MySQLDatabase struct {
	config *config.DatabaseConfig
}

func NewMySQL(cfg *config.DatabaseConfig) *MySQLDatabase {
	return &MySQLDatabase{config: cfg}
}

// Dump runs mysqldump inside a single transaction. MYSQL_PWD carries the
// password instead of --password.
func (m *MySQLDatabase) Dump(ctx context.Context, outputPath string) error {
	args := []string{
		fmt.Sprintf("--host=%s", m.config.Host),
		fmt.Sprintf("--port=%d", m.config.Port),
		fmt.Sprintf("--user=%s", m.config.Username),
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--routines",
		"--triggers",
		"--events",
		fmt.Sprintf("--result-file=%s", outputPath),
		m.config.Database,
	}

	return runDump(ctx, m.GetType(), orDefault(m.config.DumpCommand, "mysqldump"), args, m.env())
}

func (m *MySQLDatabase) GetName() string {
	return m.config.Database
}

func (m *MySQLDatabase) GetType() string {
	return "mysql"
}

func (m *MySQLDatabase) Endpoint() string {
	return net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
}

func (m *MySQLDatabase) DumpExt() string {
	return ".sql"
}

func (m *MySQLDatabase) Ping(ctx context.Context) error {
	args := []string{
		fmt.Sprintf("--host=%s", m.config.Host),
		fmt.Sprintf("--port=%d", m.config.Port),
		fmt.Sprintf("--user=%s", m.config.Username),
		"--silent",
		"ping",
	}

	cmd := exec.CommandContext(ctx, orDefault(m.config.ProbeCommand, "mysqladmin"), args...)
	cmd.Env = append(os.Environ(), m.env()...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mysql ping failed: %w", err)
	}

	return nil
}

func (m *MySQLDatabase) env() []string {
	return []string{fmt.Sprintf("MYSQL_PWD=%s", m.config.Password)}
}
