package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/semmidev/pgstash/internal/app"
	"github.com/semmidev/pgstash/internal/config"
	"github.com/semmidev/pgstash/internal/domain"
	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "pgstash",
		Short:         "Scheduled, unattended database backups",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PGSTASH_CONFIG"), "path to YAML config file (optional)")
	rootCmd.AddCommand(cmdRun, cmdDaemon, cmdSweep, cmdGDriveAuth)
}

// execute runs the selected command and maps its error to an exit status.
func execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return domain.ExitCode(err)
	}
	return 0
}

// loadConfig rejects a malformed configuration before the log file or any
// upload target is opened.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := app.LoadConfig(cmd.Context(), configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
