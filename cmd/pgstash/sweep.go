package main

import (
	"errors"
	"fmt"

	"github.com/semmidev/pgstash/internal/app"
	"github.com/spf13/cobra"
)

var cmdSweep = &cobra.Command{
	Use:   "sweep",
	Short: "Delete backups older than the retention window without taking a new one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		application, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer application.Shutdown()

		report, err := application.Sweep(cmd.Context())
		if err != nil {
			return err
		}

		for _, name := range report.Deleted {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		if len(report.Errors) > 0 {
			return fmt.Errorf("%d deletion(s) failed: %w", len(report.Errors), errors.Join(report.Errors...))
		}
		return nil
	},
}
