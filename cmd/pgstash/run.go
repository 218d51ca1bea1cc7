package main

import (
	"fmt"

	"github.com/semmidev/pgstash/internal/app"
	"github.com/semmidev/pgstash/internal/domain"
	"github.com/spf13/cobra"
)

var cmdRunPurpose string

var cmdRun = &cobra.Command{
	Use:   "run",
	Short: "Take one backup and exit",
	Long: `Take one backup and exit. Meant to be invoked by an external scheduler.

With --purpose backup-with-retention, artifacts older than the retention
window are swept before the new backup is taken.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		purpose, err := domain.ParsePurpose(cmdRunPurpose)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		application, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer application.Shutdown()

		return application.RunOnce(cmd.Context(), purpose).Err
	},
}

func init() {
	cmdRun.Flags().StringVarP(&cmdRunPurpose, "purpose", "p", string(domain.PurposeBackup),
		"run purpose: backup or backup-with-retention")
}
