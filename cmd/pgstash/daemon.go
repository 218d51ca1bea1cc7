package main

import (
	"github.com/semmidev/pgstash/internal/app"
	"github.com/spf13/cobra"
)

var cmdDaemon = &cobra.Command{
	Use:   "daemon",
	Short: "Run backups on the configured cron schedule until interrupted",
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

		return application.Run(cmd.Context())
	},
}
