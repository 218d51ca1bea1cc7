package main

import (
	"fmt"
	"os"

	"github.com/semmidev/pgstash/internal/app"
	"github.com/semmidev/pgstash/internal/infrastructure/logger"
	"github.com/spf13/cobra"
)

var (
	cmdGDriveAuthClientSecret string
	cmdGDriveAuthAddr         string
	cmdGDriveAuthOut          string
)

var cmdGDriveAuth = &cobra.Command{
	Use:   "gdrive-auth",
	Short: "Obtain a Google Drive OAuth token for the gdrive upload target",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.New("info", "")
		if err != nil {
			return err
		}
		defer log.Close()

		auth, err := app.NewDriveAuth(log, cmdGDriveAuthClientSecret)
		if err != nil {
			return err
		}

		token, err := auth.Authorize(cmd.Context(), cmdGDriveAuthAddr)
		if err != nil {
			return err
		}

		creds, err := auth.CredentialsJSON(token)
		if err != nil {
			return err
		}

		if cmdGDriveAuthOut == "" {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(creds))
			return err
		}
		if err := os.WriteFile(cmdGDriveAuthOut, creds, 0600); err != nil {
			return fmt.Errorf("failed to write credentials: %w", err)
		}
		log.Infof("Credentials written to %s; point credentials_file of the gdrive target at it", cmdGDriveAuthOut)
		return nil
	},
}

func init() {
	cmdGDriveAuth.Flags().StringVar(&cmdGDriveAuthClientSecret, "client-secret", "client_secret.json", "path to the OAuth client secret downloaded from Google Cloud")
	cmdGDriveAuth.Flags().StringVar(&cmdGDriveAuthAddr, "addr", "localhost:8085", "listen address for the OAuth callback")
	cmdGDriveAuth.Flags().StringVarP(&cmdGDriveAuthOut, "out", "o", "", "write the credentials file here instead of stdout")
}
