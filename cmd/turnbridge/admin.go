package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/turnbridge/turnbridge/adminauth"
	"github.com/turnbridge/turnbridge/config"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative helpers",
}

var adminTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the /admin/* endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdminToken(cmd)
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminTokenCmd)
	adminTokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
}

func runAdminToken(cmd *cobra.Command) error {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	settings, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if settings.AdminTokenSigningKey == "" {
		return fmt.Errorf("admin_token_signing_key is not configured")
	}

	ttl, err := cmd.Flags().GetDuration("ttl")
	if err != nil {
		return err
	}

	issuer := adminauth.NewIssuer([]byte(settings.AdminTokenSigningKey), ttl)
	token, err := issuer.IssueToken()
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	fmt.Println(token)
	return nil
}
