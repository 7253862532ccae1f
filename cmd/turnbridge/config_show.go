package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turnbridge/turnbridge/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command) error {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	settings, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// AdminTokenSigningKey is deliberately masked: this command prints
	// to stdout, which operators paste into chat and tickets.
	redacted := *settings
	if redacted.AdminTokenSigningKey != "" {
		redacted.AdminTokenSigningKey = "***"
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(redacted)
}
