package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/turnbridge/turnbridge/logger"
)

var rootCmd = &cobra.Command{
	Use:   "turnbridge",
	Short: "turnbridge pairs two HTTP callers into one rendezvous conversation",
	Long: `turnbridge is an OpenAI- and Anthropic-compatible chat completions
proxy that pairs two independent clients, keyed by the "model" field, into
a single turn-taking exchange.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("log-level") {
			level, err := cmd.Flags().GetString("log-level")
			if err != nil {
				fmt.Fprintf(os.Stderr, "error reading log-level flag: %v\n", err)
				return
			}
			logger.SetLevel(logger.ParseLevel(level))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to turnbridge config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level")
}

// Execute runs the root command, exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
