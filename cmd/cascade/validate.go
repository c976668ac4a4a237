package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/cascade/config"
	"github.com/jpalmerr/cascade/internal/seed"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a cascade configuration file without starting the server.

This command parses the YAML, expands environment variables, validates all
fields and, if a seed file is configured, checks that it parses. It's useful
for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  cascade validate -c cascade.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seedKeys := 0
	if cfg.Seed.Path != "" {
		values, err := seed.Load(cfg.Seed.Path)
		if err != nil {
			return fmt.Errorf("invalid seed: %w", err)
		}
		seedKeys = len(values)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:      %d\n", cfg.Port)
	fmt.Fprintf(out, "  Log level: %s\n", cfg.LogLevel)
	fmt.Fprintf(out, "  Values:    %d inline + %d from seed file\n", len(cfg.Values), seedKeys)
	if cfg.Seed.Watch {
		fmt.Fprintf(out, "  Watching:  %s\n", cfg.Seed.Path)
	}

	return nil
}
