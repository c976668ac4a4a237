// Package main is the entry point for the cascade CLI.
//
// A cascade context can be embedded as a library or run as a standalone bridge
// process configured with YAML. This CLI provides the standalone bridge.
//
// Usage:
//
//	cascade serve -c cascade.yaml    # Start the bridge
//	cascade validate -c cascade.yaml # Validate configuration
//	cascade version                  # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "cascade",
	Short: "A shared, observable context store",
	Long: `Cascade is a keyed publish/subscribe context store.

The bridge serves one context over HTTP so that processes, dev servers and
browser tabs can read keys, write them, and subscribe to changes through
Server-Sent Events or WebSockets.

Quick start:
  1. Create a config file (cascade.yaml)
  2. Run: cascade serve -c cascade.yaml
  3. curl http://localhost:8080/api/context

Example config:
  port: 8080
  origin: dev-bridge
  seed:
    path: context.yaml
    watch: true
  values:
    theme: dark`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already prints the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this cascade binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cascade %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
