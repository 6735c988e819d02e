// Package main is the entry point for the labwatch CLI.
//
// Labwatch can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach:
// a monitoring session whose measurements all come from configured probes.
//
// Usage:
//
//	labwatch serve -c run.yaml    # Start a monitoring session
//	labwatch validate -c run.yaml # Validate configuration
//	labwatch version              # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "labwatch",
	Short: "A live monitoring session for lab experiments",
	Long: `Labwatch records time-stamped measurements from lab instruments into
a durable per-session database and serves live charts over HTTP.

Quick start:
  1. Create a config file (run.yaml)
  2. Run: labwatch serve -c run.yaml
  3. Open http://localhost:8080 in your browser

Example config:
  session: heating_run
  tick_interval: 1s
  probes:
    - name: Oven
      url: http://oven.lab/api/temp
      variable: oven_temp
      extractor: json:celsius
  charts:
    - name: bench
      variables: [oven_temp]`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this labwatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("labwatch %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
