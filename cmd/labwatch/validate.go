package main

import (
	"fmt"

	"github.com/labwatch/labwatch/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting a session.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a labwatch configuration file without starting a session.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-run checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  labwatch validate -c run.yaml
  labwatch validate --config /etc/labwatch/run.yaml`,
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

	// Count total probes (direct + from grids)
	directProbes := len(cfg.Probes)
	gridProbes := 0
	for _, g := range cfg.Grids {
		// Calculate cartesian product size
		size := 1
		for _, vals := range g.Dimensions {
			size *= len(vals)
		}
		gridProbes += size
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Session:       %s\n", cfg.Session)
	fmt.Printf("  Port:          %d\n", cfg.Port)
	fmt.Printf("  Tick interval: %s\n", cfg.TickInterval.Duration())
	fmt.Printf("  Charts:        %d\n", len(cfg.Charts))
	fmt.Printf("  Probes:        %d direct + %d from grids = %d total\n",
		directProbes, gridProbes, directProbes+gridProbes)

	return nil
}
