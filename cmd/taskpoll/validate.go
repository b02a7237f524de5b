package main

import (
	"fmt"

	"github.com/jpalmerr/taskpoll/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without polling anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a taskpoll configuration file without polling any task.

This command parses the YAML, expands environment variables, and validates
all fields, reporting every problem at once. It's useful for CI/CD
pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  taskpoll validate -c tasks.yaml`,
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

	batched := cfg.TaskCount() - len(cfg.Tasks)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:            %d\n", cfg.Port)
	fmt.Fprintf(out, "  Max concurrency: %d\n", cfg.MaxConcurrency)
	fmt.Fprintf(out, "  Interval:        %s\n", cfg.Defaults.Interval.Duration())
	fmt.Fprintf(out, "  Max duration:    %s\n", cfg.Defaults.MaxDuration.Duration())
	fmt.Fprintf(out, "  Tasks:           %d direct + %d from batches = %d total\n",
		len(cfg.Tasks), batched, cfg.TaskCount())

	return nil
}
