// Package main is the entry point for the taskpoll CLI.
//
// taskpoll can be used as a library (SDK) or as a standalone binary with
// YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	taskpoll watch -c tasks.yaml    # Watch tasks until they finish
//	taskpoll validate -c tasks.yaml # Validate configuration
//	taskpoll version                # Show version info
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
	Use:   "taskpoll",
	Short: "Watch long-running remote tasks until they finish",
	Long: `taskpoll polls the status endpoints of long-running remote tasks,
reports simulated or observed progress, and exits once every task reached
a terminal state.

Quick start:
  1. Create a config file (tasks.yaml)
  2. Run: taskpoll watch -c tasks.yaml
  3. Follow progress at http://localhost:8080/api/tasks

Example config:
  defaults:
    interval: 5s
    max_duration: 10m
  tasks:
    - name: render
      url: https://api.example.com/tasks/42
      status_path: data.status`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
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
	Long:  `Print the version, commit hash, and build date of this taskpoll binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "taskpoll %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
