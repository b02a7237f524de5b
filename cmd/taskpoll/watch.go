package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gobwas/glob"
	"github.com/jpalmerr/taskpoll"
	"github.com/jpalmerr/taskpoll/config"
	"github.com/spf13/cobra"
)

// newLogger creates a JSON logger for CLI use.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// watchCmd polls the configured tasks until they all finish.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch tasks until they finish",
	Long: `Watch every configured task until it reaches a terminal state.

The command will:
  - Load configuration from the specified YAML file
  - Poll all tasks and batches concurrently
  - Serve the task API on the configured port (unless --no-api)
  - Print a summary once every task finished

Interrupting (Ctrl+C) or SIGTERM stops all tasks and prints the summary.

Exit codes:
  0 - Every task succeeded
  1 - At least one task failed, timed out, errored or was stopped

Tasks can be narrowed with --only glob patterns matched against task names.
A '*' does not cross the '/' of batch task names; '**' does.

Example:
  taskpoll watch -c tasks.yaml
  taskpoll watch -c tasks.yaml --no-api --log-level warn
  taskpoll watch -c tasks.yaml --only 'render/*' --only report`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	watchCmd.Flags().Bool("no-api", false, "do not serve the task API")
	watchCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	watchCmd.Flags().StringArray("only", nil, "only watch tasks whose name matches this glob (repeatable)")
	_ = watchCmd.MarkFlagRequired("config")
}

func runWatch(cmd *cobra.Command, args []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(cmd.ErrOrStderr(), level)
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"tasks", len(cfg.Tasks),
		"batches", len(cfg.Batches),
		"total", cfg.TaskCount(),
	)

	tasks, err := config.BuildTasks(cfg)
	if err != nil {
		return fmt.Errorf("failed to build tasks: %w", err)
	}
	only, _ := cmd.Flags().GetStringArray("only")
	if tasks, err = filterTasks(tasks, only); err != nil {
		return err
	}

	opts, err := config.WatcherOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build watcher options: %w", err)
	}
	opts = append(opts,
		taskpoll.WithTasks(tasks...),
		taskpoll.WithWatcherLogger(logger),
	)
	if noAPI, _ := cmd.Flags().GetBool("no-api"); noAPI {
		opts = append(opts, taskpoll.WithPort(0))
	}

	w, err := taskpoll.NewWatcher(opts...)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	runErr := w.Run(ctx)
	logger.Info("watch finished", "duration", time.Since(start).String())

	snapshot := w.Snapshot()
	printSummary(cmd.OutOrStdout(), snapshot)

	if runErr != nil {
		logger.Error("tasks aborted", "error", runErr)
	}
	if n := unsuccessful(snapshot, len(tasks)); n > 0 {
		return fmt.Errorf("%d of %d tasks did not succeed", n, len(tasks))
	}
	return nil
}

// filterTasks keeps the tasks whose name matches any of the patterns.
// No patterns keeps every task.
func filterTasks(tasks []taskpoll.HTTPTask, patterns []string) ([]taskpoll.HTTPTask, error) {
	if len(patterns) == 0 {
		return tasks, nil
	}

	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid --only pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}

	var kept []taskpoll.HTTPTask
	for _, task := range tasks {
		for _, g := range globs {
			if g.Match(task.Name()) {
				kept = append(kept, task)
				break
			}
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("no task matches --only %s", strings.Join(patterns, ", "))
	}
	return kept, nil
}

// unsuccessful counts tasks that did not succeed, including tasks that
// never published an update.
func unsuccessful(snapshot []taskpoll.TaskUpdate, total int) int {
	succeeded := 0
	for _, u := range snapshot {
		if u.Outcome == taskpoll.OutcomeSucceeded {
			succeeded++
		}
	}
	return total - succeeded
}

// printSummary writes one row per task.
func printSummary(out io.Writer, snapshot []taskpoll.TaskUpdate) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tOUTCOME\tSTATUS\tPROGRESS\tATTEMPTS\tELAPSED\tDETAIL")
	for _, u := range snapshot {
		detail := u.Result
		if u.Err != nil {
			detail = u.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%d\t%s\t%s\n",
			u.Name,
			u.Outcome,
			orDash(u.Status.String()),
			u.Progress,
			u.Attempts,
			u.Elapsed.Round(time.Millisecond),
			orDash(detail),
		)
	}
	_ = tw.Flush()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
