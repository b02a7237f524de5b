package taskpoll

import (
	"errors"
	"log/slog"
)

// watcherConfig holds mutable state during watcher construction.
type watcherConfig struct {
	tasks           []HTTPTask
	port            int
	maxConcurrency  int
	errorLimit      int
	defaults        []Option
	logger          *slog.Logger
	updateCallbacks []func(TaskUpdate)
}

// WatcherOption configures a [Watcher] during construction.
//
// Built-in options: [WithTask], [WithTasks], [WithPort], [WithMaxConcurrency],
// [WithDefaults], [WithWatcherLogger], [WithUpdateCallback],
// [WithConsecutiveErrorLimit].
type WatcherOption func(*watcherConfig) error

// WithTask adds a single task to the watcher.
func WithTask(t HTTPTask) WatcherOption {
	return func(cfg *watcherConfig) error {
		cfg.tasks = append(cfg.tasks, t)
		return nil
	}
}

// WithTasks adds multiple tasks, typically the result of [NewTaskBatch].
func WithTasks(tasks ...HTTPTask) WatcherOption {
	return func(cfg *watcherConfig) error {
		cfg.tasks = append(cfg.tasks, tasks...)
		return nil
	}
}

// WithPort serves the task API on the given port while the watcher runs.
// Port 0, the default, disables the API.
//
// Returns an error if the port is outside 0..65535.
func WithPort(port int) WatcherOption {
	return func(cfg *watcherConfig) error {
		if port < 0 || port > 65535 {
			return errors.New("port must be between 0 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithMaxConcurrency limits how many status checks are in flight at once
// across all tasks. Defaults to 10.
//
// Returns an error if n is zero or negative.
func WithMaxConcurrency(n int) WatcherOption {
	return func(cfg *watcherConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithDefaults sets poller options applied to every task before the task's
// own poll options, so tasks can override them.
//
// Example:
//
//	w, err := taskpoll.NewWatcher(
//	    taskpoll.WithTasks(tasks...),
//	    taskpoll.WithDefaults(
//	        taskpoll.WithInterval(3*time.Second),
//	        taskpoll.WithMaxDuration(5*time.Minute),
//	    ),
//	)
func WithDefaults(opts ...Option) WatcherOption {
	return func(cfg *watcherConfig) error {
		for _, opt := range opts {
			if opt == nil {
				return errors.New("default poll option cannot be nil")
			}
		}
		cfg.defaults = append(cfg.defaults, opts...)
		return nil
	}
}

// WithWatcherLogger sets the logger for the watcher and its pollers.
// Defaults to slog.Default().
//
// Returns an error if logger is nil.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(cfg *watcherConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithUpdateCallback registers a function called with every [TaskUpdate].
//
// Callbacks for different tasks may run concurrently, so the callback must be
// safe for concurrent use. Updates of one task arrive in order. Panics are
// recovered and logged. Multiple callbacks run in registration order; a nil
// callback is ignored.
//
// Example:
//
//	taskpoll.WithUpdateCallback(func(u taskpoll.TaskUpdate) {
//	    if u.Event == taskpoll.EventSucceeded {
//	        notify(u.Name, u.Result)
//	    }
//	})
func WithUpdateCallback(cb func(TaskUpdate)) WatcherOption {
	return func(cfg *watcherConfig) error {
		if cb == nil {
			return nil
		}
		cfg.updateCallbacks = append(cfg.updateCallbacks, cb)
		return nil
	}
}

// WithConsecutiveErrorLimit aborts a task after n status checks in a row
// fail with errors the error policy would retry. A successful check resets
// the count. Zero, the default, never aborts on transient errors.
//
// Returns an error if n is negative.
func WithConsecutiveErrorLimit(n int) WatcherOption {
	return func(cfg *watcherConfig) error {
		if n < 0 {
			return errors.New("consecutive error limit cannot be negative")
		}
		cfg.errorLimit = n
		return nil
	}
}
