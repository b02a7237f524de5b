package taskpoll

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// taskConfig holds mutable state during task construction.
type taskConfig struct {
	labels       map[string]string
	headers      map[string]string
	body         []byte
	timeout      time.Duration
	method       string
	statusPath   string
	progressPath string
	resultPath   string
	pollOptions  []Option
}

// TaskOption configures an [HTTPTask] during construction.
//
// Options return an error if validation fails.
type TaskOption func(*taskConfig) error

// WithLabels adds metadata labels to the task.
//
// Labels are key-value pairs reported alongside the task's state by the
// watcher API and update callbacks. The number of arguments must be even.
//
// Example:
//
//	task, err := taskpoll.NewHTTPTask("render-42", url,
//	    taskpoll.WithLabels("kind", "video", "user", "u-17"),
//	)
func WithLabels(keyValues ...string) TaskOption {
	return func(cfg *taskConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithLabels requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.labels[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithHeaders adds HTTP headers sent with every status request, typically
// for authentication. The number of arguments must be even.
func WithHeaders(keyValues ...string) TaskOption {
	return func(cfg *taskConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithTimeout sets the timeout for a single status request. A request that
// exceeds it fails with a transient error and is retried on the next tick.
// Defaults to 10 seconds.
func WithTimeout(d time.Duration) TaskOption {
	return func(cfg *taskConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithMethod sets the HTTP method for status requests.
//
// GET is the default. POST suits query-style status APIs that take the task
// ID in the request body (see [WithRequestBody]).
//
// Returns an error if the method is not GET or POST.
func WithMethod(method string) TaskOption {
	return func(cfg *taskConfig) error {
		switch strings.ToUpper(method) {
		case http.MethodGet, http.MethodPost:
			cfg.method = strings.ToUpper(method)
			return nil
		default:
			return errors.New("method must be GET or POST")
		}
	}
}

// WithRequestBody sets the body sent with each status request. The body is
// sent as application/json unless a Content-Type header is given.
func WithRequestBody(body []byte) TaskOption {
	return func(cfg *taskConfig) error {
		cfg.body = append([]byte(nil), body...)
		return nil
	}
}

// WithStatusPath reads the task status from a dot-notation JSON path instead
// of the default "status", "state" and "data.status" lookup.
//
// Example:
//
//	taskpoll.WithStatusPath("output.task_status")
func WithStatusPath(path string) TaskOption {
	return func(cfg *taskConfig) error {
		if err := validatePath(path); err != nil {
			return errors.New("status path: " + err.Error())
		}
		cfg.statusPath = path
		return nil
	}
}

// WithProgressPath reads a backend-reported progress percentage from a
// dot-notation JSON path. When the field is present it replaces the
// simulated progress for that tick.
func WithProgressPath(path string) TaskOption {
	return func(cfg *taskConfig) error {
		if err := validatePath(path); err != nil {
			return errors.New("progress path: " + err.Error())
		}
		cfg.progressPath = path
		return nil
	}
}

// WithResultPath captures the value at a dot-notation JSON path into
// [TaskResult.Result], typically the URL of the finished artifact.
func WithResultPath(path string) TaskOption {
	return func(cfg *taskConfig) error {
		if err := validatePath(path); err != nil {
			return errors.New("result path: " + err.Error())
		}
		cfg.resultPath = path
		return nil
	}
}

// WithPollOptions attaches poller options (interval, max duration, progress
// mode and so on) to the task. They are applied whenever a poller is built
// for the task.
func WithPollOptions(opts ...Option) TaskOption {
	return func(cfg *taskConfig) error {
		for _, opt := range opts {
			if opt == nil {
				return errors.New("poll option cannot be nil")
			}
		}
		cfg.pollOptions = append(cfg.pollOptions, opts...)
		return nil
	}
}

func validatePath(path string) error {
	if path == "" {
		return errors.New("cannot be empty")
	}
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return errors.New("contains an empty segment")
		}
	}
	return nil
}
