package config

import (
	"fmt"
	"sort"

	"github.com/jpalmerr/taskpoll"
)

// BuildTasks converts parsed configuration into SDK HTTPTask objects.
//
// It processes both direct tasks and batches, returning a combined slice in
// file order. Batches expand to one task per ID.
func BuildTasks(cfg *Config) ([]taskpoll.HTTPTask, error) {
	var tasks []taskpoll.HTTPTask

	for i, tc := range cfg.Tasks {
		opts, err := taskOptions(tc.RequestConfig, tc.PollConfig)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d] (%s): %w", i, tc.Name, err)
		}
		task, err := taskpoll.NewHTTPTask(tc.Name, tc.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d] (%s): %w", i, tc.Name, err)
		}
		tasks = append(tasks, task)
	}

	for i, bc := range cfg.Batches {
		opts, err := taskOptions(bc.RequestConfig, bc.PollConfig)
		if err != nil {
			return nil, fmt.Errorf("batches[%d] (%s): %w", i, bc.Name, err)
		}
		batch, err := taskpoll.NewTaskBatch(bc.Name, bc.URLTemplate, bc.IDs, opts...)
		if err != nil {
			return nil, fmt.Errorf("batches[%d] (%s): %w", i, bc.Name, err)
		}
		tasks = append(tasks, batch...)
	}

	return tasks, nil
}

// WatcherOptions converts the top-level settings into watcher options.
// Tasks are not included; pass the result of [BuildTasks] with
// [taskpoll.WithTasks].
func WatcherOptions(cfg *Config) ([]taskpoll.WatcherOption, error) {
	defaults, err := pollOptions(cfg.Defaults)
	if err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}

	opts := []taskpoll.WatcherOption{
		taskpoll.WithPort(cfg.Port),
		taskpoll.WithConsecutiveErrorLimit(cfg.ConsecutiveErrorLimit),
	}
	if cfg.MaxConcurrency > 0 {
		opts = append(opts, taskpoll.WithMaxConcurrency(cfg.MaxConcurrency))
	}
	if len(defaults) > 0 {
		opts = append(opts, taskpoll.WithDefaults(defaults...))
	}
	return opts, nil
}

// taskOptions converts the request and polling settings of a task or batch.
func taskOptions(rc RequestConfig, pc PollConfig) ([]taskpoll.TaskOption, error) {
	var opts []taskpoll.TaskOption

	if rc.Method != "" {
		opts = append(opts, taskpoll.WithMethod(rc.Method))
	}
	if rc.Body != "" {
		opts = append(opts, taskpoll.WithRequestBody([]byte(rc.Body)))
	}
	if rc.Timeout != 0 {
		opts = append(opts, taskpoll.WithTimeout(rc.Timeout.Duration()))
	}
	if len(rc.Headers) > 0 {
		opts = append(opts, taskpoll.WithHeaders(mapToKeyValuePairs(rc.Headers)...))
	}
	if len(rc.Labels) > 0 {
		opts = append(opts, taskpoll.WithLabels(mapToKeyValuePairs(rc.Labels)...))
	}
	if rc.StatusPath != "" {
		opts = append(opts, taskpoll.WithStatusPath(rc.StatusPath))
	}
	if rc.ProgressPath != "" {
		opts = append(opts, taskpoll.WithProgressPath(rc.ProgressPath))
	}
	if rc.ResultPath != "" {
		opts = append(opts, taskpoll.WithResultPath(rc.ResultPath))
	}

	poll, err := pollOptions(pc)
	if err != nil {
		return nil, err
	}
	if len(poll) > 0 {
		opts = append(opts, taskpoll.WithPollOptions(poll...))
	}

	return opts, nil
}

// pollOptions converts the polling settings that are set; unset fields are
// left to the next level up.
func pollOptions(pc PollConfig) ([]taskpoll.Option, error) {
	var opts []taskpoll.Option

	if pc.Interval != 0 {
		opts = append(opts, taskpoll.WithInterval(pc.Interval.Duration()))
	}
	if pc.MaxDuration != 0 {
		opts = append(opts, taskpoll.WithMaxDuration(pc.MaxDuration.Duration()))
	}
	if pc.ProgressMode != "" {
		mode, err := taskpoll.ParseProgressMode(pc.ProgressMode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, taskpoll.WithProgressMode(mode))
	}
	if pc.InitialProgress != nil {
		opts = append(opts, taskpoll.WithInitialProgress(*pc.InitialProgress))
	}
	if pc.Immediate != nil {
		opts = append(opts, taskpoll.WithImmediate(*pc.Immediate))
	}

	return opts, nil
}

// mapToKeyValuePairs converts a map to a slice of key-value pairs sorted by key.
func mapToKeyValuePairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
