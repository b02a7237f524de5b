package taskpoll

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/template"
)

// batchLabel is the label carrying a batch task's ID.
const batchLabel = "task_id"

// NewTaskBatch creates one [HTTPTask] per task ID from a URL template.
//
// The template uses text/template syntax with the ID available as {{.id}}.
// IDs are URL path-escaped before interpolation and missing template keys
// cause an error. Each task is named "name/id" and labelled task_id=id; the
// shared opts apply to every task.
//
// Typical use is one submit call that returned several task IDs, each
// polled independently:
//
//	tasks, err := taskpoll.NewTaskBatch("thumbnails",
//	    "https://api.example.com/v1/tasks/{{.id}}",
//	    ids,
//	    taskpoll.WithStatusPath("data.status"),
//	)
func NewTaskBatch(name, urlTemplate string, ids []string, opts ...TaskOption) ([]HTTPTask, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("batch name cannot be empty")
	}
	if urlTemplate == "" {
		return nil, errors.New("URL template required")
	}
	if len(ids) == 0 {
		return nil, errors.New("at least one task ID required")
	}

	tmpl, err := template.New("url").Option("missingkey=error").Parse(urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid URL template: %w", err)
	}

	seen := make(map[string]struct{}, len(ids))
	tasks := make([]HTTPTask, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return nil, errors.New("task IDs cannot be empty")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate task ID '%s'", id)
		}
		seen[id] = struct{}{}

		var buf strings.Builder
		if err := tmpl.Execute(&buf, map[string]string{"id": url.PathEscape(id)}); err != nil {
			return nil, fmt.Errorf("template execution failed: %w", err)
		}

		taskName := name + "/" + id
		// the ID label goes last so shared labels cannot hide it
		taskOpts := make([]TaskOption, 0, len(opts)+1)
		taskOpts = append(taskOpts, opts...)
		taskOpts = append(taskOpts, WithLabels(batchLabel, id))

		task, err := NewHTTPTask(taskName, buf.String(), taskOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create task '%s': %w", taskName, err)
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}
