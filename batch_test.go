package taskpoll

import (
	"strings"
	"testing"
	"time"
)

func TestNewTaskBatch_Basic(t *testing.T) {
	tasks, err := NewTaskBatch("thumbnails",
		"https://api.example.com/v1/tasks/{{.id}}",
		[]string{"a1", "b2", "c3"},
	)
	if err != nil {
		t.Fatalf("NewTaskBatch() error = %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("len(tasks) = %d, want 3", len(tasks))
	}

	for i, id := range []string{"a1", "b2", "c3"} {
		task := tasks[i]
		if task.Name() != "thumbnails/"+id {
			t.Errorf("tasks[%d].Name() = %q, want %q", i, task.Name(), "thumbnails/"+id)
		}
		if task.URL() != "https://api.example.com/v1/tasks/"+id {
			t.Errorf("tasks[%d].URL() = %q", i, task.URL())
		}
		if task.Labels()["task_id"] != id {
			t.Errorf("tasks[%d] task_id label = %q, want %q", i, task.Labels()["task_id"], id)
		}
	}
}

func TestNewTaskBatch_EscapesIDs(t *testing.T) {
	tasks, err := NewTaskBatch("jobs",
		"https://api.example.com/tasks/{{.id}}?verbose=1",
		[]string{"a b/c"},
	)
	if err != nil {
		t.Fatalf("NewTaskBatch() error = %v", err)
	}

	if got := tasks[0].URL(); got != "https://api.example.com/tasks/a%20b%2Fc?verbose=1" {
		t.Errorf("URL() = %q", got)
	}
	// names and labels keep the raw ID
	if tasks[0].Name() != "jobs/a b/c" {
		t.Errorf("Name() = %q", tasks[0].Name())
	}
	if tasks[0].Labels()["task_id"] != "a b/c" {
		t.Errorf("task_id label = %q", tasks[0].Labels()["task_id"])
	}
}

func TestNewTaskBatch_SharedOptions(t *testing.T) {
	tasks, err := NewTaskBatch("jobs",
		"https://api.example.com/tasks/{{.id}}",
		[]string{"1", "2"},
		WithHeaders("Authorization", "Bearer t"),
		WithTimeout(3*time.Second),
		WithLabels("kind", "video", "task_id", "shadowed"),
		WithPollOptions(WithProgressMode(ProgressFast)),
	)
	if err != nil {
		t.Fatalf("NewTaskBatch() error = %v", err)
	}

	for _, task := range tasks {
		if task.Headers()["Authorization"] != "Bearer t" {
			t.Errorf("%s: missing shared header", task.Name())
		}
		if task.Timeout() != 3*time.Second {
			t.Errorf("%s: Timeout() = %v, want 3s", task.Name(), task.Timeout())
		}
		if task.Labels()["kind"] != "video" {
			t.Errorf("%s: missing shared label", task.Name())
		}
		if task.Labels()["task_id"] == "shadowed" {
			t.Errorf("%s: shared label overrode task_id", task.Name())
		}
		if len(task.PollOptions()) != 1 {
			t.Errorf("%s: PollOptions() len = %d, want 1", task.Name(), len(task.PollOptions()))
		}
	}
}

func TestNewTaskBatch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		batch   string
		tmpl    string
		ids     []string
		opts    []TaskOption
		wantErr string
	}{
		{"empty name", " ", "https://x/{{.id}}", []string{"1"}, nil, "name"},
		{"empty template", "b", "", []string{"1"}, nil, "template"},
		{"no ids", "b", "https://x/{{.id}}", nil, nil, "task ID"},
		{"empty id", "b", "https://x/{{.id}}", []string{"1", ""}, nil, "empty"},
		{"duplicate id", "b", "https://x/{{.id}}", []string{"1", "1"}, nil, "duplicate"},
		{"bad syntax", "b", "https://x/{{.id", []string{"1"}, nil, "invalid URL template"},
		{"missing key", "b", "https://x/{{.task}}", []string{"1"}, nil, "template execution"},
		{"rendered URL invalid", "b", "{{.id}}", []string{"1"}, nil, "failed to create task 'b/1'"},
		{"bad option", "b", "https://x/{{.id}}", []string{"1"}, []TaskOption{WithMethod("PUT")}, "method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTaskBatch(tt.batch, tt.tmpl, tt.ids, tt.opts...)
			if err == nil {
				t.Fatal("NewTaskBatch() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
