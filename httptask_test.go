package taskpoll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/taskpoll/internal/fetch"
)

func TestNewHTTPTask_Valid(t *testing.T) {
	task, err := NewHTTPTask("render-42", "https://api.example.com/v1/tasks/42")
	if err != nil {
		t.Fatalf("NewHTTPTask() error = %v", err)
	}

	if task.Name() != "render-42" {
		t.Errorf("Name() = %v, want %v", task.Name(), "render-42")
	}
	if task.URL() != "https://api.example.com/v1/tasks/42" {
		t.Errorf("URL() = %v, want %v", task.URL(), "https://api.example.com/v1/tasks/42")
	}
	if task.Timeout() != 10*time.Second {
		t.Errorf("Timeout() = %v, want %v", task.Timeout(), 10*time.Second)
	}
	if task.Method() != "" {
		t.Errorf("Method() = %q, want empty (GET)", task.Method())
	}
	if len(task.PollOptions()) != 0 {
		t.Errorf("PollOptions() len = %d, want 0", len(task.PollOptions()))
	}
}

func TestNewHTTPTask_EmptyName(t *testing.T) {
	for _, name := range []string{"", "   "} {
		if _, err := NewHTTPTask(name, "https://api.example.com/tasks/1"); err == nil {
			t.Errorf("NewHTTPTask(%q) expected error, got nil", name)
		}
	}
}

func TestNewHTTPTask_InvalidURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"no scheme", "api.example.com/tasks/1"},
		{"empty url", ""},
		{"just path", "/tasks/1"},
		{"ftp", "ftp://example.com/tasks/1"},
		{"bad escape", "http://example.com/%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHTTPTask("Test", tt.url); err == nil {
				t.Errorf("NewHTTPTask() expected error for URL %q, got nil", tt.url)
			}
		})
	}
}

func TestWithLabels(t *testing.T) {
	task, err := NewHTTPTask("Test", "https://example.com",
		WithLabels("kind", "video", "user", "u-17"),
	)
	if err != nil {
		t.Fatalf("NewHTTPTask() error = %v", err)
	}

	labels := task.Labels()
	if labels["kind"] != "video" || labels["user"] != "u-17" {
		t.Errorf("Labels() = %v", labels)
	}
}

func TestWithLabels_OddArgs(t *testing.T) {
	_, err := NewHTTPTask("Test", "https://example.com", WithLabels("kind"))
	if err == nil {
		t.Error("NewHTTPTask() expected error for odd label args, got nil")
	}
}

func TestHTTPTask_Immutability(t *testing.T) {
	task, err := NewHTTPTask("Test", "https://example.com",
		WithLabels("kind", "video"),
		WithHeaders("Authorization", "Bearer a"),
	)
	if err != nil {
		t.Fatalf("NewHTTPTask() error = %v", err)
	}

	labels := task.Labels()
	labels["kind"] = "image"
	headers := task.Headers()
	headers["Authorization"] = "Bearer b"
	opts := task.PollOptions()
	_ = append(opts, WithInterval(time.Second))

	if task.Labels()["kind"] != "video" {
		t.Error("Labels() returned the internal map")
	}
	if task.Headers()["Authorization"] != "Bearer a" {
		t.Error("Headers() returned the internal map")
	}
}

func TestWithHeaders_OddArgs(t *testing.T) {
	_, err := NewHTTPTask("Test", "https://example.com", WithHeaders("Authorization"))
	if err == nil {
		t.Error("NewHTTPTask() expected error for odd header args, got nil")
	}
}

func TestWithTimeout(t *testing.T) {
	task, err := NewHTTPTask("Test", "https://example.com", WithTimeout(30*time.Second))
	if err != nil {
		t.Fatalf("NewHTTPTask() error = %v", err)
	}
	if task.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v, want 30s", task.Timeout())
	}

	for _, d := range []time.Duration{0, -time.Second} {
		if _, err := NewHTTPTask("Test", "https://example.com", WithTimeout(d)); err == nil {
			t.Errorf("WithTimeout(%v) expected error, got nil", d)
		}
	}
}

func TestWithMethod(t *testing.T) {
	tests := []struct {
		method  string
		want    string
		wantErr bool
	}{
		{"GET", "GET", false},
		{"POST", "POST", false},
		{"post", "POST", false},
		{"HEAD", "", true},
		{"DELETE", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			task, err := NewHTTPTask("Test", "https://example.com", WithMethod(tt.method))
			if (err != nil) != tt.wantErr {
				t.Fatalf("WithMethod(%q) error = %v, wantErr %v", tt.method, err, tt.wantErr)
			}
			if !tt.wantErr && task.Method() != tt.want {
				t.Errorf("Method() = %q, want %q", task.Method(), tt.want)
			}
		})
	}
}

func TestWithPaths_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  TaskOption
	}{
		{"empty status path", WithStatusPath("")},
		{"status path empty segment", WithStatusPath("data..status")},
		{"empty progress path", WithProgressPath("")},
		{"progress path trailing dot", WithProgressPath("data.")},
		{"empty result path", WithResultPath("")},
		{"nil poll option", WithPollOptions(nil)},
		{"invalid poll option", WithPollOptions(WithInterval(0))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := NewHTTPTask("Test", "https://example.com", tt.opt)
			if err == nil {
				// poll options are validated when the poller is built
				_, err = newHTTPPoller(task, task.request(nil), Handlers[TaskResult]{}, nil)
			}
			if err == nil {
				t.Errorf("%s: expected error, got nil", tt.name)
			}
		})
	}
}

func TestHTTPTask_Request(t *testing.T) {
	var gotAuth, gotMethod, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		fmt.Fprint(w, `{"output":{"task_status":"RUNNING","percent":"42%","video":{"url":"https://cdn/x.mp4"}}}`)
	}))
	defer server.Close()

	task, err := NewHTTPTask("render", server.URL,
		WithMethod("POST"),
		WithRequestBody([]byte(`{"task_id":"42"}`)),
		WithHeaders("Authorization", "Bearer t"),
		WithStatusPath("output.task_status"),
		WithProgressPath("output.percent"),
		WithResultPath("output.video.url"),
	)
	if err != nil {
		t.Fatalf("NewHTTPTask() error = %v", err)
	}

	client := fetch.NewClient()
	defer client.Close()

	result, err := task.request(client)(context.Background())
	if err != nil {
		t.Fatalf("request() error = %v", err)
	}

	if gotMethod != http.MethodPost || gotAuth != "Bearer t" || gotBody != `{"task_id":"42"}` {
		t.Errorf("server saw method=%q auth=%q body=%q", gotMethod, gotAuth, gotBody)
	}
	if result.Status != "running" {
		t.Errorf("Status = %q, want running", result.Status)
	}
	if result.TaskStatus() != "running" {
		t.Errorf("TaskStatus() = %q, want running", result.TaskStatus())
	}
	if !result.HasProgress || result.Progress != 42 {
		t.Errorf("Progress = (%v, %v), want (42, true)", result.Progress, result.HasProgress)
	}
	if result.Result != "https://cdn/x.mp4" {
		t.Errorf("Result = %q, want https://cdn/x.mp4", result.Result)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if result.CheckedAt.IsZero() {
		t.Error("CheckedAt is zero")
	}
}

func TestHTTPTask_RequestDefaultStatusPaths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"status":"in_queue"}}`)
	}))
	defer server.Close()

	task, _ := NewHTTPTask("render", server.URL)
	result, err := task.request(fetch.NewClient())(context.Background())
	if err != nil {
		t.Fatalf("request() error = %v", err)
	}
	if result.Status != "in_queue" {
		t.Errorf("Status = %q, want in_queue", result.Status)
	}
	if result.HasProgress {
		t.Error("HasProgress = true without a progress path")
	}
}

func TestHTTPTask_RequestNonSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"slow down"}`)
	}))
	defer server.Close()

	task, _ := NewHTTPTask("render", server.URL)
	result, err := task.request(fetch.NewClient())(context.Background())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("request() error = %v, want *StatusError", err)
	}
	if statusErr.Code != http.StatusTooManyRequests {
		t.Errorf("Code = %d, want 429", statusErr.Code)
	}
	if result.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", result.StatusCode)
	}
	if !DefaultContinueOnError(err) {
		t.Error("DefaultContinueOnError() = false for 429, want true")
	}
}

func TestHTTPPoller_EndToEnd(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusNotFound)
		case 2:
			fmt.Fprint(w, `{"status":"processing","progress":30}`)
		default:
			fmt.Fprint(w, `{"status":"succeeded","progress":100,"url":"https://cdn/out.png"}`)
		}
	}))
	defer server.Close()

	task, err := NewHTTPTask("thumb", server.URL,
		WithProgressPath("progress"),
		WithResultPath("url"),
		WithPollOptions(WithInterval(5*time.Millisecond), WithLogger(testLogger())),
	)
	if err != nil {
		t.Fatalf("NewHTTPTask() error = %v", err)
	}

	var (
		progress []float64
		errs     int
		final    TaskResult
	)
	p, err := newHTTPPoller(task, task.request(fetch.NewClient()), Handlers[TaskResult]{
		OnProgress: func(pct float64, _ Context[TaskResult]) { progress = append(progress, pct) },
		OnError:    func(error, Context[TaskResult]) { errs++ },
		OnSuccess:  func(r TaskResult, _ Context[TaskResult]) { final = r },
	}, nil)
	if err != nil {
		t.Fatalf("newHTTPPoller() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if p.Outcome() != OutcomeSucceeded {
		t.Errorf("Outcome() = %q, want %q", p.Outcome(), OutcomeSucceeded)
	}
	if errs != 1 {
		t.Errorf("OnError calls = %d, want 1", errs)
	}
	want := []float64{0, 30, 100}
	if fmt.Sprint(progress) != fmt.Sprint(want) {
		t.Errorf("progress = %v, want %v", progress, want)
	}
	if final.Result != "https://cdn/out.png" {
		t.Errorf("Result = %q, want https://cdn/out.png", final.Result)
	}
}

func TestHTTPPoller_ServerErrorAborts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	task, _ := NewHTTPTask("thumb", server.URL,
		WithPollOptions(WithInterval(5*time.Millisecond), WithLogger(testLogger())),
	)
	p, err := newHTTPPoller(task, task.request(fetch.NewClient()), Handlers[TaskResult]{}, nil)
	if err != nil {
		t.Fatalf("newHTTPPoller() error = %v", err)
	}

	err = p.Run(context.Background())
	if code, ok := StatusCode(err); !ok || code != http.StatusServiceUnavailable {
		t.Fatalf("Run() error = %v, want 503 StatusError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if p.Outcome() != OutcomeErrored {
		t.Errorf("Outcome() = %q, want %q", p.Outcome(), OutcomeErrored)
	}
}
