package taskpoll

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jpalmerr/taskpoll/internal/fetch"
)

const defaultTaskTimeout = 10 * time.Second

// sharedClient is the connection pool used by [NewHTTPRequest].
var sharedClient = sync.OnceValue(fetch.NewClient)

// HTTPTask describes a remote task whose status is read from an HTTP endpoint.
//
// HTTPTask is immutable after creation via [NewHTTPTask]. Getters return
// copies of mutable data.
type HTTPTask struct {
	name         string
	url          string
	method       string
	headers      map[string]string
	labels       map[string]string
	body         []byte
	timeout      time.Duration
	statusPath   string
	progressPath string
	resultPath   string
	pollOptions  []Option
}

// TaskResult is the outcome of one HTTP status check.
type TaskResult struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// Body is the response body, limited to 1MB.
	Body []byte

	// Status is the task status parsed from the body.
	Status Status

	// Progress is the backend-reported progress percentage, valid when
	// HasProgress is true.
	Progress    float64
	HasProgress bool

	// Result is the value found at the task's result path, such as the URL
	// of a generated asset. Empty if no result path is configured or the
	// field is absent.
	Result string

	// Latency is the time taken by the request.
	Latency time.Duration

	// CheckedAt is when the response was received.
	CheckedAt time.Time
}

// TaskStatus implements [StatusReporter].
func (r TaskResult) TaskStatus() string {
	return string(r.Status)
}

// NewHTTPTask creates an [HTTPTask] with the given name, status URL and options.
//
// The name identifies the task in logs, the watcher API and update callbacks.
// The rawURL must be an absolute http:// or https:// URL.
//
// Returns an error if the name is empty, the URL is invalid or an option fails.
//
// Example:
//
//	task, err := taskpoll.NewHTTPTask("render-42", "https://api.example.com/v1/tasks/42",
//	    taskpoll.WithHeaders("Authorization", "Bearer "+token),
//	    taskpoll.WithStatusPath("data.status"),
//	    taskpoll.WithResultPath("data.video_url"),
//	    taskpoll.WithPollOptions(taskpoll.WithProgressMode(taskpoll.ProgressSlow)),
//	)
func NewHTTPTask(name, rawURL string, opts ...TaskOption) (HTTPTask, error) {
	if strings.TrimSpace(name) == "" {
		return HTTPTask{}, errors.New("task name cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return HTTPTask{}, errors.New("invalid URL: " + err.Error())
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return HTTPTask{}, errors.New("URL must have an http:// or https:// scheme")
	}

	cfg := &taskConfig{
		labels:  make(map[string]string),
		headers: make(map[string]string),
		timeout: defaultTaskTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return HTTPTask{}, err
		}
	}

	return HTTPTask{
		name:         name,
		url:          rawURL,
		method:       cfg.method,
		headers:      cfg.headers,
		labels:       cfg.labels,
		body:         cfg.body,
		timeout:      cfg.timeout,
		statusPath:   cfg.statusPath,
		progressPath: cfg.progressPath,
		resultPath:   cfg.resultPath,
		pollOptions:  cfg.pollOptions,
	}, nil
}

// Name returns the task's name.
func (t HTTPTask) Name() string {
	return t.name
}

// URL returns the status endpoint.
func (t HTTPTask) URL() string {
	return t.url
}

// Method returns the HTTP method. Empty means GET.
func (t HTTPTask) Method() string {
	return t.method
}

// Headers returns a copy of the request headers.
func (t HTTPTask) Headers() map[string]string {
	return copyMap(t.headers)
}

// Labels returns a copy of the task's labels.
func (t HTTPTask) Labels() map[string]string {
	return copyMap(t.labels)
}

// Timeout returns the per-request timeout. Defaults to 10 seconds.
func (t HTTPTask) Timeout() time.Duration {
	return t.timeout
}

// PollOptions returns a copy of the poller options attached to the task.
func (t HTTPTask) PollOptions() []Option {
	return append([]Option(nil), t.pollOptions...)
}

// Handlers returns [Handlers] wired to the task's parsed status and progress.
// Callers add their callbacks to the returned value.
func (t HTTPTask) Handlers() Handlers[TaskResult] {
	return Handlers[TaskResult]{
		ParseStatus: func(r TaskResult) Status { return r.Status },
		ParseProgress: func(r TaskResult) (float64, bool) {
			return r.Progress, r.HasProgress
		},
	}
}

// NewHTTPRequest returns a [RequestFunc] that checks the task's status using
// a shared, pooled HTTP client.
//
// Non-2xx responses are returned as *[StatusError], so the default error
// policy aborts on 5xx and retries everything else.
func NewHTTPRequest(task HTTPTask) RequestFunc[TaskResult] {
	return task.request(sharedClient())
}

// NewHTTPPoller creates a [Poller] for task. The task's status and progress
// parsers fill any classifier left nil in h, and the task's poll options are
// applied before opts.
func NewHTTPPoller(task HTTPTask, h Handlers[TaskResult], opts ...Option) (*Poller[TaskResult], error) {
	return newHTTPPoller(task, NewHTTPRequest(task), h, nil, opts...)
}

// newHTTPPoller applies options in the order defaults, task poll options,
// overrides.
func newHTTPPoller(task HTTPTask, request RequestFunc[TaskResult], h Handlers[TaskResult], defaults []Option, overrides ...Option) (*Poller[TaskResult], error) {
	parsers := task.Handlers()
	if h.ParseStatus == nil {
		h.ParseStatus = parsers.ParseStatus
	}
	if h.ParseProgress == nil {
		h.ParseProgress = parsers.ParseProgress
	}

	all := make([]Option, 0, 1+len(defaults)+len(task.pollOptions)+len(overrides))
	all = append(all, WithName(task.name))
	all = append(all, defaults...)
	all = append(all, task.pollOptions...)
	all = append(all, overrides...)

	return New(request, h, all...)
}

// request builds the status check for the task on the given client.
func (t HTTPTask) request(client *fetch.Client) RequestFunc[TaskResult] {
	parseStatus := func(body []byte) Status { return DefaultParseStatus(body) }
	if t.statusPath != "" {
		parseStatus = JSONStatus(t.statusPath)
	}

	var parseProgress func([]byte) (float64, bool)
	if t.progressPath != "" {
		parseProgress = JSONNumber(t.progressPath)
	}

	var resultParts []string
	if t.resultPath != "" {
		resultParts = strings.Split(t.resultPath, ".")
	}

	return func(ctx context.Context) (TaskResult, error) {
		resp, err := client.Do(ctx, fetch.Request{
			Method:  t.method,
			URL:     t.url,
			Headers: t.headers,
			Body:    t.body,
			Timeout: t.timeout,
		})
		if err != nil {
			return TaskResult{StatusCode: resp.StatusCode, Latency: resp.Latency}, err
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return TaskResult{
					StatusCode: resp.StatusCode,
					Body:       resp.Body,
					Latency:    resp.Latency,
				}, &StatusError{
					Code: resp.StatusCode,
					URL:  t.url,
					Body: resp.Body,
				}
		}

		result := TaskResult{
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
			Status:     parseStatus(resp.Body),
			Latency:    resp.Latency,
			CheckedAt:  time.Now(),
		}
		if parseProgress != nil {
			result.Progress, result.HasProgress = parseProgress(resp.Body)
		}
		if resultParts != nil {
			result.Result = extractJSONField(resp.Body, resultParts)
		}
		return result, nil
	}
}

// extractJSONField decodes body and renders the value at parts as a string.
func extractJSONField(body []byte, parts []string) string {
	data, ok := decodeJSON(body)
	if !ok {
		return ""
	}
	return extractJSONPath(data, parts)
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
