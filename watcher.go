package taskpoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jpalmerr/taskpoll/internal/fetch"
	"github.com/jpalmerr/taskpoll/internal/server"
	"github.com/jpalmerr/taskpoll/internal/store"
)

const defaultMaxConcurrency = 10

// UpdateEvent names the poller event behind a [TaskUpdate].
type UpdateEvent string

const (
	// EventProgress reports a progress change, including the initial value.
	EventProgress UpdateEvent = "progress"
	// EventStatus reports a change of the remote status.
	EventStatus UpdateEvent = "status"
	// EventError reports a failed status check.
	EventError UpdateEvent = "error"
	// EventSucceeded, EventFailed and EventTimedOut report terminal outcomes.
	EventSucceeded UpdateEvent = "succeeded"
	EventFailed    UpdateEvent = "failed"
	EventTimedOut  UpdateEvent = "timed_out"
	// EventAborted reports a task ended by a fatal error or the consecutive
	// error limit.
	EventAborted UpdateEvent = "aborted"
	// EventStopped reports a task stopped by [Watcher.StopTask] or by
	// cancellation of the watcher's context.
	EventStopped UpdateEvent = "stopped"
)

// closing reports whether the event ends a task's stream of updates.
func (e UpdateEvent) closing() bool {
	switch e {
	case EventSucceeded, EventFailed, EventTimedOut, EventAborted, EventStopped:
		return true
	default:
		return false
	}
}

// TaskUpdate is a snapshot of a watched task, published on every poller event.
type TaskUpdate struct {
	// Name is the task's unique name.
	Name string

	// URL is the status endpoint.
	URL string

	// Labels are the task's labels. The map is a copy owned by the receiver.
	Labels map[string]string

	// Event is what triggered the update.
	Event UpdateEvent

	// Outcome is the task's lifecycle state after the event.
	Outcome Outcome

	// Status is the last status reported by the remote task.
	Status Status

	// Progress is the current progress, 0 to 100.
	Progress float64

	// Attempts is the number of status checks issued so far.
	Attempts int

	// Elapsed is the time since polling started.
	Elapsed time.Duration

	// Result is the value captured from the task's result path once the
	// task reached a terminal status.
	Result string

	// Err is the error behind EventError and EventAborted updates.
	Err error

	// Time is when the update was produced.
	Time time.Time
}

// Watcher polls many remote tasks concurrently, one [Poller] per task.
//
// A Watcher is created with [NewWatcher] and run once with [Watcher.Run].
// While running it records the latest [TaskUpdate] of every task, invokes
// update callbacks, and optionally serves the task API:
//
//	w, err := taskpoll.NewWatcher(
//	    taskpoll.WithTasks(tasks...),
//	    taskpoll.WithPort(8080),
//	)
//	if err != nil {
//	    slog.Error("failed to create watcher", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	err = w.Run(ctx) // blocks until every task finished or ctx is cancelled
type Watcher struct {
	tasks           []HTTPTask
	port            int
	maxConcurrency  int
	errorLimit      int
	defaults        []Option
	logger          *slog.Logger
	updateCallbacks []func(TaskUpdate)

	started atomic.Bool
	store   *store.MemoryStore
	runs    *xsync.MapOf[string, *taskRun]
	latest  *xsync.MapOf[string, TaskUpdate]
}

// taskRun is the watcher's bookkeeping for one task.
type taskRun struct {
	task    HTTPTask
	poller  *Poller[TaskResult]
	started time.Time

	mu       sync.Mutex
	status   Status
	result   string
	errCount int
	aborted  error
	closed   bool
}

// NewWatcher creates a [Watcher] with the given options.
//
// At least one task must be configured via [WithTask] or [WithTasks], and
// task names must be unique. Defaults:
//   - Port: 0 (no API)
//   - Max concurrency: 10
//   - Consecutive error limit: 0 (off)
//
// Returns an error if no tasks are configured or any option is invalid.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	cfg := &watcherConfig{
		maxConcurrency: defaultMaxConcurrency,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.tasks) == 0 {
		return nil, errors.New("at least one task is required")
	}

	seen := make(map[string]bool, len(cfg.tasks))
	for _, t := range cfg.tasks {
		if t.name == "" {
			return nil, errors.New("tasks must be created with NewHTTPTask")
		}
		if seen[t.name] {
			return nil, fmt.Errorf("duplicate task name: %q", t.name)
		}
		seen[t.name] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		tasks:           cfg.tasks,
		port:            cfg.port,
		maxConcurrency:  cfg.maxConcurrency,
		errorLimit:      cfg.errorLimit,
		defaults:        cfg.defaults,
		logger:          logger,
		updateCallbacks: cfg.updateCallbacks,
		store:           store.NewMemoryStore(),
		runs:            xsync.NewMapOf[string, *taskRun](),
		latest:          xsync.NewMapOf[string, TaskUpdate](),
	}, nil
}

// Run polls every task until each has reached a terminal state, or until ctx
// is cancelled, which stops the remaining tasks.
//
// Run returns nil when no task was aborted, including after cancellation.
// Fatal errors of individual tasks are collected into a
// *multierror.Error, one entry per task. Task failures and timeouts are not
// errors; inspect [Watcher.Snapshot] for per-task outcomes.
//
// A Watcher can only be run once.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watcher can only be run once")
	}
	if ctx.Err() != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := fetch.NewClient()
	defer client.Close()
	sem := semaphore.NewWeighted(int64(w.maxConcurrency))

	runs := make([]*taskRun, 0, len(w.tasks))
	for _, task := range w.tasks {
		run, err := w.newRun(task, client, sem)
		if err != nil {
			return fmt.Errorf("task %q: %w", task.name, err)
		}
		runs = append(runs, run)
	}

	if w.port > 0 {
		srv := server.NewServer(w.store, w, w.port, w.logger)
		if err := srv.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		w.logger.Info("task api available", "url", fmt.Sprintf("http://localhost:%d/api/tasks", w.port))
	}

	w.logger.Info("watcher starting",
		"task_count", len(runs),
		"max_concurrency", w.maxConcurrency,
	)

	var (
		mu     sync.Mutex
		result *multierror.Error
		g      errgroup.Group
	)
	for _, run := range runs {
		run.started = time.Now()
		w.runs.Store(run.task.name, run)

		g.Go(func() error {
			err := run.poller.Run(runCtx)
			if err := w.settle(ctx, run, err); err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("task %q: %w", run.task.name, err))
				mu.Unlock()
			}
			w.logger.Info("task finished",
				"task", run.task.name,
				"outcome", string(run.outcome()),
				"attempts", run.poller.Attempts(),
			)
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info("watcher stopped")
	return result.ErrorOrNil()
}

// settle publishes the closing update of a run whose poller returned err and
// reports the error that aborted it, if any.
func (w *Watcher) settle(ctx context.Context, run *taskRun, err error) error {
	run.mu.Lock()
	aborted := run.aborted
	run.mu.Unlock()

	switch {
	case aborted != nil:
		// published when the limit was hit
		return aborted
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		w.publish(run, EventStopped, nil)
		return nil
	case err != nil:
		w.publish(run, EventAborted, err)
		return err
	default:
		return nil
	}
}

// newRun builds the poller of one task, sharing the client and the
// concurrency limit with every other task.
func (w *Watcher) newRun(task HTTPTask, client *fetch.Client, sem *semaphore.Weighted) (*taskRun, error) {
	run := &taskRun{task: task}

	check := task.request(client)
	request := func(ctx context.Context) (TaskResult, error) {
		if err := sem.Acquire(ctx, 1); err != nil {
			return TaskResult{}, err
		}
		defer sem.Release(1)
		return check(ctx)
	}

	h := Handlers[TaskResult]{
		OnProgress: func(float64, Context[TaskResult]) {
			w.publish(run, EventProgress, nil)
		},
		OnStatusChange: func(status Status, _ TaskResult) {
			run.mu.Lock()
			changed := run.status != status
			run.status = status
			run.errCount = 0
			run.mu.Unlock()
			if changed {
				w.publish(run, EventStatus, nil)
			}
		},
		OnSuccess: func(r TaskResult, _ Context[TaskResult]) {
			run.setResult(r.Result)
			w.publish(run, EventSucceeded, nil)
		},
		OnFailure: func(r TaskResult, _ Context[TaskResult]) {
			run.setResult(r.Result)
			w.publish(run, EventFailed, nil)
		},
		OnTimeout: func(Context[TaskResult]) {
			w.publish(run, EventTimedOut, nil)
		},
		OnError: func(err error, _ Context[TaskResult]) {
			w.publish(run, EventError, err)
			w.checkErrorLimit(run, err)
		},
	}

	defaults := make([]Option, 0, len(w.defaults)+1)
	defaults = append(defaults, WithLogger(w.logger))
	defaults = append(defaults, w.defaults...)

	p, err := newHTTPPoller(task, request, h, defaults)
	if err != nil {
		return nil, err
	}
	run.poller = p
	return run, nil
}

// checkErrorLimit aborts the run once the consecutive error limit is reached.
func (w *Watcher) checkErrorLimit(run *taskRun, err error) {
	if w.errorLimit == 0 {
		return
	}

	run.mu.Lock()
	run.errCount++
	n := run.errCount
	reached := n >= w.errorLimit && run.aborted == nil
	if reached {
		run.aborted = fmt.Errorf("aborted after %d consecutive errors: %w", n, err)
	}
	aborted := run.aborted
	run.mu.Unlock()

	if !reached {
		return
	}
	w.logger.Warn("consecutive error limit reached",
		"task", run.task.name,
		"errors", n,
	)
	run.poller.Stop()
	w.publish(run, EventAborted, aborted)
}

// StopTask stops polling the named task. It reports whether the task is
// known to a running watcher; stopping a finished task is a no-op.
func (w *Watcher) StopTask(name string) bool {
	run, ok := w.runs.Load(name)
	if !ok {
		return false
	}
	if run.poller.IsRunning() {
		run.poller.Stop()
		w.publish(run, EventStopped, nil)
	}
	return true
}

// Snapshot returns the latest update of every task that has reported one,
// sorted by name.
func (w *Watcher) Snapshot() []TaskUpdate {
	updates := make([]TaskUpdate, 0, w.latest.Size())
	w.latest.Range(func(_ string, u TaskUpdate) bool {
		u.Labels = copyMap(u.Labels)
		updates = append(updates, u)
		return true
	})
	sort.Slice(updates, func(i, j int) bool { return updates[i].Name < updates[j].Name })
	return updates
}

// Tasks returns a copy of the configured tasks.
func (w *Watcher) Tasks() []HTTPTask {
	cp := make([]HTTPTask, len(w.tasks))
	copy(cp, w.tasks)
	return cp
}

// Port returns the API port, 0 if the API is disabled.
func (w *Watcher) Port() int {
	return w.port
}

// publish records an update for run and passes it to the store and the
// update callbacks. Once a closing event has been recorded, later events of
// the run are dropped.
func (w *Watcher) publish(run *taskRun, event UpdateEvent, err error) {
	run.mu.Lock()
	if run.closed {
		run.mu.Unlock()
		return
	}
	run.closed = event.closing()

	update := TaskUpdate{
		Name:     run.task.name,
		URL:      run.task.url,
		Labels:   run.task.Labels(),
		Event:    event,
		Outcome:  run.outcomeLocked(),
		Status:   run.status,
		Progress: run.poller.Progress(),
		Attempts: run.poller.Attempts(),
		Elapsed:  time.Since(run.started),
		Result:   run.result,
		Err:      err,
		Time:     time.Now(),
	}

	// store update first (callbacks fire after data is recorded)
	w.latest.Store(update.Name, update)
	w.store.Update(updateToState(update))
	run.mu.Unlock()

	for _, cb := range w.updateCallbacks {
		invokeCallbackSafe(cb, update, w.logger)
	}
}

func (r *taskRun) outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomeLocked()
}

// outcomeLocked reports the run's outcome; the consecutive error limit
// overrides the stopped poller. Callers hold r.mu.
func (r *taskRun) outcomeLocked() Outcome {
	if r.aborted != nil {
		return OutcomeErrored
	}
	return r.poller.Outcome()
}

func (r *taskRun) setResult(result string) {
	r.mu.Lock()
	r.result = result
	r.mu.Unlock()
}

// updateToState converts an update to its storage form.
func updateToState(u TaskUpdate) store.TaskState {
	var errStr *string
	if u.Err != nil {
		s := u.Err.Error()
		errStr = &s
	}

	return store.TaskState{
		Name:      u.Name,
		URL:       u.URL,
		Event:     string(u.Event),
		Outcome:   string(u.Outcome),
		Status:    string(u.Status),
		Progress:  u.Progress,
		Attempts:  u.Attempts,
		Labels:    copyMap(u.Labels),
		Result:    u.Result,
		ElapsedMs: u.Elapsed.Milliseconds(),
		UpdatedAt: u.Time,
		Error:     errStr,
	}
}

// invokeCallbackSafe calls an update callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(TaskUpdate), update TaskUpdate, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("update callback panicked",
				"panic", r,
				"task", update.Name,
			)
		}
	}()
	cb(update)
}
