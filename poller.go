package taskpoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// RequestFunc performs one status check of a remote task.
//
// The context is cancelled when the poller is stopped or the context passed
// to [Poller.Start] is cancelled; implementations should pass it on to their
// transport so that in-flight checks are aborted.
type RequestFunc[T any] func(ctx context.Context) (T, error)

// Handlers holds the response-typed half of a poller's configuration: status
// classification and lifecycle callbacks. Every field is optional.
//
// Callbacks run on the poller's goroutine, one at a time, in tick order.
// They may call [Poller.Stop]; once a poller has been stopped no further
// callbacks fire for that cycle. Panics in callbacks are recovered and
// logged.
type Handlers[T any] struct {
	// ParseStatus extracts the status from a response.
	// Defaults to [DefaultParseStatus].
	ParseStatus func(resp T) Status

	// IsPending, IsSuccess and IsFailure classify a parsed status.
	// They default to the built-in vocabulary. Success is checked first,
	// then failure, then pending. A status matching none of them is treated
	// as pending and logged at debug level.
	IsPending func(status Status, resp T) bool
	IsSuccess func(status Status, resp T) bool
	IsFailure func(status Status, resp T) bool

	// ParseProgress reports a backend progress percentage, if the response
	// carries one. When it returns ok, the observed value is used instead of
	// the simulated one (still never decreasing and capped at 99).
	ParseProgress func(resp T) (progress float64, ok bool)

	// OnProgress receives every progress change: once on start with the
	// initial progress, once per pending tick, and 100 on success.
	OnProgress func(progress float64, pc Context[T])

	// OnStatusChange receives the parsed status of every successful check.
	OnStatusChange func(status Status, resp T)

	// OnSuccess fires once when the task reports success.
	OnSuccess func(resp T, pc Context[T])

	// OnFailure fires once when the task reports a business failure.
	OnFailure func(resp T, pc Context[T])

	// OnTimeout fires once when the maximum duration elapses without a
	// terminal status. The remote task state is unknown.
	OnTimeout func(pc Context[T])

	// OnError receives every error returned by a status check, transient or
	// fatal.
	OnError func(err error, pc Context[T])
}

// classification of a parsed status
type verdict int

const (
	verdictPending verdict = iota
	verdictSuccess
	verdictFailure
)

// cycle is the state of one Start..terminal run. A poller replaces its cycle
// on every Start, so a goroutine left over from an earlier cycle can always
// tell that it has been superseded.
type cycle[T any] struct {
	ctx        context.Context
	cancel     context.CancelFunc
	parent     context.Context
	start      time.Time
	done       chan struct{}
	lastStatus Status

	// guarded by Poller.mu
	stopped  bool
	terminal bool
	err      error
}

// Poller drives a [RequestFunc] until the remote task reaches a terminal
// state, the maximum duration elapses, a fatal error occurs or the caller
// stops it.
//
// A Poller is created with [New], activated with [Poller.Start] and may be
// restarted after it finishes or is stopped; each start resets attempts and
// progress. At most one status check is in flight and at most one tick is
// scheduled at any time. All methods are safe for concurrent use.
type Poller[T any] struct {
	request         RequestFunc[T]
	handlers        Handlers[T]
	name            string
	interval        time.Duration
	maxDuration     time.Duration
	initialProgress float64
	immediate       bool
	simulator       ProgressSimulator
	continueOnError func(error) bool
	logger          *slog.Logger
	clock           clock.Clock

	mu       sync.Mutex
	current  *cycle[T]
	running  bool
	progress float64
	attempts int
	outcome  Outcome
}

// New creates a [Poller] for request.
//
// Defaults (see the With* options):
//   - interval: 10 seconds
//   - max duration: 10 minutes
//   - initial progress: 0
//   - progress mode: medium
//   - immediate first check: true
//   - error policy: [DefaultContinueOnError]
//
// Returns an error if request is nil or any option is invalid.
//
// Example:
//
//	p, err := taskpoll.New(checkJob, taskpoll.Handlers[Job]{
//	    OnProgress: func(pct float64, _ taskpoll.Context[Job]) { bar.Set(pct) },
//	    OnSuccess:  func(job Job, _ taskpoll.Context[Job]) { show(job.URL) },
//	}, taskpoll.WithInterval(3*time.Second), taskpoll.WithProgressMode(taskpoll.ProgressFast))
func New[T any](request RequestFunc[T], handlers Handlers[T], opts ...Option) (*Poller[T], error) {
	if request == nil {
		return nil, errors.New("request function is required")
	}

	cfg := defaultPollerConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.name == "" {
		cfg.name = "task"
	}
	if cfg.simulator == nil {
		cfg.simulator = NewProgressSimulator(cfg.progressMode)
	}
	if cfg.continueOnError == nil {
		cfg.continueOnError = DefaultContinueOnError
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.clock == nil {
		cfg.clock = clock.New()
	}

	if handlers.ParseStatus == nil {
		handlers.ParseStatus = DefaultParseStatus[T]
	}
	if handlers.IsPending == nil {
		handlers.IsPending = func(s Status, _ T) bool { return DefaultIsPending(s) }
	}
	if handlers.IsSuccess == nil {
		handlers.IsSuccess = func(s Status, _ T) bool { return DefaultIsSuccess(s) }
	}
	if handlers.IsFailure == nil {
		handlers.IsFailure = func(s Status, _ T) bool { return DefaultIsFailure(s) }
	}

	return &Poller[T]{
		request:         request,
		handlers:        handlers,
		name:            cfg.name,
		interval:        cfg.interval,
		maxDuration:     cfg.maxDuration,
		initialProgress: cfg.initialProgress,
		immediate:       cfg.immediate,
		simulator:       cfg.simulator,
		continueOnError: cfg.continueOnError,
		logger:          cfg.logger.With("task", cfg.name),
		clock:           cfg.clock,
		progress:        cfg.initialProgress,
		outcome:         OutcomeStopped,
	}, nil
}

// Start begins a polling cycle in a background goroutine and returns
// immediately.
//
// Start resets attempts and progress, reports the initial progress through
// OnProgress (with an empty [Context]) and then checks the status, either
// right away or after one interval depending on [WithImmediate].
//
// Start is a no-op while the poller is running. If ctx is nil,
// context.Background() is used. Cancelling ctx stops the cycle silently,
// like [Poller.Stop], and makes [Poller.Wait] return ctx.Err().
func (p *Poller[T]) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := &cycle[T]{
		ctx:    runCtx,
		cancel: cancel,
		parent: ctx,
		start:  p.clock.Now(),
		done:   make(chan struct{}),
	}
	p.current = c
	p.running = true
	p.attempts = 0
	p.progress = p.initialProgress
	p.outcome = OutcomeRunning
	initial := p.progress
	p.mu.Unlock()

	p.logger.Info("polling started",
		"interval", p.interval.String(),
		"max_duration", p.maxDuration.String(),
	)

	go p.loop(c, initial)
}

// Stop cancels the current cycle. The scheduled tick is discarded and an
// in-flight status check has its context cancelled; its result, if any, is
// dropped.
//
// Stop never invokes a terminal callback. It is idempotent, safe to call
// before Start and safe to call from inside a callback.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	c := p.current
	wasRunning := p.running
	if wasRunning {
		p.running = false
		p.outcome = OutcomeStopped
		c.stopped = true
	}
	p.mu.Unlock()

	if c != nil {
		c.cancel()
	}
	if wasRunning {
		p.logger.Info("polling stopped")
	}
}

// IsRunning reports whether a polling cycle is in progress.
func (p *Poller[T]) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Wait blocks until the current cycle has ended and all of its callbacks
// have returned.
//
// Wait returns the error that aborted the cycle when a status check failed
// with a fatal error, the start context's error when that context was
// cancelled, and nil for success, failure, timeout, [Poller.Stop], or when
// the poller was never started.
func (p *Poller[T]) Wait() error {
	p.mu.Lock()
	c := p.current
	p.mu.Unlock()

	if c == nil {
		return nil
	}
	<-c.done

	p.mu.Lock()
	defer p.mu.Unlock()
	return c.err
}

// Run starts a cycle and waits for it to end. See [Poller.Start] and
// [Poller.Wait].
func (p *Poller[T]) Run(ctx context.Context) error {
	p.Start(ctx)
	return p.Wait()
}

// Progress returns the last reported progress.
func (p *Poller[T]) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Attempts returns the number of status checks issued in the current cycle.
func (p *Poller[T]) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Outcome returns the lifecycle state of the poller.
func (p *Poller[T]) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

// loop is the body of one cycle's goroutine.
func (p *Poller[T]) loop(c *cycle[T], initial float64) {
	defer close(c.done)
	defer p.exit(c)

	if !p.active(c) {
		return
	}
	p.invoke("OnProgress", func() {
		if p.handlers.OnProgress != nil {
			p.handlers.OnProgress(initial, Context[T]{})
		}
	})
	if !p.active(c) {
		return
	}

	if !p.immediate && !p.sleep(c) {
		return
	}

	for {
		if done := p.tick(c); done {
			return
		}
		if !p.sleep(c) {
			return
		}
	}
}

// exit releases the cycle and records a parent-context cancellation.
func (p *Poller[T]) exit(c *cycle[T]) {
	p.mu.Lock()
	if !c.terminal && !c.stopped && c.parent.Err() != nil {
		c.err = c.parent.Err()
		if p.current == c {
			p.running = false
			p.outcome = OutcomeStopped
		}
	}
	p.mu.Unlock()

	c.cancel()
}

// sleep waits one interval. It returns false if the cycle was cancelled.
func (p *Poller[T]) sleep(c *cycle[T]) bool {
	timer := p.clock.Timer(p.interval)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return false
	case <-timer.C:
		return p.active(c)
	}
}

// active reports whether c is still the live cycle.
func (p *Poller[T]) active(c *cycle[T]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current == c && p.running && c.ctx.Err() == nil
}

// finish marks c as terminated with outcome, setting progress to 100 on
// success. It returns false if the cycle was stopped concurrently, in which
// case no terminal callback may fire and nothing changes.
func (p *Poller[T]) finish(c *cycle[T], outcome Outcome, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != c || !p.running || c.ctx.Err() != nil {
		return false
	}
	p.running = false
	p.outcome = outcome
	if outcome == OutcomeSucceeded {
		p.progress = 100
	}
	c.terminal = true
	c.err = err
	return true
}

// tick performs one status check and reports whether the cycle is over.
func (p *Poller[T]) tick(c *cycle[T]) bool {
	p.mu.Lock()
	if p.current != c || !p.running || c.ctx.Err() != nil {
		p.mu.Unlock()
		return true
	}
	p.attempts++
	attempts := p.attempts
	p.mu.Unlock()

	resp, err := p.safeRequest(c.ctx)
	if !p.active(c) {
		// stopped while the check was in flight
		return true
	}

	if err != nil {
		pc := Context[T]{Attempts: attempts, Elapsed: p.clock.Since(c.start), Status: c.lastStatus}
		p.invoke("OnError", func() {
			if p.handlers.OnError != nil {
				p.handlers.OnError(err, pc)
			}
		})
		if !p.active(c) {
			return true
		}

		if !p.continueOnError(err) {
			if p.finish(c, OutcomeErrored, err) {
				p.logger.Error("status check failed, polling aborted",
					"attempt", attempts,
					"error", err.Error(),
				)
			}
			return true
		}
		p.logger.Warn("status check failed, will retry",
			"attempt", attempts,
			"error", err.Error(),
		)
	} else {
		status, v := p.classify(resp)
		c.lastStatus = status
		pc := Context[T]{Attempts: attempts, Elapsed: p.clock.Since(c.start), Status: status, Response: resp}

		p.invoke("OnStatusChange", func() {
			if p.handlers.OnStatusChange != nil {
				p.handlers.OnStatusChange(status, resp)
			}
		})
		if !p.active(c) {
			return true
		}

		switch v {
		case verdictSuccess:
			if !p.finish(c, OutcomeSucceeded, nil) {
				return true
			}
			p.logger.Info("task succeeded", "attempt", attempts, "status", status.String())
			p.invoke("OnProgress", func() {
				if p.handlers.OnProgress != nil {
					p.handlers.OnProgress(100, pc)
				}
			})
			p.invoke("OnSuccess", func() {
				if p.handlers.OnSuccess != nil {
					p.handlers.OnSuccess(resp, pc)
				}
			})
			return true

		case verdictFailure:
			if !p.finish(c, OutcomeFailed, nil) {
				return true
			}
			p.logger.Info("task failed", "attempt", attempts, "status", status.String())
			p.invoke("OnFailure", func() {
				if p.handlers.OnFailure != nil {
					p.handlers.OnFailure(resp, pc)
				}
			})
			return true

		default:
			progress := p.advance(resp)
			p.logger.Debug("task pending",
				"attempt", attempts,
				"status", status.String(),
				"progress", progress,
			)
			p.invoke("OnProgress", func() {
				if p.handlers.OnProgress != nil {
					p.handlers.OnProgress(progress, pc)
				}
			})
			if !p.active(c) {
				return true
			}
		}
	}

	elapsed := p.clock.Since(c.start)
	if elapsed >= p.maxDuration {
		if !p.finish(c, OutcomeTimedOut, nil) {
			return true
		}
		p.logger.Warn("polling timed out",
			"attempt", attempts,
			"elapsed", elapsed.String(),
		)
		pc := Context[T]{Attempts: attempts, Elapsed: elapsed, Status: c.lastStatus}
		p.invoke("OnTimeout", func() {
			if p.handlers.OnTimeout != nil {
				p.handlers.OnTimeout(pc)
			}
		})
		return true
	}

	return false
}

// advance moves progress forward for a pending tick and returns the new value.
func (p *Poller[T]) advance(resp T) float64 {
	p.mu.Lock()
	current := p.progress
	p.mu.Unlock()

	var next float64
	if observed, ok := p.observedProgress(resp); ok {
		next = observed
	} else {
		next = p.simulate(current)
	}
	if math.IsNaN(next) || math.IsInf(next, 0) {
		next = current
	}
	// never backwards, never 100 before success
	next = max(current, min(next, maxPendingProgress))

	p.setProgress(next)
	return next
}

func (p *Poller[T]) setProgress(v float64) {
	p.mu.Lock()
	p.progress = v
	p.mu.Unlock()
}

// classify parses and classifies a response. A panicking classifier leaves
// the task pending.
func (p *Poller[T]) classify(resp T) (status Status, v verdict) {
	defer func() {
		if r := recover(); r != nil {
			p.logPanic("status classifier", r)
			v = verdictPending
		}
	}()

	status = p.handlers.ParseStatus(resp)
	switch {
	case p.handlers.IsSuccess(status, resp):
		return status, verdictSuccess
	case p.handlers.IsFailure(status, resp):
		return status, verdictFailure
	case p.handlers.IsPending(status, resp):
		return status, verdictPending
	default:
		p.logger.Debug("unrecognised status, treating as pending", "status", status.String())
		return status, verdictPending
	}
}

func (p *Poller[T]) observedProgress(resp T) (progress float64, ok bool) {
	if p.handlers.ParseProgress == nil {
		return 0, false
	}
	defer func() {
		if r := recover(); r != nil {
			p.logPanic("progress parser", r)
			progress, ok = 0, false
		}
	}()
	return p.handlers.ParseProgress(resp)
}

func (p *Poller[T]) simulate(current float64) (next float64) {
	defer func() {
		if r := recover(); r != nil {
			p.logPanic("progress simulator", r)
			next = current
		}
	}()
	return p.simulator(current)
}

// safeRequest calls the request function, converting a panic into an error
// wrapping [ErrRequestPanic] with a correlation ID that matches the log record.
func (p *Poller[T]) safeRequest(ctx context.Context) (resp T, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := p.logPanic("status check", r)
			var zero T
			resp = zero
			err = fmt.Errorf("%w (correlation_id: %s)", ErrRequestPanic, correlationID)
		}
	}()
	return p.request(ctx)
}

// invoke runs a user callback with panic recovery.
func (p *Poller[T]) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logPanic(name+" callback", r)
		}
	}()
	fn()
}

// logPanic logs a recovered panic with its stack and returns the correlation ID.
func (p *Poller[T]) logPanic(where string, r any) string {
	correlationID := uuid.NewString()
	p.logger.Error(where+" panic",
		"correlation_id", correlationID,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()),
	)
	return correlationID
}
