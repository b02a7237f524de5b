package taskpoll

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	defaultInterval     = 10 * time.Second
	defaultMaxDuration  = 10 * time.Minute
	defaultProgressMode = ProgressMedium
)

// pollerConfig holds the non-generic poller settings during construction.
type pollerConfig struct {
	name            string
	interval        time.Duration
	maxDuration     time.Duration
	initialProgress float64
	progressMode    ProgressMode
	simulator       ProgressSimulator
	immediate       bool
	continueOnError func(error) bool
	logger          *slog.Logger
	clock           clock.Clock
}

func defaultPollerConfig() pollerConfig {
	return pollerConfig{
		interval:     defaultInterval,
		maxDuration:  defaultMaxDuration,
		progressMode: defaultProgressMode,
		immediate:    true,
	}
}

// Option configures a [Poller] during construction.
//
// Option implements the functional options pattern: each option validates
// its argument and returns an error that [New] passes back to the caller.
// Options are applied in order, so later options win.
type Option func(*pollerConfig) error

// WithName sets the name used in log records. Defaults to "task".
func WithName(name string) Option {
	return func(cfg *pollerConfig) error {
		cfg.name = name
		return nil
	}
}

// WithInterval sets the delay between the end of one status check and the
// start of the next. Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithInterval(d time.Duration) Option {
	return func(cfg *pollerConfig) error {
		if d <= 0 {
			return errors.New("interval must be positive")
		}
		cfg.interval = d
		return nil
	}
}

// WithMaxDuration bounds the total polling time of one cycle. When a tick
// finishes at or after this duration without a terminal status, OnTimeout
// fires. Defaults to 10 minutes.
//
// Returns an error if the duration is zero or negative.
func WithMaxDuration(d time.Duration) Option {
	return func(cfg *pollerConfig) error {
		if d <= 0 {
			return errors.New("max duration must be positive")
		}
		cfg.maxDuration = d
		return nil
	}
}

// WithInitialProgress sets the progress reported by [Poller.Start] before
// the first status check. Values outside 0..100 are clamped. Defaults to 0.
//
// Returns an error for NaN.
func WithInitialProgress(p float64) Option {
	return func(cfg *pollerConfig) error {
		if math.IsNaN(p) {
			return errors.New("initial progress must be a number")
		}
		cfg.initialProgress = clampProgress(p)
		return nil
	}
}

// WithProgressMode selects a built-in progress simulator preset.
// Defaults to [ProgressMedium]. Clears any simulator set by
// [WithProgressSimulator].
//
// Returns an error for unknown modes.
func WithProgressMode(mode ProgressMode) Option {
	return func(cfg *pollerConfig) error {
		if _, ok := progressCurves[mode]; !ok {
			return fmt.Errorf("unknown progress mode %q", mode)
		}
		cfg.progressMode = mode
		cfg.simulator = nil
		return nil
	}
}

// WithProgressSimulator replaces the preset simulator with a custom one.
//
// Returns an error if sim is nil.
func WithProgressSimulator(sim ProgressSimulator) Option {
	return func(cfg *pollerConfig) error {
		if sim == nil {
			return errors.New("progress simulator cannot be nil")
		}
		cfg.simulator = sim
		return nil
	}
}

// WithImmediate controls whether the first status check runs as soon as the
// poller starts (true, the default) or after one interval.
func WithImmediate(immediate bool) Option {
	return func(cfg *pollerConfig) error {
		cfg.immediate = immediate
		return nil
	}
}

// WithContinueOnError sets the predicate deciding whether an error returned
// by a status check is transient (true: keep polling) or fatal (false: abort
// and surface the error from [Poller.Wait]).
// Defaults to [DefaultContinueOnError].
//
// Returns an error if fn is nil.
func WithContinueOnError(fn func(error) bool) Option {
	return func(cfg *pollerConfig) error {
		if fn == nil {
			return errors.New("continue-on-error predicate cannot be nil")
		}
		cfg.continueOnError = fn
		return nil
	}
}

// WithLogger sets the [slog.Logger] used for poller events.
// Defaults to [slog.Default].
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *pollerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithClock sets the clock used for intervals and elapsed time.
// Defaults to the wall clock; tests pass a [clock.Mock].
//
// Returns an error if clk is nil.
func WithClock(clk clock.Clock) Option {
	return func(cfg *pollerConfig) error {
		if clk == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = clk
		return nil
	}
}
