package taskpoll

import (
	"strings"
	"time"
)

// Status is the status string reported by a remote task, normalised to
// lower case with surrounding whitespace removed.
//
// Status is deliberately an open string type rather than a closed enum:
// backends invent their own synonyms, and classification is done by the
// IsPending/IsSuccess/IsFailure predicates on [Handlers].
type Status string

// NormalizeStatus trims and lower-cases a raw backend status.
func NormalizeStatus(s string) Status {
	return Status(strings.ToLower(strings.TrimSpace(s)))
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// StatusReporter is implemented by response types that know their own status.
// [DefaultParseStatus] prefers it over any structural inspection.
type StatusReporter interface {
	TaskStatus() string
}

// Outcome describes where a poller is in its lifecycle.
type Outcome string

const (
	// OutcomeStopped means the poller is idle: never started, or stopped by
	// the caller before reaching a terminal state.
	OutcomeStopped Outcome = "stopped"

	// OutcomeRunning means a polling cycle is in progress.
	OutcomeRunning Outcome = "running"

	// OutcomeSucceeded means the remote task reported success.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeFailed means the remote task reported a business failure.
	OutcomeFailed Outcome = "failed"

	// OutcomeTimedOut means no terminal status arrived within the maximum
	// duration. The remote task may still be running.
	OutcomeTimedOut Outcome = "timed_out"

	// OutcomeErrored means a status check failed with an error that was not
	// safe to retry. The remote task state is unknown.
	OutcomeErrored Outcome = "errored"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// Terminal reports whether the outcome ends a polling cycle on its own.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeTimedOut, OutcomeErrored:
		return true
	default:
		return false
	}
}

// Context is the snapshot handed to every lifecycle callback.
//
// A fresh Context is built for each callback invocation; holding on to one
// does not observe later ticks.
type Context[T any] struct {
	// Attempts is the number of status checks issued so far in this cycle.
	// Zero for the initial progress report made by [Poller.Start].
	Attempts int

	// Elapsed is the wall-clock time since [Poller.Start].
	Elapsed time.Duration

	// Status is the last classified status, empty if none is known yet.
	Status Status

	// Response is the result of the last successful status check.
	// It is the zero value when no response is available (initial report,
	// timeout).
	Response T
}
