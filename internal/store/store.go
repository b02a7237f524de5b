package store

import "time"

// TaskState is the latest known state of a watched task.
//
// TaskState is the storage representation used by the REST API and SSE. It is
// decoupled from the poller's types so both can evolve independently.
type TaskState struct {
	// Name is the task's unique name.
	Name string `json:"name"`

	// URL is the status endpoint being polled.
	URL string `json:"url"`

	// Event is the poller event that produced this state
	// (e.g. "progress", "success", "error").
	Event string `json:"event"`

	// Outcome is the poller's lifecycle state
	// ("running", "succeeded", "failed", "timed_out", "errored", "stopped").
	Outcome string `json:"outcome"`

	// Status is the last status reported by the remote task.
	Status string `json:"status"`

	// Progress is the last reported progress percentage, 0 to 100.
	Progress float64 `json:"progress"`

	// Attempts is the number of status checks issued so far.
	Attempts int `json:"attempts"`

	// Labels contains key-value metadata for grouping and filtering.
	Labels map[string]string `json:"labels"`

	// Result is the value captured from the task's result path, if any.
	Result string `json:"result,omitempty"`

	// ElapsedMs is the time since polling started, in milliseconds.
	ElapsedMs int64 `json:"elapsed_ms"`

	// UpdatedAt is when this state was recorded.
	UpdatedAt time.Time `json:"updated_at"`

	// Error contains the message of the last failed status check.
	// nil indicates the last check succeeded.
	Error *string `json:"error"`
}

// Store defines the interface for storing and subscribing to task updates.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Update stores a task state and notifies all subscribers.
	// States are keyed by Name, so later updates replace earlier ones.
	Update(state TaskState)

	// Get returns the state of the named task.
	Get(name string) (TaskState, bool)

	// GetAll returns all stored states sorted by name.
	// The returned slice is a snapshot; modifications do not affect the store.
	GetAll() []TaskState

	// Subscribe returns a channel that receives task updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan TaskState

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan TaskState)
}
