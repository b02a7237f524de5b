package store

import (
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// States are keyed by task name in a concurrent map, so readers never wait
// on the pollers writing to it. Subscribers receive updates via buffered
// channels (buffer size 100). Updates are sent non-blocking; if a
// subscriber's buffer is full, the update is dropped for that subscriber.
type MemoryStore struct {
	states      *xsync.MapOf[string, TaskState]
	subscribers map[chan TaskState]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:      xsync.NewMapOf[string, TaskState](),
		subscribers: make(map[chan TaskState]struct{}),
	}
}

// Update stores a [TaskState] and notifies all subscribers.
func (m *MemoryStore) Update(state TaskState) {
	m.states.Store(state.Name, state)
	m.notifySubscribers(state)
}

// Get returns the state of the named task.
func (m *MemoryStore) Get(name string) (TaskState, bool) {
	return m.states.Load(name)
}

// GetAll returns a snapshot of all stored states, sorted by name.
func (m *MemoryStore) GetAll() []TaskState {
	states := make([]TaskState, 0, m.states.Size())
	m.states.Range(func(_ string, state TaskState) bool {
		states = append(states, state)
		return true
	})
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan TaskState {
	ch := make(chan TaskState, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan TaskState) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the state to all active subscribers without
// blocking; a full buffer drops the message for that subscriber.
func (m *MemoryStore) notifySubscribers(state TaskState) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- state:
		default:
			// subscriber is slow, drop the message
		}
	}
}
