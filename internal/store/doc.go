// Package store holds the latest state of every watched task and fans
// updates out to subscribers.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [TaskState]: Storage representation of a task's state
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers miss updates rather than block the pollers).
//
// Users of the taskpoll library should not need to interact with this
// package directly. Storage is managed by the Watcher.
package store
