// Package server provides the HTTP API for watched tasks.
//
// This package is internal to taskpoll and handles all HTTP concerns:
//
//   - REST API: "/api/tasks" for a snapshot of every task and
//     "/api/tasks/{name}" for a single task
//   - Control: "POST /api/tasks/{name}/stop" stops a task's poller
//   - Server-Sent Events: real-time task updates at "/api/sse"
//
// Task names containing "/" (such as batch tasks) must be path-escaped in
// URLs, e.g. "/api/tasks/thumbnails%2Fa1".
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the taskpoll library should not need to interact with this
// package directly. The server is started by the Watcher when a port is set.
package server
