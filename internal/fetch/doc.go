// Package fetch provides the HTTP client used by taskpoll to query remote
// task status endpoints.
//
// This package is internal to taskpoll. Callers describe tasks with
// taskpoll.HTTPTask; the request adapter in the root package turns each task
// into a status-check function built on [Client].
package fetch
