package taskpoll

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrRequestPanic is wrapped by the error produced when a status check panics.
var ErrRequestPanic = errors.New("status check panicked")

// StatusError reports a status check whose HTTP response was not 2xx.
type StatusError struct {
	// Code is the HTTP status code.
	Code int

	// URL is the status endpoint that was queried.
	URL string

	// Body is the (size-limited) response body, kept for diagnostics.
	Body []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("status check %s: unexpected HTTP status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// HTTPStatusCode returns the HTTP status code carried by the error.
func (e *StatusError) HTTPStatusCode() int {
	return e.Code
}

// httpStatusCoder is implemented by errors that carry an HTTP status code.
// Request functions built on other HTTP stacks can implement it to take part
// in the default error policy.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

// StatusCode returns the HTTP status code carried anywhere in err's chain.
func StatusCode(err error) (int, bool) {
	var coder httpStatusCoder
	if errors.As(err, &coder) {
		return coder.HTTPStatusCode(), true
	}
	return 0, false
}

// IsServerError reports whether err carries an HTTP 5xx status code.
func IsServerError(err error) bool {
	code, ok := StatusCode(err)
	return ok && code >= 500 && code < 600
}

// DefaultContinueOnError is the error policy used when none is configured.
//
// Errors carrying an HTTP 5xx status are fatal; everything else (network
// failures, 4xx responses, recovered panics) is treated as transient and
// retried on the normal interval. Context cancellation is never retried.
func DefaultContinueOnError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !IsServerError(err)
}
