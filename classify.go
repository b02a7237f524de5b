package taskpoll

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// default status vocabulary, matched after normalisation
var (
	pendingStatuses = statusSet("running", "init", "processing", "pending", "in_queue", "queued")
	successStatuses = statusSet("success", "succeeded", "completed", "done", "finished")
	failureStatuses = statusSet("fail", "failed", "error", "timeout", "expired")
)

// defaultStatusPaths are tried in order by DefaultParseStatus on JSON-like responses.
var defaultStatusPaths = [][]string{
	{"status"},
	{"state"},
	{"data", "status"},
}

func statusSet(values ...string) map[Status]struct{} {
	set := make(map[Status]struct{}, len(values))
	for _, v := range values {
		set[Status(v)] = struct{}{}
	}
	return set
}

// DefaultIsPending reports whether status is in the default pending vocabulary:
// running, init, processing, pending, in_queue, queued.
func DefaultIsPending(status Status) bool {
	_, ok := pendingStatuses[NormalizeStatus(string(status))]
	return ok
}

// DefaultIsSuccess reports whether status is in the default success vocabulary:
// success, succeeded, completed, done, finished.
func DefaultIsSuccess(status Status) bool {
	_, ok := successStatuses[NormalizeStatus(string(status))]
	return ok
}

// DefaultIsFailure reports whether status is in the default failure vocabulary:
// fail, failed, error, timeout, expired.
func DefaultIsFailure(status Status) bool {
	_, ok := failureStatuses[NormalizeStatus(string(status))]
	return ok
}

// DefaultParseStatus extracts a [Status] from common response shapes.
//
// In order of preference:
//   - values implementing [StatusReporter]
//   - string and [Status] values (the value itself is the status)
//   - []byte and json.RawMessage holding a JSON object
//   - map[string]any, as produced by encoding/json
//
// For JSON-like values the fields "status", "state" and "data.status" are
// tried in that order. Any other shape yields an empty status, which the
// poller treats as pending.
func DefaultParseStatus[T any](resp T) Status {
	switch v := any(resp).(type) {
	case StatusReporter:
		return NormalizeStatus(v.TaskStatus())
	case Status:
		return NormalizeStatus(string(v))
	case string:
		return NormalizeStatus(v)
	case []byte:
		return parseStatusJSON(v)
	case json.RawMessage:
		return parseStatusJSON(v)
	case map[string]any:
		return firstStatus(v)
	default:
		return ""
	}
}

// JSONStatus returns a ParseStatus function for raw JSON bodies that reads
// the status from a dot-notation path such as "data.task.status".
//
// Missing fields and invalid JSON yield an empty status.
func JSONStatus(path string) func(body []byte) Status {
	parts := strings.Split(path, ".")
	return func(body []byte) Status {
		data, ok := decodeJSON(body)
		if !ok {
			return ""
		}
		return NormalizeStatus(extractJSONPath(data, parts))
	}
}

// JSONNumber returns a function reading a numeric value (e.g. a backend
// progress percentage) from a dot-notation path in a JSON body.
//
// Numeric strings such as "42" or "42.5" are accepted. NaN and infinities
// are not.
func JSONNumber(path string) func(body []byte) (float64, bool) {
	parts := strings.Split(path, ".")
	return func(body []byte) (float64, bool) {
		data, ok := decodeJSON(body)
		if !ok {
			return 0, false
		}
		value, ok := walkJSONPath(data, parts)
		if !ok {
			return 0, false
		}
		var f float64
		switch n := value.(type) {
		case float64:
			f = n
		case string:
			var err error
			f, err = strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
			if err != nil {
				return 0, false
			}
		default:
			return 0, false
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
}

func parseStatusJSON(body []byte) Status {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return ""
	}
	return firstStatus(data)
}

func firstStatus(data map[string]any) Status {
	for _, path := range defaultStatusPaths {
		if s := extractJSONPath(data, path); s != "" {
			return NormalizeStatus(s)
		}
	}
	return ""
}

func decodeJSON(body []byte) (any, bool) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false
	}
	return data, true
}

// walkJSONPath follows dot notation parts through decoded JSON objects.
func walkJSONPath(data any, parts []string) (any, bool) {
	current := data
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// extractJSONPath walks a JSON structure and renders the leaf as a string.
func extractJSONPath(data any, parts []string) string {
	current, ok := walkJSONPath(data, parts)
	if !ok {
		return ""
	}

	switch v := current.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
