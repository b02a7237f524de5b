// Package config provides YAML configuration parsing for taskpoll.
//
// This package lets the taskpoll binary watch tasks described in a file, as
// an alternative to building a [taskpoll.Watcher] in code.
//
// Example configuration:
//
//	port: 8080
//	max_concurrency: 5
//	consecutive_error_limit: 10
//
//	defaults:
//	  interval: 5s
//	  max_duration: 10m
//	  progress_mode: medium
//
//	tasks:
//	  - name: render
//	    url: https://api.example.com/tasks/${TASK_ID}
//	    headers:
//	      Authorization: "Bearer ${TOKEN}"
//	    status_path: data.status
//	    progress_path: data.progress
//	    result_path: data.url
//	    progress_mode: fast
//
//	batches:
//	  - name: thumbnails
//	    url_template: "https://api.example.com/tasks/{{.id}}"
//	    ids: [a1, b2, c3]
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"
	"text/template"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/taskpoll"
)

const (
	// bounds for durations set in a config file
	minInterval = 1 * time.Second
	maxInterval = 1 * time.Hour
	minTimeout  = 1 * time.Second

	defaultPort           = 8080
	defaultMaxConcurrency = 10
	defaultInterval       = 10 * time.Second
	defaultMaxDuration    = 10 * time.Minute
)

// Config is the root configuration structure for taskpoll.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the task API port. Defaults to 8080.
	Port int `yaml:"port"`

	// MaxConcurrency bounds the status checks in flight across all tasks.
	// Defaults to 10.
	MaxConcurrency int `yaml:"max_concurrency"`

	// ConsecutiveErrorLimit aborts a task after this many failed checks in
	// a row. Zero disables the limit.
	ConsecutiveErrorLimit int `yaml:"consecutive_error_limit"`

	// Defaults apply to every task unless the task overrides them.
	Defaults PollConfig `yaml:"defaults"`

	// Tasks defines individual tasks.
	Tasks []TaskConfig `yaml:"tasks"`

	// Batches defines groups of tasks expanded from a URL template.
	Batches []BatchConfig `yaml:"batches"`
}

// PollConfig holds the polling settings shared by defaults, tasks and
// batches. Unset fields fall back to the next level up.
type PollConfig struct {
	// Interval is the delay between status checks. Must be between 1s and 1h.
	Interval Duration `yaml:"interval"`

	// MaxDuration bounds how long a task is polled before it times out.
	MaxDuration Duration `yaml:"max_duration"`

	// ProgressMode is one of fast, medium or slow.
	ProgressMode string `yaml:"progress_mode"`

	// InitialProgress is reported before the first check (0-100).
	InitialProgress *float64 `yaml:"initial_progress"`

	// Immediate runs the first check at start instead of after one interval.
	Immediate *bool `yaml:"immediate"`
}

// RequestConfig describes how a task's status is requested and read.
type RequestConfig struct {
	// Method is GET or POST. Defaults to GET.
	Method string `yaml:"method"`

	// Headers are sent with every status check.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Labels are metadata key-value pairs reported with the task's state.
	Labels map[string]string `yaml:"labels"`

	// Body is sent with POST status checks.
	Body string `yaml:"body"`

	// Timeout is the per-request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// StatusPath, ProgressPath and ResultPath are dot paths into the JSON
	// response body.
	StatusPath   string `yaml:"status_path"`
	ProgressPath string `yaml:"progress_path"`
	ResultPath   string `yaml:"result_path"`
}

// TaskConfig defines a single task.
type TaskConfig struct {
	// Name identifies the task in logs, the API and the summary.
	Name string `yaml:"name"`

	// URL is the task's status URL.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	RequestConfig `yaml:",inline"`
	PollConfig    `yaml:",inline"`
}

// BatchConfig defines tasks that share everything but their ID.
//
// For example, with ids [a1, b2] and url_template ".../tasks/{{.id}}" the
// batch expands to the tasks "name/a1" and "name/b2".
type BatchConfig struct {
	// Name is the prefix of the generated task names.
	Name string `yaml:"name"`

	// URLTemplate is a Go template with the task ID available as {{.id}}.
	URLTemplate string `yaml:"url_template"`

	// IDs lists the task IDs. Values support environment variable
	// substitution.
	IDs []string `yaml:"ids"`

	RequestConfig `yaml:",inline"`
	PollConfig    `yaml:",inline"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
// Group 1 is the name, group 2 the ":-default" suffix and group 3 the default.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := envVarPattern.FindStringSubmatch(match)
		name := sub[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		// ${VAR:-} is an explicit empty default
		if sub[2] != "" {
			return sub[3]
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before validation.
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URLs, URL templates, batch IDs and
// header values. Defaults are applied for Port (8080), MaxConcurrency (10),
// the default interval (10s) and the default max duration (10m).
//
// Validation reports every problem it finds, not just the first.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.Defaults.Interval == 0 {
		cfg.Defaults.Interval = Duration(defaultInterval)
	}
	if cfg.Defaults.MaxDuration == 0 {
		cfg.Defaults.MaxDuration = Duration(defaultMaxDuration)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// TaskCount returns the number of tasks the configuration expands to.
func (c *Config) TaskCount() int {
	n := len(c.Tasks)
	for _, b := range c.Batches {
		n += len(b.IDs)
	}
	return n
}

// expandAndValidate expands environment variables and validates the config,
// collecting every error.
func (c *Config) expandAndValidate() error {
	var result *multierror.Error

	if c.Port < 1 || c.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.MaxConcurrency < 0 {
		result = multierror.Append(result, fmt.Errorf("max_concurrency cannot be negative, got %d", c.MaxConcurrency))
	}
	if c.ConsecutiveErrorLimit < 0 {
		result = multierror.Append(result, fmt.Errorf("consecutive_error_limit cannot be negative, got %d", c.ConsecutiveErrorLimit))
	}
	result = multierror.Append(result, validatePoll(c.Defaults, "defaults")...)

	names := make(map[string]string)
	claim := func(name, owner string) {
		if prev, dup := names[name]; dup {
			result = multierror.Append(result, fmt.Errorf("%s: duplicate task name %q (also used by %s)", owner, name, prev))
			return
		}
		names[name] = owner
	}

	for i := range c.Tasks {
		tc := &c.Tasks[i]
		where := fmt.Sprintf("tasks[%d]", i)

		if strings.TrimSpace(tc.Name) == "" {
			result = multierror.Append(result, fmt.Errorf("%s: name is required", where))
		} else {
			where = fmt.Sprintf("%s (%s)", where, tc.Name)
			claim(tc.Name, where)
		}

		if tc.URL == "" {
			result = multierror.Append(result, fmt.Errorf("%s: url is required", where))
		} else if expanded, err := expandEnvVars(tc.URL); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: url: %w", where, err))
		} else {
			tc.URL = expanded
			if err := validateURL(tc.URL); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", where, err))
			}
		}

		result = multierror.Append(result, validateRequest(&tc.RequestConfig, where)...)
		result = multierror.Append(result, validatePoll(tc.PollConfig, where)...)
	}

	for i := range c.Batches {
		bc := &c.Batches[i]
		where := fmt.Sprintf("batches[%d]", i)

		if strings.TrimSpace(bc.Name) == "" {
			result = multierror.Append(result, fmt.Errorf("%s: name is required", where))
		} else {
			where = fmt.Sprintf("%s (%s)", where, bc.Name)
		}

		if bc.URLTemplate == "" {
			result = multierror.Append(result, fmt.Errorf("%s: url_template is required", where))
		} else if expanded, err := expandEnvVars(bc.URLTemplate); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: url_template: %w", where, err))
		} else {
			bc.URLTemplate = expanded
			// fail fast before the batch is expanded
			if _, err := template.New("").Parse(bc.URLTemplate); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: invalid url_template: %w", where, err))
			}
		}

		if len(bc.IDs) == 0 {
			result = multierror.Append(result, fmt.Errorf("%s: at least one id is required", where))
		}
		seen := make(map[string]struct{}, len(bc.IDs))
		for j, id := range bc.IDs {
			expanded, err := expandEnvVars(id)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: ids[%d]: %w", where, j, err))
				continue
			}
			bc.IDs[j] = expanded
			if strings.TrimSpace(expanded) == "" {
				result = multierror.Append(result, fmt.Errorf("%s: ids[%d] is empty", where, j))
				continue
			}
			if _, dup := seen[expanded]; dup {
				result = multierror.Append(result, fmt.Errorf("%s: duplicate id %q", where, expanded))
				continue
			}
			seen[expanded] = struct{}{}
			if bc.Name != "" {
				claim(bc.Name+"/"+expanded, where)
			}
		}

		result = multierror.Append(result, validateRequest(&bc.RequestConfig, where)...)
		result = multierror.Append(result, validatePoll(bc.PollConfig, where)...)
	}

	if len(c.Tasks) == 0 && len(c.Batches) == 0 {
		result = multierror.Append(result, errors.New("at least one task or batch must be defined"))
	}

	return result.ErrorOrNil()
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsed.Scheme)
	}
	return nil
}

// validateRequest expands header values and checks the request settings.
func validateRequest(rc *RequestConfig, where string) []error {
	var errs []error

	for k, v := range rc.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: headers[%s]: %w", where, k, err))
			continue
		}
		rc.Headers[k] = expanded
	}

	switch strings.ToUpper(rc.Method) {
	case "", "GET", "POST":
	default:
		errs = append(errs, fmt.Errorf("%s: method must be GET or POST", where))
	}

	if rc.Body != "" && !strings.EqualFold(rc.Method, "POST") {
		errs = append(errs, fmt.Errorf("%s: body requires method POST", where))
	}

	if rc.Timeout != 0 && rc.Timeout.Duration() < minTimeout {
		errs = append(errs, fmt.Errorf("%s: timeout must be at least %s if specified, got %s",
			where, minTimeout, rc.Timeout.Duration()))
	}

	paths := []struct{ field, path string }{
		{"status_path", rc.StatusPath},
		{"progress_path", rc.ProgressPath},
		{"result_path", rc.ResultPath},
	}
	for _, p := range paths {
		if p.path != "" && slices.Contains(strings.Split(p.path, "."), "") {
			errs = append(errs, fmt.Errorf("%s: %s %q has an empty segment", where, p.field, p.path))
		}
	}

	return errs
}

// validatePoll checks the polling settings that are set.
func validatePoll(pc PollConfig, where string) []error {
	var errs []error

	if pc.Interval != 0 {
		if d := pc.Interval.Duration(); d < minInterval || d > maxInterval {
			errs = append(errs, fmt.Errorf("%s: interval must be between %s and %s, got %s",
				where, minInterval, maxInterval, d))
		}
	}

	if pc.MaxDuration != 0 && pc.MaxDuration.Duration() < minInterval {
		errs = append(errs, fmt.Errorf("%s: max_duration must be at least %s, got %s",
			where, minInterval, pc.MaxDuration.Duration()))
	}

	if pc.ProgressMode != "" {
		if _, err := taskpoll.ParseProgressMode(pc.ProgressMode); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}
	}

	if p := pc.InitialProgress; p != nil && (math.IsNaN(*p) || *p < 0 || *p > 100) {
		errs = append(errs, fmt.Errorf("%s: initial_progress must be between 0 and 100, got %v", where, *p))
	}

	return errs
}
