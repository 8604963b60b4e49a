package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError is a single invalid engine setting.
type ValidationError struct {
	// Path is the dot-separated setting path.
	Path string
	// Message describes what's wrong.
	Message string
	// Value is the offending value.
	Value any
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Path, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting found by Validate.
type ValidationErrors struct {
	Errors []*ValidationError
}

// Error implements the error interface.
func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d validation errors:\n  - %s", len(e.Errors), strings.Join(msgs, "\n  - "))
}

// ErrorsForPath returns the errors reported for path.
func (e *ValidationErrors) ErrorsForPath(path string) []*ValidationError {
	var out []*ValidationError
	for _, err := range e.Errors {
		if err.Path == path {
			out = append(out, err)
		}
	}
	return out
}

func (e *ValidationErrors) add(path, message string, value any) {
	e.Errors = append(e.Errors, &ValidationError{Path: path, Message: message, Value: value})
}

type rule func(path string, v any, errs *ValidationErrors)

func oneOf(values ...string) rule {
	return func(path string, v any, errs *ValidationErrors) {
		s, ok := v.(string)
		if !ok {
			errs.add(path, "expected string", v)
			return
		}
		for _, allowed := range values {
			if s == allowed {
				return
			}
		}
		errs.add(path, "must be one of "+strings.Join(values, ", "), v)
	}
}

func positiveDuration(path string, v any, errs *ValidationErrors) {
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			errs.add(path, "invalid duration", v)
			return
		}
		if parsed <= 0 {
			errs.add(path, "must be positive", v)
		}
		return
	case time.Duration:
		if d <= 0 {
			errs.add(path, "must be positive", v)
		}
		return
	}
	if n, ok := toInt64(v); ok {
		if n <= 0 {
			errs.add(path, "must be positive", v)
		}
		return
	}
	errs.add(path, "expected duration", v)
}

func nonEmptyString(path string, v any, errs *ValidationErrors) {
	s, ok := v.(string)
	if !ok {
		errs.add(path, "expected string", v)
		return
	}
	if strings.TrimSpace(s) == "" {
		errs.add(path, "must not be empty", v)
	}
}

func anyString(path string, v any, errs *ValidationErrors) {
	if _, ok := v.(string); !ok {
		errs.add(path, "expected string", v)
	}
}

func stringList(path string, v any, errs *ValidationErrors) {
	switch s := v.(type) {
	case string, []string:
		return
	case []any:
		for i, item := range s {
			if _, ok := item.(string); !ok {
				errs.add(fmt.Sprintf("%s[%d]", path, i), "expected string", item)
			}
		}
		return
	}
	errs.add(path, "expected string or list of strings", v)
}

func boolean(path string, v any, errs *ValidationErrors) {
	if _, ok := v.(bool); !ok {
		errs.add(path, "expected boolean", v)
	}
}

var rules = []struct {
	path  string
	check rule
}{
	{KeyLogLevel, oneOf("debug", "info", "warn", "error")},
	{KeyLogFormat, oneOf("json", "console")},
	{KeySchedulerDelay, positiveDuration},
	{KeySchedulerPoll, positiveDuration},
	{KeyPluginPrefix, nonEmptyString},
	{KeyPluginDir, anyString},
	{KeyWatchRoots, stringList},
	{KeyWatchIgnore, stringList},
	{KeyWatchHidden, boolean},
	{KeyMetricsNamespace, nonEmptyString},
}

// Validate checks the engine settings in c. Keys outside the engine's own
// settings are left alone since scopes and plugins read their own. All
// problems are reported together as *ValidationErrors.
func Validate(c *Configuration) error {
	errs := &ValidationErrors{}
	for _, r := range rules {
		if v, ok := c.Get(r.path); ok {
			r.check(r.path, v, errs)
		}
	}
	if len(errs.Errors) == 0 {
		return nil
	}
	return errs
}
