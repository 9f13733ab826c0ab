package config

import (
	"fmt"
	"strings"
	"time"
)

// FieldError is a validation failure at a config path such as
// "tasks[2].timeout" or "scheduler.workers".
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Reason }

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func fieldWrap(field string, err error) *FieldError {
	return &FieldError{Field: field, Reason: err.Error(), Err: err}
}

// DurationField parses an optional duration setting. Empty means unset and
// yields 0. Negative values are rejected.
func DurationField(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fieldErr(field, "%q is not a duration (want e.g. 30s, 5m, 1h30m)", raw)
	}
	if d < 0 {
		return 0, fieldErr(field, "%q is negative", raw)
	}
	return d, nil
}

// DurationOr is DurationField with def standing in for an unset or zero value.
func DurationOr(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := DurationField(field, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
