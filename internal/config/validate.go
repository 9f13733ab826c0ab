package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"periodic/internal/task/scheduler"
)

// Validate checks the parts of cfg that can be checked without the rest of the
// application. Probe names are checked by the app's validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if cfg.Scheduler.Workers < 0 {
		errs = append(errs, fieldErr("scheduler.workers", "must be >= 0"))
	}
	if cfg.Scheduler.HistorySize < 0 {
		errs = append(errs, fieldErr("scheduler.history_size", "must be >= 0"))
	}
	if _, err := DurationField("scheduler.failure_log_every", cfg.Scheduler.FailureLogEvery); err != nil {
		errs = append(errs, err)
	}
	if cfg.Storage != nil {
		if _, err := DurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	seen := map[string]struct{}{}
	for i, t := range cfg.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			errs = append(errs, fieldErr(path+".name", "required"))
		} else {
			if _, dup := seen[name]; dup {
				errs = append(errs, fieldErr(path+".name", "duplicate %q", name))
			}
			seen[name] = struct{}{}
		}
		if strings.TrimSpace(t.Probe) == "" {
			errs = append(errs, fieldErr(path+".probe", "required"))
		}
		if _, err := scheduler.ParseInterval(t.Interval); err != nil {
			errs = append(errs, fieldWrap(path+".interval", err))
		}
		if _, err := DurationField(path+".start_delay", t.StartDelay); err != nil {
			errs = append(errs, err)
		}
		if _, err := DurationField(path+".timeout", t.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TaskSpec is a TaskConfig with its durations parsed.
type TaskSpec struct {
	Name       string
	Probe      string
	Interval   time.Duration
	StartDelay time.Duration
	Timeout    time.Duration
}

// Spec parses t. Errors name the task rather than its list position; call
// Validate first for index-qualified errors.
func (t TaskConfig) Spec() (TaskSpec, error) {
	field := fmt.Sprintf("tasks[%q]", strings.TrimSpace(t.Name))
	iv, err := scheduler.ParseInterval(t.Interval)
	if err != nil {
		return TaskSpec{}, fieldWrap(field+".interval", err)
	}
	delay, err := DurationField(field+".start_delay", t.StartDelay)
	if err != nil {
		return TaskSpec{}, err
	}
	timeout, err := DurationOr(field+".timeout", t.Timeout, time.Minute)
	if err != nil {
		return TaskSpec{}, err
	}
	return TaskSpec{
		Name:       strings.TrimSpace(t.Name),
		Probe:      strings.TrimSpace(t.Probe),
		Interval:   iv,
		StartDelay: delay,
		Timeout:    timeout,
	}, nil
}
