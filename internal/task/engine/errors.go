package engine

import (
	"errors"
	"fmt"
	"time"

	"periodic/internal/task"
)

var (
	ErrAlreadyStarted = errors.New("worker pool already started")
	ErrNotStarted     = errors.New("worker pool not started")
)

// CallbackFailure describes a task callback that panicked. It is handed to the
// ErrorHook; the worker keeps running and the task is still rescheduled.
type CallbackFailure struct {
	UID   task.Uid
	Name  string
	Panic any
	Stack string
	At    time.Time
}

func (f CallbackFailure) Error() string {
	return fmt.Sprintf("task %d (%s) failed: %v", f.UID, f.Name, f.Panic)
}

// Unwrap exposes the panic value when the callback panicked with an error.
func (f CallbackFailure) Unwrap() error {
	if err, ok := f.Panic.(error); ok {
		return err
	}
	return nil
}

// ErrorHook receives every callback failure. It runs on the worker goroutine
// after the callback and must not block for long.
type ErrorHook func(CallbackFailure)
