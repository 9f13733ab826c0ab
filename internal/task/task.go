// Package task defines the periodic task value shared by the due queue,
// the mutation ledger and the worker pool.
package task

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var ErrInvalidInterval = errors.New("interval must be > 0")

// Uid identifies a task for its whole life, across reschedules.
type Uid uint64

// Func is the opaque action a task runs on every firing.
type Func func()

// Task is one queued instance of a periodic task.
//
// Instances are values: rescheduling produces a new Task with the same UID and
// Name, never mutates a queued one.
type Task struct {
	UID      Uid
	Name     string
	Run      Func
	Due      time.Time
	Interval time.Duration
}

// Next returns the successor instance due interval after completed.
func (t Task) Next(completed time.Time, interval time.Duration) Task {
	return Task{
		UID:      t.UID,
		Name:     t.Name,
		Run:      t.Run,
		Due:      completed.Add(interval),
		Interval: interval,
	}
}

// ValidateInterval rejects non-positive repeat intervals.
func ValidateInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w (got %s)", ErrInvalidInterval, d)
	}
	return nil
}

// Allocator hands out strictly increasing uids starting at 1.
// The zero value is ready to use. Overflow is not handled.
type Allocator struct {
	last atomic.Uint64
}

func (a *Allocator) Next() Uid { return Uid(a.last.Add(1)) }

// Last returns the most recently issued uid (0 if none).
func (a *Allocator) Last() Uid { return Uid(a.last.Load()) }
