package engine

import (
	"time"

	rtsup "periodic/internal/runtime/supervisor"
	"periodic/internal/task"
)

// Config controls the worker pool.
type Config struct {
	HistorySize int

	// FailureLogEvery bounds how often the default error hook logs failures
	// of the same task name. 0 means 5s.
	FailureLogEvery time.Duration
}

// HistoryItem records one pop of a task instance.
type HistoryItem struct {
	UID       task.Uid      `json:"uid"`
	Name      string        `json:"name"`
	Due       time.Time     `json:"due"`
	Started   time.Time     `json:"started"`
	Lateness  time.Duration `json:"lateness"`
	Duration  time.Duration `json:"duration"`
	Interval  time.Duration `json:"interval"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// TaskEvent is the payload of task.* events on the bus.
type TaskEvent struct {
	UID      task.Uid      `json:"uid"`
	Name     string        `json:"name"`
	Due      time.Time     `json:"due"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	NextDue  time.Time     `json:"next_due,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Running  bool `json:"running"`
	Workers  int  `json:"workers"`
	InFlight int  `json:"in_flight"`
	QueueLen int  `json:"queue_len"`

	Fired       uint64 `json:"fired"`
	Failed      uint64 `json:"failed"`
	Cancelled   uint64 `json:"cancelled"`
	Rescheduled uint64 `json:"rescheduled"`

	PendingCancels   int `json:"pending_cancels"`
	PendingIntervals int `json:"pending_intervals"`

	Supervisor rtsup.Snapshot `json:"supervisor"`
	History    []HistoryItem  `json:"history,omitempty"`
}
