// Package ledger records deferred cancel and interval-change intents that the
// worker pool applies the next time a task instance is popped.
package ledger

import (
	"sync"
	"time"

	"periodic/internal/task"
)

// Resolution is what a worker learns about a popped uid.
type Resolution struct {
	Cancelled bool

	// Interval is the pending replacement interval; valid only if HasInterval.
	Interval    time.Duration
	HasInterval bool
}

// Ledger holds one-shot intents keyed by uid. Every read and write goes
// through mu; it is never held together with the queue lock.
//
// A uid whose cancellation has been resolved is retired: its instance is gone
// from the queue, so later intents for it would never be read and are dropped.
type Ledger struct {
	mu        sync.Mutex
	cancelled map[task.Uid]struct{}
	pending   map[task.Uid]time.Duration
	retired   map[task.Uid]struct{}
}

func New() *Ledger {
	return &Ledger{
		cancelled: make(map[task.Uid]struct{}),
		pending:   make(map[task.Uid]time.Duration),
		retired:   make(map[task.Uid]struct{}),
	}
}

// Cancel marks uid as cancelled. Idempotent; retired uids are ignored.
func (l *Ledger) Cancel(uid task.Uid) {
	l.mu.Lock()
	if _, gone := l.retired[uid]; !gone {
		l.cancelled[uid] = struct{}{}
	}
	l.mu.Unlock()
}

// UpdateInterval records d as the next interval for uid, replacing any
// earlier pending value. Retired uids are ignored. Callers validate d.
func (l *Ledger) UpdateInterval(uid task.Uid, d time.Duration) {
	l.mu.Lock()
	if _, gone := l.retired[uid]; !gone {
		l.pending[uid] = d
	}
	l.mu.Unlock()
}

// Resolve reads and clears both intents for uid in one critical section. A
// cancelled result retires uid.
func (l *Ledger) Resolve(uid task.Uid) Resolution {
	l.mu.Lock()
	defer l.mu.Unlock()

	var r Resolution
	if _, ok := l.cancelled[uid]; ok {
		r.Cancelled = true
		delete(l.cancelled, uid)
		l.retired[uid] = struct{}{}
	}
	if d, ok := l.pending[uid]; ok {
		r.Interval = d
		r.HasInterval = true
		delete(l.pending, uid)
	}
	return r
}

// Len reports outstanding cancel and interval intents.
func (l *Ledger) Len() (cancelled, intervals int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cancelled), len(l.pending)
}

// Retired reports whether uid was dropped by a resolved cancellation.
func (l *Ledger) Retired(uid task.Uid) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.retired[uid]
	return ok
}
