// Package queue implements the due-time ordered task queue drained by the
// worker pool.
package queue

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
	"time"

	"periodic/internal/task"
)

// Queue is a thread-safe min-heap of task instances keyed by due time.
//
// Ties on due time are broken by uid, then by push order, so listing and
// popping are deterministic under a fake clock.
//
// At most one instance of a uid may be queued at a time; pushing a second one
// is a programming error and panics.
type Queue struct {
	mu   sync.Mutex
	h    entryHeap
	live map[task.Uid]struct{}
	seq  uint64

	// wake carries at most one pending wakeup. Push and a successful pop that
	// leaves work behind both signal it so exactly one waiter reacts.
	wake chan struct{}
}

func New() *Queue {
	return &Queue{
		live: make(map[task.Uid]struct{}),
		wake: make(chan struct{}, 1),
	}
}

// Push inserts t and wakes one blocked consumer.
func (q *Queue) Push(t task.Task) {
	q.mu.Lock()
	if _, dup := q.live[t.UID]; dup {
		q.mu.Unlock()
		panic(fmt.Sprintf("queue: uid %d already queued", t.UID))
	}
	q.seq++
	heap.Push(&q.h, entry{t: t, seq: q.seq})
	q.live[t.UID] = struct{}{}
	q.mu.Unlock()
	q.signal()
}

// PopIfDue removes and returns the earliest task if it is due at now.
// The queue is left untouched otherwise.
func (q *Queue) PopIfDue(now time.Time) (task.Task, bool) {
	q.mu.Lock()
	if len(q.h) == 0 || q.h[0].t.Due.After(now) {
		q.mu.Unlock()
		return task.Task{}, false
	}
	e := heap.Pop(&q.h).(entry)
	delete(q.live, e.t.UID)
	more := len(q.h) > 0
	q.mu.Unlock()

	// Pass the baton: another waiter may need to look at the new head.
	if more {
		q.signal()
	}
	return e.t, true
}

// EarliestDueTime peeks at the head without popping.
func (q *Queue) EarliestDueTime() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].t.Due, true
}

// Snapshot returns a due-ordered copy of the queued tasks.
// Only the copy happens under the lock; sorting happens outside it.
func (q *Queue) Snapshot() []task.Task {
	q.mu.Lock()
	cp := make([]entry, len(q.h))
	copy(cp, q.h)
	q.mu.Unlock()

	sort.Slice(cp, func(i, j int) bool { return cp[i].less(cp[j]) })
	out := make([]task.Task, len(cp))
	for i, e := range cp {
		out[i] = e.t
	}
	return out
}

// Contains reports whether an instance of uid is currently queued.
func (q *Queue) Contains(uid task.Uid) bool {
	q.mu.Lock()
	_, ok := q.live[uid]
	q.mu.Unlock()
	return ok
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Wake is signalled whenever the head of the queue may have changed.
// Receivers must re-check the queue; the signal carries no payload.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

type entry struct {
	t   task.Task
	seq uint64
}

func (e entry) less(o entry) bool {
	if !e.t.Due.Equal(o.t.Due) {
		return e.t.Due.Before(o.t.Due)
	}
	if e.t.UID != o.t.UID {
		return e.t.UID < o.t.UID
	}
	return e.seq < o.seq
}

type entryHeap []entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{} // drop the callback reference
	*h = old[:n-1]
	return e
}
