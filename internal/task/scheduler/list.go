package scheduler

import "time"

// TaskInfo is one row of ListTasks.
type TaskInfo struct {
	UID      Uid           `json:"uid"`
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	NextDue  time.Time     `json:"next_due"`
}

// ListTasks returns the queued tasks ordered by next due time (ties by uid).
// Tasks whose cancellation has not been consumed yet are still listed; a task
// currently executing is absent until its successor is queued.
func (s *Scheduler) ListTasks() []TaskInfo {
	snap := s.queue.Snapshot()
	out := make([]TaskInfo, 0, len(snap))
	for _, t := range snap {
		out = append(out, TaskInfo{UID: t.UID, Name: t.Name, Interval: t.Interval, NextDue: t.Due})
	}
	return out
}

// Lookup returns the queued entry for uid.
func (s *Scheduler) Lookup(uid Uid) (TaskInfo, bool) {
	for _, ti := range s.ListTasks() {
		if ti.UID == uid {
			return ti, true
		}
	}
	return TaskInfo{}, false
}
