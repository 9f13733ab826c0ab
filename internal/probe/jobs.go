package probe

import (
	"sort"
	"sync"
)

// TaskStats is one row of JobSet.Stats.
type TaskStats struct {
	Task   string `json:"task"`
	Probe  string `json:"probe"`
	Metric string `json:"metric"`
	JobStats
}

// JobSet tracks the live job of each named task. Safe for concurrent use.
type JobSet struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewJobSet() *JobSet {
	return &JobSet{jobs: make(map[string]*Job)}
}

// Put records j as the job of task, replacing any earlier one.
func (s *JobSet) Put(task string, j *Job) {
	if j == nil {
		return
	}
	s.mu.Lock()
	s.jobs[task] = j
	s.mu.Unlock()
}

func (s *JobSet) Remove(task string) {
	s.mu.Lock()
	delete(s.jobs, task)
	s.mu.Unlock()
}

// Stats returns a row per tracked task, ordered by task name.
func (s *JobSet) Stats() []TaskStats {
	s.mu.Lock()
	out := make([]TaskStats, 0, len(s.jobs))
	for name, j := range s.jobs {
		out = append(out, TaskStats{
			Task:     name,
			Probe:    j.probe.Name(),
			Metric:   j.probe.Metric(),
			JobStats: j.Stats(),
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].Task < out[k].Task })
	return out
}
