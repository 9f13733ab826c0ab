package probe

import (
	"context"
	"sync/atomic"
	"time"

	"periodic/internal/storage"
	"periodic/internal/task"
	logx "periodic/pkg/logx"
)

// Job runs a probe once per firing and records the sample.
//
// Sampling and storage errors are logged and counted; they never panic, so a
// failing probe stays on its schedule.
type Job struct {
	base    context.Context
	probe   Probe
	store   storage.Store
	timeout time.Duration
	log     logx.Logger

	runs   atomic.Uint64
	errors atomic.Uint64
	last   atomic.Value // float64
}

// JobStats counts a job's runs. Last is the most recent successful sample.
type JobStats struct {
	Runs   uint64  `json:"runs"`
	Errors uint64  `json:"errors"`
	Last   float64 `json:"last"`
}

// NewJob binds p to store. A nil store only samples. base bounds every run so
// shutdown can abort a long measurement.
func NewJob(base context.Context, p Probe, store storage.Store, timeout time.Duration, log logx.Logger) *Job {
	if base == nil {
		base = context.Background()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Job{
		base:    base,
		probe:   p,
		store:   store,
		timeout: timeout,
		log:     log.With(logx.String("probe", p.Name())),
	}
}

// Func returns the job as a scheduler callback.
func (j *Job) Func() task.Func { return j.Run }

func (j *Job) Run() {
	j.runs.Add(1)
	ctx, cancel := context.WithTimeout(j.base, j.timeout)
	defer cancel()

	metric := j.probe.Metric()
	v, err := j.probe.Sample(ctx)
	if err != nil {
		j.errors.Add(1)
		j.log.Warn("probe sample failed", logx.Err(err))
		return
	}
	j.last.Store(v)

	if j.store == nil {
		j.log.Debug("probe sampled", logx.String("value", Format(metric, v)))
		return
	}
	agg, err := j.store.RecordSample(ctx, metric, v)
	if err != nil {
		j.errors.Add(1)
		j.log.Warn("sample not recorded", logx.String("metric", metric), logx.Err(err))
		return
	}
	j.log.Debug("probe sampled",
		logx.String("value", Format(metric, v)),
		logx.String("avg", Format(metric, agg.Average)),
		logx.Int64("count", agg.Count),
	)
}

// Probe returns the probe the job samples.
func (j *Job) Probe() Probe { return j.probe }

func (j *Job) Stats() JobStats {
	s := JobStats{Runs: j.runs.Load(), Errors: j.errors.Load()}
	if v, ok := j.last.Load().(float64); ok {
		s.Last = v
	}
	return s
}
