package app

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"periodic/internal/config"
	"periodic/internal/probe"
	"periodic/internal/task/scheduler"
	logx "periodic/pkg/logx"
)

// taskScheduler is the part of *scheduler.Scheduler the reconciler drives.
type taskScheduler interface {
	SchedulePeriodic(name string, fn scheduler.Func, firstDue time.Time, interval time.Duration) (scheduler.Uid, error)
	Cancel(uid scheduler.Uid)
	UpdateInterval(uid scheduler.Uid, d time.Duration) error
	Now() time.Time
}

// jobFactory builds the callback for a configured task.
type jobFactory func(spec config.TaskSpec, p probe.Probe) scheduler.Func

// reconciler keeps the configured tasks scheduled across reloads. Tasks are
// keyed by name: new names are scheduled, removed names cancelled, interval
// changes applied in place and any other change replaces the task.
//
// applied holds only what actually took effect, so a step that failed shows
// up in the next diff and is retried.
type reconciler struct {
	mu      sync.Mutex
	sched   taskScheduler
	newJob  jobFactory
	log     logx.Logger
	applied map[string]config.TaskConfig
	uids    map[string]scheduler.Uid

	// dropped, if set, is called with the name of every cancelled task.
	dropped func(name string)
}

func newReconciler(sched taskScheduler, newJob jobFactory, log logx.Logger) *reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &reconciler{
		sched:   sched,
		newJob:  newJob,
		log:     log,
		applied: map[string]config.TaskConfig{},
		uids:    map[string]scheduler.Uid{},
	}
}

// Apply moves the scheduled set to tasks. Every step is attempted; failures
// are joined into the returned error.
func (r *reconciler) Apply(tasks []config.TaskConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := config.DiffTasks(r.appliedTasks(), tasks)
	if d.Empty() {
		return nil
	}

	var errs []error
	for _, name := range d.Removed {
		r.cancel(name)
		delete(r.applied, name)
	}
	for _, ch := range d.Changed {
		if ch.IntervalOnly {
			if err := r.retime(ch.New); err != nil {
				errs = append(errs, err)
				continue
			}
			r.applied[ch.New.Name] = ch.New
			continue
		}
		r.cancel(ch.Old.Name)
		delete(r.applied, ch.Old.Name)
		if err := r.schedule(ch.New); err != nil {
			errs = append(errs, err)
			continue
		}
		r.applied[ch.New.Name] = ch.New
	}
	for _, tc := range d.Added {
		if err := r.schedule(tc); err != nil {
			errs = append(errs, err)
			continue
		}
		r.applied[tc.Name] = tc
	}

	r.log.Info("tasks reconciled",
		logx.Int("added", len(d.Added)),
		logx.Int("removed", len(d.Removed)),
		logx.Int("changed", len(d.Changed)),
		logx.Int("active", len(r.uids)),
	)
	return errors.Join(errs...)
}

func (r *reconciler) appliedTasks() []config.TaskConfig {
	out := make([]config.TaskConfig, 0, len(r.applied))
	for _, tc := range r.applied {
		out = append(out, tc)
	}
	return out
}

// UIDs returns the uid currently scheduled for each configured name.
func (r *reconciler) UIDs() map[string]scheduler.Uid {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]scheduler.Uid, len(r.uids))
	for k, v := range r.uids {
		out[k] = v
	}
	return out
}

// Names lists configured tasks in name order.
func (r *reconciler) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.uids))
	for k := range r.uids {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *reconciler) schedule(tc config.TaskConfig) error {
	spec, err := tc.Spec()
	if err != nil {
		return err
	}
	p, ok := probe.Lookup(spec.Probe)
	if !ok {
		return fmt.Errorf("task %q: unknown probe %q", spec.Name, spec.Probe)
	}
	uid, err := r.sched.SchedulePeriodic(spec.Name, r.newJob(spec, p), r.sched.Now().Add(spec.StartDelay), spec.Interval)
	if err != nil {
		if r.dropped != nil {
			r.dropped(spec.Name)
		}
		return fmt.Errorf("task %q: %w", spec.Name, err)
	}
	r.uids[spec.Name] = uid
	r.log.Info("task scheduled",
		logx.String("task", spec.Name),
		logx.Uint64("uid", uint64(uid)),
		logx.String("probe", spec.Probe),
		logx.Duration("interval", spec.Interval),
	)
	return nil
}

func (r *reconciler) retime(tc config.TaskConfig) error {
	spec, err := tc.Spec()
	if err != nil {
		return err
	}
	uid, ok := r.uids[spec.Name]
	if !ok {
		return r.schedule(tc)
	}
	if err := r.sched.UpdateInterval(uid, spec.Interval); err != nil {
		return fmt.Errorf("task %q: %w", spec.Name, err)
	}
	r.log.Info("task interval updated", logx.String("task", spec.Name), logx.Uint64("uid", uint64(uid)), logx.Duration("interval", spec.Interval))
	return nil
}

func (r *reconciler) cancel(name string) {
	uid, ok := r.uids[name]
	if !ok {
		return
	}
	delete(r.uids, name)
	r.sched.Cancel(uid)
	if r.dropped != nil {
		r.dropped(name)
	}
	r.log.Info("task cancelled", logx.String("task", name), logx.Uint64("uid", uint64(uid)))
}
