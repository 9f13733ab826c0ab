package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"periodic/internal/eventbus"
	"periodic/internal/task"
	logx "periodic/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, idx int) {
	for {
		// A closed stopCh wins over due work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		t, ok := s.queue.PopIfDue(s.clk.Now())
		if !ok {
			if !s.wait(ctx, stopCh) {
				return
			}
			continue
		}
		s.execOne(t, idx)
	}
}

// wait blocks until the queue head may be due, the queue changed, or the pool
// is stopping. With a non-empty queue the wait is bounded by the head's due
// time; with an empty queue only a push or stop wakes it.
func (s *Service) wait(ctx context.Context, stopCh <-chan struct{}) bool {
	var due <-chan time.Time
	if at, ok := s.queue.EarliestDueTime(); ok {
		tm := s.clk.TimerAt(at)
		defer tm.Stop()
		due = tm.C()
	}

	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	case <-s.queue.Wake():
	case <-due:
	}
	return true
}

func (s *Service) execOne(t task.Task, idx int) {
	s.enter(t.UID)

	res := s.ledger.Resolve(t.UID)
	if res.Cancelled {
		s.leave(t.UID)
		now := s.clk.Now()
		atomic.AddUint64(&s.cancelled, 1)
		s.log.Debug("task.cancelled", logx.Uint64("uid", uint64(t.UID)), logx.String("task", t.Name))
		s.record(HistoryItem{UID: t.UID, Name: t.Name, Due: t.Due, Started: now, Interval: t.Interval, Cancelled: true})
		s.publish(eventbus.TaskCancelled, now, TaskEvent{UID: t.UID, Name: t.Name, Due: t.Due, Started: now})
		return
	}

	start := s.clk.Now()
	atomic.AddInt32(&s.inFlightN, 1)
	failure := s.invoke(t)
	atomic.AddInt32(&s.inFlightN, -1)
	done := s.clk.Now()

	interval := t.Interval
	if res.HasInterval {
		interval = res.Interval
	}
	next := t.Next(done, interval)

	// Leave before pushing: once queued, another worker may pop the successor.
	s.leave(t.UID)
	s.queue.Push(next)
	atomic.AddUint64(&s.rescheduled, 1)

	dur := done.Sub(start)
	lateness := start.Sub(t.Due)
	if lateness < 0 {
		lateness = 0
	}
	item := HistoryItem{UID: t.UID, Name: t.Name, Due: t.Due, Started: start, Lateness: lateness, Duration: dur, Interval: interval}
	ev := TaskEvent{UID: t.UID, Name: t.Name, Due: t.Due, Started: start, Duration: dur, NextDue: next.Due}

	if failure != nil {
		failure.At = done
		atomic.AddUint64(&s.failed, 1)
		item.Error = failure.Error()
		ev.Error = item.Error
		s.onError(*failure)
		s.publish(eventbus.TaskFailed, done, ev)
	} else {
		atomic.AddUint64(&s.fired, 1)
		s.log.Debug("task.fired",
			logx.Uint64("uid", uint64(t.UID)),
			logx.String("task", t.Name),
			logx.Int("worker", idx),
			logx.Duration("lateness", lateness),
			logx.Duration("dur", dur),
			logx.Time("next_due", next.Due),
		)
		s.publish(eventbus.TaskFired, done, ev)
	}
	if res.HasInterval {
		s.log.Info("task interval applied", logx.Uint64("uid", uint64(t.UID)), logx.String("task", t.Name), logx.Duration("interval", interval))
	}
	s.record(item)
}

// invoke runs the callback under a recovery boundary so one bad task can't
// kill its worker.
func (s *Service) invoke(t task.Task) (failure *CallbackFailure) {
	defer func() {
		if r := recover(); r != nil {
			failure = &CallbackFailure{UID: t.UID, Name: t.Name, Panic: r, Stack: string(debug.Stack())}
		}
	}()
	t.Run()
	return nil
}

// enter asserts that no other worker holds an instance of uid. The queue keeps
// one instance per uid and workers push successors only after leave, so a
// second holder means the queue invariant broke.
func (s *Service) enter(uid task.Uid) {
	s.imu.Lock()
	defer s.imu.Unlock()
	if _, dup := s.inflight[uid]; dup {
		panic(fmt.Sprintf("engine: uid %d popped while already in flight", uid))
	}
	s.inflight[uid] = struct{}{}
}

func (s *Service) leave(uid task.Uid) {
	s.imu.Lock()
	delete(s.inflight, uid)
	s.imu.Unlock()
}
