package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"periodic/internal/clock"
	"periodic/internal/eventbus"
	"periodic/internal/task"
	"periodic/internal/task/ledger"
	"periodic/internal/task/queue"
	logx "periodic/pkg/logx"
)

var epoch = time.Unix(1_700_000_000, 0)

type harness struct {
	clk *clock.Fake
	q   *queue.Queue
	l   *ledger.Ledger
	eng *Service
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{clk: clock.NewFake(epoch), q: queue.New(), l: ledger.New()}
	opts = append([]Option{WithClock(h.clk)}, opts...)
	h.eng = New(Config{}, h.q, h.l, logx.Nop(), opts...)
	t.Cleanup(func() {
		if h.eng.Running() {
			_ = h.eng.Stop(context.Background())
		}
	})
	return h
}

func (h *harness) push(uid task.Uid, name string, dueIn, every time.Duration, fn task.Func) {
	h.q.Push(task.Task{UID: uid, Name: name, Run: fn, Due: epoch.Add(dueIn), Interval: every})
}

func TestWorkersPopInDueOrder(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var order []string
	rec := func(name string) task.Func {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	h.push(3, "c", 3*time.Second, time.Hour, rec("c"))
	h.push(1, "a", 1*time.Second, time.Hour, rec("a"))
	h.push(5, "e", 5*time.Second, time.Hour, rec("e"))
	h.push(2, "b", 2*time.Second, time.Hour, rec("b"))
	h.push(4, "d", 4*time.Second, time.Hour, rec("d"))

	require.NoError(t, h.eng.Start(context.Background(), 1))
	h.clk.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, order)
	mu.Unlock()
}

func TestNothingRunsBeforeDue(t *testing.T) {
	h := newHarness(t)
	var runs atomic.Int32
	h.push(1, "a", 5*time.Second, time.Second, func() { runs.Add(1) })

	require.NoError(t, h.eng.Start(context.Background(), 2))
	require.Eventually(t, func() bool { return h.clk.Waiters() > 0 }, time.Second, time.Millisecond)
	h.clk.Advance(4 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, runs.Load())

	h.clk.Advance(time.Second)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
}

func TestCancelledTaskIsDropped(t *testing.T) {
	h := newHarness(t)
	var runs atomic.Int32
	h.push(1, "a", time.Second, time.Second, func() { runs.Add(1) })
	h.l.Cancel(1)

	require.NoError(t, h.eng.Start(context.Background(), 1))
	h.clk.Advance(time.Second)

	require.Eventually(t, func() bool { return h.eng.Snapshot().Cancelled == 1 }, time.Second, time.Millisecond)
	require.Zero(t, runs.Load())
	require.Zero(t, h.q.Len())
	c, _ := h.l.Len()
	require.Zero(t, c, "cancel intent must be consumed")
}

func TestIntervalUpdateAppliesToSuccessor(t *testing.T) {
	h := newHarness(t)
	h.push(1, "a", 0, 5*time.Second, func() {})
	h.l.UpdateInterval(1, 20*time.Second)

	require.NoError(t, h.eng.Start(context.Background(), 1))
	require.Eventually(t, func() bool { return h.eng.Snapshot().Rescheduled == 1 }, time.Second, time.Millisecond)

	snap := h.q.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, 20*time.Second, snap[0].Interval)
	require.Equal(t, epoch.Add(20*time.Second), snap[0].Due)
}

func TestCallbackPanicIsReportedAndRescheduled(t *testing.T) {
	failures := make(chan CallbackFailure, 4)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	h := newHarness(t, WithErrorHook(func(f CallbackFailure) { failures <- f }), WithBus(bus))
	boom := errors.New("boom")
	h.push(7, "flaky", 0, 3*time.Second, func() { panic(boom) })

	require.NoError(t, h.eng.Start(context.Background(), 1))

	select {
	case f := <-failures:
		require.Equal(t, task.Uid(7), f.UID)
		require.Equal(t, "flaky", f.Name)
		require.ErrorIs(t, f, boom)
		require.NotEmpty(t, f.Stack)
	case <-time.After(2 * time.Second):
		t.Fatal("error hook not called")
	}

	require.Eventually(t, func() bool { return h.q.Len() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, epoch.Add(3*time.Second), h.q.Snapshot()[0].Due)

	select {
	case ev := <-events:
		require.Equal(t, eventbus.TaskFailed, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no task.failed event")
	}

	// The worker survived: the next firing still happens.
	h.clk.Advance(3 * time.Second)
	select {
	case <-failures:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
	snap := h.eng.Snapshot()
	require.GreaterOrEqual(t, snap.Failed, uint64(2))
	require.NoError(t, h.eng.Err())
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.eng.Stop(context.Background()), ErrNotStarted)

	require.NoError(t, h.eng.Start(context.Background(), 0))
	require.ErrorIs(t, h.eng.Start(context.Background(), 3), ErrAlreadyStarted)
	require.Equal(t, 1, h.eng.Snapshot().Workers)

	require.NoError(t, h.eng.Stop(context.Background()))
	require.False(t, h.eng.Running())

	// Restart is allowed after a clean stop.
	require.NoError(t, h.eng.Start(context.Background(), 4))
	require.Equal(t, 4, h.eng.Snapshot().Workers)
}

func TestStopWaitsForInFlightCallback(t *testing.T) {
	q, l := queue.New(), ledger.New()
	eng := New(Config{}, q, l, logx.Nop())

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	q.Push(task.Task{UID: 1, Name: "slow", Due: time.Now(), Interval: 10 * time.Millisecond, Run: func() {
		if runs.Add(1) == 1 {
			close(started)
			<-release
		}
	}})

	require.NoError(t, eng.Start(context.Background(), 2))
	<-started

	stopped := make(chan struct{})
	go func() {
		_ = eng.Stop(context.Background())
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after callback finished")
	}

	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, runs.Load(), "callback ran after Stop returned")
	require.Equal(t, 1, q.Len(), "successor must stay queued for a later Start")
}

func TestEmptyQueueWorkersWakeOnPush(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.eng.Start(context.Background(), 3))

	var runs atomic.Int32
	for i := 1; i <= 3; i++ {
		h.push(task.Uid(i), "x", 0, time.Hour, func() { runs.Add(1) })
	}
	require.Eventually(t, func() bool { return runs.Load() == 3 }, 2*time.Second, time.Millisecond)
}

func TestLogHookThrottlesPerName(t *testing.T) {
	var buf bytes.Buffer
	h := newLogHook(logx.NewJSON(&buf, "debug"), time.Hour)

	for i := 0; i < 3; i++ {
		h.report(CallbackFailure{UID: 1, Name: "noisy", Panic: "x"})
	}
	h.report(CallbackFailure{UID: 2, Name: "other", Panic: "y"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, uint64(2), h.suppressed["noisy"])
}
