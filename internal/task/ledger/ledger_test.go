package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"periodic/internal/task"
)

func TestResolveConsumesOnce(t *testing.T) {
	t.Parallel()
	l := New()
	l.Cancel(1)
	l.UpdateInterval(1, 3*time.Second)

	r := l.Resolve(1)
	require.True(t, r.Cancelled)
	require.True(t, r.HasInterval)
	require.Equal(t, 3*time.Second, r.Interval)

	require.Equal(t, Resolution{}, l.Resolve(1), "entries must be one-shot")
	c, i := l.Len()
	require.Zero(t, c)
	require.Zero(t, i)
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	l := New()
	l.Cancel(4)
	l.Cancel(4)
	c, _ := l.Len()
	require.Equal(t, 1, c)
	require.True(t, l.Resolve(4).Cancelled)
	require.False(t, l.Resolve(4).Cancelled)
}

func TestUpdateIntervalOverwrites(t *testing.T) {
	t.Parallel()
	l := New()
	l.UpdateInterval(2, time.Second)
	l.UpdateInterval(2, 7*time.Second)
	r := l.Resolve(2)
	require.False(t, r.Cancelled)
	require.Equal(t, 7*time.Second, r.Interval)
}

func TestResolveUnknownUID(t *testing.T) {
	t.Parallel()
	l := New()
	l.Cancel(1)
	require.Equal(t, Resolution{}, l.Resolve(2))
	c, _ := l.Len()
	require.Equal(t, 1, c, "resolving another uid must not touch uid 1")
}

func TestResolvedCancelRetiresUID(t *testing.T) {
	t.Parallel()
	l := New()
	l.Cancel(9)
	l.UpdateInterval(10, time.Second)
	require.False(t, l.Retired(9))
	require.True(t, l.Resolve(9).Cancelled)
	require.True(t, l.Retired(9))

	for i := 0; i < 1000; i++ {
		l.Cancel(9)
		l.UpdateInterval(9, time.Duration(i+1)*time.Second)
	}
	c, iv := l.Len()
	require.Zero(t, c)
	require.Equal(t, 1, iv, "only uid 10 still has an intent")
	require.Equal(t, Resolution{}, l.Resolve(9))

	// An interval-only resolution does not retire.
	require.True(t, l.Resolve(10).HasInterval)
	require.False(t, l.Retired(10))
	l.Cancel(10)
	c, _ = l.Len()
	require.Equal(t, 1, c)
}

func TestConcurrentWritesAndResolves(t *testing.T) {
	t.Parallel()
	l := New()
	const n = 500

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		uid := task.Uid(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Cancel(uid)
			l.UpdateInterval(uid, time.Duration(uid)*time.Millisecond)
		}()
	}
	wg.Wait()

	for i := 1; i <= n; i++ {
		r := l.Resolve(task.Uid(i))
		require.True(t, r.Cancelled)
		require.Equal(t, time.Duration(i)*time.Millisecond, r.Interval)
	}
	c, iv := l.Len()
	require.Zero(t, c)
	require.Zero(t, iv)
}
