package probe

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"periodic/internal/storage"
	logx "periodic/pkg/logx"
)

func TestLookupBuiltins(t *testing.T) {
	require.Equal(t, []string{"physical_mem", "speedtest", "virtual_mem"}, Names())
	for _, n := range Names() {
		p, ok := Lookup(n)
		require.True(t, ok)
		require.Equal(t, n, p.Name())
		require.True(t, storage.KnownMetric(p.Metric()), p.Metric())
	}
	_, ok := Lookup("cpu")
	require.False(t, ok)
}

func TestMemoryProbes(t *testing.T) {
	if runtime.GOOS != "linux" {
		p, _ := Lookup("physical_mem")
		_, err := p.Sample(context.Background())
		require.ErrorIs(t, err, ErrUnsupported)
		return
	}
	for _, n := range []string{"physical_mem", "virtual_mem"} {
		p, _ := Lookup(n)
		v, err := p.Sample(context.Background())
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, 0.0)
	}
	p, _ := Lookup("physical_mem")
	v, _ := p.Sample(context.Background())
	require.Greater(t, v, 0.0)
}

func TestFormat(t *testing.T) {
	require.Equal(t, "1.0 KiB", Format(storage.MetricPhysicalMem, 1024))
	require.Equal(t, "0 B", Format(storage.MetricVirtualMem, -3))
	require.Equal(t, "93.50 Mbps", Format(storage.MetricSpeedtestDownload, 93.5))
}

func TestJobRecordsSamples(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	vals := []float64{100, 300}
	i := 0
	p := New("fake", storage.MetricPhysicalMem, func(context.Context) (float64, error) {
		v := vals[i%len(vals)]
		i++
		return v, nil
	})

	j := NewJob(context.Background(), p, st, time.Second, logx.Nop())
	j.Func()()
	j.Func()()

	stats := j.Stats()
	require.Equal(t, uint64(2), stats.Runs)
	require.Zero(t, stats.Errors)
	require.Equal(t, 300.0, stats.Last)

	aggs, err := st.Aggregates(context.Background())
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	require.InDelta(t, 200, aggs[0].Average, 1e-9)
}

func TestJobCountsErrorsWithoutPanicking(t *testing.T) {
	p := New("broken", storage.MetricVirtualMem, func(context.Context) (float64, error) {
		return 0, errors.New("no data")
	})
	j := NewJob(context.Background(), p, nil, time.Second, logx.Nop())
	require.NotPanics(t, j.Run)
	require.Equal(t, JobStats{Runs: 1, Errors: 1}, j.Stats())

	unknown := New("odd", "cpu", func(context.Context) (float64, error) { return 1, nil })
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	j = NewJob(context.Background(), unknown, st, time.Second, logx.Nop())
	j.Run()
	require.Equal(t, uint64(1), j.Stats().Errors)
}

func TestJobHonoursBaseContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New("slow", storage.MetricPhysicalMem, func(ctx context.Context) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	j := NewJob(ctx, p, nil, time.Hour, logx.Nop())
	j.Run()
	require.Equal(t, uint64(1), j.Stats().Errors)
}

func TestJobSetStats(t *testing.T) {
	set := NewJobSet()
	require.Empty(t, set.Stats())

	ram := NewJob(context.Background(), New("ram", storage.MetricPhysicalMem, func(context.Context) (float64, error) {
		return 42, nil
	}), nil, time.Second, logx.Nop())
	bad := NewJob(context.Background(), New("bad", storage.MetricVirtualMem, func(context.Context) (float64, error) {
		return 0, errors.New("no data")
	}), nil, time.Second, logx.Nop())

	set.Put("z-ram", ram)
	set.Put("a-bad", bad)
	set.Put("ignored", nil)
	ram.Run()
	ram.Run()
	bad.Run()

	rows := set.Stats()
	require.Len(t, rows, 2)
	require.Equal(t, TaskStats{Task: "a-bad", Probe: "bad", Metric: storage.MetricVirtualMem, JobStats: JobStats{Runs: 1, Errors: 1}}, rows[0])
	require.Equal(t, TaskStats{Task: "z-ram", Probe: "ram", Metric: storage.MetricPhysicalMem, JobStats: JobStats{Runs: 2, Last: 42}}, rows[1])

	// A replacement job starts from zero.
	set.Put("z-ram", NewJob(context.Background(), ram.Probe(), nil, time.Second, logx.Nop()))
	set.Remove("a-bad")
	rows = set.Stats()
	require.Len(t, rows, 1)
	require.Zero(t, rows[0].Runs)
}
