package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"periodic/internal/clock"
	"periodic/internal/probe"
	"periodic/internal/storage"
	"periodic/internal/task/scheduler"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type stubStore []storage.Aggregate

func (s stubStore) Aggregates(context.Context) ([]storage.Aggregate, error) { return s, nil }

func newConsole(t *testing.T, store func() Aggregator) (*Console, *scheduler.Scheduler) {
	t.Helper()
	s := scheduler.New(scheduler.WithClock(clock.NewFake(t0)))
	c := New(Config{
		Sched:  s,
		Store:  store,
		NewJob: func(probe.Probe) scheduler.Func { return func() {} },
	})
	return c, s
}

func exec(t *testing.T, c *Console, line string) string {
	t.Helper()
	var out bytes.Buffer
	require.False(t, c.Exec(context.Background(), line, &out))
	return out.String()
}

func TestAddListCancelUpdate(t *testing.T) {
	c, s := newConsole(t, nil)

	require.Contains(t, exec(t, c, "list"), "no tasks scheduled")

	out := exec(t, c, "add physical_mem 5s")
	require.Contains(t, out, `scheduled "physical_mem" as uid 1 every 5s`)
	out = exec(t, c, `add virtual_mem 00:01 "swap watch"`)
	require.Contains(t, out, `"swap watch" as uid 2 every 1m0s`)

	ti, ok := s.Lookup(1)
	require.True(t, ok)
	require.Equal(t, t0.Add(5*time.Second), ti.NextDue)

	out = exec(t, c, "list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	require.Regexp(t, `^\| UID \| Task Name\s+\| Interval \| Next Due\s+\|$`, lines[1])
	require.Contains(t, lines[3], "| 1   | physical_mem ")
	require.Contains(t, lines[3], "12:00:05 (5 seconds from now)")
	require.Contains(t, lines[4], "swap watch")
	require.True(t, strings.HasPrefix(lines[0], "+-----+"))

	require.Contains(t, exec(t, c, `update 1 "@every 10s"`), "uid 1 will run every 10s")
	require.Contains(t, exec(t, c, "cancel 2"), "uid 2 will be cancelled")
	snap := s.Snapshot()
	require.Equal(t, 1, snap.PendingCancels)
	require.Equal(t, 1, snap.PendingIntervals)

	require.Contains(t, exec(t, c, "cancel 42"), "not queued")
}

func TestErrorsArePrinted(t *testing.T) {
	c, _ := newConsole(t, nil)

	for _, tc := range []struct{ line, want string }{
		{"frobnicate", "unknown command"},
		{"add", "usage: add"},
		{"add nosuch 5s", `unknown probe "nosuch"`},
		{"add physical_mem 0s", "error:"},
		{"add physical_mem */5 * * * *", "usage: add"},
		{"cancel x", `invalid uid "x"`},
		{"cancel 0", "invalid uid"},
		{"update 1", "usage: update"},
		{"update 1 soon", "error:"},
		{"aggregates", storage.ErrDisabled.Error()},
	} {
		require.Contains(t, exec(t, c, tc.line), tc.want, tc.line)
	}
}

func TestAggregatesTable(t *testing.T) {
	store := stubStore{{
		Category:  storage.MetricPhysicalMem,
		Average:   2 << 30,
		Minimum:   1 << 30,
		Maximum:   3 << 30,
		Count:     1200,
		UpdatedAt: time.Now(),
	}}
	c, _ := newConsole(t, func() Aggregator { return store })
	out := exec(t, c, "agg")
	require.Contains(t, out, "| Category ")
	require.Contains(t, out, "2.0 GiB")
	require.Contains(t, out, "1,200")

	c, _ = newConsole(t, func() Aggregator { return stubStore{} })
	require.Contains(t, exec(t, c, "aggregates"), "no samples recorded yet")
}

func TestJobsTable(t *testing.T) {
	c, _ := newConsole(t, nil)
	require.Contains(t, exec(t, c, "jobs"), "job stats are not available")

	var rows []probe.TaskStats
	c = New(Config{
		Sched: scheduler.New(scheduler.WithClock(clock.NewFake(t0))),
		Jobs:  func() []probe.TaskStats { return rows },
	})
	require.Contains(t, exec(t, c, "jobs"), "no configured tasks")

	rows = []probe.TaskStats{
		{Task: "ram", Probe: "physical_mem", Metric: storage.MetricPhysicalMem, JobStats: probe.JobStats{Runs: 1500, Errors: 2, Last: 1 << 30}},
		{Task: "net", Probe: "speedtest", Metric: storage.MetricSpeedtestDownload, JobStats: probe.JobStats{Runs: 3, Errors: 3}},
	}
	out := exec(t, c, "jobs")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	require.Regexp(t, `^\| Task Name \| Probe\s+\| Runs\s+\| Errors \| Last Sample \|$`, lines[1])
	require.Contains(t, lines[3], "| ram ")
	require.Contains(t, lines[3], "1,500")
	require.Contains(t, lines[3], "1.0 GiB")
	require.Regexp(t, `\| -\s+\|$`, lines[4], "no successful sample yet")
}

func TestRunLoop(t *testing.T) {
	c, s := newConsole(t, nil)
	in := strings.NewReader("help\nadd physical_mem 5s\n\nquit\nadd virtual_mem 5s\n")
	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), in, &out))
	require.Contains(t, out.String(), "commands:")
	require.Len(t, s.ListTasks(), 1, "input after quit is ignored")

	// EOF ends the loop too.
	require.NoError(t, c.Run(context.Background(), strings.NewReader("list\n"), &out))
}

func TestRunStopsOnContext(t *testing.T) {
	c, _ := newConsole(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pr, pw := io.Pipe()
	defer pw.Close()
	err := c.Run(ctx, pr, &bytes.Buffer{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	require.Nil(t, tokenize("   "))
	require.Equal(t, []string{"add", "physical_mem", "5s", "my task"}, tokenize(`add physical_mem 5s "my task"`))
	require.Equal(t, []string{"update", "3", "@every 5s"}, tokenize(`update 3 '@every 5s'`))
}
