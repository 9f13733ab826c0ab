package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"periodic/internal/clock"
	"periodic/internal/probe"
	"periodic/internal/storage"
	"periodic/internal/task/scheduler"
	logx "periodic/pkg/logx"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeAgg struct {
	aggs []storage.Aggregate
	err  error
}

func (f fakeAgg) Aggregates(context.Context) ([]storage.Aggregate, error) { return f.aggs, f.err }

type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
}

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	return scheduler.New(scheduler.WithClock(clock.NewFake(t0)))
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.NotEmpty(t, env.RequestID)
	return w.Code, env
}

func TestListTasks(t *testing.T) {
	s := newTestScheduler(t)
	_, err := s.SchedulePeriodic("ram", func() {}, t0.Add(5*time.Second), 5*time.Second)
	require.NoError(t, err)
	_, err = s.SchedulePeriodic("swap", func() {}, t0.Add(time.Second), time.Minute)
	require.NoError(t, err)

	h := NewHandler(s, nil, false, logx.Nop())
	code, env := do(t, h, http.MethodGet, "/tasks", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", env.Status)

	var rows []TaskView
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 2)
	require.Equal(t, "swap", rows[0].Name)
	require.Equal(t, "1m0s", rows[0].Interval)
	require.Equal(t, "ram", rows[1].Name)
	require.Contains(t, rows[1].DueIn, "from now")
}

func TestMutations(t *testing.T) {
	s := newTestScheduler(t)
	uid, err := s.SchedulePeriodic("ram", func() {}, t0, 5*time.Second)
	require.NoError(t, err)
	h := NewHandler(s, nil, false, logx.Nop())

	code, _ := do(t, h, http.MethodPut, "/tasks/1/interval", `{"interval":"10s"}`)
	require.Equal(t, http.StatusAccepted, code)
	code, _ = do(t, h, http.MethodPost, "/tasks/1/cancel", "")
	require.Equal(t, http.StatusAccepted, code)

	snap := s.Snapshot()
	require.Equal(t, 1, snap.PendingCancels)
	require.Equal(t, 1, snap.PendingIntervals)
	_, ok := s.Lookup(uid)
	require.True(t, ok, "mutations are deferred until the next pop")

	code, env := do(t, h, http.MethodPost, "/tasks/abc/cancel", "")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "error", env.Status)

	code, _ = do(t, h, http.MethodPut, "/tasks/1/interval", `{"interval":"0s"}`)
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, h, http.MethodPut, "/tasks/1/interval", `{"every":"5s"}`)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestSnapshot(t *testing.T) {
	s := newTestScheduler(t)
	h := NewHandler(s, nil, false, logx.Nop())
	code, env := do(t, h, http.MethodGet, "/snapshot", "")
	require.Equal(t, http.StatusOK, code)

	var snap struct {
		Running  bool `json:"running"`
		QueueLen int  `json:"queue_len"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	require.False(t, snap.Running)
}

func TestAggregates(t *testing.T) {
	s := newTestScheduler(t)

	h := NewHandler(s, nil, false, logx.Nop())
	code, env := do(t, h, http.MethodGet, "/aggregates", "")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, storage.ErrDisabled.Error(), env.Error)

	want := []storage.Aggregate{{Category: storage.MetricPhysicalMem, Average: 2, Minimum: 1, Maximum: 3, Count: 3}}
	h = NewHandler(s, func() Aggregator { return fakeAgg{aggs: want} }, false, logx.Nop())
	code, env = do(t, h, http.MethodGet, "/aggregates", "")
	require.Equal(t, http.StatusOK, code)
	var got []storage.Aggregate
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, want[0].Category, got[0].Category)
	require.Equal(t, int64(3), got[0].Count)

	h = NewHandler(s, func() Aggregator { return fakeAgg{err: errors.New("db locked")} }, false, logx.Nop())
	code, env = do(t, h, http.MethodGet, "/aggregates", "")
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "db locked", env.Error)
}

func TestJobsRoute(t *testing.T) {
	s := newTestScheduler(t)

	w := httptest.NewRecorder()
	NewHandler(s, nil, false, logx.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	want := []probe.TaskStats{{
		Task:     "ram",
		Probe:    "physical_mem",
		Metric:   storage.MetricPhysicalMem,
		JobStats: probe.JobStats{Runs: 4, Errors: 1, Last: 2048},
	}}
	h := NewHandler(s, nil, false, logx.Nop(), WithJobs(func() []probe.TaskStats { return want }))
	code, env := do(t, h, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, code)
	var got []probe.TaskStats
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, want, got)

	h = NewHandler(s, nil, false, logx.Nop(), WithJobs(func() []probe.TaskStats { return nil }))
	code, env = do(t, h, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `[]`, string(env.Data))
}

func TestPprofRoutesAreOptional(t *testing.T) {
	s := newTestScheduler(t)

	w := httptest.NewRecorder()
	NewHandler(s, nil, false, logx.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	NewHandler(s, nil, true, logx.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestServerLifecycle(t *testing.T) {
	s := newTestScheduler(t)
	build := func(p bool) http.Handler { return NewHandler(s, nil, p, logx.Nop()) }

	srv := NewServer(Config{Enabled: false, Addr: "127.0.0.1:0"}, build, logx.Nop())
	require.NoError(t, srv.Start(context.Background()))
	require.Empty(t, srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true}))
	require.NotEmpty(t, srv.Addr())

	require.NoError(t, srv.Reconfigure(ctx, Config{Enabled: false}))
	require.Empty(t, srv.Addr())
	_, err = http.Get("http://" + addr + "/healthz")
	require.Error(t, err)
}
