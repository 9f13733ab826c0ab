// Package status serves a small JSON view of the scheduler over HTTP and
// accepts the same deferred mutations the console does.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"periodic/internal/probe"
	"periodic/internal/storage"
	"periodic/internal/task/scheduler"
	logx "periodic/pkg/logx"
)

// Scheduler is the part of *scheduler.Scheduler the handlers use.
type Scheduler interface {
	ListTasks() []scheduler.TaskInfo
	Snapshot() scheduler.Snapshot
	Cancel(uid scheduler.Uid)
	UpdateInterval(uid scheduler.Uid, d time.Duration) error
	Now() time.Time
}

// Aggregator lists stored aggregates; storage.Store satisfies it.
type Aggregator interface {
	Aggregates(ctx context.Context) ([]storage.Aggregate, error)
}

type handlers struct {
	sched Scheduler
	store func() Aggregator
	jobs  func() []probe.TaskStats
	log   logx.Logger
}

type HandlerOption func(*handlers)

// WithJobs serves per-task run counters at GET /jobs.
func WithJobs(fn func() []probe.TaskStats) HandlerOption {
	return func(h *handlers) { h.jobs = fn }
}

// TaskView is one row of GET /tasks.
type TaskView struct {
	UID      scheduler.Uid `json:"uid"`
	Name     string        `json:"name"`
	Interval string        `json:"interval"`
	NextDue  time.Time     `json:"next_due"`
	DueIn    string        `json:"due_in"`
}

type intervalRequest struct {
	Interval string `json:"interval"`
}

// NewHandler builds the router. store is consulted per request so a storage
// reload is picked up; it may return nil when storage is disabled.
func NewHandler(sched Scheduler, store func() Aggregator, withPprof bool, log logx.Logger, opts ...HandlerOption) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if store == nil {
		store = func() Aggregator { return nil }
	}
	h := &handlers{sched: sched, store: store, log: log}
	for _, o := range opts {
		o(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(withRequestID)
	r.Use(withAccessLog(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/snapshot", h.snapshot)
	r.Get("/aggregates", h.aggregates)
	if h.jobs != nil {
		r.Get("/jobs", h.listJobs)
	}
	r.Get("/tasks", h.listTasks)
	r.Post("/tasks/{uid}/cancel", h.cancelTask)
	r.Put("/tasks/{uid}/interval", h.updateInterval)

	if withPprof {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/{name}", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			pprof.Handler(chi.URLParam(req, "name")).ServeHTTP(w, req)
		}))
	}
	return r
}

func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	now := h.sched.Now()
	list := h.sched.ListTasks()
	out := make([]TaskView, 0, len(list))
	for _, ti := range list {
		out = append(out, TaskView{
			UID:      ti.UID,
			Name:     ti.Name,
			Interval: ti.Interval.String(),
			NextDue:  ti.NextDue,
			DueIn:    humanize.RelTime(ti.NextDue, now, "ago", "from now"),
		})
	}
	respondOK(w, r, out)
}

func (h *handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, h.sched.Snapshot())
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	rows := h.jobs()
	if rows == nil {
		rows = []probe.TaskStats{}
	}
	respondOK(w, r, rows)
}

func (h *handlers) aggregates(w http.ResponseWriter, r *http.Request) {
	st := h.store()
	if st == nil {
		respondError(w, r, http.StatusServiceUnavailable, storage.ErrDisabled.Error())
		return
	}
	aggs, err := st.Aggregates(r.Context())
	if err != nil {
		h.log.Warn("aggregates query failed", logx.Err(err))
		respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if aggs == nil {
		aggs = []storage.Aggregate{}
	}
	respondOK(w, r, aggs)
}

func (h *handlers) cancelTask(w http.ResponseWriter, r *http.Request) {
	uid, ok := parseUID(w, r)
	if !ok {
		return
	}
	h.sched.Cancel(uid)
	h.log.Info("task cancel requested", logx.Uint64("uid", uint64(uid)), logx.String("via", "http"))
	respondAccepted(w, r, map[string]any{"uid": uid, "pending": "cancel"})
}

func (h *handlers) updateInterval(w http.ResponseWriter, r *http.Request) {
	uid, ok := parseUID(w, r)
	if !ok {
		return
	}
	var req intervalRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	d, err := scheduler.ParseInterval(req.Interval)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.sched.UpdateInterval(uid, d); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrInvalidInterval) {
			status = http.StatusBadRequest
		}
		respondError(w, r, status, err.Error())
		return
	}
	h.log.Info("task interval update requested", logx.Uint64("uid", uint64(uid)), logx.Duration("interval", d), logx.String("via", "http"))
	respondAccepted(w, r, map[string]any{"uid": uid, "pending": "interval", "interval": d.String()})
}

func parseUID(w http.ResponseWriter, r *http.Request) (scheduler.Uid, bool) {
	raw := chi.URLParam(r, "uid")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		respondError(w, r, http.StatusBadRequest, "invalid uid "+strconv.Quote(raw))
		return 0, false
	}
	return scheduler.Uid(n), true
}
