// Package app wires config, logging, storage, the scheduler and the optional
// status server, and keeps them in step with config reloads.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"periodic/internal/config"
	"periodic/internal/console"
	"periodic/internal/eventbus"
	"periodic/internal/probe"
	rtsup "periodic/internal/runtime/supervisor"
	"periodic/internal/status"
	"periodic/internal/storage"
	"periodic/internal/task/scheduler"
	logx "periodic/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched  *scheduler.Scheduler
	tasks  *reconciler
	jobs   *probe.JobSet
	status *status.Server

	workers int
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validate)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	// Storage (optional)
	store, err := OpenStorage(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}

	ss, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	sched := scheduler.New(
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithBus(bus),
		scheduler.WithHistorySize(ss.HistorySize),
		scheduler.WithFailureLogEvery(ss.FailureLogEvery),
	)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sched:   sched,
		jobs:    probe.NewJobSet(),
		workers: ss.Workers,
	}
	a.status = status.NewServer(mapStatusConfig(cfg), func(withPprof bool) http.Handler {
		return status.NewHandler(sched, a.aggregator, withPprof, log.With(logx.String("comp", "status")),
			status.WithJobs(a.jobs.Stats))
	}, log.With(logx.String("comp", "status")))
	return a, nil
}

// validate is the reload gate: anything it rejects is never applied.
func validate(_ context.Context, cfg *config.Config) error {
	var errs []error
	for i, t := range cfg.Tasks {
		if t.Disabled {
			continue
		}
		if _, ok := probe.Lookup(strings.TrimSpace(t.Probe)); !ok {
			errs = append(errs, fmt.Errorf("tasks[%d].probe: unknown probe %q (have %s)", i, t.Probe, strings.Join(probe.Names(), ", ")))
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Store is the sample sink, or nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// Console returns an operator console bound to this app.
func (a *App) Console() *console.Console {
	return console.New(console.Config{
		Sched: a.sched,
		Store: func() console.Aggregator {
			if a.store == nil {
				return nil
			}
			return a.store
		},
		NewJob: func(p probe.Probe) scheduler.Func {
			return probe.NewJob(a.runContext(), p, a.store, time.Minute, a.log.With(logx.String("comp", "probe"))).Func()
		},
		Jobs: a.jobs.Stats,
		Log:  a.log.With(logx.String("comp", "console")),
	})
}

// JobStats reports run counters for every configured task.
func (a *App) JobStats() []probe.TaskStats { return a.jobs.Stats() }

// aggregator returns a literal nil when storage is disabled so callers never
// see a typed nil interface.
func (a *App) aggregator() status.Aggregator {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *App) runContext() context.Context {
	if a.sup == nil {
		return context.Background()
	}
	return a.sup.Context()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	probeLog := a.log.With(logx.String("comp", "probe"))
	a.tasks = newReconciler(a.sched, func(spec config.TaskSpec, p probe.Probe) scheduler.Func {
		j := probe.NewJob(runCtx, p, a.store, spec.Timeout, probeLog)
		a.jobs.Put(spec.Name, j)
		return j.Func()
	}, a.log.With(logx.String("comp", "tasks")))
	a.tasks.dropped = a.jobs.Remove

	cfg := a.cfgm.Get()
	if err := a.tasks.Apply(cfg.Tasks); err != nil {
		return err
	}
	if err := a.sched.Start(runCtx, a.workers); err != nil {
		return err
	}
	if err := a.status.Start(runCtx); err != nil {
		return fmt.Errorf("status server: %w", err)
	}

	// Keep this debug-level to avoid noise for frequent tasks.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if ev, ok := e.Data.(scheduler.TaskEvent); ok {
					fields = append(fields, logx.String("task", ev.Name), logx.Uint64("uid", uint64(ev.UID)), logx.Duration("took", ev.Duration))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	// A watcher failure (fsnotify error, directory gone) is retried rather
	// than taking the scheduler down with it.
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)

	a.log.Info("app started",
		logx.Int("workers", a.workers),
		logx.Int("tasks", len(a.tasks.Names())),
		logx.Bool("storage", a.store != nil),
		logx.String("status_addr", a.status.Addr()),
	)
	return nil
}

// applyConfig brings the running components in line with newCfg. Storage and
// scheduler diagnostics settings are fixed at startup.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLogConfig(newCfg))

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
			break
		}
	}

	if ss, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		prev, _ := mapSchedulerConfig(oldCfg)
		if ss.HistorySize != prev.HistorySize || ss.FailureLogEvery != prev.FailureLogEvery {
			a.log.Warn("scheduler.history_size and scheduler.failure_log_every apply after restart")
		}
		if ss.Workers != a.workers {
			a.resizePool(ctx, ss.Workers)
		}
	}

	if err := a.tasks.Apply(newCfg.Tasks); err != nil {
		a.log.Warn("task reconciliation incomplete", logx.Err(err))
	}

	if err := a.status.Reconfigure(ctx, mapStatusConfig(newCfg)); err != nil {
		a.log.Warn("status server reconfigure failed", logx.Err(err))
	}

	a.log.Info("config reloaded", fields...)
}

// resizePool restarts the worker pool with n workers. Queued tasks are kept;
// callbacks already running finish before the old workers exit.
func (a *App) resizePool(ctx context.Context, n int) {
	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.sched.Stop(stopCtx); err != nil && !errors.Is(err, scheduler.ErrNotStarted) {
		a.log.Warn("worker pool resize: stop failed; keeping previous", logx.Err(err))
		return
	}
	if err := a.sched.Start(ctx, n); err != nil {
		a.log.Error("worker pool resize: start failed", logx.Err(err))
		return
	}
	a.log.Info("worker pool resized", logx.Int("from", a.workers), logx.Int("to", n))
	a.workers = n
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so probe runs and background loops unwind.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; if it doesn't, log when it eventually finishes.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error {
		if err := a.sched.Stop(c); err != nil && !errors.Is(err, scheduler.ErrNotStarted) {
			return err
		}
		return nil
	})
	step("status", time.Second, a.status.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, event log).
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
