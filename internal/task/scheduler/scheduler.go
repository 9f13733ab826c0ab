package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"periodic/internal/clock"
	"periodic/internal/eventbus"
	"periodic/internal/task"
	"periodic/internal/task/engine"
	"periodic/internal/task/ledger"
	"periodic/internal/task/queue"
	logx "periodic/pkg/logx"
)

type (
	Uid             = task.Uid
	Func            = task.Func
	CallbackFailure = engine.CallbackFailure
	ErrorHook       = engine.ErrorHook
	Snapshot        = engine.Snapshot
	HistoryItem     = engine.HistoryItem
	TaskEvent       = engine.TaskEvent
)

var (
	ErrInvalidInterval = task.ErrInvalidInterval
	ErrAlreadyStarted  = engine.ErrAlreadyStarted
	ErrNotStarted      = engine.ErrNotStarted

	ErrNameRequired = errors.New("task name required")
	ErrNilFunc      = errors.New("task func required")
)

type Scheduler struct {
	log   logx.Logger
	clk   clock.Clock
	alloc task.Allocator

	queue  *queue.Queue
	ledger *ledger.Ledger
	eng    *engine.Service
}

type options struct {
	log     logx.Logger
	clk     clock.Clock
	bus     eventbus.Bus
	onError ErrorHook
	cfg     engine.Config
}

type Option func(*options)

func WithLogger(l logx.Logger) Option { return func(o *options) { o.log = l } }

// WithClock injects the time source used for due-time checks and rescheduling.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clk = c } }

// WithBus publishes task.fired / task.failed / task.cancelled events.
func WithBus(b eventbus.Bus) Option { return func(o *options) { o.bus = b } }

// WithErrorHook receives every callback failure instead of the default
// rate-limited log line.
func WithErrorHook(h ErrorHook) Option { return func(o *options) { o.onError = h } }

func WithHistorySize(n int) Option { return func(o *options) { o.cfg.HistorySize = n } }

func WithFailureLogEvery(d time.Duration) Option {
	return func(o *options) { o.cfg.FailureLogEvery = d }
}

func New(opts ...Option) *Scheduler {
	o := options{clk: clock.Real()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.clk == nil {
		o.clk = clock.Real()
	}

	s := &Scheduler{
		log:    o.log,
		clk:    o.clk,
		queue:  queue.New(),
		ledger: ledger.New(),
	}
	engOpts := []engine.Option{engine.WithClock(o.clk), engine.WithErrorHook(o.onError)}
	if o.bus != nil {
		engOpts = append(engOpts, engine.WithBus(o.bus))
	}
	s.eng = engine.New(o.cfg, s.queue, s.ledger, o.log.With(logx.String("comp", "engine")), engOpts...)
	return s
}

// SchedulePeriodic registers fn to run first at firstDue and then every
// interval after each completion. Each call yields a fresh uid, even for a
// name and interval that are already scheduled.
func (s *Scheduler) SchedulePeriodic(name string, fn Func, firstDue time.Time, interval time.Duration) (Uid, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrNameRequired
	}
	if fn == nil {
		return 0, ErrNilFunc
	}
	if err := task.ValidateInterval(interval); err != nil {
		return 0, fmt.Errorf("schedule %q: %w", name, err)
	}

	uid := s.alloc.Next()
	s.queue.Push(task.Task{UID: uid, Name: name, Run: fn, Due: firstDue, Interval: interval})
	s.log.Debug("task scheduled",
		logx.Uint64("uid", uint64(uid)),
		logx.String("task", name),
		logx.Time("first_due", firstDue),
		logx.Duration("interval", interval),
	)
	return uid, nil
}

// Cancel drops the task when its queued instance is next popped. Unknown uids
// and uids already dropped are ignored.
func (s *Scheduler) Cancel(uid Uid) {
	if !s.live(uid) {
		return
	}
	s.ledger.Cancel(uid)
	s.log.Debug("task cancel requested", logx.Uint64("uid", uint64(uid)))
}

// UpdateInterval changes the interval used to reschedule uid after its next
// firing. Unknown uids and uids already dropped are ignored.
func (s *Scheduler) UpdateInterval(uid Uid, interval time.Duration) error {
	if err := task.ValidateInterval(interval); err != nil {
		return err
	}
	if !s.live(uid) {
		return nil
	}
	s.ledger.UpdateInterval(uid, interval)
	s.log.Debug("task interval update requested", logx.Uint64("uid", uint64(uid)), logx.Duration("interval", interval))
	return nil
}

// Start launches the worker pool with n workers. n < 1 runs one worker.
func (s *Scheduler) Start(ctx context.Context, n int) error {
	return s.eng.Start(ctx, n)
}

// Stop wakes every worker and waits for them to exit. Callbacks already
// running are allowed to finish; queued tasks stay queued.
func (s *Scheduler) Stop(ctx context.Context) error {
	return s.eng.Stop(ctx)
}

func (s *Scheduler) Running() bool { return s.eng.Running() }

// Err returns the internal error that brought the pool down, if any.
func (s *Scheduler) Err() error { return s.eng.Err() }

func (s *Scheduler) Snapshot() Snapshot { return s.eng.Snapshot() }

// Now is the scheduler's clock reading.
func (s *Scheduler) Now() time.Time { return s.clk.Now() }

func (s *Scheduler) issued(uid Uid) bool {
	return uid != 0 && uid <= s.alloc.Last()
}

// live reports whether uid was issued and not yet dropped by a cancellation.
func (s *Scheduler) live(uid Uid) bool {
	return s.issued(uid) && !s.ledger.Retired(uid)
}
