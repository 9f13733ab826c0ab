// Package engine runs the worker pool that drains the due queue.
//
// Each worker waits (timed, never spinning) for the queue head to become due,
// pops it, resolves pending cancel/interval intents from the ledger, runs the
// callback under a recovery boundary and pushes the successor instance.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"periodic/internal/clock"
	"periodic/internal/eventbus"
	rtsup "periodic/internal/runtime/supervisor"
	"periodic/internal/task"
	"periodic/internal/task/ledger"
	"periodic/internal/task/queue"
	logx "periodic/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	clk clock.Clock

	queue   *queue.Queue
	ledger  *ledger.Ledger
	onError ErrorHook

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}
	workers  int

	// imu guards inflight: uids popped and not yet pushed back.
	imu      sync.Mutex
	inflight map[task.Uid]struct{}

	inFlightN   int32
	fired       uint64
	failed      uint64
	cancelled   uint64
	rescheduled uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clk = c
		}
	}
}

// WithErrorHook replaces the default (logging) failure reporter.
func WithErrorHook(h ErrorHook) Option {
	return func(s *Service) {
		if h != nil {
			s.onError = h
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(s *Service) { s.bus = b }
}

func New(cfg Config, q *queue.Queue, l *ledger.Ledger, log logx.Logger, opts ...Option) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.FailureLogEvery <= 0 {
		cfg.FailureLogEvery = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg,
		log:      log,
		clk:      clock.Real(),
		queue:    q,
		ledger:   l,
		inflight: make(map[task.Uid]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.onError == nil {
		s.onError = newLogHook(log, cfg.FailureLogEvery).report
	}
	return s
}

// Running reports whether workers are active (or still draining a Stop).
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

// Start launches n workers. n < 1 runs a single worker.
func (s *Service) Start(ctx context.Context, n int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if n < 1 {
		n = 1
	}

	stopCh := make(chan struct{})
	sup := rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "supervisor"))),
		// A worker only dies on an internal invariant violation: take the pool down.
		rtsup.WithCancelOnError(true),
	)
	s.stopCh = stopCh
	s.stopDone = nil
	s.sup = sup
	s.workers = n
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := i
		sup.Go(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, idx)
			return nil
		})
	}

	s.log.Info("worker pool started", logx.Int("workers", n), logx.Int("queued", s.queue.Len()))
	return nil
}

// Stop broadcasts shutdown to every worker and waits until all of them have
// returned. In-flight callbacks are allowed to finish; queued instances stay
// in the queue for a later Start.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	start := time.Now()
	go func() {
		_ = sup.Stop(context.Background())
		s.mu.Lock()
		s.stopCh = nil
		s.stopDone = nil
		s.workers = 0
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		if err := sup.Err(); err != nil {
			s.log.Error("worker pool stopped after failure", logx.Err(err))
		} else {
			s.log.Info("worker pool stopped", logx.Duration("took", time.Since(start)))
		}
		return nil
	case <-ctx.Done():
		s.log.Warn("worker pool stop timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// Err returns the error that brought the pool down, if any.
func (s *Service) Err() error {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup.Err()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.stopCh != nil
	workers := s.workers
	sup := s.sup
	historySize := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	n := len(s.history)
	if n > historySize {
		n = historySize
	}
	h := make([]HistoryItem, n)
	copy(h, s.history[len(s.history)-n:])
	s.hmu.Unlock()

	pc, pi := s.ledger.Len()
	return Snapshot{
		Running:          running,
		Workers:          workers,
		InFlight:         int(atomic.LoadInt32(&s.inFlightN)),
		QueueLen:         s.queue.Len(),
		Fired:            atomic.LoadUint64(&s.fired),
		Failed:           atomic.LoadUint64(&s.failed),
		Cancelled:        atomic.LoadUint64(&s.cancelled),
		Rescheduled:      atomic.LoadUint64(&s.rescheduled),
		PendingCancels:   pc,
		PendingIntervals: pi,
		Supervisor:       sup.Snapshot(),
		History:          h,
	}
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if limit := s.cfg.HistorySize; len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, at time.Time, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}
