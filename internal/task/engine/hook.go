package engine

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "periodic/pkg/logx"
)

// logHook is the default ErrorHook: it logs callback failures, throttled per
// task name so a task failing on every tick doesn't flood the log.
type logHook struct {
	log   logx.Logger
	every time.Duration

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	suppressed map[string]uint64
}

func newLogHook(log logx.Logger, every time.Duration) *logHook {
	return &logHook{
		log:        log,
		every:      every,
		limiters:   map[string]*rate.Limiter{},
		suppressed: map[string]uint64{},
	}
}

func (h *logHook) report(f CallbackFailure) {
	h.mu.Lock()
	lim := h.limiters[f.Name]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(h.every), 1)
		h.limiters[f.Name] = lim
	}
	if !lim.Allow() {
		h.suppressed[f.Name]++
		h.mu.Unlock()
		return
	}
	skipped := h.suppressed[f.Name]
	delete(h.suppressed, f.Name)
	h.mu.Unlock()

	h.log.Error("task.failed",
		logx.Uint64("uid", uint64(f.UID)),
		logx.String("task", f.Name),
		logx.Any("panic", f.Panic),
		logx.Uint64("suppressed", skipped),
		logx.Stack(f.Stack),
	)
}
