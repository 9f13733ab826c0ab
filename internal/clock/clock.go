// Package clock abstracts wall time so the scheduler can be driven by a
// manually advanced clock in tests.
package clock

import "time"

// Clock reports the current time and arms timers against absolute deadlines.
//
// Timers are keyed on a deadline (not a duration) so a caller that read Now()
// and then armed a timer can never overshoot if the clock moved in between.
type Clock interface {
	Now() time.Time
	TimerAt(deadline time.Time) Timer
}

// Timer is the subset of *time.Timer the scheduler uses.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) TimerAt(deadline time.Time) Timer {
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	return realTimer{t: time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }
