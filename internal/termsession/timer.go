package termsession

import (
	"sync"
	"time"
)

// Timer is an abstract one-shot handle: arm (re)schedules cb after d,
// cancel disarms it. Rearming an already-armed timer restarts the delay
// rather than stacking callbacks — the quiet timer's
// rearm-on-every-candidate-complete-event behavior depends on this.
type Timer interface {
	Arm(d time.Duration, cb func())
	Cancel()
}

// Ticker is the abstract repeating handle backing the 1Hz idle poll.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TimerFactory builds the Timer/Ticker handles a session uses. Sessions
// receive a factory rather than calling time.AfterFunc directly so tests
// can substitute manually fired timers and tickers (see fakes_test.go);
// the idle-tick period itself comes from Params.IdleTickPeriod.
type TimerFactory interface {
	New() Timer
	NewTicker(period time.Duration) Ticker
}

// RealTimerFactory backs timers with the standard library's time package.
type RealTimerFactory struct{}

func (RealTimerFactory) New() Timer { return &realTimer{} }

func (RealTimerFactory) NewTicker(period time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(period)}
}

type realTimer struct {
	mu sync.Mutex
	t  *time.Timer
}

func (r *realTimer) Arm(d time.Duration, cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.t != nil {
		r.t.Stop()
	}
	r.t = time.AfterFunc(d, cb)
}

func (r *realTimer) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.t != nil {
		r.t.Stop()
		r.t = nil
	}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
