package termsession

import (
	"sync"
	"time"
)

// fakeTimer lets tests control exactly when a one-shot timer fires instead
// of waiting on real wall-clock delays.
type fakeTimer struct {
	mu    sync.Mutex
	armed bool
	dur   time.Duration
	cb    func()
}

func (f *fakeTimer) Arm(d time.Duration, cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = true
	f.dur = d
	f.cb = cb
}

func (f *fakeTimer) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = false
}

func (f *fakeTimer) Armed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

// Fire invokes the armed callback synchronously, as a real timer would on
// its own goroutine, but on the caller's schedule.
func (f *fakeTimer) Fire() {
	f.mu.Lock()
	cb, armed := f.cb, f.armed
	f.mu.Unlock()
	if armed && cb != nil {
		cb()
	}
}

// fakeTicker is a manually-driven Ticker: tests push onto C() themselves
// instead of waiting a full IdleTickPeriod per tick.
type fakeTicker struct {
	ch      chan time.Time
	stopped bool
	mu      sync.Mutex
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ch: make(chan time.Time, 1)}
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTicker) Tick() {
	select {
	case f.ch <- time.Now():
	default:
	}
}

// fakeTimerFactory hands out fakeTimer/fakeTicker instances and keeps track
// of the order they were created in, so a test can grab the Nth timer a
// session asked for (spawn asks for quietTmr, then timeoutTm, then an idle
// ticker, in that order).
type fakeTimerFactory struct {
	mu      sync.Mutex
	timers  []*fakeTimer
	tickers []*fakeTicker
}

func (f *fakeTimerFactory) New() Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{}
	f.timers = append(f.timers, t)
	return t
}

func (f *fakeTimerFactory) NewTicker(time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	tk := newFakeTicker()
	f.tickers = append(f.tickers, tk)
	return tk
}

func (f *fakeTimerFactory) lastTicker() *fakeTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tickers) == 0 {
		return nil
	}
	return f.tickers[len(f.tickers)-1]
}

// recordingSink captures every CompletionRecord handed to it, for tests
// asserting what finish() reports.
type recordingSink struct {
	mu      sync.Mutex
	records []CompletionRecord
}

func (r *recordingSink) Record(rec CompletionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingSink) all() []CompletionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CompletionRecord, len(r.records))
	copy(out, r.records)
	return out
}

// panicSink always panics; used to verify recordCompletion's recover guard.
type panicSink struct{}

func (panicSink) Record(CompletionRecord) { panic("sink exploded") }
