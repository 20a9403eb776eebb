package termsession

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/twistedxcom/termexecd/internal/logging"
	"github.com/twistedxcom/termexecd/internal/procadapter"
)

var storeLog = logging.ForComponent(logging.CompStore)

// DefaultMaxConcurrentSpawns bounds how many adapter spawns (os/exec.Start
// or pty.Start) may be in flight at once: a burst of concurrent run()
// calls must not exhaust OS process-creation resources. This is a
// scheduling nicety independent of MaxSessions, which bounds live
// sessions, not in-flight spawns.
const DefaultMaxConcurrentSpawns = 32

// Store owns the set of live and recently-terminal sessions: a session
// created by run() stays addressable by status/write/signal/attach until
// it has been terminal for GracePeriod, at which point the sweep
// goroutine evicts it.
type Store struct {
	timers             TimerFactory
	sink               CompletionSink
	maxSess            int
	maxSessFunc        func() int
	sessionTimeoutFunc func() int
	grace              time.Duration
	sweepEvery         time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	spawnSem          *semaphore.Weighted
	onSoftCapExceeded func()

	stopOnce sync.Once
	stopCh   chan struct{}
}

// StoreParams configures a Store. Zero values fall back to the package
// defaults noted on each field.
type StoreParams struct {
	TimerFactory TimerFactory
	Sink         CompletionSink

	// MaxSessions is a soft cap: Create still succeeds past the cap, but
	// logs a warning rather than rejecting the call outright. Ignored if
	// MaxSessionsFunc is set.
	MaxSessions int

	// MaxSessionsFunc, if set, is consulted on every Create instead of the
	// static MaxSessions, letting a caller back it with a live-reloaded
	// config value.
	MaxSessionsFunc func() int

	// SessionTimeoutMsFunc, if set, is consulted by the sweep to force-kill
	// non-terminal sessions that have produced no output for that long.
	// Zero or unset disables this sweep.
	SessionTimeoutMsFunc func() int

	// GracePeriod is how long a terminal session stays addressable before
	// the sweep removes it. Zero means DefaultGracePeriod.
	GracePeriod time.Duration

	// SweepEvery is how often the sweep goroutine scans for expired
	// sessions. Zero means once per second.
	SweepEvery time.Duration

	// MaxConcurrentSpawns bounds in-flight adapter spawns. Zero means
	// DefaultMaxConcurrentSpawns.
	MaxConcurrentSpawns int64

	// OnSoftCapExceeded, if set, is invoked once per Create call that
	// lands while the live session count is already at or above the
	// MaxSessions soft cap. Typically wired to a metrics counter.
	OnSoftCapExceeded func()
}

// NewStore builds a Store and starts its background sweep goroutine. Call
// Close to stop the sweep when the store is no longer needed.
func NewStore(p StoreParams) *Store {
	timers := p.TimerFactory
	if timers == nil {
		timers = RealTimerFactory{}
	}
	sink := p.Sink
	if sink == nil {
		sink = NopSink{}
	}
	grace := p.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	sweepEvery := p.SweepEvery
	if sweepEvery <= 0 {
		sweepEvery = time.Second
	}
	maxSpawns := p.MaxConcurrentSpawns
	if maxSpawns <= 0 {
		maxSpawns = DefaultMaxConcurrentSpawns
	}
	st := &Store{
		timers:             timers,
		sink:               sink,
		maxSess:            p.MaxSessions,
		maxSessFunc:        p.MaxSessionsFunc,
		sessionTimeoutFunc: p.SessionTimeoutMsFunc,
		grace:              grace,
		sweepEvery:         sweepEvery,
		sessions:           make(map[string]*Session),
		spawnSem:           semaphore.NewWeighted(maxSpawns),
		onSoftCapExceeded:  p.OnSoftCapExceeded,
		stopCh:             make(chan struct{}),
	}
	go st.sweepLoop()
	return st
}

// Create spawns a new session for desc and registers it in the store. The
// returned Session is already in status running (or error, if the adapter
// failed to spawn) by the time Create returns.
func (st *Store) Create(ctx context.Context, desc Descriptor, params Params, usePTY bool, timeoutMs int, progress ProgressFunc) (*Session, error) {
	if desc.Command == "" {
		return nil, ErrEmptyCommand
	}

	maxSess := st.maxSess
	if st.maxSessFunc != nil {
		maxSess = st.maxSessFunc()
	}
	st.mu.RLock()
	count := len(st.sessions)
	st.mu.RUnlock()
	if maxSess > 0 && count >= maxSess {
		storeLog.Warn("session_count_over_soft_cap",
			slog.Int("count", count), slog.Int("max_sessions", maxSess))
		if st.onSoftCapExceeded != nil {
			st.onSoftCapExceeded()
		}
	}

	id := uuid.NewString()
	sess := newSession(id, desc, params, st.sink, progress)

	spec := procadapter.Spec{
		Command: desc.Command,
		Cwd:     desc.Cwd,
		Shell:   desc.Shell,
		Env:     envSlice(desc.Env),
	}

	// Bound the number of os/exec.Start/pty.Start calls in flight: a burst
	// of concurrent run() calls blocks here rather than racing the OS's
	// process-creation limits.
	if err := st.spawnSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	spawnErr := sess.spawn(ctx, spec, usePTY, st.timers)
	st.spawnSem.Release(1)
	if spawnErr != nil {
		storeLog.Warn("session_spawn_failed", slog.String("session_id", id), slog.String("error", spawnErr.Error()))
	}
	if timeoutMs > 0 {
		sess.ArmTimeout(time.Duration(timeoutMs) * time.Millisecond)
	}

	st.mu.Lock()
	st.sessions[id] = sess
	st.mu.Unlock()
	return sess, nil
}

// Lookup returns the session for id, or ErrUnknownSession.
func (st *Store) Lookup(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return sess, nil
}

// List returns a snapshot of every session currently tracked, including
// startedAt for each.
func (st *Store) List() []Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Snapshot, 0, len(st.sessions))
	for _, sess := range st.sessions {
		out = append(out, sess.Snapshot())
	}
	return out
}

// Remove drops id from the store immediately, regardless of grace period.
// The sweep loop does not call Remove; it deletes expired entries itself.
func (st *Store) Remove(id string) error {
	st.mu.Lock()
	_, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	return nil
}

// Close stops the sweep goroutine. Sessions already spawned keep running;
// Close does not signal or release any adapter.
func (st *Store) Close() {
	st.stopOnce.Do(func() { close(st.stopCh) })
}

func (st *Store) sweepLoop() {
	ticker := time.NewTicker(st.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st.sweepExpired()
		case <-st.stopCh:
			return
		}
	}
}

// sweepExpired evicts every session that has been terminal for longer
// than the grace period: a terminal session stays addressable for at
// least that long, since GracePeriod is a floor, not a ceiling.
func (st *Store) sweepExpired() {
	now := time.Now()
	var expired []string

	var inactiveTimeout time.Duration
	if st.sessionTimeoutFunc != nil {
		if ms := st.sessionTimeoutFunc(); ms > 0 {
			inactiveTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	st.mu.RLock()
	for id, sess := range st.sessions {
		snap := sess.Snapshot()
		if !snap.Status.terminal() {
			// A session producing no output at all for this long is
			// force-killed via the same
			// timeout-kill path as an explicit timeoutMs, independent of
			// the grace-period eviction below, which only applies once a
			// session is already terminal.
			if inactiveTimeout > 0 && now.Sub(snap.LastByteAt) >= inactiveTimeout {
				sess.TimeoutNow()
			}
			continue
		}
		if snap.EndedAt.IsZero() {
			continue
		}
		if now.Sub(snap.EndedAt) >= st.grace {
			expired = append(expired, id)
		}
	}
	st.mu.RUnlock()

	if len(expired) == 0 {
		return
	}
	st.mu.Lock()
	for _, id := range expired {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	storeLog.Debug("sessions_swept", slog.Int("count", len(expired)))
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
