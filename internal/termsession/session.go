// Package termsession implements the per-command state machine described
// by the session subsystem: a rolling, byte-capped output buffer, prompt
// and finish-phrase heuristics, idle/quiet timers, and the status lattice
// (idle, running, waiting, possibly-stuck, completed, error) a caller polls
// or blocks on. It is the core the rest of termexecd is layered over.
package termsession

import (
	"bytes"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/twistedxcom/termexecd/internal/ansiutil"
	"github.com/twistedxcom/termexecd/internal/finishphrase"
	"github.com/twistedxcom/termexecd/internal/logging"
	"github.com/twistedxcom/termexecd/internal/procadapter"
	"github.com/twistedxcom/termexecd/internal/promptdetect"
)

var sessionLog = logging.ForComponent(logging.CompSession)

// Status is the liveness classification of a session.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusRunning       Status = "running"
	StatusWaiting       Status = "waiting"
	StatusPossiblyStuck Status = "possibly-stuck"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
)

// terminal reports whether status is one of the two absorbing states.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Defaults for a session's timers and buffer cap when a caller leaves
// them unset.
const (
	DefaultQuietMs         = 300
	DefaultWaitingMs       = 10_000
	DefaultStuckMs         = 45_000
	DefaultMaxBufferBytes  = 2_000_000
	DefaultGracePeriod     = 60 * time.Second
	DefaultIdleTickPeriod  = time.Second
	defaultEventBufferSize = 256
)

// Params configures one session's timers and buffer cap; captured at run
// time and never mutated afterward.
type Params struct {
	QuietMs        int
	WaitingMs      int
	StuckMs        int
	MaxBufferBytes int

	// IdleTickPeriod overrides the 1Hz idle poll. Zero
	// means the production default of one second; tests set it short so
	// waiting/possibly-stuck transitions don't require real-time sleeps
	// on the order of the full waitingMs/stuckMs thresholds.
	IdleTickPeriod time.Duration
}

func (p Params) withDefaults() Params {
	if p.QuietMs <= 0 {
		p.QuietMs = DefaultQuietMs
	}
	if p.WaitingMs <= 0 {
		p.WaitingMs = DefaultWaitingMs
	}
	if p.StuckMs <= 0 {
		p.StuckMs = DefaultStuckMs
	}
	if p.MaxBufferBytes <= 0 {
		p.MaxBufferBytes = DefaultMaxBufferBytes
	}
	if p.IdleTickPeriod <= 0 {
		p.IdleTickPeriod = DefaultIdleTickPeriod
	}
	return p
}

// Descriptor carries the command-level metadata a Session records purely
// for introspection (status/list) and for the completion sink; none of it
// feeds the state machine.
type Descriptor struct {
	Command string
	Cwd     string
	Shell   string
	Env     map[string]string
}

// Snapshot is a consistent, point-in-time copy of a session's externally
// visible fields. status/list/attach never hand out the live struct.
type Snapshot struct {
	ID           string
	Status       Status
	Command      string
	Cwd          string
	Shell        string
	StartedAt    time.Time
	EndedAt      time.Time
	CreatedAt    time.Time
	LastByteAt   time.Time
	TotalBytes   int
	ExitCode     int
	ExitSignal   string
	ErrorReason  string
	HasExitCode  bool
	HasAdapter   bool
	TimedOut     bool
}

// Session is the per-command entity tracking one run() call through its
// lifetime. All mutation happens on the session's single actor goroutine
// (see engine.go); readers take mu.RLock to get a torn-free snapshot, so
// a concurrent status() call always observes a consistent state.
type Session struct {
	ID         string
	Descriptor Descriptor
	Params     Params
	CreatedAt  time.Time

	mu          sync.RWMutex
	status      Status
	output      [][]byte
	totalBytes  int
	lastByteAt  time.Time
	startedAt   time.Time
	endedAt     time.Time
	promptRe    *regexp.Regexp
	exitCode    int
	hasExitCode bool
	exitSignal  string
	errorReason string
	timedOut    bool
	stuckSince  time.Time

	// adapterMu guards the live adapter handle separately from mu so that
	// write/signal, both non-blocking fire-and-forget calls, never wait
	// on the actor loop's lock.
	adapterMu sync.Mutex
	adapter   procadapter.Adapter

	// actor-owned scratch state; touched only inside the event loop.
	pendingLine string
	lastLine    string

	events     chan event
	quietTmr   Timer
	idleTicker Ticker
	timeoutTm  Timer
	done       chan struct{}

	sink     CompletionSink
	progress ProgressFunc
}

// newSession constructs a Session in status idle. Call spawn (in engine.go)
// to attach the adapter and start the actor loop.
func newSession(id string, desc Descriptor, params Params, sink CompletionSink, progress ProgressFunc) *Session {
	return &Session{
		ID:         id,
		Descriptor: desc,
		Params:     params.withDefaults(),
		CreatedAt:  time.Now(),
		status:     StatusIdle,
		lastByteAt: time.Now(),
		events:     make(chan event, defaultEventBufferSize),
		done:       make(chan struct{}),
		sink:       sink,
		progress:   progress,
	}
}

// Snapshot returns a consistent copy of the session's status fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:          s.ID,
		Status:      s.status,
		Command:     s.Descriptor.Command,
		Cwd:         s.Descriptor.Cwd,
		Shell:       s.Descriptor.Shell,
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
		CreatedAt:   s.CreatedAt,
		LastByteAt:  s.lastByteAt,
		TotalBytes:  s.totalBytes,
		ExitCode:    s.exitCode,
		ExitSignal:  s.exitSignal,
		ErrorReason: s.errorReason,
		HasExitCode: s.hasExitCode,
		HasAdapter:  s.hasAdapter(),
		TimedOut:    s.timedOut,
	}
}

// Done returns a channel closed once the session reaches a terminal state
// and finish() has released its adapter and recorded completion. Callers
// implementing run()'s block-until-terminal contract select on this.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Output returns the joined buffer contents at this instant.
func (s *Session) Output() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bytes.Join(s.output, nil)
}

// Tail returns the last n bytes of the joined buffer.
func (s *Session) Tail(n int) []byte {
	out := s.Output()
	if n <= 0 || len(out) <= n {
		return out
	}
	return out[len(out)-n:]
}

func (s *Session) hasAdapter() bool {
	s.adapterMu.Lock()
	defer s.adapterMu.Unlock()
	return s.adapter != nil
}

// Write passes data through to the live adapter verbatim. Returns
// ErrSessionTerminal if the session has no live adapter (terminal state or
// not yet spawned).
func (s *Session) Write(data []byte) error {
	s.adapterMu.Lock()
	a := s.adapter
	s.adapterMu.Unlock()
	if a == nil {
		return ErrSessionTerminal
	}
	_, err := a.Write(data)
	return err
}

// CtrlC writes the synthetic ETX byte (0x03) instead of sending a signal,
// matching the CTRL_C pseudo-signal.
func (s *Session) CtrlC() error {
	return s.Write([]byte{0x03})
}

// Signal delivers an OS-level signal to the adapter. name must be one of
// SIGINT, SIGTERM, or KILL; CTRL_C is handled separately by CtrlC.
func (s *Session) Signal(name string) error {
	s.adapterMu.Lock()
	a := s.adapter
	s.adapterMu.Unlock()
	if a == nil {
		return ErrSessionTerminal
	}
	return a.Signal(name)
}

func (s *Session) setAdapter(a procadapter.Adapter) {
	s.adapterMu.Lock()
	s.adapter = a
	s.adapterMu.Unlock()
}

func (s *Session) releaseAdapter() {
	s.adapterMu.Lock()
	a := s.adapter
	s.adapter = nil
	s.adapterMu.Unlock()
	if a != nil {
		a.Release()
	}
}

// appendChunk stores raw bytes verbatim and enforces the buffer cap,
// trimming from the front while more than one chunk remains so a single
// oversized chunk is always kept whole.
func (s *Session) appendChunk(raw []byte) {
	chunk := make([]byte, len(raw))
	copy(chunk, raw)

	s.mu.Lock()
	s.output = append(s.output, chunk)
	s.totalBytes += len(chunk)
	for s.totalBytes > s.Params.MaxBufferBytes && len(s.output) > 1 {
		oldest := s.output[0]
		s.output = s.output[1:]
		s.totalBytes -= len(oldest)
	}
	s.lastByteAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) setStatus(next Status) {
	s.mu.Lock()
	prev := s.status
	s.status = next
	s.mu.Unlock()
	if prev != next {
		sessionLog.Debug("status_transition",
			slog.String("session_id", s.ID), slog.String("from", string(prev)), slog.String("to", string(next)))
	}
}

func (s *Session) currentStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) lastByte() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastByteAt
}

func (s *Session) emitProgress(message string, indeterminate bool) {
	if s.progress == nil {
		return
	}
	s.progress(ProgressEvent{
		SessionID:     s.ID,
		Message:       message,
		Indeterminate: indeterminate,
	})
}

// classifyLine applies the spinner/prompt/finish heuristics to a single
// line. It never appends to the stored buffer — that happens once per raw
// chunk in onChunk, verbatim.
func (s *Session) classifyLine(line string) {
	if ansiutil.IsSpinnerFrame(s.lastLine, line) {
		return
	}
	s.lastLine = line

	if s.promptRe == nil {
		if p := promptdetect.Detect(line); p != nil {
			s.mu.Lock()
			s.promptRe = p
			s.mu.Unlock()
		}
	}
	s.mu.RLock()
	pat := s.promptRe
	s.mu.RUnlock()
	if pat != nil && promptdetect.Matches(pat, line) {
		s.armQuiet()
	}

	// Advisory only: a strong finish-phrase match never by itself drives
	// completion, but is worth a debug breadcrumb.
	if finishphrase.LooksFinished(line) {
		sessionLog.Debug("finish_phrase_seen", slog.String("session_id", s.ID))
	}
}

func (s *Session) armQuiet() {
	if s.quietTmr == nil {
		return
	}
	s.quietTmr.Arm(time.Duration(s.Params.QuietMs)*time.Millisecond, func() {
		s.postEvent(event{kind: evQuietFire})
	})
}
