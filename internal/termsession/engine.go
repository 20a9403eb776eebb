package termsession

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/twistedxcom/termexecd/internal/logging"
	"github.com/twistedxcom/termexecd/internal/procadapter"
)

// eventKind tags the serialized events a session's actor loop consumes.
// Every state mutation funnels through exactly one of these so that
// onChunk, onExit, and the timer fires never interleave.
type eventKind int

const (
	evChunk eventKind = iota
	evExit
	evQuietFire
	evIdleTick
	evTimeoutFire
	evStop
)

type event struct {
	kind   eventKind
	chunk  []byte
	code   int
	signal string
}

// postEvent enqueues ev for the actor loop. Called from adapter callbacks
// and timer fires, all of which run on their own goroutines.
func (s *Session) postEvent(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// spawn attaches an adapter to the session, wires its callbacks, arms the
// idle timer, and starts the actor loop. It is the only place a Session
// transitions idle -> running.
func (s *Session) spawn(ctx context.Context, spec procadapter.Spec, usePTY bool, timers TimerFactory) error {
	s.quietTmr = timers.New()
	s.timeoutTm = timers.New()
	s.idleTicker = timers.NewTicker(s.Params.IdleTickPeriod)

	onData := func(chunk []byte) {
		s.postEvent(event{kind: evChunk, chunk: chunk})
	}
	onExit := func(code int, signal string) {
		s.postEvent(event{kind: evExit, code: code, signal: signal})
	}

	var adapter procadapter.Adapter
	var err error
	if usePTY {
		adapter, err = procadapter.SpawnPTY(ctx, spec, onData, onExit)
	} else {
		adapter, err = procadapter.Spawn(ctx, spec, onData, onExit)
	}
	if err != nil {
		s.mu.Lock()
		s.errorReason = err.Error()
		s.startedAt = time.Now()
		s.endedAt = s.startedAt
		s.mu.Unlock()
		s.setStatus(StatusError)
		// No adapter was ever attached and the actor loop never started;
		// finish() directly, since nothing will push a terminal event
		// through the (never-started) event channel.
		s.finish()
		return err
	}

	s.setAdapter(adapter)
	s.mu.Lock()
	s.startedAt = time.Now()
	s.lastByteAt = s.startedAt
	s.mu.Unlock()
	s.setStatus(StatusRunning)

	go s.runIdleTicker()
	go s.loop()
	return nil
}

func (s *Session) runIdleTicker() {
	for {
		select {
		case <-s.idleTicker.C():
			s.postEvent(event{kind: evIdleTick})
		case <-s.done:
			return
		}
	}
}

// ArmTimeout schedules a SIGTERM-and-fail after d, backing a run()
// call's timeoutMs. Canceled automatically once the session reaches a
// terminal state (finish disarms every timer unconditionally).
func (s *Session) ArmTimeout(d time.Duration) {
	if s.timeoutTm == nil || d <= 0 {
		return
	}
	s.timeoutTm.Arm(d, func() {
		s.postEvent(event{kind: evTimeoutFire})
	})
}

// TimeoutNow fires the timeout-kill path immediately, bypassing the
// per-session timer. Used by the store's inactive-session sweep to
// reclaim sessions that have been inactive far longer than any
// reasonable timeoutMs, rather than as the per-run timeout itself.
func (s *Session) TimeoutNow() {
	s.postEvent(event{kind: evTimeoutFire})
}

// loop is the session's single actor goroutine: every mutation of session
// state happens here, sequentially, so state changes are always ordered
// and never interleave.
func (s *Session) loop() {
	for ev := range s.events {
		switch ev.kind {
		case evChunk:
			s.handleChunk(ev.chunk)
		case evExit:
			s.handleExit(ev.code, ev.signal)
		case evQuietFire:
			s.handleQuietFire()
		case evIdleTick:
			s.handleIdleTick()
		case evTimeoutFire:
			s.handleTimeoutFire()
		case evStop:
			return
		}
		if s.currentStatus().terminal() {
			s.finish()
			return
		}
	}
}

// handleChunk implements onChunk semantics: classify each line for
// spinner/prompt/finish, then append the raw chunk verbatim.
func (s *Session) handleChunk(chunk []byte) {
	combined := s.pendingLine + string(chunk)
	lines, remainder := splitLines(combined)
	for _, line := range lines {
		s.classifyLine(line)
	}
	s.pendingLine = remainder
	if s.pendingLine != "" {
		// Classify the not-yet-terminated tail too: a shell prompt printed
		// without a trailing newline (the common case while it waits for
		// input) must still be detectable before more bytes ever arrive.
		s.classifyLine(s.pendingLine)
	}

	// appendChunk updates lastByteAt; new output never directly changes
	// status — only the idle ticker moves the session between
	// running/waiting/possibly-stuck.
	s.appendChunk(chunk)

	// A chatty child can emit thousands of chunks a second; log a batched
	// summary instead of one line per chunk.
	logging.Aggregate(logging.CompSession, "chunk_received", slog.String("session_id", s.ID))
}

// splitLines splits combined on \r?\n, returning completed lines and the
// unterminated remainder (empty if combined ended on a line boundary).
func splitLines(combined string) (completed []string, remainder string) {
	normalized := strings.ReplaceAll(combined, "\r\n", "\n")
	parts := strings.Split(normalized, "\n")
	if len(parts) == 0 {
		return nil, ""
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}

// handleExit implements onExit semantics: record the exit info and arm
// the quiet-complete timer so trailing stdout has a chance to land
// before the session flips to completed.
func (s *Session) handleExit(code int, signal string) {
	s.mu.Lock()
	s.exitCode = code
	s.hasExitCode = true
	s.exitSignal = signal
	s.endedAt = time.Now()
	timedOut := s.timedOut
	s.mu.Unlock()

	if timedOut {
		s.mu.Lock()
		s.errorReason = "Command timed out"
		s.mu.Unlock()
		s.setStatus(StatusError)
		return
	}

	s.armQuiet()
}

// handleQuietFire implements the quiet-complete timer: if the session
// hasn't already reached a terminal state, it completes.
func (s *Session) handleQuietFire() {
	if s.currentStatus().terminal() {
		return
	}
	s.setStatus(StatusCompleted)
}

// handleIdleTick implements the 1Hz idle poll. Arrival of new output
// while possibly-stuck never jumps straight back to running; it only
// updates lastByteAt, and this tick demotes exactly one step, to
// waiting. Otherwise the only moves are forward: running -> waiting ->
// possibly-stuck.
func (s *Session) handleIdleTick() {
	status := s.currentStatus()
	if status.terminal() {
		return
	}
	lastByte := s.lastByte()

	if status == StatusPossiblyStuck {
		if lastByte.After(s.stuckSince) {
			s.setStatus(StatusWaiting)
			s.emitProgress("new output observed; demoted from possibly-stuck to waiting", true)
		}
		return
	}

	idle := time.Since(lastByte)
	if status == StatusRunning && idle > time.Duration(s.Params.WaitingMs)*time.Millisecond {
		s.setStatus(StatusWaiting)
		s.emitProgress(waitingMessage(s.Params.WaitingMs), true)
		status = StatusWaiting
	}
	if (status == StatusRunning || status == StatusWaiting) &&
		idle > time.Duration(s.Params.StuckMs)*time.Millisecond {
		s.mu.Lock()
		s.stuckSince = lastByte
		s.mu.Unlock()
		s.setStatus(StatusPossiblyStuck)
		s.emitProgress(stuckMessage(s.Params.StuckMs), true)
		s.dumpDiagnostics()
	}
}

// dumpDiagnostics writes the recent log ring buffer to a per-session file
// the moment a session is first diagnosed as possibly-stuck, so an operator
// has a tail of what the daemon was doing right before the fact without
// needing debug logging turned on ahead of time.
func (s *Session) dumpDiagnostics() {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("termexecd-stuck-%s.jsonl", s.ID))
	if err := logging.DumpRingBuffer(path); err != nil {
		sessionLog.Warn("stuck_dump_failed", slog.String("session_id", s.ID), slog.String("error", err.Error()))
		return
	}
	sessionLog.Info("stuck_dump_written", slog.String("session_id", s.ID), slog.String("path", path))
}

// handleTimeoutFire marks the session as timed out and SIGTERMs the
// adapter; the actual status transition happens once the resulting exit
// arrives in handleExit.
func (s *Session) handleTimeoutFire() {
	if s.currentStatus().terminal() {
		return
	}
	s.mu.Lock()
	s.timedOut = true
	s.mu.Unlock()
	if err := s.Signal("SIGTERM"); err != nil {
		sessionLog.Warn("timeout_sigterm_failed", slog.String("session_id", s.ID), slog.String("error", err.Error()))
	}
}

// finish disarms timers, releases the adapter, and invokes the completion
// sink exactly once.
func (s *Session) finish() {
	if s.quietTmr != nil {
		s.quietTmr.Cancel()
	}
	if s.idleTicker != nil {
		s.idleTicker.Stop()
	}
	if s.timeoutTm != nil {
		s.timeoutTm.Cancel()
	}
	close(s.done)
	s.releaseAdapter()

	if s.sink != nil {
		s.recordCompletion()
	}
}

// recordCompletion invokes the sink with a panic guard: a broken sink must
// never take down the session's actor goroutine.
func (s *Session) recordCompletion() {
	defer func() {
		if r := recover(); r != nil {
			sessionLog.Warn("completion_sink_panic", slog.String("session_id", s.ID))
		}
	}()
	snap := s.Snapshot()
	s.sink.Record(CompletionRecord{
		SessionID:  snap.ID,
		Command:    snap.Command,
		Cwd:        snap.Cwd,
		Shell:      snap.Shell,
		ExitCode:   snap.ExitCode,
		ExitSignal: snap.ExitSignal,
		Success:    snap.HasExitCode && snap.ExitCode == 0,
		StartedAt:  snap.StartedAt,
		EndedAt:    snap.EndedAt,
		DurationMs: snap.EndedAt.Sub(snap.StartedAt).Milliseconds(),
		Stdout:     string(s.Output()),
	})
}

func waitingMessage(waitingMs int) string {
	return "no output for " + time.Duration(waitingMs*int(time.Millisecond)).String() + ", session is waiting"
}

func stuckMessage(stuckMs int) string {
	return "no output for " + time.Duration(stuckMs*int(time.Millisecond)).String() + ", session may be stuck"
}
