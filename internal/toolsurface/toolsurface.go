// Package toolsurface implements the six public operations — run,
// status, write, signal, list, attach — layered over termsession.Store.
// It is the boundary the RPC server dispatches onto; nothing here knows
// about JSON-RPC framing.
package toolsurface

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/twistedxcom/termexecd/internal/logging"
	"github.com/twistedxcom/termexecd/internal/metrics"
	"github.com/twistedxcom/termexecd/internal/termsession"
)

var surfaceLog = logging.ForComponent(logging.CompEngine)

const (
	// DefaultTimeoutMs is run's timeoutMs default.
	DefaultTimeoutMs = 30_000
	// DefaultStatusTail is status's tail default.
	DefaultStatusTail = 2000
)

// Surface wraps a termsession.Store with the six tool operations.
type Surface struct {
	store   *termsession.Store
	usePTY  bool
	metrics *metrics.Metrics

	// snapshotSf deduplicates concurrent status()/attach() calls for the
	// same sessionId: a caller polling a session tightly (or several
	// callers polling the same one) shares one buffer join and Snapshot
	// instead of redoing the work per request.
	snapshotSf singleflight.Group
}

// New builds a Surface over store. usePTY selects the adapter variant for
// every run() call (PTY when explicitly enabled via config, never
// per-call). m may be nil to disable metrics.
func New(store *termsession.Store, usePTY bool, m *metrics.Metrics) *Surface {
	return &Surface{store: store, usePTY: usePTY, metrics: m}
}

// RunParams are run()'s input parameters.
type RunParams struct {
	Command        string
	Cwd            string
	Shell          string
	Env            map[string]string
	TimeoutMs      int
	QuietMs        int
	WaitingMs      int
	StuckMs        int
	MaxBufferBytes int
}

// RunResult is run()'s blocking result.
type RunResult struct {
	SessionID  string
	Output     string
	ExitCode   int
	ExitSignal string
	Success    bool
	Error      string
}

// Run creates a session, spawns the adapter, and blocks until the session
// reaches a terminal state. progress receives every
// notifications/progress-worthy event emitted along the way.
func (s *Surface) Run(ctx context.Context, p RunParams, progress termsession.ProgressFunc) (RunResult, error) {
	if p.Command == "" {
		return RunResult{}, fmt.Errorf("toolsurface: command must not be empty")
	}

	timeoutMs := p.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = DefaultTimeoutMs
	}

	desc := termsession.Descriptor{Command: p.Command, Cwd: p.Cwd, Shell: p.Shell, Env: p.Env}
	params := termsession.Params{
		QuietMs:        p.QuietMs,
		WaitingMs:      p.WaitingMs,
		StuckMs:        p.StuckMs,
		MaxBufferBytes: p.MaxBufferBytes,
	}

	sess, err := s.store.Create(ctx, desc, params, s.usePTY, timeoutMs, progress)
	if err != nil {
		return RunResult{}, err
	}
	if s.metrics != nil {
		s.metrics.SessionsStarted.Inc()
	}

	<-sess.Done()

	snap := sess.Snapshot()
	if s.metrics != nil {
		s.metrics.RecordTerminal(snap.Status == termsession.StatusCompleted, snap.TimedOut)
	}
	result := RunResult{
		SessionID:  snap.ID,
		Output:     string(sess.Output()),
		ExitCode:   snap.ExitCode,
		ExitSignal: snap.ExitSignal,
		Success:    snap.HasExitCode && snap.ExitCode == 0,
		Error:      snap.ErrorReason,
	}
	return result, nil
}

// StatusResult is status()'s result.
type StatusResult struct {
	Status      termsession.Status
	LastOutputAt time.Time
	ExitCode    int
	ExitSignal  string
	ErrorReason string
	Text        string
}

// Status returns a point-in-time snapshot of sessionID. tail<=0 uses
// DefaultStatusTail.
func (s *Surface) Status(sessionID string, tail int) (StatusResult, error) {
	sess, err := s.store.Lookup(sessionID)
	if err != nil {
		return StatusResult{}, err
	}
	if tail <= 0 {
		tail = DefaultStatusTail
	}

	key := fmt.Sprintf("status:%s:%d", sessionID, tail)
	v, err, _ := s.snapshotSf.Do(key, func() (interface{}, error) {
		snap := sess.Snapshot()
		return StatusResult{
			Status:       snap.Status,
			LastOutputAt: snap.LastByteAt,
			ExitCode:     snap.ExitCode,
			ExitSignal:   snap.ExitSignal,
			ErrorReason:  snap.ErrorReason,
			Text:         string(sess.Tail(tail)),
		}, nil
	})
	if err != nil {
		return StatusResult{}, err
	}
	return v.(StatusResult), nil
}

// Write passes data through to sessionID's adapter verbatim.
func (s *Surface) Write(sessionID string, data []byte) error {
	sess, err := s.store.Lookup(sessionID)
	if err != nil {
		return err
	}
	return sess.Write(data)
}

// Signal sends signalName to sessionID's adapter, or writes the synthetic
// CTRL_C byte. An empty signalName defaults to SIGINT.
func (s *Surface) Signal(sessionID string, signalName string) error {
	sess, err := s.store.Lookup(sessionID)
	if err != nil {
		return err
	}
	if signalName == "" {
		signalName = "SIGINT"
	}
	if signalName == "CTRL_C" {
		return sess.CtrlC()
	}
	return sess.Signal(signalName)
}

// ListEntry is one row of list()'s snapshot.
type ListEntry struct {
	ID          string
	Status      termsession.Status
	LastOutputAt time.Time
	ExitCode    int
	ExitSignal  string
	ErrorReason string
	StartedAt   time.Time
}

// List returns every session currently tracked.
func (s *Surface) List() []ListEntry {
	snaps := s.store.List()
	out := make([]ListEntry, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, ListEntry{
			ID:           snap.ID,
			Status:       snap.Status,
			LastOutputAt: snap.LastByteAt,
			ExitCode:     snap.ExitCode,
			ExitSignal:   snap.ExitSignal,
			ErrorReason:  snap.ErrorReason,
			StartedAt:    snap.StartedAt,
		})
	}
	if s.metrics != nil {
		s.metrics.SessionsLive.Set(float64(len(out)))
	}
	return out
}

// AttachResult is attach()'s result.
type AttachResult struct {
	Status termsession.Status
	Output string
}

// Attach returns sessionID's full joined buffer and status: a consistent
// point-in-time copy, not a subscription.
func (s *Surface) Attach(sessionID string) (AttachResult, error) {
	sess, err := s.store.Lookup(sessionID)
	if err != nil {
		return AttachResult{}, err
	}

	v, err, _ := s.snapshotSf.Do("attach:"+sessionID, func() (interface{}, error) {
		snap := sess.Snapshot()
		return AttachResult{Status: snap.Status, Output: string(sess.Output())}, nil
	})
	if err != nil {
		return AttachResult{}, err
	}
	return v.(AttachResult), nil
}
