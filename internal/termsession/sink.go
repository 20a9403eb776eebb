package termsession

import "time"

// CompletionRecord is the shape handed to a CompletionSink once per
// terminal-state transition.
type CompletionRecord struct {
	SessionID  string
	Command    string
	Cwd        string
	Shell      string
	ExitCode   int
	ExitSignal string
	Success    bool
	StartedAt  time.Time
	EndedAt    time.Time
	DurationMs int64
	Stdout     string
}

// CompletionSink is an opaque external collaborator, typically a
// journaling subsystem. Record must not block the
// caller for long; termexecd's default sink (see internal/sink) writes
// asynchronously. A failing or panicking sink must never affect the
// session's result, so Engine code only ever calls Record from finish(),
// after the status transition has already landed.
type CompletionSink interface {
	Record(rec CompletionRecord)
}

// NopSink discards every record. Used when no sink is configured.
type NopSink struct{}

func (NopSink) Record(CompletionRecord) {}
