package termsession

// ProgressEvent carries enough information for the RPC layer to emit a
// notifications/progress message without termsession knowing anything
// about JSON-RPC framing.
type ProgressEvent struct {
	SessionID     string
	Message       string
	Indeterminate bool
	Current       int
	Total         int
}

// ProgressFunc receives progress events as they occur; it must not block,
// since the heuristics engine never blocks on I/O inside onChunk —
// callers typically fan this out over a buffered channel.
type ProgressFunc func(ProgressEvent)
