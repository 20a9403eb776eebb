package termsession

import (
	"testing"
	"time"
)

func newUnspawnedSession(t *testing.T, params Params) *Session {
	t.Helper()
	return newSession("test-session", Descriptor{Command: "echo hi"}, params, nil, nil)
}

func TestAppendChunkTrimsFromFront(t *testing.T) {
	s := newUnspawnedSession(t, Params{MaxBufferBytes: 10})

	s.appendChunk([]byte("1234567890")) // exactly at the cap, kept whole
	s.appendChunk([]byte("abcde"))      // pushes total over cap; oldest trimmed

	out := s.Output()
	if string(out) != "abcde" {
		t.Fatalf("expected trim to drop the first chunk, got %q", out)
	}
	if s.totalBytes != 5 {
		t.Fatalf("totalBytes = %d, want 5", s.totalBytes)
	}
}

func TestAppendChunkKeepsSingleOversizedChunkWhole(t *testing.T) {
	s := newUnspawnedSession(t, Params{MaxBufferBytes: 4})

	big := []byte("this chunk alone exceeds the cap")
	s.appendChunk(big)

	out := s.Output()
	if string(out) != string(big) {
		t.Fatalf("a lone oversized chunk must never be partially trimmed, got %q", out)
	}
}

func TestSnapshotIsConsistentUnderConcurrentAppend(t *testing.T) {
	s := newUnspawnedSession(t, Params{MaxBufferBytes: 1 << 20})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			s.appendChunk([]byte("x"))
		}
		close(done)
	}()

	for i := 0; i < 50; i++ {
		snap := s.Snapshot()
		if snap.TotalBytes < 0 {
			t.Fatalf("torn read: negative TotalBytes")
		}
	}
	<-done
}

func TestClassifyLineArmsQuietTimerOnPromptMatch(t *testing.T) {
	s := newUnspawnedSession(t, Params{})
	timer := &fakeTimer{}
	s.quietTmr = timer

	s.classifyLine("$ ")

	if !timer.Armed() {
		t.Fatalf("expected prompt line to arm the quiet timer")
	}
	if s.promptRe == nil {
		t.Fatalf("expected promptRe to be captured on first prompt match")
	}
}

func TestClassifyLineIgnoresSpinnerFrames(t *testing.T) {
	s := newUnspawnedSession(t, Params{})
	timer := &fakeTimer{}
	s.quietTmr = timer

	s.classifyLine("Building... |")
	firstLine := s.lastLine
	s.classifyLine("Building... /")

	if s.lastLine != firstLine {
		t.Fatalf("a spinner-equivalent line must not replace lastLine")
	}
	if timer.Armed() {
		t.Fatalf("spinner frames must never be treated as a prompt")
	}
}

func TestWriteAndSignalReturnErrWithoutAdapter(t *testing.T) {
	s := newUnspawnedSession(t, Params{})

	if err := s.Write([]byte("x")); err != ErrSessionTerminal {
		t.Fatalf("Write without adapter = %v, want ErrSessionTerminal", err)
	}
	if err := s.Signal("SIGTERM"); err != ErrSessionTerminal {
		t.Fatalf("Signal without adapter = %v, want ErrSessionTerminal", err)
	}
}

func TestTailReturnsSuffixOnly(t *testing.T) {
	s := newUnspawnedSession(t, Params{MaxBufferBytes: 1 << 20})
	s.appendChunk([]byte("0123456789"))

	if got := string(s.Tail(4)); got != "6789" {
		t.Fatalf("Tail(4) = %q, want %q", got, "6789")
	}
	if got := string(s.Tail(100)); got != "0123456789" {
		t.Fatalf("Tail(100) = %q, want full buffer", got)
	}
}

func TestParamsWithDefaults(t *testing.T) {
	p := Params{}.withDefaults()
	if p.QuietMs != DefaultQuietMs || p.WaitingMs != DefaultWaitingMs ||
		p.StuckMs != DefaultStuckMs || p.MaxBufferBytes != DefaultMaxBufferBytes ||
		p.IdleTickPeriod != DefaultIdleTickPeriod {
		t.Fatalf("withDefaults() = %+v, missing a default", p)
	}

	custom := Params{QuietMs: 5, IdleTickPeriod: 10 * time.Millisecond}.withDefaults()
	if custom.QuietMs != 5 || custom.IdleTickPeriod != 10*time.Millisecond {
		t.Fatalf("withDefaults() must not clobber explicitly set fields: %+v", custom)
	}
}
