package toolsurface

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/twistedxcom/termexecd/internal/termsession"
)

func newTestStore(t *testing.T) *termsession.Store {
	t.Helper()
	store := termsession.NewStore(termsession.StoreParams{
		GracePeriod: time.Hour,
		SweepEvery:  time.Hour,
	})
	t.Cleanup(store.Close)
	return store
}

func TestSurfaceRunEchoCompletes(t *testing.T) {
	surface := New(newTestStore(t), false, nil)

	var progressed bool
	result, err := surface.Run(context.Background(), RunParams{Command: "echo hello"}, func(termsession.ProgressEvent) {
		progressed = true
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success || result.ExitCode != 0 {
		t.Fatalf("result = %+v, want success exit 0", result)
	}
	if !strings.Contains(result.Output, "hello") {
		t.Fatalf("output = %q, missing hello", result.Output)
	}
	_ = progressed // progress is advisory; this run may finish before any idle tick fires
}

func TestSurfaceRunRejectsEmptyCommand(t *testing.T) {
	surface := New(newTestStore(t), false, nil)
	if _, err := surface.Run(context.Background(), RunParams{}, nil); err == nil {
		t.Fatalf("Run with empty command: want error, got nil")
	}
}

func TestSurfaceStatusAndAttachAndList(t *testing.T) {
	surface := New(newTestStore(t), false, nil)
	result, err := surface.Run(context.Background(), RunParams{Command: "printf hello"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	st, err := surface.Status(result.SessionID, 0)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != termsession.StatusCompleted {
		t.Fatalf("Status.Status = %s, want completed", st.Status)
	}
	if !strings.Contains(st.Text, "hello") {
		t.Fatalf("Status.Text = %q, missing hello", st.Text)
	}

	// Status is deduped through a singleflight.Group keyed by (sessionId,
	// tail); calling it twice back to back must still return the correct,
	// independent result each time.
	st2, err := surface.Status(result.SessionID, 0)
	if err != nil {
		t.Fatalf("Status (2nd call): %v", err)
	}
	if st2 != st {
		t.Fatalf("Status called twice returned different snapshots: %+v vs %+v", st, st2)
	}

	att, err := surface.Attach(result.SessionID)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if att.Output != "hello" {
		t.Fatalf("Attach.Output = %q, want %q", att.Output, "hello")
	}

	list := surface.List()
	if len(list) != 1 || list[0].ID != result.SessionID {
		t.Fatalf("List() = %+v, want exactly the one session", list)
	}
}

func TestSurfaceStatusUnknownSession(t *testing.T) {
	surface := New(newTestStore(t), false, nil)
	if _, err := surface.Status("does-not-exist", 0); err != termsession.ErrUnknownSession {
		t.Fatalf("Status(unknown) = %v, want ErrUnknownSession", err)
	}
}

func TestSurfaceWriteAndSignalToLiveSession(t *testing.T) {
	store := newTestStore(t)
	surface := New(store, false, nil)

	sess, err := store.Create(context.Background(), termsession.Descriptor{Command: "cat", Shell: "bash"}, termsession.Params{}, false, 0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := surface.Write(sess.ID, []byte("ping\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(string(sess.Output()), "ping") {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !strings.Contains(string(sess.Output()), "ping") {
		t.Fatalf("output = %q, missing echoed ping", sess.Output())
	}

	// CTRL_C writes the 0x03 byte rather than signaling; over a plain pipe
	// cat simply echoes it back.
	if err := surface.Signal(sess.ID, "CTRL_C"); err != nil {
		t.Fatalf("Signal CTRL_C: %v", err)
	}
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !strings.Contains(string(sess.Output()), "\x03") {
		time.Sleep(2 * time.Millisecond)
	}
	if !strings.Contains(string(sess.Output()), "\x03") {
		t.Fatalf("output = %q, missing echoed CTRL_C byte", sess.Output())
	}

	if err := surface.Signal(sess.ID, "SIGTERM"); err != nil {
		t.Fatalf("Signal SIGTERM: %v", err)
	}
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session never reached a terminal state after SIGTERM")
	}
}

func TestSurfaceWriteToUnknownSession(t *testing.T) {
	surface := New(newTestStore(t), false, nil)
	if err := surface.Write("does-not-exist", []byte("x")); err != termsession.ErrUnknownSession {
		t.Fatalf("Write(unknown) = %v, want ErrUnknownSession", err)
	}
}
