//go:build !windows

package procadapter

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// ptyAdapter spawns a command under a pseudo-terminal allocated at a
// fixed size. All bytes — the child's stdout and
// stderr — arrive interleaved through a single read, which is why there
// is no separate stderr plumbing here (unlike the plain adapter's pipe
// pair, a PTY does this for free).
type ptyAdapter struct {
	cmd  *exec.Cmd
	ptmx *os.File

	onData OnData
	onExit OnExit

	mu       sync.Mutex
	released bool
}

// newPTYAdapter takes onData/onExit before starting the child, matching
// newPlainAdapter: the read/wait goroutines below must never observe a nil
// callback that the caller simply hasn't registered yet.
func newPTYAdapter(ctx context.Context, spec Spec, onData OnData, onExit OnExit) (Adapter, error) {
	cmd := buildCmd(ctx, spec)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: 120, Rows: 30}); err != nil {
		adapterLog.Warn("pty_setsize_failed", slog.String("error", err.Error()))
	}

	a := &ptyAdapter{cmd: cmd, ptmx: ptmx, onData: onData, onExit: onExit}
	go a.readLoop()
	go a.waitLoop()
	return a, nil
}

func (a *ptyAdapter) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := a.ptmx.Read(buf)
		if n > 0 && a.onData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			a.onData(chunk)
		}
		if err != nil {
			// A PTY read returns EIO, not EOF, when the child side closes;
			// both mean "no more output is coming".
			if err != io.EOF {
				adapterLog.Debug("pty_read_closed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (a *ptyAdapter) waitLoop() {
	err := a.cmd.Wait()
	code, signal := exitStatus(err)
	if a.onExit != nil {
		a.onExit(code, signal)
	}
}

func (a *ptyAdapter) Write(p []byte) (int, error) {
	return a.ptmx.Write(p)
}

// Signal ignores the requested name and always sends SIGTERM to the
// child's process group. The synthetic CTRL_C byte never reaches Signal.
func (a *ptyAdapter) Signal(name string) error {
	if a.cmd.Process == nil {
		return nil
	}
	return sendSignal(a.cmd.Process.Pid, "SIGTERM")
}

func (a *ptyAdapter) Release() {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return
	}
	a.released = true
	a.mu.Unlock()
	a.ptmx.Close()
}
