package procadapter

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// plainAdapter spawns a command with stdout and stderr merged into a
// single pipe: a dedicated reader goroutine feeding a callback, a
// process group for signal/kill fan-out, and a mutex-guarded Release that
// runs at most once.
type plainAdapter struct {
	cmd   *exec.Cmd
	pr    *os.File // read end we consume
	stdin io.WriteCloser

	onData OnData
	onExit OnExit

	mu       sync.Mutex
	released bool
}

// newPlainAdapter takes onData/onExit before starting the child so the
// read/wait goroutines below never observe a callback that hasn't been set
// yet — a command that exits in the time it takes the caller to receive
// the adapter and call a setter would otherwise lose its exit event.
func newPlainAdapter(ctx context.Context, spec Spec, onData OnData, onExit OnExit) (Adapter, error) {
	cmd := buildCmd(ctx, spec)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	stdin, err := cmd.StdinPipe()
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	// The parent's copy of the write end must close so pr.Read returns EOF
	// once the child (and any of its descendants holding a dup) exits.
	pw.Close()

	a := &plainAdapter{cmd: cmd, pr: pr, stdin: stdin, onData: onData, onExit: onExit}
	go a.readLoop()
	go a.waitLoop()
	return a, nil
}

func (a *plainAdapter) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := a.pr.Read(buf)
		if n > 0 && a.onData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			a.onData(chunk)
		}
		if err != nil {
			if err != io.EOF {
				adapterLog.Warn("plain_read_error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (a *plainAdapter) waitLoop() {
	err := a.cmd.Wait()
	code, signal := exitStatus(err)
	a.pr.Close()
	if a.onExit != nil {
		a.onExit(code, signal)
	}
}

func (a *plainAdapter) Write(p []byte) (int, error) {
	return a.stdin.Write(p)
}

func (a *plainAdapter) Signal(name string) error {
	if a.cmd.Process == nil {
		return nil
	}
	return sendSignal(a.cmd.Process.Pid, name)
}

func (a *plainAdapter) Release() {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return
	}
	a.released = true
	a.mu.Unlock()
	a.stdin.Close()
}
