// Package procadapter gives the session engine one uniform way to spawn a
// command, whether as a plain child process with merged stdout/stderr or
// under a pseudo-terminal. Selection is a startup-time policy decision;
// callers of Spawn never need to know which variant they got.
package procadapter

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"

	"github.com/twistedxcom/termexecd/internal/logging"
)

var adapterLog = logging.ForComponent(logging.CompAdapter)

// Spec describes the command to spawn.
type Spec struct {
	Command string
	Cwd     string
	Shell   string   // override the default shell binary
	Env     []string // additional KEY=VALUE pairs appended to the child's environment
}

// OnData is invoked with every chunk of output the child produces.
type OnData func(chunk []byte)

// OnExit is invoked exactly once when the child terminates, with its exit
// code and, if killed by a signal, the signal's name.
type OnExit func(code int, signal string)

// Adapter is the uniform process capability the heuristics engine drives.
// Spawn/SpawnPTY take onData and onExit up front, so there is no window
// between the adapter starting to read the child's output and a caller
// registering a callback for it — a fast-completing command's exit event
// has nowhere to be silently dropped.
type Adapter interface {
	// Write passes bytes through verbatim; the caller is responsible for
	// terminating lines if the target expects line-buffered input.
	Write(p []byte) (int, error)
	// Signal sends name ("SIGINT", "SIGTERM", or "KILL") to the child.
	// A PTY adapter ignores the distinction and always sends the
	// platform default signal.
	Signal(name string) error
	// Release frees adapter resources (closes the PTY, or the plain
	// adapter's stdin pipe). Safe to call after exit; a no-op if already
	// released.
	Release()
}

// Spawn starts the command with the plain adapter. onData and onExit are
// wired before the adapter's read/wait goroutines start.
func Spawn(ctx context.Context, spec Spec, onData OnData, onExit OnExit) (Adapter, error) {
	return spawn(ctx, spec, false, onData, onExit)
}

// SpawnPTY is like Spawn but requests the pseudo-terminal variant; if PTY
// initialization fails, the failure is logged (not fatal) and the plain
// adapter is used instead.
func SpawnPTY(ctx context.Context, spec Spec, onData OnData, onExit OnExit) (Adapter, error) {
	return spawn(ctx, spec, true, onData, onExit)
}

func spawn(ctx context.Context, spec Spec, usePTY bool, onData OnData, onExit OnExit) (Adapter, error) {
	if usePTY {
		a, err := newPTYAdapter(ctx, spec, onData, onExit)
		if err == nil {
			return a, nil
		}
		adapterLog.Warn("pty_init_failed_falling_back",
			slog.String("error", err.Error()))
	}
	return newPlainAdapter(ctx, spec, onData, onExit)
}

// shellCommand returns the shell binary and the argv prefix used to invoke
// it with a command string, per platform.
func shellCommand(spec Spec) (string, []string) {
	if runtime.GOOS == "windows" {
		shell := spec.Shell
		if shell == "" {
			shell = "powershell"
		}
		return shell, []string{"-NoLogo", "-NoProfile", "-Command", spec.Command}
	}
	shell := spec.Shell
	if shell == "" {
		shell = "bash"
	}
	return shell, []string{"-lc", spec.Command}
}

func buildCmd(ctx context.Context, spec Spec) *exec.Cmd {
	shell, args := shellCommand(spec)
	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Dir = spec.Cwd
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	return cmd
}
