package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/twistedxcom/termexecd/internal/logging"
	"github.com/twistedxcom/termexecd/internal/termsession"
)

var cliLog = logging.ForComponent(logging.CompCLI)

// newExecCmd builds "termexecd exec", a local debugging shortcut that runs
// a command through the same session engine the RPC server uses, without
// going through JSON-RPC framing at all. It puts the operator's own
// terminal into raw mode with golang.org/x/term and forwards stdin to the
// child until it exits; the child's output is printed from the session
// buffer once the session has ended, not streamed while it runs.
func newExecCmd() *cobra.Command {
	var usePTY bool
	var timeoutMs int

	cmd := &cobra.Command{
		Use:   "exec -- <command>",
		Short: "Run a command locally through the session engine and attach your terminal to it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(strings.Join(args, " "), usePTY, timeoutMs)
		},
	}
	cmd.Flags().BoolVar(&usePTY, "pty", true, "attach via a pseudo-terminal instead of a plain pipe")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "kill the command after this many milliseconds (0 = no timeout)")
	return cmd
}

func runExec(command string, usePTY bool, timeoutMs int) error {
	logging.Init(logging.Config{})
	defer logging.Shutdown()

	cliLog.Info("exec_start", "command", command, "pty", usePTY, "timeout_ms", timeoutMs)
	printBanner(command)

	store := termsession.NewStore(termsession.StoreParams{GracePeriod: 0})
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	progress := func(ev termsession.ProgressEvent) {
		fmt.Fprintf(os.Stderr, "\n[termexecd] %s\n", ev.Message)
	}

	sess, err := store.Create(ctx, termsession.Descriptor{Command: command}, termsession.Params{}, usePTY, timeoutMs, progress)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	restore := attachRawTerminal(usePTY)
	defer restore()

	stop := forwardStdin(sess)
	defer close(stop)

	<-sess.Done()
	restore()

	snap := sess.Snapshot()
	fmt.Fprint(os.Stdout, string(sess.Output()))
	if snap.Status == termsession.StatusError {
		return fmt.Errorf("exec: %s", snap.ErrorReason)
	}
	if snap.HasExitCode && snap.ExitCode != 0 {
		os.Exit(snap.ExitCode)
	}
	return nil
}

// printBanner echoes the command being run, truncated with go-runewidth so
// a long command line never wraps past the terminal's own width.
func printBanner(command string) {
	cols := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		cols = w
	}
	banner := "> " + command
	if runewidth.StringWidth(banner) > cols {
		banner = runewidth.Truncate(banner, cols-3, "...")
	}
	fmt.Fprintln(os.Stderr, banner)
}

// attachRawTerminal puts stdin into raw mode for the duration of an
// interactive PTY session, so keystrokes (including Ctrl+C, which the
// child's own PTY-side line discipline interprets) reach the adapter
// verbatim instead of being line-buffered by the local tty driver. It
// returns a restore function safe to call more than once.
func attachRawTerminal(usePTY bool) func() {
	if !usePTY || !term.IsTerminal(int(os.Stdin.Fd())) {
		return func() {}
	}
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return func() {}
	}
	restored := false
	return func() {
		if restored {
			return
		}
		restored = true
		_ = term.Restore(int(os.Stdin.Fd()), oldState)
	}
}

// forwardStdin copies local stdin bytes into the session's adapter until
// stop is closed or stdin hits EOF. SIGINT is forwarded as the synthetic
// CTRL_C byte rather than killing this process, matching terminal.signal's
// CTRL_C semantics.
func forwardStdin(sess *termsession.Session) chan struct{} {
	stop := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		for {
			select {
			case <-sigCh:
				_ = sess.CtrlC()
			case <-stop:
				signal.Stop(sigCh)
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if werr := sess.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					fmt.Fprintln(os.Stderr, "exec: stdin read:", err)
				}
				return
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	return stop
}
