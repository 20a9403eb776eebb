//go:build windows

package procadapter

import "os/exec"

func exitStatus(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), ""
	}
	return -1, ""
}

// sendSignal on Windows has no signal semantics beyond terminate; SIGINT
// and SIGTERM both map to killing the process tree.
func sendSignal(pid int, name string) error {
	return killProcessTree(pid)
}
