//go:build windows

package procadapter

import (
	"fmt"
	"os/exec"
)

// killProcessTree uses taskkill /T to terminate pid and its children, since
// os.Process.Kill on Windows only signals the direct child.
func killProcessTree(pid int) error {
	cmd := exec.Command("taskkill", "/F", "/T", "/PID", fmt.Sprint(pid))
	return cmd.Run()
}
