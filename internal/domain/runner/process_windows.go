//go:build windows

package runner

import "os/exec"

// setProcessGroup is a no-op on Windows. Descendants are found by walking
// the process table instead.
func setProcessGroup(cmd *exec.Cmd) {}

func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	killDescendants(cmd.Process.Pid)
	return cmd.Process.Kill()
}
