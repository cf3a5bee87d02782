//go:build !windows

package engine

import (
	"os/exec"
	"syscall"
)

// newProcessGroup puts the engine in its own process group, so that a SIGINT aimed at us does not reach it.
func newProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	// the group id equals the leader's pid
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
