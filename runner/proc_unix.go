//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

func shellCommand() []string {
	return []string{"sh", "-c"}
}

// configureProcess puts the shell in its own process group so a timeout
// takes down everything it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
}

// reap kills stragglers left in the group after the shell exits.
func reap(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
