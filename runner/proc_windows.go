//go:build windows

package runner

import (
	"os/exec"
)

func shellCommand() []string {
	return []string{"cmd", "/C"}
}

func configureProcess(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}

func reap(*exec.Cmd) {}
