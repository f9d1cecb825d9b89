//go:build windows

package sandbox

import "os/exec"

func configureRunProcess(cmd *exec.Cmd) {}

func killRunProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
