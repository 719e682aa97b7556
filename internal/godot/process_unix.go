//go:build !windows

package godot

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killProcessGroup kills the engine and everything it started. The engine
// runs as a session leader, so its pid is also its process group id.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		// ESRCH: already gone.
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

// setProcAttr starts the engine in a new session so it can be killed as a
// group.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
