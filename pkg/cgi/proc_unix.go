//go:build unix

package cgi

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the program in a group of its own so cancelling it
// also stops anything it started, which would otherwise hold stdout open.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd.Process)
	}
}

func killProcessGroup(p *os.Process) error {
	err := syscall.Kill(-p.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
