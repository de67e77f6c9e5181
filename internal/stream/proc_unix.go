//go:build !windows

package stream

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureCmd puts the child in its own process group so the whole tree
// can be signalled at once.
func configureCmd(cmd *exec.Cmd, _ []string, _ string) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateTree(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

func killTree(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	err := syscall.Kill(-p.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
