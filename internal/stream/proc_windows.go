//go:build windows

package stream

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// configureCmd passes the command line verbatim; cmd.exe does its own
// quote parsing and Go's argument escaping would break it.
func configureCmd(cmd *exec.Cmd, shell []string, command string) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine:       strings.Join(append(append([]string{}, shell...), command), " "),
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// Windows has no SIGTERM; termination is immediate.
func terminateTree(p *os.Process) error {
	return killTree(p)
}

func killTree(p *os.Process) error {
	if p == nil {
		return nil
	}
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
