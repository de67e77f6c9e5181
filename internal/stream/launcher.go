package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/charlie/internal/config"
	"github.com/mattjoyce/charlie/internal/log"
)

// DefaultGracePeriod is how long Cancel waits between SIGTERM and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// LaunchError describes why a command could not be started.
type LaunchError struct {
	Op      string // "command", "workdir", "resolve", "pipe" or "start"
	Command string
	Dir     string
	Err     error
}

func (e *LaunchError) Error() string {
	switch e.Op {
	case "workdir":
		return fmt.Sprintf("launch %q: working directory %s: %v", e.Command, e.Dir, e.Err)
	default:
		return fmt.Sprintf("launch %q: %s: %v", e.Command, e.Op, e.Err)
	}
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Launcher starts commands through the host shell.
type Launcher struct {
	// Shell is the argv prefix the command string is appended to,
	// e.g. ["/bin/sh", "-c"].
	Shell []string
	// Env is appended to the current environment.
	Env         []string
	GracePeriod time.Duration

	logger *slog.Logger
}

// NewLauncher creates a launcher. An empty shell selects the platform default.
func NewLauncher(shell []string, grace time.Duration) *Launcher {
	if len(shell) == 0 {
		shell = config.DefaultShell()
	}
	if grace < 0 {
		grace = DefaultGracePeriod
	}
	return &Launcher{
		Shell:       shell,
		GracePeriod: grace,
		logger:      log.WithComponent("process"),
	}
}

// Launch starts command in workdir with stdout and stderr connected to two
// pipes, each drained by its own Reader. It returns as soon as the child has
// started. Canceling ctx kills the whole process tree.
func (l *Launcher) Launch(ctx context.Context, command, workdir string) (*Process, error) {
	if strings.TrimSpace(command) == "" {
		return nil, &LaunchError{Op: "command", Command: command, Dir: workdir, Err: errors.New("empty command")}
	}

	dir, err := resolveWorkdir(workdir)
	if err != nil {
		return nil, &LaunchError{Op: "workdir", Command: command, Dir: workdir, Err: err}
	}

	shell := l.Shell
	if len(shell) == 0 {
		shell = config.DefaultShell()
	}
	shellPath, err := exec.LookPath(shell[0])
	if err != nil {
		return nil, &LaunchError{Op: "resolve", Command: command, Dir: dir, Err: err}
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &LaunchError{Op: "pipe", Command: command, Dir: dir, Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, &LaunchError{Op: "pipe", Command: command, Dir: dir, Err: err}
	}

	args := append(append([]string{}, shell[1:]...), command)
	cmd := exec.CommandContext(ctx, shellPath, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stdout = outW
	cmd.Stderr = errW
	configureCmd(cmd, shell, command)
	cmd.Cancel = func() error { return killTree(cmd.Process) }

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			f.Close()
		}
		return nil, &LaunchError{Op: "start", Command: command, Dir: dir, Err: err}
	}

	// The child holds its own copies; readers only see EOF once ours are gone.
	outW.Close()
	errW.Close()

	id := uuid.NewString()
	logger := l.logger.With("run_id", id, "pid", cmd.Process.Pid)
	logger.Info("process started", "command", command, "dir", dir)

	return newProcess(id, cmd, command, dir, outR, errR, l.GracePeriod, logger), nil
}

func resolveWorkdir(workdir string) (string, error) {
	if workdir == "" {
		workdir = "."
	}
	dir, err := config.ExpandHome(workdir)
	if err != nil {
		return "", err
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return dir, nil
}
