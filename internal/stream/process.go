package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a launched process.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateFinished
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateFinished:
		return "finished"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateCanceled
}

// Process is a launched child together with its two output readers.
type Process struct {
	ID      string
	Command string
	Dir     string
	Started time.Time

	Stdout *Reader
	Stderr *Reader

	cmd    *exec.Cmd
	pipes  []*os.File
	grace  time.Duration
	logger *slog.Logger

	exited chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	exitCode int
	exitErr  error
	ended    time.Time

	canceled   atomic.Bool
	cancelOnce sync.Once
	closeOnce  sync.Once
}

func newProcess(id string, cmd *exec.Cmd, command, dir string, stdout, stderr *os.File, grace time.Duration, logger *slog.Logger) *Process {
	p := &Process{
		ID:       id,
		Command:  command,
		Dir:      dir,
		Started:  time.Now(),
		cmd:      cmd,
		pipes:    []*os.File{stdout, stderr},
		grace:    grace,
		logger:   logger,
		exited:   make(chan struct{}),
		done:     make(chan struct{}),
		exitCode: -1,
	}
	p.Stdout = StartReader("stdout", stdout, NewMailbox())
	p.Stderr = StartReader("stderr", stderr, NewMailbox())
	go p.reap()
	return p
}

// reap waits for the child, then for both readers, then releases the pipes.
func (p *Process) reap() {
	err := p.cmd.Wait()

	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A non-zero exit is reported through the exit code.
		err = nil
	}

	p.mu.Lock()
	p.exitCode = code
	p.exitErr = err
	p.ended = time.Now()
	p.mu.Unlock()
	close(p.exited)

	p.logger.Debug("process exited", "exit_code", code, "duration", time.Since(p.Started))

	<-p.Stdout.Done()
	<-p.Stderr.Done()
	p.closePipes()
	for _, r := range []*Reader{p.Stdout, p.Stderr} {
		if rerr := r.Err(); rerr != nil {
			p.logger.Debug("stream ended with read error", "stream", r.Name(), "error", rerr)
		}
	}
	close(p.done)
}

func (p *Process) closePipes() {
	p.closeOnce.Do(func() {
		for _, f := range p.pipes {
			_ = f.Close()
		}
	})
}

// Mailboxes returns the stdout and stderr queues.
func (p *Process) Mailboxes() (stdout, stderr *Mailbox) {
	return p.Stdout.Mailbox(), p.Stderr.Mailbox()
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// State reports the current lifecycle state.
func (p *Process) State() State {
	if p.canceled.Load() {
		return StateCanceled
	}
	select {
	case <-p.done:
	default:
		return StateRunning
	}
	if p.Stdout.EOF() && p.Stderr.EOF() {
		return StateFinished
	}
	return StateDraining
}

// Exited returns a channel closed once the child has been reaped.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Done returns a channel closed once the child has been reaped and both
// readers have stopped. Queued output may still be waiting to be drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode returns the child's exit code, or -1 while it is still running or
// if it was terminated by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Err returns a wait failure other than a non-zero exit, if any.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Duration returns the run time so far, or the total once the child exited.
func (p *Process) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended.IsZero() {
		return time.Since(p.Started)
	}
	return p.ended.Sub(p.Started)
}

// Wait blocks until Done or ctx is canceled, and returns the exit code.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.ExitCode(), p.Err()
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Detach drops all queued and future output. The process keeps running.
func (p *Process) Detach() {
	p.Stdout.Mailbox().Discard()
	p.Stderr.Mailbox().Discard()
}

// Cancel terminates the process tree and stops both readers. It is a no-op
// on a Finished or already Canceled process. Queued output stays drainable.
func (p *Process) Cancel(ctx context.Context) error {
	if p.State().Terminal() {
		return nil
	}

	var err error
	p.cancelOnce.Do(func() {
		p.canceled.Store(true)
		p.logger.Info("canceling process")
		err = p.terminate(ctx)
	})
	return err
}

func (p *Process) terminate(ctx context.Context) error {
	proc := p.cmd.Process

	select {
	case <-p.exited:
	default:
		if err := terminateTree(proc); err != nil {
			p.logger.Debug("terminate failed", "error", err)
		}

		timer := time.NewTimer(p.grace)
		defer timer.Stop()

		select {
		case <-p.exited:
		case <-timer.C:
			p.logger.Warn("process did not exit within grace period, killing", "grace", p.grace)
			_ = killTree(proc)
		case <-ctx.Done():
			_ = killTree(proc)
		}
	}

	// Descendants may outlive the child and keep the pipes open.
	_ = killTree(proc)
	p.closePipes()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for process %d: %w", proc.Pid, ctx.Err())
	}
}
