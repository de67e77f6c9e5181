// Package session owns the "current process" of one display: launching,
// superseding, cancelling, and recording what ran.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/charlie/internal/drain"
	"github.com/mattjoyce/charlie/internal/events"
	"github.com/mattjoyce/charlie/internal/history"
	"github.com/mattjoyce/charlie/internal/log"
	"github.com/mattjoyce/charlie/internal/stream"
	"github.com/mattjoyce/charlie/internal/task"
)

var ErrNoActiveRun = errors.New("no active run")

// finishTimeout bounds history writes made after a run ends.
const finishTimeout = 5 * time.Second

type Options struct {
	Launcher *stream.Launcher
	Drainer  *drain.Drainer
	// Recorder and Events are optional.
	Recorder Recorder
	Events   events.Publisher
	// TerminateOnReplace cancels a superseded process instead of leaving it
	// to run detached.
	TerminateOnReplace bool
	ConfigHash         string
	Logger             *slog.Logger
}

// Run is a launched command.
type Run struct {
	ID      string
	Task    string
	Command string
	Workdir string
	Process *stream.Process
}

type Session struct {
	launcher  *stream.Launcher
	drainer   *drain.Drainer
	recorder  Recorder
	events    events.Publisher
	terminate bool
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	current    *Run
	live       map[string]*Run
	configHash string
	closed     bool
	watchers   sync.WaitGroup
}

func New(ctx context.Context, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("session")
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		launcher:   opts.Launcher,
		drainer:    opts.Drainer,
		recorder:   opts.Recorder,
		events:     opts.Events,
		terminate:  opts.TerminateOnReplace,
		configHash: opts.ConfigHash,
		logger:     logger,
		ctx:        sctx,
		cancel:     cancel,
		live:       make(map[string]*Run),
	}
	if s.events != nil {
		s.drainer.SetObserver(s.publishOutput)
	}
	return s
}

// SetConfigHash updates the fingerprint recorded with later runs.
func (s *Session) SetConfigHash(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configHash = hash
}

// RunTask launches t's derived command in t's working directory.
func (s *Session) RunTask(t task.Task) (*Run, error) {
	return s.Launch(t.Name, t.ShellCommand(), t.Workdir)
}

// Launch starts command and makes it the current run. The previous run is
// detached from the display. On a launch failure the display is untouched.
func (s *Session) Launch(taskName, command, workdir string) (*Run, error) {
	s.mu.Lock()
	closed, hash := s.closed, s.configHash
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("session closed")
	}

	logger := s.logger.With("task", taskName)
	p, err := s.launcher.Launch(s.ctx, command, workdir)
	if err != nil {
		logger.Warn("launch failed", "command", command, "workdir", workdir, "error", err)
		s.recordLaunchFailure(taskName, command, workdir, hash, err)
		s.publish(events.RunFailed, events.RunData{Task: taskName, Command: command, Workdir: workdir, Error: err.Error()})
		return nil, err
	}

	run := &Run{ID: p.ID, Task: taskName, Command: command, Workdir: p.Dir, Process: p}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = p.Cancel(context.Background())
		return nil, fmt.Errorf("session closed")
	}
	prev := s.current
	s.current = run
	s.live[run.ID] = run
	s.watchers.Add(1)
	// The slot and the drainer source switch together. Attach never takes s.mu.
	s.drainer.Attach(p)
	s.mu.Unlock()

	if prev != nil {
		s.supersede(prev)
	}

	s.publish(events.RunStarted, events.RunData{RunID: run.ID, Task: taskName, Command: command, Workdir: run.Workdir, Pid: p.Pid()})
	s.recordStart(run, hash)
	go s.watch(run)
	return run, nil
}

func (s *Session) supersede(prev *Run) {
	if prev.Process.State().Terminal() {
		return
	}
	prev.Process.Detach()
	if !s.terminate {
		s.logger.Debug("previous run detached", "run_id", prev.ID)
		return
	}
	s.logger.Info("terminating superseded run", "run_id", prev.ID)
	go func() {
		if err := prev.Process.Cancel(s.ctx); err != nil {
			s.logger.Warn("cancel superseded run", "run_id", prev.ID, "error", err)
		}
	}()
}

// watch waits for a run to end and records the outcome.
func (s *Session) watch(run *Run) {
	defer s.watchers.Done()

	<-run.Process.Done()

	code := run.Process.ExitCode()
	req := history.FinishRequest{ExitCode: &code}
	eventType := events.RunFinished
	switch {
	case run.Process.State() == stream.StateCanceled:
		req.Status = history.StatusCanceled
		req.ExitCode = nil
		eventType = events.RunCanceled
	case code == 0:
		req.Status = history.StatusSucceeded
	default:
		req.Status = history.StatusFailed
		if err := run.Process.Err(); err != nil {
			msg := err.Error()
			req.LastError = &msg
		}
	}

	s.logger.Info("run ended", "run_id", run.ID, "task", run.Task, "status", req.Status, "exit_code", code, "duration", run.Process.Duration())
	if s.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
		if err := s.recorder.Finish(ctx, run.ID, req); err != nil {
			s.logger.Warn("record run finish", "run_id", run.ID, "error", err)
		}
		cancel()
	}

	s.publish(eventType, events.RunData{RunID: run.ID, Task: run.Task, Command: run.Command, Workdir: run.Workdir, ExitCode: req.ExitCode})

	s.mu.Lock()
	delete(s.live, run.ID)
	s.mu.Unlock()
}

// Current returns the run attached to the display, or nil.
func (s *Session) Current() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Live returns every run whose process has not ended, including detached ones.
func (s *Session) Live() []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Run, 0, len(s.live))
	for _, r := range s.live {
		out = append(out, r)
	}
	return out
}

// Cancel cancels the current run.
func (s *Session) Cancel(ctx context.Context) error {
	run := s.Current()
	if run == nil || run.Process.State().Terminal() {
		return ErrNoActiveRun
	}
	return run.Process.Cancel(ctx)
}

// Close cancels every live process, waits for their outcomes to be
// recorded, and refuses further launches.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	runs := make([]*Run, 0, len(s.live))
	for _, r := range s.live {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(runs))
	for i, r := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.Process.Cancel(ctx)
		}()
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for runs: %w", ctx.Err()))
	}
	s.cancel()
	if len(runs) > 0 {
		s.logger.Info("session closed", "canceled_runs", len(runs))
	}
	return errors.Join(errs...)
}

func (s *Session) recordStart(run *Run, hash string) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, finishTimeout)
	defer cancel()
	if _, err := s.recorder.Start(ctx, history.StartRequest{
		ID:         run.ID,
		Task:       run.Task,
		Command:    run.Command,
		Workdir:    run.Workdir,
		Pid:        run.Process.Pid(),
		ConfigHash: hash,
	}); err != nil {
		s.logger.Warn("record run start", "run_id", run.ID, "error", err)
	}
}

func (s *Session) recordLaunchFailure(taskName, command, workdir, hash string, launchErr error) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, finishTimeout)
	defer cancel()

	id, err := s.recorder.Start(ctx, history.StartRequest{Task: taskName, Command: command, Workdir: workdir, ConfigHash: hash})
	if err != nil {
		s.logger.Warn("record launch failure", "error", err)
		return
	}
	msg := launchErr.Error()
	if err := s.recorder.Finish(ctx, id, history.FinishRequest{Status: history.StatusLaunchFailed, LastError: &msg}); err != nil {
		s.logger.Warn("record launch failure", "run_id", id, "error", err)
	}
}

func (s *Session) publish(eventType string, data any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}

func (s *Session) publishOutput(src drain.Source, streamName, text string) {
	p, ok := src.(*stream.Process)
	if !ok {
		return
	}
	s.events.Publish(events.RunOutput, events.OutputData{RunID: p.ID, Stream: streamName, Text: text})
}
