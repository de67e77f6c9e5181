package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattjoyce/charlie/internal/config"
	"github.com/mattjoyce/charlie/internal/drain"
	"github.com/mattjoyce/charlie/internal/events"
	"github.com/mattjoyce/charlie/internal/history"
	"github.com/mattjoyce/charlie/internal/lock"
	"github.com/mattjoyce/charlie/internal/log"
	"github.com/mattjoyce/charlie/internal/session"
	"github.com/mattjoyce/charlie/internal/storage"
	"github.com/mattjoyce/charlie/internal/stream"
	"github.com/mattjoyce/charlie/internal/task"
)

// app holds what every long-running command needs: config, tasks,
// logging and the optional run history.
type app struct {
	cfg     *config.Config
	tasks   []task.Task
	logger  *slog.Logger
	logFile *os.File

	db      *sql.DB
	history *history.Store
	lock    *lock.PIDLock
}

// loadConfig loads configPath, or discovers one when empty. Without a
// discovered file the defaults apply unless required is set.
func loadConfig(configPath string, required bool) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			if required {
				return nil, err
			}
			return config.Defaults(), nil
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

// openApp loads config and tasks, sets up logging and opens history.
func openApp(ctx context.Context, configPath string, mode logMode) (*app, error) {
	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return nil, err
	}
	tasks, err := task.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, tasks: tasks}
	if err := a.setupLogging(mode); err != nil {
		return nil, err
	}
	a.logger = log.WithComponent("main")
	if cfg.Path != "" {
		a.logger.Debug("config loaded", "path", cfg.Path, "fingerprint", cfg.Fingerprint, "tasks", len(tasks))
	}

	if err := a.openHistory(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// logMode selects where logs go when no log_file is configured.
type logMode int

const (
	// logService logs to stderr at the configured level.
	logService logMode = iota
	// logBatch logs warnings and errors to stderr; stdout carries output.
	logBatch
	// logInteractive discards logs; the terminal belongs to the TUI.
	logInteractive
)

func (a *app) setupLogging(mode logMode) error {
	s := a.cfg.Settings
	level := s.LogLevel
	var w io.Writer = os.Stderr
	switch {
	case s.LogFile != "":
		path, err := config.ExpandHome(s.LogFile)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		w = f
	case mode == logInteractive:
		w = io.Discard
	case mode == logBatch && log.ParseLevel(level) < slog.LevelWarn:
		level = "warn"
	}
	log.SetupTo(w, level, s.LogFormat)
	return nil
}

// openHistory opens the run history when configured. History has a single
// writer: the process holding the lock. It alone may mark rows left
// running by a crashed instance as failed.
func (a *app) openHistory(ctx context.Context) error {
	path := a.cfg.Settings.HistoryPath
	if path == "" {
		return nil
	}
	path, err := config.ExpandHome(path)
	if err != nil {
		return err
	}

	l, err := lock.Acquire(lock.PathFor(path))
	if errors.Is(err, lock.ErrLocked) {
		holder, _ := lock.Holder(lock.PathFor(path))
		a.logger.Warn("run history in use by another instance, not recording", "path", path, "holder_pid", holder)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock history: %w", err)
	}
	a.lock = l

	db, err := openHistoryDB(ctx, path)
	if err != nil {
		return err
	}
	a.db = db
	a.history = history.New(db)

	n, err := a.history.RecoverAbandoned(ctx)
	if err != nil {
		return fmt.Errorf("recover abandoned runs: %w", err)
	}
	if n > 0 {
		a.logger.Info("marked abandoned runs as failed", "count", n)
	}
	return nil
}

func openHistoryDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return db, nil
}

// newSession builds the launcher, drain loop and session for sink. hub may
// be nil.
func (a *app) newSession(ctx context.Context, sink drain.Sink, hub *events.Hub) (*session.Session, *drain.Drainer, error) {
	s := a.cfg.Settings
	dec, err := drain.NewDecoder(s.Encoding)
	if err != nil {
		return nil, nil, err
	}
	d := drain.New(sink, dec, s.DrainCap)

	opts := session.Options{
		Launcher:           stream.NewLauncher(s.Shell, s.GracePeriod),
		Drainer:            d,
		TerminateOnReplace: s.TerminateOnReplace,
		ConfigHash:         a.cfg.Fingerprint,
		Logger:             log.WithComponent("session"),
	}
	if a.history != nil {
		opts.Recorder = a.history
	}
	if hub != nil {
		opts.Events = hub
	}
	return session.New(ctx, opts), d, nil
}

// watchConfig starts a watcher when the config came from a file.
func (a *app) watchConfig(ctx context.Context) (*config.Watcher, error) {
	if a.cfg.Path == "" {
		return nil, nil
	}
	w, err := config.NewWatcher(a.cfg)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.lock != nil {
		_ = a.lock.Release()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
