package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mattjoyce/charlie/internal/log"
)

// Reload is delivered when the watched config file changes content.
// Exactly one of Config and Err is set.
type Reload struct {
	Config *Config
	Err    error
}

// Watcher reloads a config file when its content fingerprint changes.
type Watcher struct {
	path        string
	fingerprint string
	debounce    time.Duration

	watcher *fsnotify.Watcher
	updates chan Reload
	logger  *slog.Logger
}

// NewWatcher creates a watcher for the file cfg was loaded from.
func NewWatcher(cfg *Config) (*Watcher, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, errors.New("config has no source path")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		path:        cfg.Path,
		fingerprint: cfg.Fingerprint,
		debounce:    150 * time.Millisecond,
		watcher:     fw,
		updates:     make(chan Reload, 4),
		logger:      log.WithComponent("config-watcher"),
	}, nil
}

// Start watches the config file's directory; editors often replace the file
// by rename, which a watch on the file itself would miss.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	go w.eventLoop(ctx)
	return nil
}

// Updates returns the reload channel. It is closed when the watcher stops.
func (w *Watcher) Updates() <-chan Reload {
	return w.updates
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.updates)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C
	pending := false

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending = true
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			if !pending {
				continue
			}
			pending = false
			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	fp, err := FingerprintFile(w.path)
	if err != nil {
		// Mid-rename; the Create event that follows retries.
		w.logger.Debug("config not readable yet", "error", err)
		return
	}
	if fp == w.fingerprint {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous tasks", "error", err)
		w.send(ctx, Reload{Err: err})
		return
	}
	w.fingerprint = cfg.Fingerprint
	w.logger.Info("config reloaded", "path", w.path, "fingerprint", cfg.Fingerprint)
	w.send(ctx, Reload{Config: cfg})
}

func (w *Watcher) send(ctx context.Context, r Reload) {
	select {
	case w.updates <- r:
	case <-ctx.Done():
	}
}
