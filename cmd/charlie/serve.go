package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/charlie/internal/api"
	"github.com/mattjoyce/charlie/internal/config"
	"github.com/mattjoyce/charlie/internal/drain"
	"github.com/mattjoyce/charlie/internal/events"
	"github.com/mattjoyce/charlie/internal/log"
	"github.com/mattjoyce/charlie/internal/session"
	"github.com/mattjoyce/charlie/internal/task"
)

// outputLimit caps the /output buffer.
const outputLimit = 4 << 20

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	listen := fs.String("listen", "", "Listen address")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx, *configPath, logService)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer a.Close()
	logger := a.logger

	apiCfg := a.cfg.Settings.API
	if *listen != "" {
		apiCfg.Listen = *listen
	}
	if !apiCfg.Enabled && *listen == "" {
		logger.Info("api disabled in config, serving anyway", "listen", apiCfg.Listen)
	}

	hub := events.NewHub(events.DefaultCapacity)
	buf := drain.NewBuffer(outputLimit)
	sess, d, err := a.newSession(ctx, buf, hub)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		return 1
	}

	var runs api.RunLister
	if a.history != nil {
		runs = a.history
	}
	server := api.New(api.Config{Listen: apiCfg.Listen, APIKey: apiCfg.APIKey}, sess, runs, buf, hub, log.WithComponent("api"))
	server.SetTasks(a.tasks)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)

	go func() {
		if err := d.Run(ctx, a.cfg.Settings.TickInterval); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("drain: %w", err)
		}
	}()

	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	watcher, err := a.watchConfig(ctx)
	if err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	}
	if watcher != nil {
		defer watcher.Close()
		go applyReloads(ctx, watcher.Updates(), server, sess, hub)
	}

	logger.Info("charlie serving (press Ctrl+C to stop)", "version", version, "listen", apiCfg.Listen, "tasks", len(a.tasks))

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := sess.Close(closeCtx); err != nil {
		logger.Warn("cancel live processes", "error", err)
	}
	cancel()

	logger.Info("charlie stopped")
	return code
}

// applyReloads swaps the served task set on every successful reload. A
// failed reload keeps the previous tasks.
func applyReloads(ctx context.Context, updates <-chan config.Reload, server *api.Server, sess *session.Session, hub *events.Hub) {
	logger := log.WithComponent("reload")
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-updates:
			if !ok {
				return
			}
			if r.Err != nil {
				logger.Warn("config reload failed, keeping previous tasks", "error", r.Err)
				hub.Publish(events.TasksReloaded, events.ReloadData{Error: r.Err.Error()})
				continue
			}
			tasks, err := task.FromConfig(r.Config)
			if err != nil {
				logger.Warn("config reload failed, keeping previous tasks", "error", err)
				hub.Publish(events.TasksReloaded, events.ReloadData{Path: r.Config.Path, Error: err.Error()})
				continue
			}
			server.SetTasks(tasks)
			sess.SetConfigHash(r.Config.Fingerprint)
			hub.Publish(events.TasksReloaded, events.ReloadData{
				Path:        r.Config.Path,
				Fingerprint: r.Config.Fingerprint,
				Tasks:       len(tasks),
			})
			logger.Info("tasks reloaded", "tasks", len(tasks), "fingerprint", r.Config.Fingerprint)
		}
	}
}
