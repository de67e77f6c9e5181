package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/charlie/internal/config"
	"github.com/mattjoyce/charlie/internal/doctor"
	"github.com/mattjoyce/charlie/internal/drain"
	"github.com/mattjoyce/charlie/internal/history"
	"github.com/mattjoyce/charlie/internal/log"
	"github.com/mattjoyce/charlie/internal/stream"
	"github.com/mattjoyce/charlie/internal/task"
	"github.com/mattjoyce/charlie/internal/tui"
)

const (
	exitTimeout     = 124
	exitInterrupted = 130
	shutdownTimeout = 30 * time.Second
)

// parseInterspersed parses flags that may follow positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

// --- TUI ---

func runTUI(args []string) int {
	fs := flag.NewFlagSet("charlie", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx, *configPath, logInteractive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer a.Close()

	buf := drain.NewBuffer(0)
	sess, d, err := a.newSession(ctx, buf, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}

	opts := tui.Options{
		Session:      sess,
		Drainer:      d,
		Buffer:       buf,
		Tasks:        a.tasks,
		TickInterval: a.cfg.Settings.TickInterval,
		Logger:       log.WithComponent("tui"),
	}
	watcher, err := a.watchConfig(ctx)
	if err != nil {
		a.logger.Warn("config hot reload disabled", "error", err)
	}
	if watcher != nil {
		defer watcher.Close()
		opts.Reloads = watcher.Updates()
	}

	a.logger.Info("tui starting", "version", version, "config", a.cfg.Path, "tasks", len(a.tasks))
	_, runErr := tea.NewProgram(tui.New(opts), tea.WithAltScreen()).Run()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := sess.Close(closeCtx); err != nil {
		a.logger.Warn("cancel live processes", "error", err)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", runErr)
		return 1
	}
	return 0
}

// --- RUN ---

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	command := fs.String("cmd", "", "Ad-hoc command to run")
	workdir := fs.String("workdir", "", "Working directory")
	timeout := fs.Duration("timeout", 0, "Cancel the run after this duration")

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if (len(positional) == 1) == (*command != "") || len(positional) > 1 {
		fmt.Fprintln(os.Stderr, "Usage: charlie run <task> | --cmd COMMAND [--workdir DIR] [--timeout DUR]")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, *configPath, logBatch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	defer a.Close()

	name, cmdline, dir := "", *command, *workdir
	if len(positional) == 1 {
		t, ok := task.Find(a.tasks, positional[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown task: %s\n", positional[0])
			return 1
		}
		name, cmdline = t.Name, t.ShellCommand()
		if dir == "" {
			dir = t.Workdir
		}
	}
	if dir == "" {
		dir = task.DefaultWorkdir
	}

	// Not tied to the signal context: an interrupt goes through Cancel and
	// its grace period.
	sess, d, err := a.newSession(context.Background(), drain.WriterSink{W: os.Stdout}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = sess.Close(closeCtx)
	}()

	run, err := sess.Launch(name, cmdline, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		var lerr *stream.LaunchError
		if errors.As(err, &lerr) && lerr.Op == "resolve" {
			return 127
		}
		return 1
	}

	drainCtx, stopDrain := context.WithCancel(context.Background())
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		_ = d.Run(drainCtx, a.cfg.Settings.TickInterval)
	}()

	var deadline <-chan time.Time
	if *timeout > 0 {
		timer := time.NewTimer(*timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	code := 0
	select {
	case <-run.Process.Done():
		code = run.Process.ExitCode()
	case <-ctx.Done():
		cancelRun(sess.Cancel)
		code = exitInterrupted
	case <-deadline:
		cancelRun(sess.Cancel)
		fmt.Fprintf(os.Stderr, "charlie: timed out after %s\n", *timeout)
		code = exitTimeout
	}

	stopDrain()
	<-drained
	if err := run.Process.Err(); err != nil && code != exitInterrupted && code != exitTimeout {
		fmt.Fprintf(os.Stderr, "charlie: %v\n", err)
	}
	return code
}

func cancelRun(cancel func(context.Context) error) {
	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	_ = cancel(ctx)
}

// --- TASK ---

func runTaskNoun(args []string) int {
	if len(args) < 1 {
		printTaskNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printTaskNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "list", "ls":
		return runTaskList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown task action: %s\n", args[0])
		return 1
	}
}

func runTaskList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	tasks, err := task.FromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid tasks: %v\n", err)
		return 1
	}

	if *jsonOut {
		type row struct {
			task.Task
			ShellCommand string `json:"shell_command"`
		}
		out := make([]row, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, row{Task: t, ShellCommand: t.ShellCommand()})
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(tasks) == 0 {
		fmt.Printf("No tasks defined in %s\n", cfg.Path)
		return 0
	}
	width := len("TASK")
	for _, t := range tasks {
		width = max(width, len(t.Name))
	}
	fmt.Printf("%-*s  %-20s  %s\n", width, "TASK", "WORKDIR", "COMMAND")
	for _, t := range tasks {
		fmt.Printf("%-*s  %-20s  %s\n", width, t.Name, t.Workdir, t.ShellCommand())
	}
	return 0
}

// --- HISTORY ---

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	taskName := fs.String("task", "", "Only runs of this task")
	limit := fs.Int("limit", 20, "Number of runs")
	jsonOut := fs.Bool("json", false, "Output JSON")
	prune := fs.Duration("prune", 0, "Delete finished runs older than this")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be positive")
		return 1
	}

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.Settings.HistoryPath == "" {
		fmt.Fprintln(os.Stderr, "Run history is disabled (set charlie.history_path)")
		return 1
	}

	ctx := context.Background()
	db, err := openHistoryDB(ctx, cfg.Settings.HistoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer db.Close()
	store := history.New(db)

	if *prune > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-*prune))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
			return 1
		}
		fmt.Printf("Pruned %d run(s) older than %s\n", n, *prune)
		return 0
	}

	runs, err := store.Recent(ctx, *taskName, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return 0
	}
	fmt.Printf("%-8s  %-19s  %-13s  %-4s  %-10s  %s\n", "ID", "STARTED", "STATUS", "EXIT", "DURATION", "COMMAND")
	for _, r := range runs {
		exit := "-"
		if r.ExitCode != nil {
			exit = fmt.Sprintf("%d", *r.ExitCode)
		}
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.Duration().Round(time.Millisecond).String()
		}
		label := r.Command
		if r.Task != "" {
			label = r.Task + ": " + r.Command
		}
		fmt.Printf("%-8s  %-19s  %-13s  %-4s  %-10s  %s\n",
			shortID(r.ID), r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status, exit, dur, label)
	}
	return 0
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- CONFIG ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfig(configPath, true)
	if err != nil {
		var cerr *config.ConfigError
		if errors.As(err, &cerr) {
			fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		}
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch strings.ToLower(format) {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Printf("%s (%s)\n", cfg.Path, cfg.Fingerprint)
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}
