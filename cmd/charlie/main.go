package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	// Bare invocation, or only flags, opens the TUI.
	if len(cliArgs) < 1 {
		return runTUI(nil)
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "--version", "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	// --- NOUNS ---
	case "task":
		return runTaskNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- VERBS ---
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return 0
		}
		return runRun(args)
	case "history":
		if hasHelpFlag(args) {
			printHistoryHelp()
			return 0
		}
		return runHistory(args)
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "tui":
		return runTUI(args)
	}

	if strings.HasPrefix(cmd, "-") {
		return runTUI(cliArgs)
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
	printUsage()
	return 1
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: charlie version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("charlie %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`charlie - ad-hoc task runner

Usage:
  charlie [--config PATH]          Open the task runner TUI
  charlie <command> [flags]

Commands:
  run <task> | --cmd CMD    Run a task or command, streaming its output
  task list                 List configured tasks
  history                   Show recent runs
  serve                     Run the HTTP API
  config check              Validate configuration
  version                   Show version information
  help                      Show this help message

Config is read from --config, $CHARLIE_CONFIG, ./.charlie.yaml,
~/.charlie.yaml or ~/.config/charlie/config.yaml.
`)
}

func printRunHelp() {
	fmt.Println("Usage: charlie run [flags] <task>")
	fmt.Println("       charlie run [flags] --cmd COMMAND")
	fmt.Println()
	fmt.Println("Run a task or ad-hoc command and stream its output to stdout.")
	fmt.Println("Exits with the command's exit code, 124 on timeout, 130 when interrupted.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config PATH     Configuration file")
	fmt.Println("  --cmd COMMAND     Run COMMAND instead of a configured task")
	fmt.Println("  --workdir DIR     Working directory (overrides the task's)")
	fmt.Println("  --timeout DUR     Cancel the run after DUR")
}

func printHistoryHelp() {
	fmt.Println("Usage: charlie history [flags]")
	fmt.Println()
	fmt.Println("Show recent runs from the run history (charlie.history_path).")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config PATH     Configuration file")
	fmt.Println("  --task NAME       Only runs of NAME")
	fmt.Println("  --limit N         Number of runs (default 20)")
	fmt.Println("  --json            Output JSON")
	fmt.Println("  --prune DUR       Delete finished runs older than DUR")
}

func printServeHelp() {
	fmt.Println("Usage: charlie serve [flags]")
	fmt.Println()
	fmt.Println("Run the HTTP API until interrupted.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config PATH     Configuration file")
	fmt.Println("  --listen ADDR     Listen address (overrides charlie.api.listen)")
}

func printTaskNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: charlie task <action>")
	fmt.Fprintln(w, "Actions: list")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: charlie config <action>")
	fmt.Fprintln(w, "Actions: check")
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
