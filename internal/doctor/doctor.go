// Package doctor checks a loaded configuration against the host: whether the
// shell resolves, task workdirs exist, and wrapper shells are installed.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/mattjoyce/charlie/internal/config"
	"github.com/mattjoyce/charlie/internal/task"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Tasks    int     `json:"tasks"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config

	// lookPath and stat are replaced in tests.
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, stat: os.Stat}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateShell(r)
	tasks := d.validateTasks(r)
	d.validateWorkdirs(r, tasks)
	d.warnWrapperShells(r, tasks)
	d.warnIgnoredSections(r)
	d.validateAPI(r)

	r.Tasks = len(tasks)
	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateShell checks the host shell resolves on PATH.
func (d *Doctor) validateShell(r *Result) {
	shell := d.cfg.Settings.Shell
	if len(shell) == 0 {
		shell = config.DefaultShell()
	}
	if _, err := d.lookPath(shell[0]); err != nil {
		d.addError(r, "shell", "charlie.shell", fmt.Sprintf("shell %q not found: %v", shell[0], err))
	}
}

// validateTasks builds the task set; any definition error is fatal.
func (d *Doctor) validateTasks(r *Result) []task.Task {
	tasks, err := task.FromConfig(d.cfg)
	if err != nil {
		d.addError(r, "tasks", "", err.Error())
		return nil
	}
	if len(tasks) == 0 {
		d.addWarning(r, "tasks", "", "no job.* sections defined")
	}
	return tasks
}

// validateWorkdirs warns about workdirs that do not exist yet. A launch
// would fail, but the directory may be created later.
func (d *Doctor) validateWorkdirs(r *Result, tasks []task.Task) {
	for _, t := range tasks {
		field := config.JobPrefix + t.Name + ".workdir"
		dir, err := config.ExpandHome(t.Workdir)
		if err != nil {
			d.addWarning(r, "workdir", field, err.Error())
			continue
		}
		info, err := d.stat(dir)
		switch {
		case err != nil:
			d.addWarning(r, "workdir", field, fmt.Sprintf("working directory %q does not exist", t.Workdir))
		case !info.IsDir():
			d.addWarning(r, "workdir", field, fmt.Sprintf("working directory %q is not a directory", t.Workdir))
		}
	}
}

// warnWrapperShells warns when a task's wrapper binary is missing.
func (d *Doctor) warnWrapperShells(r *Result, tasks []task.Task) {
	for _, t := range tasks {
		var bin string
		switch t.Shell {
		case task.ShellWSL:
			bin = "bash"
		case task.ShellPowerShell:
			bin = "powershell"
		default:
			continue
		}
		if _, err := d.lookPath(bin); err != nil {
			d.addWarning(r, "shell", config.JobPrefix+t.Name+".shell",
				fmt.Sprintf("task wraps its command in %s, which is not on PATH", bin))
		}
	}
}

func (d *Doctor) warnIgnoredSections(r *Result) {
	for _, s := range d.cfg.Sections {
		if !strings.HasPrefix(s.Name, config.JobPrefix) {
			d.addWarning(r, "sections", s.Name, "section ignored (not a job.* section)")
		}
	}
}

// validateAPI flags an unauthenticated API reachable beyond loopback.
func (d *Doctor) validateAPI(r *Result) {
	api := d.cfg.Settings.API
	if !api.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(api.Listen)
	if err != nil {
		d.addError(r, "api", "charlie.api.listen", fmt.Sprintf("invalid listen address %q: %v", api.Listen, err))
		return
	}
	if api.APIKey == "" && !isLoopback(host) {
		d.addWarning(r, "api", "charlie.api.api_key",
			fmt.Sprintf("API listens on %s without an api_key; anyone who can reach it can run commands", api.Listen))
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		fmt.Fprintf(&b, "Configuration valid (%d task(s)).\n", r.Tasks)
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d task(s), %d warning(s))\n", r.Tasks, len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
