// Package task defines named command definitions loaded from configuration
// and derives the command line each one runs.
package task

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/charlie/internal/config"
)

// Shell selects how a task's command is wrapped before it is handed to the
// host shell.
type Shell string

const (
	ShellNone       Shell = ""
	ShellWSL        Shell = "wsl"
	ShellPowerShell Shell = "powershell"
)

// DefaultWorkdir is used when a task does not set one.
const DefaultWorkdir = "."

var knownKeys = map[string]bool{
	"name":    true,
	"command": true,
	"workdir": true,
	"shell":   true,
}

// Task is an immutable, named command definition.
type Task struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Workdir string `json:"workdir"`
	Shell   Shell  `json:"shell,omitempty"`
}

// ShellCommand returns the literal command line the task runs.
func ShellCommand(t Task) string {
	switch t.Shell {
	case ShellWSL:
		return fmt.Sprintf(`bash -c "%s"`, t.Command)
	case ShellPowerShell:
		return fmt.Sprintf(`powershell "%s"`, t.Command)
	default:
		return t.Command
	}
}

// ShellCommand is shorthand for ShellCommand(t).
func (t Task) ShellCommand() string {
	return ShellCommand(t)
}

// ParseShell maps a config value to a Shell.
func ParseShell(v string) (Shell, error) {
	switch Shell(strings.ToLower(strings.TrimSpace(v))) {
	case ShellNone:
		return ShellNone, nil
	case ShellWSL:
		return ShellWSL, nil
	case ShellPowerShell:
		return ShellPowerShell, nil
	default:
		return ShellNone, fmt.Errorf("unknown shell %q (want wsl, powershell or empty)", v)
	}
}

// FromConfig builds the task list from cfg's job sections.
func FromConfig(cfg *config.Config) ([]Task, error) {
	tasks, err := FromSections(cfg.JobSections())
	if err != nil {
		var cerr *config.ConfigError
		if errors.As(err, &cerr) && cerr.Path == "" {
			cerr.Path = cfg.Path
		}
		return nil, err
	}
	return tasks, nil
}

// FromSections produces one Task per section named "job.<suffix>", in order.
// The task name defaults to the suffix.
func FromSections(sections []config.Section) ([]Task, error) {
	tasks := make([]Task, 0, len(sections))
	names := make(map[string]string, len(sections))

	for _, s := range sections {
		if !strings.HasPrefix(s.Name, config.JobPrefix) {
			continue
		}
		t, err := fromSection(s)
		if err != nil {
			return nil, &config.ConfigError{Section: s.Name, Line: s.Line, Err: err}
		}
		if prev, dup := names[t.Name]; dup {
			return nil, &config.ConfigError{
				Section: s.Name,
				Line:    s.Line,
				Err:     fmt.Errorf("task name %q already defined by [%s]", t.Name, prev),
			}
		}
		names[t.Name] = s.Name
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func fromSection(s config.Section) (Task, error) {
	var unknown []string
	for k := range s.Keys {
		if !knownKeys[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Task{}, fmt.Errorf("unknown keys: %s", strings.Join(unknown, ", "))
	}

	name, ok := s.Keys["name"]
	if !ok {
		name = strings.TrimPrefix(s.Name, config.JobPrefix)
	}
	if strings.TrimSpace(name) == "" {
		return Task{}, errors.New("task name is empty")
	}

	command := s.Keys["command"]
	if strings.TrimSpace(command) == "" {
		return Task{}, errors.New("command is required")
	}

	workdir := s.Keys["workdir"]
	if workdir == "" {
		workdir = DefaultWorkdir
	}

	shell, err := ParseShell(s.Keys["shell"])
	if err != nil {
		return Task{}, err
	}

	return Task{
		Name:    name,
		Command: command,
		Workdir: workdir,
		Shell:   shell,
	}, nil
}

// Find returns the task with the given name.
func Find(tasks []Task, name string) (Task, bool) {
	for _, t := range tasks {
		if t.Name == name {
			return t, true
		}
	}
	return Task{}, false
}
