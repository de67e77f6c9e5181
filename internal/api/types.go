package api

import (
	"time"

	"github.com/mattjoyce/charlie/internal/task"
)

// RunCommandRequest is the JSON body for POST /run.
type RunCommandRequest struct {
	Command string `json:"command"`
	Workdir string `json:"workdir,omitempty"`
}

// RunResponse is returned when a launch succeeds.
type RunResponse struct {
	RunID   string `json:"run_id"`
	Task    string `json:"task,omitempty"`
	Command string `json:"command"`
	Workdir string `json:"workdir"`
	Pid     int    `json:"pid"`
	Status  string `json:"status"`
}

// ActiveRun describes the run currently attached to the session.
type ActiveRun struct {
	RunID    string    `json:"run_id"`
	Task     string    `json:"task,omitempty"`
	Command  string    `json:"command"`
	State    string    `json:"state"`
	ExitCode int       `json:"exit_code"`
	Started  time.Time `json:"started_at"`
}

// TaskResponse is one entry of GET /tasks.
type TaskResponse struct {
	task.Task
	ShellCommand string `json:"shell_command"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string     `json:"status"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Tasks         int        `json:"tasks"`
	Active        *ActiveRun `json:"active,omitempty"`
}
