package history

import (
	"errors"
	"time"
)

type Status string

const (
	StatusRunning      Status = "running"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusCanceled     Status = "canceled"
	StatusLaunchFailed Status = "launch_failed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusLaunchFailed:
		return true
	default:
		return false
	}
}

// Run is the metadata of one launch. Output is never stored.
type Run struct {
	ID         string     `json:"id"`
	Task       string     `json:"task,omitempty"`
	Command    string     `json:"command"`
	Workdir    string     `json:"workdir"`
	Status     Status     `json:"status"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Pid        int        `json:"pid,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastError  *string    `json:"last_error,omitempty"`
	ConfigHash string     `json:"config_hash,omitempty"`
}

// Duration returns the run time, or zero for unfinished runs.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StartRequest describes a run about to be recorded.
type StartRequest struct {
	// ID defaults to a fresh UUID.
	ID         string
	Task       string
	Command    string
	Workdir    string
	Pid        int
	ConfigHash string
}

// FinishRequest carries the outcome of a run.
type FinishRequest struct {
	Status    Status
	ExitCode  *int
	LastError *string
}

var ErrRunNotFound = errors.New("run not found")
