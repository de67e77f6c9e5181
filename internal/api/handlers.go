package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/charlie/internal/history"
	"github.com/mattjoyce/charlie/internal/session"
	"github.com/mattjoyce/charlie/internal/stream"
	"github.com/mattjoyce/charlie/internal/task"
)

const maxRunsLimit = 500

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Tasks:         len(s.taskList()),
		Active:        activeRun(s.runner.Current()),
	})
}

func activeRun(run *session.Run) *ActiveRun {
	if run == nil {
		return nil
	}
	return &ActiveRun{
		RunID:    run.ID,
		Task:     run.Task,
		Command:  run.Command,
		State:    run.Process.State().String(),
		ExitCode: run.Process.ExitCode(),
		Started:  run.Process.Started.UTC(),
	}
}

// handleTasks handles GET /tasks.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.taskList()
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskResponse{Task: t, ShellCommand: t.ShellCommand()})
	}
	respondJSON(w, http.StatusOK, out)
}

// handleRunTask handles POST /run/{task}.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "task")
	t, ok := task.Find(s.taskList(), name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.launch(w, t.Name, t.ShellCommand(), t.Workdir)
}

// handleRunCommand handles POST /run with an ad-hoc command.
func (s *Server) handleRunCommand(w http.ResponseWriter, r *http.Request) {
	var req RunCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		s.writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	if req.Workdir == "" {
		req.Workdir = task.DefaultWorkdir
	}
	s.launch(w, "", req.Command, req.Workdir)
}

func (s *Server) launch(w http.ResponseWriter, taskName, command, workdir string) {
	run, err := s.runner.Launch(taskName, command, workdir)
	if err != nil {
		var lerr *stream.LaunchError
		if errors.As(err, &lerr) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("launch failed", "task", taskName, "error", err)
		s.writeError(w, http.StatusInternalServerError, "launch failed")
		return
	}

	respondJSON(w, http.StatusAccepted, RunResponse{
		RunID:   run.ID,
		Task:    run.Task,
		Command: run.Command,
		Workdir: run.Workdir,
		Pid:     run.Process.Pid(),
		Status:  string(history.StatusRunning),
	})
}

// handleCancel handles POST /cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	run := s.runner.Current()
	if err := s.runner.Cancel(r.Context()); err != nil {
		if errors.Is(err, session.ErrNoActiveRun) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("cancel failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	resp := map[string]string{"status": string(history.StatusCanceled)}
	if run != nil {
		resp["run_id"] = run.ID
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleRuns handles GET /runs?task=&limit=.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run history disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunsLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.runs.Recent(r.Context(), r.URL.Query().Get("task"), limit)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// handleGetRun handles GET /runs/{runID}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run history disabled")
		return
	}

	run, err := s.runs.Get(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, history.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// handleOutput handles GET /output: the drained text of the current run.
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	if s.output == nil {
		s.writeError(w, http.StatusServiceUnavailable, "output not available")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.output.String()))
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.taskList()))
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
