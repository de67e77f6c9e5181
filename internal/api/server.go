package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/charlie/internal/events"
	"github.com/mattjoyce/charlie/internal/history"
	"github.com/mattjoyce/charlie/internal/session"
	"github.com/mattjoyce/charlie/internal/task"
)

// Runner launches and cancels commands. *session.Session implements it.
type Runner interface {
	Launch(taskName, command, workdir string) (*session.Run, error)
	Cancel(ctx context.Context) error
	Current() *session.Run
}

// RunLister reads run history. *history.Store implements it.
type RunLister interface {
	Recent(ctx context.Context, task string, limit int) ([]history.Run, error)
	Get(ctx context.Context, id string) (*history.Run, error)
}

// OutputView exposes the current display text. *drain.Buffer implements it.
type OutputView interface {
	String() string
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the bearer token. Empty disables authentication.
	APIKey string
}

// Server is the HTTP front end of one session.
type Server struct {
	config    Config
	runner    Runner
	runs      RunLister
	output    OutputView
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	mu    sync.RWMutex
	tasks []task.Task
}

// New creates a server. runs and output may be nil.
func New(config Config, runner Runner, runs RunLister, output OutputView, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		runner:    runner,
		runs:      runs,
		output:    output,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// SetTasks replaces the task set served by /tasks and /run/{task}.
func (s *Server) SetTasks(tasks []task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append([]task.Task(nil), tasks...)
}

func (s *Server) taskList() []task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks
}

// Start serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
		// Open /events streams end when ctx does, so Shutdown can finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.APIKey != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/openapi.json", s.handleOpenAPI)
		r.Get("/tasks", s.handleTasks)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/output", s.handleOutput)
		r.Post("/run", s.handleRunCommand)
		r.Post("/run/{task}", s.handleRunTask)
		r.Post("/cancel", s.handleCancel)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
