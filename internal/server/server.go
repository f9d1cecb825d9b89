// Package server exposes the daemon's HTTP surface: task intake, task
// status, health, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fyrsmithlabs/swarmd/internal/lineage"
	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/orchestrator"
	"github.com/fyrsmithlabs/swarmd/internal/sandbox"
	"github.com/fyrsmithlabs/swarmd/internal/swarm"
)

// Runner drives one task to a terminal state. Implemented by the
// orchestrator.
type Runner interface {
	Run(ctx context.Context, task swarm.Task, profile sandbox.Profile) (orchestrator.Result, error)
}

// Options configures a Server.
type Options struct {
	Port            int
	ShutdownTimeout time.Duration
	// ResultTTL bounds how long a finished task's in-memory status is
	// retained. After expiry the status endpoint serves from the lineage
	// store. Defaults to one hour.
	ResultTTL time.Duration
	Runner    Runner
	Store     lineage.Store
	Logger    *logging.Logger
}

// Server is the HTTP front of the daemon.
type Server struct {
	opts Options
	echo *echo.Echo

	mu      sync.RWMutex
	running map[string]*taskStatus
}

type taskStatus struct {
	LineageID string
	Done      bool
	Result    orchestrator.Result
	Err       error
}

// New builds the server and registers routes.
func New(opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, errors.New("server: runner is required")
	}
	if opts.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("server: logger is required")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("server: invalid port %d", opts.Port)
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = time.Hour
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		opts:    opts,
		echo:    e,
		running: make(map[string]*taskStatus),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.POST("/tasks", s.handleSubmit)
	s.echo.GET("/tasks/:id", s.handleStatus)
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "swarmd"})
}

// SubmitRequest is the JSON body of POST /tasks.
type SubmitRequest struct {
	Payload      string               `json:"payload"`
	Dependencies []sandbox.Dependency `json:"dependencies,omitempty"`
	Command      []string             `json:"command,omitempty"`
}

// SubmitResponse acknowledges an accepted task.
type SubmitResponse struct {
	TaskID    string `json:"task_id"`
	LineageID string `json:"lineage_id"`
}

func (s *Server) handleSubmit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Payload == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "payload is required")
	}

	task := swarm.NewTask(req.Payload)
	profile := sandbox.Profile{
		Dependencies: req.Dependencies,
		Command:      req.Command,
	}

	status := &taskStatus{LineageID: task.LineageID}
	s.mu.Lock()
	s.running[task.LineageID] = status
	s.mu.Unlock()

	// The pipeline outlives the HTTP request.
	go s.runTask(task, profile, status)

	return c.JSON(http.StatusAccepted, SubmitResponse{TaskID: task.ID, LineageID: task.LineageID})
}

func (s *Server) runTask(task swarm.Task, profile sandbox.Profile, status *taskStatus) {
	ctx := logging.WithTask(context.Background(), task.LineageID)
	result, err := s.opts.Runner.Run(ctx, task, profile)

	s.mu.Lock()
	status.Done = true
	status.Result = result
	status.Err = err
	s.mu.Unlock()

	// Finished statuses are evicted after a grace period; the lineage
	// store remains the durable record.
	time.AfterFunc(s.opts.ResultTTL, func() {
		s.mu.Lock()
		if cur, ok := s.running[task.LineageID]; ok && cur == status {
			delete(s.running, task.LineageID)
		}
		s.mu.Unlock()
	})

	if err != nil {
		s.opts.Logger.Error(ctx, "pipeline failed: "+err.Error())
	}
}

// StatusResponse is the JSON body of GET /tasks/:id.
type StatusResponse struct {
	LineageID string               `json:"lineage_id"`
	State     string               `json:"state"`
	Reason    string               `json:"reason,omitempty"`
	Attempts  []lineage.Attempt    `json:"attempts,omitempty"`
	Result    *orchestrator.Result `json:"result,omitempty"`
}

func (s *Server) handleStatus(c echo.Context) error {
	id := c.Param("id")

	s.mu.RLock()
	status, tracked := s.running[id]
	s.mu.RUnlock()

	resp := StatusResponse{LineageID: id}
	if tracked {
		if !status.Done {
			resp.State = "running"
		} else if status.Err != nil {
			resp.State = "error"
			resp.Reason = status.Err.Error()
		} else {
			resp.State = string(status.Result.State)
			resp.Reason = status.Result.Reason
			resp.Result = &status.Result
		}
	}

	rec, err := s.opts.Store.Load(id)
	switch {
	case err == nil:
		resp.Attempts = rec.Attempts
		if resp.State == "" {
			resp.State = string(rec.Disposition)
			resp.Reason = rec.Reason
		}
	case errors.Is(err, lineage.ErrNotFound):
		if !tracked {
			return echo.NewHTTPError(http.StatusNotFound, "unknown lineage")
		}
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "lineage store unavailable")
	}

	return c.JSON(http.StatusOK, resp)
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
// Returns http.ErrServerClosed on clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.opts.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the router for registering additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
