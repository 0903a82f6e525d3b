// Package status exposes a small HTTP surface for observing a running
// workflow: liveness, Prometheus metrics, and a live run snapshot fed
// by orchestrator progress events.
package status

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convergd/internal/hook"
	"github.com/fyrsmithlabs/convergd/internal/orchestrator"
)

// Config holds status server configuration.
type Config struct {
	// Enabled starts the server alongside a run. Off by default; the
	// CLI is the primary interface.
	Enabled bool `koanf:"enabled"`

	// Addr is the listen address.
	Addr string `koanf:"addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns status server defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Addr:            "localhost:9464",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("status server enabled but addr is empty")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown timeout must not be negative")
	}
	return nil
}

// runState is the latest observed workflow position. Guarded by its
// own mutex so Record never blocks on a slow HTTP response.
type runState struct {
	mu        sync.RWMutex
	stage     orchestrator.Phase
	substage  string
	iteration int
	hooks     map[string]hook.Snapshot
	updatedAt time.Time
}

// RunStatusResponse is the response body for GET /api/v1/run.
type RunStatusResponse struct {
	Stage     orchestrator.Phase `json:"stage"`
	Substage  string             `json:"substage,omitempty"`
	Iteration int                `json:"iteration"`
	Hooks     []hook.Snapshot    `json:"hooks"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Server serves the status endpoints. It implements
// orchestrator.ProgressSink so the orchestrator can feed it directly.
type Server struct {
	echo   *echo.Echo
	logger *zap.Logger
	config *Config
	state  runState
}

// NewServer creates a status server.
func NewServer(cfg *Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		logger: logger,
		config: cfg,
	}
	s.state.stage = orchestrator.PhaseInitializing
	s.state.hooks = make(map[string]hook.Snapshot)

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/run", s.handleRun)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleRun(c echo.Context) error {
	s.state.mu.RLock()
	resp := RunStatusResponse{
		Stage:     s.state.stage,
		Substage:  s.state.substage,
		Iteration: s.state.iteration,
		Hooks:     make([]hook.Snapshot, 0, len(s.state.hooks)),
		UpdatedAt: s.state.updatedAt,
	}
	for _, snap := range s.state.hooks {
		resp.Hooks = append(resp.Hooks, snap)
	}
	s.state.mu.RUnlock()

	sort.Slice(resp.Hooks, func(i, j int) bool { return resp.Hooks[i].Name < resp.Hooks[j].Name })
	return c.JSON(http.StatusOK, resp)
}

// Record updates the live snapshot from a progress event. It never
// returns an error; the orchestrator would swallow one anyway.
func (s *Server) Record(event orchestrator.ProgressEvent) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	s.state.stage = event.Stage
	s.state.substage = event.Substage
	if event.Iteration > 0 {
		s.state.iteration = event.Iteration
	}
	if event.Hook != nil {
		s.state.hooks[event.Hook.Name] = *event.Hook
	}
	s.state.updatedAt = event.Timestamp
	return nil
}

// Start starts the HTTP server. Blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting status server", zap.String("addr", s.config.Addr))
	return s.echo.Start(s.config.Addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down status server")
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
