// Package http provides the HTTP API for nbfix.
package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbfix/internal/config"
	"github.com/fyrsmithlabs/nbfix/internal/executor"
	"github.com/fyrsmithlabs/nbfix/internal/logging"
	"github.com/fyrsmithlabs/nbfix/internal/orchestrator"
	"github.com/fyrsmithlabs/nbfix/internal/secrets"
)

// Repairer runs a repair session.
type Repairer interface {
	Run(ctx context.Context, notebookPath string, opts ...orchestrator.RunOption) (*orchestrator.Report, error)
}

// Server provides HTTP endpoints for nbfix.
type Server struct {
	echo     *echo.Echo
	runner   executor.Runner
	repairer Repairer
	scrubber secrets.Scrubber
	locks    *pathLocks
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// APIToken enables bearer authentication on /api/v1 when set.
	APIToken config.Secret
	// NotebookRoot restricts notebook paths to this directory when set.
	NotebookRoot string
}

// ConfigFrom converts the file configuration.
func ConfigFrom(c config.ServerConfig) *Config {
	return &Config{Host: c.Host, Port: c.Port, APIToken: c.APIToken, NotebookRoot: c.NotebookRoot}
}

// NewServer creates a new HTTP server.
func NewServer(runner executor.Runner, repairer Repairer, scrubber secrets.Scrubber, logger *zap.Logger, cfg *Config) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if repairer == nil {
		return nil, fmt.Errorf("repairer cannot be nil")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(newRequestMetrics(otel.Meter(meterName), logger).middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		runner:   runner,
		repairer: repairer,
		scrubber: scrubber,
		locks:    newPathLocks(),
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	if s.config.APIToken.IsSet() {
		v1.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Validator: func(key string, _ echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIToken.Value())) == 1, nil
			},
		}))
	}
	v1.POST("/execute", s.handleExecute)
	v1.POST("/repair", s.handleRepair)
	v1.POST("/scrub", s.handleScrub)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleExecute runs a notebook once and reports the extracted error.
func (s *Server) handleExecute(c echo.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid execute request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	path, err := s.resolve(req.NotebookPath)
	if err != nil {
		return err
	}

	if !s.locks.tryLock(path) {
		return echo.NewHTTPError(http.StatusConflict, "notebook is busy")
	}
	defer s.locks.unlock(path)

	res, err := s.runner.Execute(s.requestContext(c, path), path)
	if err != nil {
		return s.infraError(err)
	}

	resp := ExecuteResponse{
		NotebookPath: path,
		OK:           res.OK,
		DurationMS:   res.Duration.Milliseconds(),
	}
	if res.Failure != nil {
		details := res.Failure.Details
		resp.Error = &details
	}
	return c.JSON(http.StatusOK, resp)
}

// handleRepair runs a full repair session. Only one session per notebook
// may run at a time.
func (s *Server) handleRepair(c echo.Context) error {
	var req RepairRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid repair request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.MaxIterations < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_iterations must not be negative")
	}
	path, err := s.resolve(req.NotebookPath)
	if err != nil {
		return err
	}

	if !s.locks.tryLock(path) {
		return echo.NewHTTPError(http.StatusConflict, "a repair session is already running for this notebook")
	}
	defer s.locks.unlock(path)

	report, err := s.repairer.Run(s.requestContext(c, path), path, orchestrator.WithMaxIterations(req.MaxIterations))
	if err != nil {
		return s.infraError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// handleScrub shows what the planner would redact from content.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result := s.scrubber.Scrub(req.Content)

	s.logger.Debug("scrubbed content", zap.Int("findings", result.TotalFindings))

	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Scrubbed,
		FindingsCount: result.TotalFindings,
	})
}

// resolve validates a requested notebook path and returns its absolute form.
func (s *Server) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "notebook_path field is required")
	}
	if filepath.Ext(path) != ".ipynb" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "notebook_path must be an .ipynb file")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid notebook_path")
	}
	abs = realPath(abs)
	if root := s.config.NotebookRoot; root != "" {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			return "", echo.NewHTTPError(http.StatusInternalServerError, "invalid notebook root")
		}
		rel, err := filepath.Rel(realPath(rootAbs), abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", echo.NewHTTPError(http.StatusForbidden, "notebook_path is outside the notebook root")
		}
	}
	return abs, nil
}

// realPath resolves symlinks in an absolute path. Missing trailing elements
// are kept as written below their nearest existing ancestor, so a not-found
// error still surfaces from the executor.
func realPath(abs string) string {
	var missing []string
	for p := abs; ; {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return abs
		}
		missing = append([]string{filepath.Base(p)}, missing...)
		p = parent
	}
}

func (s *Server) requestContext(c echo.Context, path string) context.Context {
	ctx := logging.WithRequestID(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID))
	return logging.WithNotebookPath(ctx, path)
}

func (s *Server) infraError(err error) error {
	switch {
	case errors.Is(err, executor.ErrNotebookNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "notebook not found")
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
