// Package http serves the tutor chat API.
package http

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/budget"
	"github.com/fyrsmithlabs/tutord/internal/logging"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
)

// Messages returned before a request reaches the pipeline.
const (
	msgAuthRequired = "Authentication required. Please log in with your Tufts credentials."
	msgRequired     = "Message is required"
	msgBadRequest   = "Invalid request body"
	msgStatusFailed = "Sorry, health status is unavailable right now."
)

// Pipeline executes chat requests. *orchestrator.Orchestrator implements it.
type Pipeline interface {
	Run(ctx context.Context, req orchestrator.Request) orchestrator.Outcome
	Stream(ctx context.Context, req orchestrator.Request) iter.Seq[orchestrator.Event]
}

// HealthChecker reports a user's health points. *budget.Tracker implements it.
type HealthChecker interface {
	Check(ctx context.Context, userID string) (budget.State, error)
	Status(s budget.State) budget.Status
}

// Server provides HTTP endpoints for tutord.
type Server struct {
	echo     *echo.Echo
	pipeline Pipeline
	health   HealthChecker
	identify Identifier
	metrics  *HTTPMetrics
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string

	// Identifier resolves callers. Defaults to a HeaderIdentifier reading
	// X-Tutor-User.
	Identifier Identifier
	// Metrics instruments requests when set.
	Metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(pipeline Pipeline, health HealthChecker, logger *logging.Logger, cfg *Config) (*Server, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if health == nil {
		return nil, fmt.Errorf("health checker cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 5000,
		}
	}
	ident := cfg.Identifier
	if ident == nil {
		ident = HeaderIdentifier{UserHeader: "X-Tutor-User"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		pipeline: pipeline,
		health:   health,
		identify: ident,
		metrics:  cfg.Metrics,
		logger:   logger.Named("http"),
		config:   cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
		}))
	}
	e.Use(s.requestContext)
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}
	e.Use(s.requestLog)

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.POST("", s.handleChat)
	api.POST("/stream", s.handleStream)
	api.GET("/health-status", s.handleHealthStatus)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// requestContext carries the request id into the context so pipeline logs
// can be joined with the access log.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		if rid != "" {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))
		}
		return next(c)
	}
}

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
			err = nil
		}
		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleHealthStatus returns the caller's health points.
func (s *Server) handleHealthStatus(c echo.Context) error {
	id, err := s.identify.Identify(c.Request())
	if err != nil {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: msgAuthRequired})
	}
	ctx := logging.WithUserID(c.Request().Context(), id.UserID)
	state, err := s.health.Check(ctx, id.UserID)
	if err != nil {
		s.logger.Error(ctx, "health status lookup failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msgStatusFailed})
	}
	return c.JSON(http.StatusOK, s.health.Status(state))
}

// handleChat answers one message with a single JSON body.
func (s *Server) handleChat(c echo.Context) error {
	req, code, msg := s.bindChat(c)
	if code != 0 {
		return c.JSON(code, ErrorResponse{Error: msg})
	}
	out := s.pipeline.Run(c.Request().Context(), req)
	return c.JSON(statusFor(out), out)
}

// bindChat decodes and authenticates a chat request. A non-zero code means
// the request was rejected with msg.
func (s *Server) bindChat(c echo.Context) (orchestrator.Request, int, string) {
	id, err := s.identify.Identify(c.Request())
	if err != nil {
		return orchestrator.Request{}, http.StatusUnauthorized, msgAuthRequired
	}
	var body ChatRequest
	if err := c.Bind(&body); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid chat request", zap.Error(err))
		return orchestrator.Request{}, http.StatusBadRequest, msgBadRequest
	}
	if strings.TrimSpace(body.Message) == "" {
		return orchestrator.Request{}, http.StatusBadRequest, msgRequired
	}
	return orchestrator.Request{
		UserID:         id.UserID,
		ConversationID: body.ConversationID,
		Message:        body.Message,
		Platform:       id.Platform,
		RequestID:      c.Response().Header().Get(echo.HeaderXRequestID),
	}, 0, ""
}

// statusFor maps a terminal outcome to an HTTP status code.
func statusFor(out orchestrator.Outcome) int {
	switch {
	case out.OK():
		return http.StatusOK
	case out.State == orchestrator.StateDenied:
		return http.StatusTooManyRequests
	case errors.Is(out.Err, orchestrator.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(out.Err, context.Canceled), errors.Is(out.Err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case isUpstream(out.Err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
