// Package http provides the operations HTTP server: liveness, readiness and
// Prometheus metrics. It never serves secret values.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/secretkeeper/internal/health"
	"github.com/allisson/secretkeeper/internal/metrics"
)

// HealthReporter runs the dependency health probes.
type HealthReporter interface {
	Health(ctx context.Context) (health.Report, error)
}

// RouterConfig selects the optional parts of the router.
type RouterConfig struct {
	// MetricsProvider enables /metrics and the HTTP metrics middleware when set.
	MetricsProvider  *metrics.Provider
	MetricsNamespace string

	RateLimitEnabled        bool
	RateLimitRequestsPerSec float64
	RateLimitBurst          int

	CORSEnabled      bool
	CORSAllowOrigins string
}

// Server is the operations HTTP server.
type Server struct {
	server *http.Server
	router *gin.Engine
	logger *slog.Logger
	health HealthReporter
}

// NewServer creates a Server. Call SetupRouter before Start.
func NewServer(reporter HealthReporter, host string, port int, logger *slog.Logger) *Server {
	return &Server{
		health: reporter,
		logger: logger,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// SetupRouter builds the gin router. ctx bounds the background cleanup of
// the rate limiter.
func (s *Server) SetupRouter(ctx context.Context, cfg RouterConfig) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	if corsMiddleware := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}

	if cfg.MetricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(cfg.MetricsProvider.MeterProvider(), cfg.MetricsNamespace))
		router.GET("/metrics", gin.WrapH(cfg.MetricsProvider.Handler()))
	}

	router.GET("/healthz", s.healthHandler)

	readiness := []gin.HandlerFunc{}
	if cfg.RateLimitEnabled {
		readiness = append(readiness,
			IPRateLimitMiddleware(ctx, cfg.RateLimitRequestsPerSec, cfg.RateLimitBurst, s.logger))
	}
	readiness = append(readiness, s.readinessHandler)
	router.GET("/readyz", readiness...)

	s.router = router
	s.server.Handler = router
}

// GetHandler returns the http.Handler for testing purposes.
func (s *Server) GetHandler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		s.SetupRouter(ctx, RouterConfig{})
	}

	s.logger.Info("starting operations server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down operations server")
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"healthy": false, "error": "health checks not configured"})
		return
	}

	report, err := s.health.Health(c.Request.Context())
	if err != nil {
		s.logger.Warn("readiness check failed", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"healthy": false, "error": err.Error()})
		return
	}

	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
