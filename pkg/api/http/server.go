package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/internal/application/engine"
	"github.com/jcoler76/nectar-api-sub011/internal/application/runs"
	"github.com/jcoler76/nectar-api-sub011/internal/application/triggers"
	"github.com/jcoler76/nectar-api-sub011/internal/application/workers"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// Server represents the HTTP API server
type Server struct {
	router    *gin.Engine
	server    *http.Server
	triggers  *triggers.Service
	workflows ports.WorkflowStore
	tracker   *runs.Tracker
	executor  *engine.Executor
	health    *workers.HealthMonitor
	logger    *zap.Logger

	maxUploadSize int64
}

// Config holds HTTP server configuration
type Config struct {
	Port          int
	Triggers      *triggers.Service
	Workflows     ports.WorkflowStore
	Tracker       *runs.Tracker
	Executor      *engine.Executor
	Health        *workers.HealthMonitor
	Logger        *zap.Logger
	MaxUploadSize int64
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:        router,
		triggers:      cfg.Triggers,
		workflows:     cfg.Workflows,
		tracker:       cfg.Tracker,
		executor:      cfg.Executor,
		health:        cfg.Health,
		logger:        cfg.Logger,
		maxUploadSize: cfg.MaxUploadSize,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Trigger endpoints
		v1.POST("/triggers/form/:workflowId", s.handleFormTrigger)
		v1.POST("/triggers/file/:workflowId", s.handleFileTrigger)
		v1.POST("/triggers/email/:workflowId", s.handleEmailTrigger)

		// Workflow endpoints
		v1.POST("/workflows", s.handleSaveWorkflow)
		v1.GET("/workflows", s.handleListWorkflows)
		v1.GET("/workflows/:id", s.handleGetWorkflow)
		v1.GET("/workflows/:id/runs", s.handleListRuns)

		// Run endpoints
		v1.GET("/runs/:id", s.handleGetRun)
		v1.POST("/runs/:id/cancel", s.handleCancelRun)
	}
}

// SetupWebSocket adds WebSocket handler to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleRunStream(*gin.Context)
}) {
	s.router.GET("/api/v1/runs/:id/ws", handler.HandleRunStream)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
