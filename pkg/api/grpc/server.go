package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jcoler76/nectar-api-sub011/internal/application/workers"
)

// Server represents the gRPC API server
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	monitor  *workers.HealthMonitor
	logger   *zap.Logger

	stopCh chan struct{}
}

// Config holds gRPC server configuration
type Config struct {
	Port    int
	Monitor *workers.HealthMonitor
	Logger  *zap.Logger
}

// NewServer creates a new gRPC server
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	s := &Server{
		server:   grpcServer,
		listener: listener,
		health:   healthServer,
		monitor:  cfg.Monitor,
		logger:   cfg.Logger,
		stopCh:   make(chan struct{}),
	}

	return s, nil
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	go s.watchHealth()

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// watchHealth mirrors the worker pool health into the gRPC health service.
func (s *Server) watchHealth() {
	if s.monitor == nil {
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			status := grpc_health_v1.HealthCheckResponse_SERVING
			if !s.monitor.IsHealthy() {
				status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			}
			s.health.SetServingStatus("", status)
		}
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	close(s.stopCh)
	s.health.Shutdown()
	s.server.GracefulStop()

	s.logger.Info("gRPC server shut down complete")
	return nil
}
