package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jcoler76/nectar-api-sub011/internal/application/engine"
	"github.com/jcoler76/nectar-api-sub011/internal/application/runs"
	"github.com/jcoler76/nectar-api-sub011/internal/application/triggers"
	"github.com/jcoler76/nectar-api-sub011/internal/application/workers"
	"github.com/jcoler76/nectar-api-sub011/internal/config"
	"github.com/jcoler76/nectar-api-sub011/internal/security"
	eventsmemory "github.com/jcoler76/nectar-api-sub011/pkg/adapters/events/memory"
	eventsredis "github.com/jcoler76/nectar-api-sub011/pkg/adapters/events/redis"
	kvmemory "github.com/jcoler76/nectar-api-sub011/pkg/adapters/kv/memory"
	kvredis "github.com/jcoler76/nectar-api-sub011/pkg/adapters/kv/redis"
	"github.com/jcoler76/nectar-api-sub011/pkg/adapters/llm"
	"github.com/jcoler76/nectar-api-sub011/pkg/adapters/metrics/prometheus"
	storagememory "github.com/jcoler76/nectar-api-sub011/pkg/adapters/storage/memory"
	storageredis "github.com/jcoler76/nectar-api-sub011/pkg/adapters/storage/redis"
	"github.com/jcoler76/nectar-api-sub011/pkg/api/grpc"
	"github.com/jcoler76/nectar-api-sub011/pkg/api/http"
	"github.com/jcoler76/nectar-api-sub011/pkg/api/websocket"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting Nectar workflow engine",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("backend", cfg.Backend))

	ctx := context.Background()

	// Initialize adapters for the selected backend
	var (
		workflowStore ports.WorkflowStore
		runStore      ports.RunStore
		kvStore       ports.KeyValueStore
		eventBus      ports.EventBus
		redisClient   *goredis.Client
	)

	switch cfg.Backend {
	case "redis":
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		workflowStore = storageredis.NewWorkflowStore(redisClient, logger)
		runStore = storageredis.NewRunStore(redisClient, 30*24*time.Hour, logger)
		kvStore = kvredis.NewStore(redisClient)

		bus, err := eventsredis.NewStreamsEventBus(
			redisClient,
			"nectar-workers",
			fmt.Sprintf("nectar-%d", os.Getpid()),
			logger,
		)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}
		eventBus = bus

	default:
		workflowStore = storagememory.NewWorkflowStore()
		runStore = storagememory.NewRunStore()
		kvStore = kvmemory.NewStore()
		eventBus = eventsmemory.NewInMemoryEventBus()
	}

	metricsCollector := prometheus.NewCollector()

	// The llm handler is registered only when a provider key is configured.
	var llmClient ports.LLMClient
	if cfg.LLM.APIKey != "" {
		llmClient, err = llm.NewClient(&llm.Config{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey,
			Logger:   logger,
		})
		if err != nil {
			logger.Fatal("failed to create LLM client", zap.Error(err))
		}
	}

	// Initialize application components
	registry, err := engine.NewRegistry(engine.BuiltinHandlers(llmClient, cfg.LLM.DefaultModel, cfg.LLM.DefaultMaxTokens)...)
	if err != nil {
		logger.Fatal("failed to build handler registry", zap.Error(err))
	}

	tracker := runs.NewTracker(runStore, eventBus, metricsCollector, logger)

	executor := engine.NewExecutor(registry, tracker, metricsCollector, logger, cfg.Timeouts.NodeExecutionTimeout)

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueSize,
		executor,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	gate := security.NewGate(logger)

	triggerService := triggers.NewService(
		workflowStore,
		gate,
		workerPool,
		kvStore,
		metricsCollector,
		logger,
		triggers.Defaults{
			MaxFileSize:      cfg.Triggers.MaxFileSize,
			AllowedFileTypes: cfg.Triggers.AllowedFileTypes,
		},
	)

	scheduler := triggers.NewScheduler(triggerService, workflowStore, cfg.Triggers.ScheduleRescan, logger)

	sweeper := runs.NewSweeper(runStore, tracker, cfg.Timeouts.RunMaxAge, cfg.Timeouts.SweepInterval, logger)

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	scheduler.Start(ctx)
	sweeper.Start()

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:          cfg.HTTPPort,
		Triggers:      triggerService,
		Workflows:     workflowStore,
		Tracker:       tracker,
		Executor:      executor,
		Health:        workerPool.Health(),
		Logger:        logger,
		MaxUploadSize: cfg.Triggers.MaxFileSize,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:    cfg.GRPCPort,
		Monitor: workerPool.Health(),
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("Nectar workflow engine started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.Int("queue_capacity", cfg.Workers.QueueSize))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Stop intake first so in-flight runs can drain.
	scheduler.Stop()
	sweeper.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("Nectar workflow engine shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
