package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/internal/application/engine"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// ErrQueueFull is returned by Enqueue when the handoff queue is at
// capacity. Trigger adapters surface it synchronously as backpressure.
var ErrQueueFull = errors.New("trigger queue is full")

// Pool manages a fixed number of worker goroutines consuming admitted
// trigger jobs from a bounded queue. Adapters enqueue without blocking
// their response path; a flood of trigger events is rejected at the queue
// rather than exhausting process resources.
type Pool struct {
	size     int
	queue    chan engine.Job
	executor *engine.Executor
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	health   *HealthMonitor

	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine.
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool with the given concurrency and queue
// capacity.
func NewPool(
	size int,
	queueSize int,
	executor *engine.Executor,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:     size,
		queue:    make(chan engine.Job, queueSize),
		executor: executor,
		metrics:  metrics,
		logger:   logger,
		workers:  make([]*worker, size),
		ctx:      ctx,
		cancel:   cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start starts the worker pool.
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool",
		zap.Int("size", p.size),
		zap.Int("queue_capacity", cap(p.queue)))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Enqueue hands an admitted job to the pool without blocking. A full
// queue returns ErrQueueFull so the caller can reject synchronously.
func (p *Pool) Enqueue(job engine.Job) error {
	select {
	case p.queue <- job:
		p.metrics.RecordQueueDepth(len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Health returns the pool's health monitor.
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// QueueDepth returns the number of jobs waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Shutdown gracefully shuts down the worker pool. Workers stop dequeuing
// and in-flight runs finish; when the context expires first, Shutdown
// returns an error while the busy workers keep draining.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers.
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop: dequeue, execute, repeat.
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Info("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.status = WorkerStatusStopped
			w.mu.Unlock()
			w.pool.logger.Info("worker stopped", zap.String("worker_id", w.id))
			return

		case job := <-w.pool.queue:
			w.pool.metrics.RecordQueueDepth(len(w.pool.queue))
			w.execute(job)
		}
	}
}

// execute runs one job on a context detached from the pool's lifecycle:
// shutdown stops the dequeue loop, it does not cancel an acknowledged run
// mid-node.
func (w *worker) execute(job engine.Job) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.status = WorkerStatusIdle
		w.mu.Unlock()
	}()

	w.pool.logger.Info("executing run",
		zap.String("worker_id", w.id),
		zap.String("workflow_id", job.Workflow.ID),
		zap.String("trigger_node", job.Trigger.TriggerNodeID))

	runID, err := w.pool.executor.Execute(context.Background(), job)
	if err != nil {
		// Post-acknowledgement failure: visible only through logs and the
		// run record, never to the already-acknowledged caller.
		w.pool.logger.Error("run execution failed",
			zap.String("worker_id", w.id),
			zap.String("workflow_id", job.Workflow.ID),
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	w.pool.logger.Info("run execution finished",
		zap.String("worker_id", w.id),
		zap.String("run_id", runID))
}
