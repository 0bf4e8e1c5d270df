package runs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// sweepBatchSize bounds how many RUNNING runs one sweep inspects.
const sweepBatchSize = 500

// Sweeper reconciles runs abandoned in RUNNING status, e.g. after an
// executor crash mid-run. Runs older than maxAge are force-finalized to
// FAILED with an abandoned marker so nothing stays RUNNING forever.
type Sweeper struct {
	store    ports.RunStore
	tracker  *Tracker
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewSweeper creates a reconciliation sweeper. A zero maxAge disables it.
func NewSweeper(store ports.RunStore, tracker *Tracker, maxAge, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		tracker:  tracker,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the periodic sweep.
func (s *Sweeper) Start() {
	if s.maxAge <= 0 {
		s.logger.Info("run reconciliation sweep disabled")
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("run reconciliation sweep started",
		zap.Duration("max_age", s.maxAge),
		zap.Duration("interval", s.interval))
	go s.run()
}

// Stop stops the sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep force-finalizes abandoned RUNNING runs. Exported for tests and
// for operators invoking an immediate reconciliation.
func (s *Sweeper) Sweep(ctx context.Context) {
	runs, err := s.store.ListByStatus(ctx, domain.RunStatusRunning, sweepBatchSize)
	if err != nil {
		s.logger.Error("sweep failed to list running runs", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-s.maxAge)
	for _, run := range runs {
		if run.StartedAt.After(cutoff) {
			continue
		}

		s.logger.Warn("force-finalizing abandoned run",
			zap.String("run_id", run.ID),
			zap.String("workflow_id", run.WorkflowID),
			zap.Time("started_at", run.StartedAt))

		if err := s.tracker.Finalize(ctx, run.ID, domain.RunStatusFailed, "abandoned: exceeded maximum run age", false); err != nil {
			s.logger.Error("failed to finalize abandoned run",
				zap.String("run_id", run.ID),
				zap.Error(err))
		}
	}
}
