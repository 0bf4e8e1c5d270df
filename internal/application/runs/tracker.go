package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// EventTopic is the event bus topic run events are published to.
const EventTopic = "runs.events"

// ErrRunTerminal is returned when a mutation targets a run that has already
// reached a terminal status.
var ErrRunTerminal = errors.New("run is in a terminal state")

// Tracker owns the run lifecycle state machine: RUNNING -> {SUCCEEDED,
// FAILED}, no other transitions. It is the only writer of run documents and
// notifies the realtime publisher on every lifecycle change.
type Tracker struct {
	store   ports.RunStore
	bus     ports.EventBus
	metrics ports.MetricsCollector
	logger  *zap.Logger

	// locks serializes mutations per run id across concurrent branches.
	locks sync.Map // map[string]*sync.Mutex
}

// NewTracker creates a run tracker.
func NewTracker(store ports.RunStore, bus ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:   store,
		bus:     bus,
		metrics: metrics,
		logger:  logger,
	}
}

// CreateRun creates a run in RUNNING status, seeded with the trigger
// snapshot that started it.
func (t *Tracker) CreateRun(ctx context.Context, workflowID string, trigger domain.TriggerPayload) (*domain.WorkflowRun, error) {
	run := &domain.WorkflowRun{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Status:     domain.RunStatusRunning,
		StartedAt:  time.Now(),
		Trigger:    trigger,
		Steps:      []domain.Step{},
	}

	if err := t.store.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	t.metrics.RecordRunStarted()
	t.publish(ctx, domain.RunEvent{
		ID:         uuid.New().String(),
		Type:       domain.EventRunCreated,
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		Status:     run.Status,
		Timestamp:  time.Now(),
	})

	t.logger.Info("run created",
		zap.String("run_id", run.ID),
		zap.String("workflow_id", run.WorkflowID),
		zap.String("trigger_node", trigger.TriggerNodeID))

	return run, nil
}

// AppendStep appends a step to a RUNNING run. Appending to a terminal run
// is an anomaly: it is rejected with ErrRunTerminal and logged, never
// silently dropped. Progress is the fraction of reachable nodes completed,
// forwarded on the step event.
func (t *Tracker) AppendStep(ctx context.Context, runID string, step domain.Step, progress float64) error {
	mu := t.lockFor(runID)
	mu.Lock()
	defer mu.Unlock()

	run, err := t.store.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	if run.Terminal() {
		t.logger.Error("step appended to terminal run",
			zap.String("run_id", runID),
			zap.String("node_id", step.NodeID),
			zap.String("run_status", string(run.Status)))
		return fmt.Errorf("append step to run %s: %w", runID, ErrRunTerminal)
	}

	run.Steps = append(run.Steps, step)
	if err := t.store.Update(ctx, run); err != nil {
		return fmt.Errorf("failed to append step: %w", err)
	}

	t.publish(ctx, domain.RunEvent{
		ID:         uuid.New().String(),
		Type:       domain.EventStepCompleted,
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		Status:     run.Status,
		NodeID:     step.NodeID,
		StepStatus: step.Status,
		Progress:   progress,
		Error:      step.Error,
		Result:     step.Result,
		Timestamp:  time.Now(),
	})

	return nil
}

// Finalize transitions a run to a terminal status exactly once, setting
// finishedAt. Finalizing an already-terminal run is an idempotent no-op.
func (t *Tracker) Finalize(ctx context.Context, runID string, status domain.RunStatus, runErr string, cancelled bool) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize requires a terminal status, got %s", status)
	}

	mu := t.lockFor(runID)
	mu.Lock()
	defer mu.Unlock()

	run, err := t.store.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	if run.Terminal() {
		return nil
	}

	now := time.Now()
	run.Status = status
	run.FinishedAt = &now
	run.Error = runErr
	run.Cancelled = cancelled

	if err := t.store.Update(ctx, run); err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}

	t.locks.Delete(runID)
	t.metrics.RecordRunCompleted(string(status), now.Sub(run.StartedAt))
	t.publish(ctx, domain.RunEvent{
		ID:         uuid.New().String(),
		Type:       domain.EventRunCompleted,
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		Status:     status,
		Error:      runErr,
		Timestamp:  now,
	})

	t.logger.Info("run finalized",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Bool("cancelled", cancelled),
		zap.Duration("duration", now.Sub(run.StartedAt)))

	return nil
}

// GetRun returns a run by id.
func (t *Tracker) GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	return t.store.Get(ctx, runID)
}

// ListRuns returns runs for a workflow, filtered and paginated.
func (t *Tracker) ListRuns(ctx context.Context, workflowID string, f ports.RunFilter) ([]*domain.WorkflowRun, error) {
	return t.store.ListByWorkflow(ctx, workflowID, f)
}

// publish emits a run event. Delivery is fire-and-forget: failures are
// logged and never affect run correctness.
func (t *Tracker) publish(ctx context.Context, event domain.RunEvent) {
	if err := t.bus.Publish(ctx, EventTopic, event); err != nil {
		t.logger.Warn("failed to publish run event",
			zap.String("event_type", string(event.Type)),
			zap.String("run_id", event.RunID),
			zap.Error(err))
	}
}

func (t *Tracker) lockFor(runID string) *sync.Mutex {
	mu, _ := t.locks.LoadOrStore(runID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
