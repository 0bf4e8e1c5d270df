package triggers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// HandleSchedule admits a schedule fire against the workflow's schedule
// trigger node. Fires originate from the in-process scheduler, so no
// credential gate applies.
func (s *Service) HandleSchedule(ctx context.Context, workflowID string, firedAt time.Time) error {
	wf, node, err := s.resolve(ctx, workflowID, domain.NodeTriggerSchedule)
	if err != nil {
		return s.recordRejection(domain.TriggerSourceSchedule, err)
	}

	payload := domain.TriggerPayload{
		WorkflowID:    wf.ID,
		TriggerNodeID: node.ID,
		Data: map[string]any{
			"fired_at": firedAt.UTC().Format(time.RFC3339),
		},
		Metadata: newMetadata(domain.TriggerSourceSchedule, ""),
	}
	if err := s.admit(ctx, wf, node, payload); err != nil {
		return s.recordRejection(domain.TriggerSourceSchedule, err)
	}
	return nil
}

// scheduleEntry tracks one registered cron job so rescans can detect
// expression changes.
type scheduleEntry struct {
	id   cron.EntryID
	spec string
}

// Scheduler registers cron jobs for active workflows that carry a schedule
// trigger node and rescans the store periodically so edits take effect
// without a restart.
type Scheduler struct {
	service   *Service
	workflows ports.WorkflowStore
	rescan    time.Duration
	logger    *zap.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]scheduleEntry

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates the scheduler. Jobs are registered on Start.
func NewScheduler(service *Service, workflows ports.WorkflowStore, rescan time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		service:   service,
		workflows: workflows,
		rescan:    rescan,
		logger:    logger,
		cron:      cron.New(),
		entries:   make(map[string]scheduleEntry),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start performs the initial scan, starts the cron runner and begins the
// rescan loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.sync(ctx)
	s.cron.Start()
	go s.run(ctx)
	s.logger.Info("scheduler started", zap.Duration("rescan_interval", s.rescan))
}

// Stop halts the rescan loop and waits for in-flight cron fires to return.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.rescan)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

// sync reconciles registered cron jobs against the workflow store:
// registers new schedules, re-registers changed expressions and removes
// jobs for workflows that were deleted or deactivated.
func (s *Scheduler) sync(ctx context.Context) {
	workflows, err := s.workflows.List(ctx)
	if err != nil {
		s.logger.Error("schedule rescan failed to list workflows", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, wf := range workflows {
		if !wf.Active {
			continue
		}
		node, ok := wf.FindTrigger(domain.NodeTriggerSchedule)
		if !ok {
			continue
		}

		spec := configString(node.Config, "cron")
		if spec == "" {
			spec = wf.Schedule
		}
		if spec == "" {
			s.logger.Warn("schedule trigger has no cron expression",
				zap.String("workflow_id", wf.ID),
				zap.String("node_id", node.ID))
			continue
		}

		key := fmt.Sprintf("%s/%s", wf.ID, node.ID)
		seen[key] = struct{}{}

		if existing, ok := s.entries[key]; ok {
			if existing.spec == spec {
				continue
			}
			s.cron.Remove(existing.id)
			delete(s.entries, key)
		}

		workflowID := wf.ID
		id, err := s.cron.AddFunc(spec, func() { s.fire(workflowID) })
		if err != nil {
			s.logger.Error("invalid cron expression",
				zap.String("workflow_id", wf.ID),
				zap.String("spec", spec),
				zap.Error(err))
			continue
		}
		s.entries[key] = scheduleEntry{id: id, spec: spec}
		s.logger.Info("schedule registered",
			zap.String("workflow_id", wf.ID),
			zap.String("spec", spec))
	}

	for key, entry := range s.entries {
		if _, ok := seen[key]; !ok {
			s.cron.Remove(entry.id)
			delete(s.entries, key)
			s.logger.Info("schedule removed", zap.String("key", key))
		}
	}
}

// fire runs on the cron goroutine; the workflow is re-resolved so a
// deactivation between rescans still suppresses the run.
func (s *Scheduler) fire(workflowID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.service.HandleSchedule(ctx, workflowID, time.Now()); err != nil {
		s.logger.Warn("schedule fire rejected",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
	}
}
