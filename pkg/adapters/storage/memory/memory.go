package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// WorkflowStore implements ports.WorkflowStore with an in-memory map.
type WorkflowStore struct {
	workflows map[string]*domain.Workflow
	mu        sync.RWMutex
}

// NewWorkflowStore creates a new in-memory workflow store.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{workflows: make(map[string]*domain.Workflow)}
}

// Get returns the workflow with the given id.
func (s *WorkflowStore) Get(ctx context.Context, id string) (*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ports.ErrNotFound)
	}
	return wf.Clone(), nil
}

// List returns all stored workflows.
func (s *WorkflowStore) List(ctx context.Context) ([]*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, wf.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save stores a workflow definition.
func (s *WorkflowStore) Save(ctx context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[wf.ID] = wf.Clone()
	return nil
}

// RunStore implements ports.RunStore with an in-memory map. Runs are stored
// as deep copies so callers cannot mutate persisted state.
type RunStore struct {
	runs map[string]*domain.WorkflowRun
	mu   sync.RWMutex
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*domain.WorkflowRun)}
}

// Create stores a new run.
func (s *RunStore) Create(ctx context.Context, run *domain.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// Get returns the run with the given id.
func (s *RunStore) Get(ctx context.Context, id string) (*domain.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ports.ErrNotFound)
	}
	return cloneRun(run), nil
}

// Update replaces the stored run document.
func (s *RunStore) Update(ctx context.Context, run *domain.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("run %s: %w", run.ID, ports.ErrNotFound)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// ListByWorkflow returns runs for a workflow, newest first, filtered and
// paginated.
func (s *RunStore) ListByWorkflow(ctx context.Context, workflowID string, f ports.RunFilter) ([]*domain.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.WorkflowRun, 0)
	for _, run := range s.runs {
		if run.WorkflowID != workflowID {
			continue
		}
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		matched = append(matched, run)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []*domain.WorkflowRun{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}

	out := make([]*domain.WorkflowRun, len(matched))
	for i, run := range matched {
		out[i] = cloneRun(run)
	}
	return out, nil
}

// ListByStatus returns up to limit runs in the given status, oldest first.
// Used by the reconciliation sweep.
func (s *RunStore) ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]*domain.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.WorkflowRun, 0)
	for _, run := range s.runs {
		if run.Status == status {
			matched = append(matched, run)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.Before(matched[j].StartedAt)
	})
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*domain.WorkflowRun, len(matched))
	for i, run := range matched {
		out[i] = cloneRun(run)
	}
	return out, nil
}

// cloneRun copies a run through JSON, matching the fidelity of the Redis
// store so both backends behave identically.
func cloneRun(run *domain.WorkflowRun) *domain.WorkflowRun {
	data, err := json.Marshal(run)
	if err != nil {
		cp := *run
		return &cp
	}
	var cp domain.WorkflowRun
	if err := json.Unmarshal(data, &cp); err != nil {
		c := *run
		return &c
	}
	return &cp
}
