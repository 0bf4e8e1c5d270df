package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

const (
	workflowKeyPrefix = "nectar:workflow:"
	runKeyPrefix      = "nectar:run:"
	runsByWorkflow    = "nectar:runs:workflow:" // sorted set, score = startedAt unix
	runsByStatus      = "nectar:runs:status:"   // set per status
)

// WorkflowStore implements ports.WorkflowStore on Redis, storing workflow
// definitions as JSON documents.
type WorkflowStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewWorkflowStore creates a Redis-backed workflow store.
func NewWorkflowStore(client *redis.Client, logger *zap.Logger) *WorkflowStore {
	return &WorkflowStore{client: client, logger: logger}
}

// Get returns the workflow with the given id.
func (s *WorkflowStore) Get(ctx context.Context, id string) (*domain.Workflow, error) {
	data, err := s.client.Get(ctx, workflowKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("workflow %s: %w", id, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	var wf domain.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &wf, nil
}

// List returns all stored workflows.
func (s *WorkflowStore) List(ctx context.Context) ([]*domain.Workflow, error) {
	keys, err := scanKeys(ctx, s.client, workflowKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Workflow, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("failed to get workflow: %w", err)
		}
		var wf domain.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			s.logger.Warn("skipping undecodable workflow document", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, &wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save stores a workflow definition.
func (s *WorkflowStore) Save(ctx context.Context, wf *domain.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	if err := s.client.Set(ctx, workflowKeyPrefix+wf.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// RunStore implements ports.RunStore on Redis. Run documents are stored as
// JSON with secondary indexes per workflow (sorted by start time) and per
// status.
type RunStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRunStore creates a Redis-backed run store. A non-zero TTL bounds run
// document retention.
func NewRunStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RunStore {
	return &RunStore{client: client, ttl: ttl, logger: logger}
}

// Create stores a new run and indexes it.
func (s *RunStore) Create(ctx context.Context, run *domain.WorkflowRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKeyPrefix+run.ID, data, s.ttl)
	pipe.ZAdd(ctx, runsByWorkflow+run.WorkflowID, redis.Z{
		Score:  float64(run.StartedAt.UnixMilli()),
		Member: run.ID,
	})
	pipe.SAdd(ctx, runsByStatus+string(run.Status), run.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Get returns the run with the given id.
func (s *RunStore) Get(ctx context.Context, id string) (*domain.WorkflowRun, error) {
	data, err := s.client.Get(ctx, runKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("run %s: %w", id, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run domain.WorkflowRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// Update replaces the run document and moves its status index entry.
func (s *RunStore) Update(ctx context.Context, run *domain.WorkflowRun) error {
	prev, err := s.Get(ctx, run.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKeyPrefix+run.ID, data, s.ttl)
	if prev.Status != run.Status {
		pipe.SRem(ctx, runsByStatus+string(prev.Status), run.ID)
		pipe.SAdd(ctx, runsByStatus+string(run.Status), run.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// ListByWorkflow returns runs for a workflow, newest first.
func (s *RunStore) ListByWorkflow(ctx context.Context, workflowID string, f ports.RunFilter) ([]*domain.WorkflowRun, error) {
	ids, err := s.client.ZRevRange(ctx, runsByWorkflow+workflowID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]*domain.WorkflowRun, 0)
	skipped := 0
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if err != nil {
			continue // expired document, index entry is stale
		}
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, run)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// ListByStatus returns up to limit runs in the given status, oldest first.
func (s *RunStore) ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]*domain.WorkflowRun, error) {
	ids, err := s.client.SMembers(ctx, runsByStatus+string(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs by status: %w", err)
	}

	out := make([]*domain.WorkflowRun, 0, len(ids))
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if err != nil {
			// Expired document: drop the stale index entry.
			s.client.SRem(ctx, runsByStatus+string(status), id)
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func scanKeys(ctx context.Context, client *redis.Client, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
