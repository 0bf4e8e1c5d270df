package ports

import (
	"context"
	"errors"
	"time"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// EventHandler processes a run event delivered by an event bus subscription.
type EventHandler func(ctx context.Context, event domain.RunEvent) error

// EventBus is the realtime publisher boundary. Publish is fire-and-forget
// from the engine's perspective: callers log failures and move on.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.RunEvent) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// WorkflowStore provides read access to workflow definitions. The engine
// never mutates definitions; Save exists for the management layer and tests.
type WorkflowStore interface {
	Get(ctx context.Context, id string) (*domain.Workflow, error)
	List(ctx context.Context) ([]*domain.Workflow, error)
	Save(ctx context.Context, wf *domain.Workflow) error
}

// RunFilter narrows run listings.
type RunFilter struct {
	Status domain.RunStatus // empty matches all statuses
	Limit  int              // 0 means no limit
	Offset int
}

// RunStore persists workflow runs with their embedded step logs. Only the
// run tracker writes through this interface.
type RunStore interface {
	Create(ctx context.Context, run *domain.WorkflowRun) error
	Get(ctx context.Context, id string) (*domain.WorkflowRun, error)
	Update(ctx context.Context, run *domain.WorkflowRun) error
	ListByWorkflow(ctx context.Context, workflowID string, f RunFilter) ([]*domain.WorkflowRun, error)
	ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]*domain.WorkflowRun, error)
}

// KeyValueStore is the injected bookkeeping abstraction used for trigger
// rate limiting and the file audit trail. The in-memory implementation is
// valid only for single-instance deployments; multi-instance deployments
// must use the Redis implementation so state is shared.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}

// MetricsCollector records engine metrics.
type MetricsCollector interface {
	RecordTriggerAdmitted(source string)
	RecordTriggerRejected(source, code string)
	RecordRunStarted()
	RecordRunCompleted(status string, duration time.Duration)
	RecordNodeExecuted(kind, status string, duration time.Duration)
	RecordQueueDepth(depth int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}

// LLMRequest is a completion request passed to an LLM provider.
type LLMRequest struct {
	Model       string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// LLMResponse is the provider's completion result.
type LLMResponse struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// LLMClient abstracts the LLM provider used by the action:llm node handler.
type LLMClient interface {
	Complete(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}
