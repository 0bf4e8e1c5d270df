package triggers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/internal/application/engine"
	"github.com/jcoler76/nectar-api-sub011/internal/application/workers"
	"github.com/jcoler76/nectar-api-sub011/internal/security"
	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// Code is the machine-readable rejection code returned synchronously to
// trigger callers. Failures after handoff are never surfaced to the
// already-acknowledged caller; they are visible only through the run
// record.
type Code string

const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeInactive            Code = "INACTIVE"
	CodeNoMatchingTrigger   Code = "NO_MATCHING_TRIGGER"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeMissingCredential   Code = "MISSING_CREDENTIAL"
	CodeMisconfigured       Code = "MISCONFIGURED"
	CodeFileTooLarge        Code = "FILE_TOO_LARGE"
	CodeUnsupportedFileType Code = "UNSUPPORTED_FILE_TYPE"
	CodeMaliciousContent    Code = "MALICIOUS_CONTENT"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeQueueFull           Code = "QUEUE_FULL"
)

// Error is a typed trigger rejection.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func reject(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// AsError extracts a trigger rejection from an error chain.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Enqueuer is the handoff boundary to the execution side. Satisfied by
// *workers.Pool.
type Enqueuer interface {
	Enqueue(job engine.Job) error
}

// Defaults holds adapter-level defaults a trigger node may tighten but
// not exceed.
type Defaults struct {
	MaxFileSize      int64
	AllowedFileTypes []string
}

// Service implements the common trigger contract shared by every adapter:
// resolve the workflow, locate the trigger node, consult the security
// gate, then hand off to the executor without blocking the response path.
type Service struct {
	workflows ports.WorkflowStore
	gate      *security.Gate
	queue     Enqueuer
	kv        ports.KeyValueStore
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	defaults  Defaults
}

// NewService creates the trigger service.
func NewService(
	workflows ports.WorkflowStore,
	gate *security.Gate,
	queue Enqueuer,
	kv ports.KeyValueStore,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	defaults Defaults,
) *Service {
	return &Service{
		workflows: workflows,
		gate:      gate,
		queue:     queue,
		kv:        kv,
		metrics:   metrics,
		logger:    logger,
		defaults:  defaults,
	}
}

// resolve loads the workflow and locates the trigger node of the expected
// kind, enforcing the first two steps of the adapter contract.
func (s *Service) resolve(ctx context.Context, workflowID string, kind domain.NodeKind) (*domain.Workflow, *domain.Node, error) {
	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, nil, reject(CodeNotFound, fmt.Sprintf("workflow %s not found", workflowID))
		}
		return nil, nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	if !wf.Active {
		return nil, nil, reject(CodeInactive, fmt.Sprintf("workflow %s is not active", workflowID))
	}

	node, ok := wf.FindTrigger(kind)
	if !ok {
		return nil, nil, reject(CodeNoMatchingTrigger, fmt.Sprintf("workflow %s has no %s trigger", workflowID, kind))
	}
	return wf, node, nil
}

// admit applies rate limiting and enqueues the canonical payload. On
// success the caller acknowledges synchronously; execution proceeds on
// the worker pool.
func (s *Service) admit(ctx context.Context, wf *domain.Workflow, node *domain.Node, payload domain.TriggerPayload) error {
	if err := s.checkRateLimit(ctx, wf.ID, node); err != nil {
		return err
	}

	if err := s.queue.Enqueue(engine.Job{Workflow: wf, Trigger: payload}); err != nil {
		if errors.Is(err, workers.ErrQueueFull) {
			return reject(CodeQueueFull, "engine is at capacity, retry later")
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.metrics.RecordTriggerAdmitted(string(payload.Metadata.SourceType))
	s.logger.Info("trigger admitted",
		zap.String("workflow_id", wf.ID),
		zap.String("trigger_node", node.ID),
		zap.String("source", string(payload.Metadata.SourceType)))
	return nil
}

// checkRateLimit applies the node's configured sliding window through the
// injected key-value store. Bookkeeping failures fail open: rate limiting
// protects capacity, it is not a security control.
func (s *Service) checkRateLimit(ctx context.Context, workflowID string, node *domain.Node) error {
	limit, ok := configNumber(node.Config, "rate_limit")
	if !ok || limit <= 0 {
		return nil
	}

	window := time.Minute
	if raw, ok := node.Config["rate_window"].(string); ok {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			window = d
		}
	}

	key := fmt.Sprintf("ratelimit:%s:%s", workflowID, node.ID)
	count, err := s.kv.Increment(ctx, key, window)
	if err != nil {
		s.logger.Warn("rate limit bookkeeping failed",
			zap.String("workflow_id", workflowID),
			zap.String("node_id", node.ID),
			zap.Error(err))
		return nil
	}
	if count > int64(limit) {
		return reject(CodeRateLimited, "trigger rate limit exceeded")
	}
	return nil
}

// rejectGate maps a security gate result to a trigger rejection.
func rejectGate(res security.Result) error {
	switch res.Reason {
	case security.ReasonMissingCredential:
		return reject(CodeMissingCredential, "credential is required")
	case security.ReasonMisconfigured:
		return reject(CodeMisconfigured, "trigger node credentials are misconfigured")
	default:
		return reject(CodeUnauthorized, "credential rejected")
	}
}

// recordRejection counts a rejection and returns the error unchanged.
func (s *Service) recordRejection(source domain.TriggerSource, err error) error {
	if te, ok := AsError(err); ok {
		s.metrics.RecordTriggerRejected(string(source), string(te.Code))
	}
	return err
}

func newMetadata(source domain.TriggerSource, sourceIP string) domain.TriggerMetadata {
	return domain.TriggerMetadata{
		SourceIP:   sourceIP,
		ReceivedAt: time.Now(),
		SourceType: source,
	}
}

func configString(cfg map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := cfg[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func configNumber(cfg map[string]any, key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
