package triggers

import (
	"context"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
)

// DatabaseEvent is an in-process change notification: a table name, the
// operation that occurred and the affected record.
type DatabaseEvent struct {
	Table     string
	Operation string
	Record    map[string]any
}

// HandleDatabase admits a database change event against the workflow's
// database trigger node. Events originate inside the process boundary, so
// no credential gate applies; the common resolve and backpressure steps
// still do.
func (s *Service) HandleDatabase(ctx context.Context, workflowID string, event DatabaseEvent) error {
	wf, node, err := s.resolve(ctx, workflowID, domain.NodeTriggerDatabase)
	if err != nil {
		return s.recordRejection(domain.TriggerSourceDatabase, err)
	}

	// An optional table filter on the node narrows which change events fire.
	if want := configString(node.Config, "table"); want != "" && want != event.Table {
		return s.recordRejection(domain.TriggerSourceDatabase,
			reject(CodeNoMatchingTrigger, "no trigger subscribed to this table"))
	}

	payload := domain.TriggerPayload{
		WorkflowID:    wf.ID,
		TriggerNodeID: node.ID,
		Data: map[string]any{
			"table":     event.Table,
			"operation": event.Operation,
			"record":    event.Record,
		},
		Metadata: newMetadata(domain.TriggerSourceDatabase, ""),
	}
	if err := s.admit(ctx, wf, node, payload); err != nil {
		return s.recordRejection(domain.TriggerSourceDatabase, err)
	}
	return nil
}
