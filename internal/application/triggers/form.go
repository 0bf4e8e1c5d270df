package triggers

import (
	"context"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
)

// FormSubmission is a normalized form trigger request. Token carries the
// shared secret extracted from the transport (header, query parameter or
// the reserved "_token" field) by the HTTP layer.
type FormSubmission struct {
	Fields   map[string]any
	Token    string
	SourceIP string
}

// HandleForm admits a form submission against the workflow's form trigger
// node. The configured node secret is compared in constant time; any gate
// rejection is returned synchronously and nothing is enqueued.
func (s *Service) HandleForm(ctx context.Context, workflowID string, sub FormSubmission) error {
	wf, node, err := s.resolve(ctx, workflowID, domain.NodeTriggerForm)
	if err != nil {
		return s.recordRejection(domain.TriggerSourceForm, err)
	}

	secret := configString(node.Config, "token", "secret")
	if res := s.gate.ValidateSharedToken(sub.Token, secret); !res.OK {
		return s.recordRejection(domain.TriggerSourceForm, rejectGate(res))
	}

	data := make(map[string]any, len(sub.Fields))
	for k, v := range sub.Fields {
		if k == "_token" {
			continue
		}
		data[k] = v
	}

	payload := domain.TriggerPayload{
		WorkflowID:    wf.ID,
		TriggerNodeID: node.ID,
		Data:          data,
		Metadata:      newMetadata(domain.TriggerSourceForm, sub.SourceIP),
	}
	if err := s.admit(ctx, wf, node, payload); err != nil {
		return s.recordRejection(domain.TriggerSourceForm, err)
	}
	return nil
}
