package triggers

import (
	"context"
	"encoding/json"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
)

// signatureHeaders are the provider headers the email adapter recognizes,
// checked in order. All carry an HMAC-SHA256 of the raw request body.
var signatureHeaders = []string{
	"X-Mailgun-Signature-256",
	"X-Hub-Signature-256",
	"X-Email-Signature",
}

// InboundEmail is a raw inbound email webhook: the unparsed body bytes
// plus the provider headers needed for signature verification.
type InboundEmail struct {
	Body     []byte
	Headers  map[string]string
	SourceIP string
}

// signature returns the first recognized signature header value.
func (e InboundEmail) signature() string {
	for _, name := range signatureHeaders {
		if v := e.Headers[name]; v != "" {
			return v
		}
	}
	return ""
}

// HandleEmail admits an inbound email webhook against the workflow's email
// trigger node. The signature covers the exact raw body bytes; parsing
// happens only after verification.
func (s *Service) HandleEmail(ctx context.Context, workflowID string, email InboundEmail) error {
	wf, node, err := s.resolve(ctx, workflowID, domain.NodeTriggerEmail)
	if err != nil {
		return s.recordRejection(domain.TriggerSourceEmail, err)
	}

	secret := configString(node.Config, "signing_secret", "secret")
	if res := s.gate.ValidateSignedPayload(email.Body, secret, email.signature()); !res.OK {
		return s.recordRejection(domain.TriggerSourceEmail, rejectGate(res))
	}

	data := map[string]any{}
	if err := json.Unmarshal(email.Body, &data); err != nil {
		// Non-JSON provider payloads are passed through raw rather than
		// rejected; the signature already proved authenticity.
		data = map[string]any{"raw": string(email.Body)}
	}

	payload := domain.TriggerPayload{
		WorkflowID:    wf.ID,
		TriggerNodeID: node.ID,
		Data:          data,
		Metadata:      newMetadata(domain.TriggerSourceEmail, email.SourceIP),
	}
	if err := s.admit(ctx, wf, node, payload); err != nil {
		return s.recordRejection(domain.TriggerSourceEmail, err)
	}
	return nil
}
