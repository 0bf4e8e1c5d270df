package domain

import "time"

// TriggerSource names the external event source that produced a trigger.
type TriggerSource string

const (
	TriggerSourceForm     TriggerSource = "form"
	TriggerSourceFile     TriggerSource = "file"
	TriggerSourceEmail    TriggerSource = "email"
	TriggerSourceDatabase TriggerSource = "database"
	TriggerSourceSchedule TriggerSource = "schedule"
)

// TriggerMetadata describes the provenance of a trigger event.
type TriggerMetadata struct {
	SourceIP   string        `json:"source_ip,omitempty"`
	ReceivedAt time.Time     `json:"received_at"`
	SourceType TriggerSource `json:"source_type"`

	// ContentHash is the SHA-256 of uploaded content, recorded by the
	// file adapter for audit purposes.
	ContentHash string `json:"content_hash,omitempty"`
}

// TriggerPayload is the canonical normalized form of an external trigger
// event. Every adapter produces this shape regardless of source.
type TriggerPayload struct {
	WorkflowID    string          `json:"workflow_id"`
	TriggerNodeID string          `json:"trigger_node_id"`
	Data          map[string]any  `json:"data,omitempty"`
	Metadata      TriggerMetadata `json:"metadata"`
}
