package domain

import "time"

// RunEventType identifies a realtime run event.
type RunEventType string

const (
	EventRunCreated    RunEventType = "run.created"
	EventStepCompleted RunEventType = "step.completed"
	EventRunCompleted  RunEventType = "run.completed"
)

// RunEvent is the canonical event shape emitted to the realtime publisher.
// Delivery is fire-and-forget; publisher failures never affect run
// correctness.
type RunEvent struct {
	ID         string       `json:"id"`
	Type       RunEventType `json:"type"`
	RunID      string       `json:"run_id"`
	WorkflowID string       `json:"workflow_id"`
	Status     RunStatus    `json:"status"`
	NodeID     string       `json:"node_id,omitempty"`
	StepStatus StepStatus   `json:"step_status,omitempty"`
	Progress   float64      `json:"progress,omitempty"`
	Error      string       `json:"error,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}
