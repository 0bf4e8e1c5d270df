package domain

import "time"

// RunStatus is the lifecycle state of a workflow run.
// Legal transitions: RUNNING -> SUCCEEDED, RUNNING -> FAILED. A run is
// immutable once terminal.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// StepStatus is the terminal per-node outcome recorded in the step log.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusError   StepStatus = "error"
	StepStatusTimeout StepStatus = "timeout"
	StepStatusSkipped StepStatus = "skipped"
)

// Failed reports whether the status counts as an error for downstream
// join and branch purposes.
func (s StepStatus) Failed() bool {
	return s == StepStatusError || s == StepStatusTimeout
}

// Step is the recorded outcome of executing a single node within a run.
// Steps are append-only while the run is RUNNING and ordered by completion
// time, not by static graph order.
type Step struct {
	NodeID      string         `json:"node_id"`
	NodeKind    NodeKind       `json:"node_kind"`
	Status      StepStatus     `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// WorkflowRun is one execution instance of a workflow. It is created exactly
// once per admitted trigger event and owned exclusively by the executor and
// run tracker.
type WorkflowRun struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Trigger is the payload snapshot that started the run.
	Trigger TriggerPayload `json:"trigger"`

	Steps []Step `json:"steps"`

	Error     string `json:"error,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// Terminal reports whether the run has reached a final status.
func (r *WorkflowRun) Terminal() bool {
	return r.Status.Terminal()
}
