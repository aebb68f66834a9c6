package types

import "time"

// EventType names a workflow lifecycle event.
type EventType string

const (
	EventWorkflowCreated    EventType = "workflow_created"
	EventWorkflowStarted    EventType = "workflow_started"
	EventWorkflowPaused     EventType = "workflow_paused"
	EventWorkflowResumed    EventType = "workflow_resumed"
	EventWorkflowCompleted  EventType = "workflow_completed"
	EventWorkflowFailed     EventType = "workflow_failed"
	EventWorkflowAborted    EventType = "workflow_aborted"
	EventWorkflowRolledBack EventType = "workflow_rolled_back"

	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskRetried   EventType = "task_retried"
	EventTaskBlocked   EventType = "task_blocked"
	EventTaskApproved  EventType = "task_approved"
	EventTaskDenied    EventType = "task_denied"

	EventCheckpointCreated EventType = "checkpoint_created"
)

// WorkflowEvent is the audit record emitted on every state transition and
// persisted via the store. External dashboards consume this stream.
type WorkflowEvent struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Type       EventType      `json:"type"`
	TaskID     string         `json:"task_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}
