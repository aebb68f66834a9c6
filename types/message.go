package types

import "time"

// MessageType classifies an inter-agent message.
type MessageType string

const (
	// MessageRequest asks an agent to perform work
	MessageRequest MessageType = "request"
	// MessageResponse answers a request, linked via CorrelationID
	MessageResponse MessageType = "response"
	// MessageCheckpoint notifies about checkpoint/state-transition progress
	MessageCheckpoint MessageType = "checkpoint"
	// MessageEscalation signals that an agent cannot proceed without
	// human or coordinator intervention
	MessageEscalation MessageType = "escalation"
)

// MessagePriority orders messages by urgency.
type MessagePriority string

const (
	PriorityNormalMsg   MessagePriority = "normal"
	PriorityHighMsg     MessagePriority = "high"
	PriorityCriticalMsg MessagePriority = "critical"
)

// MessagePayload carries the task-scoped body of an agent message.
type MessagePayload struct {
	TaskID           string            `json:"task_id,omitempty"`
	Status           string            `json:"status,omitempty"`
	Artifacts        map[string]string `json:"artifacts,omitempty"`
	RequiresApproval bool              `json:"requires_approval,omitempty"`
	Context          map[string]any    `json:"context,omitempty"`
	Error            string            `json:"error,omitempty"`
	Result           any               `json:"result,omitempty"`
}

// AgentMessage is the envelope exchanged over the message bus. Immutable
// once published; acknowledgement is the only permitted mutation.
type AgentMessage struct {
	ID         string      `json:"id"`
	WorkflowID string      `json:"workflow_id,omitempty"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	Type       MessageType `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    MessagePayload `json:"payload"`
	// CorrelationID links a response back to its originating request
	CorrelationID   string          `json:"correlation_id,omitempty"`
	ParentMessageID string          `json:"parent_message_id,omitempty"`
	Priority        MessagePriority `json:"priority,omitempty"`
	TTL             time.Duration   `json:"ttl,omitempty"`
	Acknowledged    bool            `json:"acknowledged"`
}
