package bus

import (
	"time"

	"github.com/pwi-labs/autoflow/types"
)

// Filter is the subscription/query predicate over agent messages.
// Zero-value fields match everything, so the zero Filter matches every
// message. A malformed filter never causes the bus to raise; it simply
// matches nothing beyond what its set fields allow.
type Filter struct {
	// From matches the sender exactly
	From string
	// To matches the recipient exactly
	To string
	// Types matches any of the listed message types
	Types []types.MessageType
	// TaskID matches the payload task id
	TaskID string
	// CorrelationID matches the correlation id
	CorrelationID string
	// Priority matches the message priority
	Priority types.MessagePriority
	// Acknowledged, when set, matches the acknowledged flag
	Acknowledged *bool
	// Since/Until bound the message timestamp (inclusive since, exclusive until)
	Since time.Time
	Until time.Time
}

// Matches reports whether the message satisfies every set field.
func (f Filter) Matches(m *types.AgentMessage) bool {
	if m == nil {
		return false
	}
	if f.From != "" && m.From != f.From {
		return false
	}
	if f.To != "" && m.To != f.To {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if m.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.TaskID != "" && m.Payload.TaskID != f.TaskID {
		return false
	}
	if f.CorrelationID != "" && m.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Priority != "" && m.Priority != f.Priority {
		return false
	}
	if f.Acknowledged != nil && m.Acknowledged != *f.Acknowledged {
		return false
	}
	if !f.Since.IsZero() && m.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !m.Timestamp.Before(f.Until) {
		return false
	}
	return true
}
