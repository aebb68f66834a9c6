// Package bus implements the in-process publish/subscribe transport for
// typed inter-agent messages, with request/response correlation, a bounded
// queryable history, and best-effort persistence of the message log.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pwi-labs/autoflow/internal/metrics"
	"github.com/pwi-labs/autoflow/persistence"
	"github.com/pwi-labs/autoflow/types"
)

// DefaultMaxQueueSize bounds the retained message history.
const DefaultMaxQueueSize = 10000

// DefaultRequestTimeout is how long Request waits for a correlated response.
const DefaultRequestTimeout = 30 * time.Second

// Handler receives a published message matching a subscription's filter.
type Handler func(msg *types.AgentMessage)

type subscription struct {
	id      string
	agentID string
	filter  Filter
	handler Handler
}

// Options configures a MessageBus.
type Options struct {
	// MaxQueueSize bounds the in-memory history (default 10000);
	// oldest entries are dropped beyond the cap
	MaxQueueSize int
	// Store, when non-nil, receives a best-effort copy of every
	// published message
	Store persistence.Store
	// Metrics, when non-nil, counts publishes and drops
	Metrics *metrics.Collector
}

// MessageBus delivers messages synchronously to all matching subscribers in
// subscription-insertion order and retains a bounded history for queries.
// A subscriber panic is caught and logged; it neither prevents delivery to
// other subscribers nor propagates to the publisher.
type MessageBus struct {
	mu           sync.Mutex
	subs         []*subscription
	queue        []*types.AgentMessage
	maxQueueSize int
	store        persistence.Store
	metrics      *metrics.Collector
	logger       *zap.Logger
}

// New creates a message bus.
func New(opts Options, logger *zap.Logger) *MessageBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxQueue := opts.MaxQueueSize
	if maxQueue <= 0 {
		maxQueue = DefaultMaxQueueSize
	}
	b := &MessageBus{
		maxQueueSize: maxQueue,
		store:        opts.Store,
		metrics:      opts.Metrics,
		logger:       logger.With(zap.String("component", "message_bus")),
	}
	return b
}

// Subscribe registers a callback for messages matching the filter and
// returns the subscription id. An agent may hold multiple subscriptions.
func (b *MessageBus) Subscribe(agentID string, filter Filter, handler Handler) string {
	sub := &subscription{
		id:      uuid.New().String(),
		agentID: agentID,
		filter:  filter,
		handler: handler,
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug("subscription added",
		zap.String("subscription_id", sub.id),
		zap.String("agent_id", agentID),
	)
	return sub.id
}

// Unsubscribe removes a subscription. Idempotent; unknown ids are ignored.
func (b *MessageBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == subscriptionID {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes every subscription held by the agent. Idempotent.
func (b *MessageBus) UnsubscribeAll(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0]
	for _, sub := range b.subs {
		if sub.agentID != agentID {
			kept = append(kept, sub)
		}
	}
	b.subs = kept
}

// Publish appends the message to the bounded history, synchronously invokes
// every matching subscriber in subscription-insertion order, then persists
// the message best-effort. Publish never returns an error: a failing
// subscriber is isolated, and persistence failure only logs a warning.
func (b *MessageBus) Publish(msg *types.AgentMessage) *types.AgentMessage {
	if msg == nil {
		return nil
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Priority == "" {
		msg.Priority = types.PriorityNormalMsg
	}

	b.mu.Lock()
	b.queue = append(b.queue, msg)
	for len(b.queue) > b.maxQueueSize {
		b.queue = b.queue[1:]
		b.metrics.MessageDropped()
	}
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.Matches(msg) {
			matched = append(matched, sub)
		}
	}
	b.mu.Unlock()

	b.metrics.MessagePublished(string(msg.Type))

	for _, sub := range matched {
		b.deliver(sub, msg)
	}

	// Persistence is best-effort and must not delay delivery, so it runs
	// after the subscribers have been invoked.
	if b.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.store.SaveMessage(ctx, msg); err != nil {
			b.logger.Warn("failed to persist message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		cancel()
	}
	return msg
}

// deliver invokes one subscriber, isolating panics.
func (b *MessageBus) deliver(sub *subscription, msg *types.AgentMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				zap.String("subscription_id", sub.id),
				zap.String("agent_id", sub.agentID),
				zap.String("message_id", msg.ID),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(msg)
}

// Request publishes a request-type message from one agent to another and
// waits for a response carrying a matching correlation id. It returns nil
// (not an error) when no response arrives within the timeout; exactly one
// of response or timeout resolves the call.
func (b *MessageBus) Request(ctx context.Context, from, to, taskID string, reqContext map[string]any, timeout time.Duration) (*types.AgentMessage, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	req := &types.AgentMessage{
		ID:   uuid.New().String(),
		From: from,
		To:   to,
		Type: types.MessageRequest,
		Payload: types.MessagePayload{
			TaskID:  taskID,
			Context: reqContext,
		},
	}

	// Install the one-shot response subscription before publishing so a
	// synchronous responder cannot race the installation. The buffered
	// channel plus subscription removal guarantees a single resolution.
	respCh := make(chan *types.AgentMessage, 1)
	subID := b.Subscribe(from, Filter{
		Types:         []types.MessageType{types.MessageResponse},
		CorrelationID: req.ID,
	}, func(msg *types.AgentMessage) {
		select {
		case respCh <- msg:
		default:
		}
	})
	defer b.Unsubscribe(subID)

	b.Publish(req)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-timer.C:
		b.logger.Debug("request timed out",
			zap.String("request_id", req.ID),
			zap.String("to", to),
		)
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Respond publishes a response correlated to the given request.
func (b *MessageBus) Respond(req *types.AgentMessage, payload types.MessagePayload) *types.AgentMessage {
	return b.Publish(&types.AgentMessage{
		From:            req.To,
		To:              req.From,
		Type:            types.MessageResponse,
		Payload:         payload,
		CorrelationID:   req.ID,
		ParentMessageID: req.ID,
		WorkflowID:      req.WorkflowID,
	})
}

// Escalate publishes a critical-priority escalation message signaling that
// an agent cannot proceed without human or coordinator intervention.
func (b *MessageBus) Escalate(from, to, taskID, reason string) *types.AgentMessage {
	return b.Publish(&types.AgentMessage{
		From:     from,
		To:       to,
		Type:     types.MessageEscalation,
		Priority: types.PriorityCriticalMsg,
		Payload: types.MessagePayload{
			TaskID: taskID,
			Error:  reason,
		},
	})
}

// Acknowledge marks the message with the given id. Returns false if the
// message is not in the retained history.
func (b *MessageBus) Acknowledge(messageID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, msg := range b.queue {
		if msg.ID == messageID {
			msg.Acknowledged = true
			return true
		}
	}
	return false
}

// GetMessages returns retained messages matching the filter, oldest first.
func (b *MessageBus) GetMessages(filter Filter) []*types.AgentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*types.AgentMessage
	for _, msg := range b.queue {
		if filter.Matches(msg) {
			out = append(out, msg)
		}
	}
	return out
}

// GetUnacknowledged returns retained messages that have not been acknowledged.
func (b *MessageBus) GetUnacknowledged() []*types.AgentMessage {
	acked := false
	return b.GetMessages(Filter{Acknowledged: &acked})
}

// GetPendingRequests returns request messages that have no correlated
// response in the retained history.
func (b *MessageBus) GetPendingRequests() []*types.AgentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	answered := make(map[string]bool)
	for _, msg := range b.queue {
		if msg.Type == types.MessageResponse && msg.CorrelationID != "" {
			answered[msg.CorrelationID] = true
		}
	}
	var out []*types.AgentMessage
	for _, msg := range b.queue {
		if msg.Type == types.MessageRequest && !answered[msg.ID] {
			out = append(out, msg)
		}
	}
	return out
}

// GetEscalations returns retained escalation messages.
func (b *MessageBus) GetEscalations() []*types.AgentMessage {
	return b.GetMessages(Filter{Types: []types.MessageType{types.MessageEscalation}})
}

// GetMessagesByTask returns retained messages referencing the task.
func (b *MessageBus) GetMessagesByTask(taskID string) []*types.AgentMessage {
	return b.GetMessages(Filter{TaskID: taskID})
}

// GetMessageHistory returns up to limit of the most recent messages,
// oldest first. A non-positive limit returns the full history.
func (b *MessageBus) GetMessageHistory(limit int) []*types.AgentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if limit > 0 && len(b.queue) > limit {
		start = len(b.queue) - limit
	}
	out := make([]*types.AgentMessage, len(b.queue)-start)
	copy(out, b.queue[start:])
	return out
}

// QueueLen reports the current history size.
func (b *MessageBus) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
