package persistence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pwi-labs/autoflow/types"
)

// MemoryStore is the in-memory implementation of Store. Suitable for
// development and testing; data is lost on restart. Records are cloned on
// save and load so callers cannot mutate stored state through shared
// pointers.
type MemoryStore struct {
	workflows   map[string]*types.Workflow
	checkpoints map[string]map[string]*types.Checkpoint // workflowID -> cpID -> cp
	events      map[string][]*types.WorkflowEvent
	messages    map[string][]*types.AgentMessage
	artifacts   map[string]map[string][]byte
	configs     map[string]map[string]string
	mu          sync.RWMutex
	closed      bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:   make(map[string]*types.Workflow),
		checkpoints: make(map[string]map[string]*types.Checkpoint),
		events:      make(map[string][]*types.WorkflowEvent),
		messages:    make(map[string][]*types.AgentMessage),
		artifacts:   make(map[string]map[string][]byte),
		configs:     make(map[string]map[string]string),
	}
}

// clone round-trips a record through JSON to decouple stored state from
// caller-held pointers.
func clone[T any](in *T) *T {
	if in == nil {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return in
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return in
	}
	return out
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) SaveWorkflow(ctx context.Context, wf *types.Workflow) error {
	if wf == nil || wf.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.workflows[wf.ID] = clone(wf)
	return nil
}

func (s *MemoryStore) LoadWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(wf), nil
}

func (s *MemoryStore) ListWorkflows(ctx context.Context) ([]*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*types.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, clone(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.workflows, workflowID)
	delete(s.checkpoints, workflowID)
	delete(s.events, workflowID)
	delete(s.messages, workflowID)
	delete(s.artifacts, workflowID)
	delete(s.configs, workflowID)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	if cp == nil || cp.ID == "" || cp.WorkflowID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	byID, ok := s.checkpoints[cp.WorkflowID]
	if !ok {
		byID = make(map[string]*types.Checkpoint)
		s.checkpoints[cp.WorkflowID] = byID
	}
	byID[cp.ID] = clone(cp)
	return nil
}

func (s *MemoryStore) LoadCheckpoint(ctx context.Context, workflowID, checkpointID string) (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	cp, ok := s.checkpoints[workflowID][checkpointID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(cp), nil
}

func (s *MemoryStore) ListCheckpoints(ctx context.Context, workflowID string) ([]*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	byID := s.checkpoints[workflowID]
	out := make([]*types.Checkpoint, 0, len(byID))
	for _, cp := range byID {
		out = append(out, clone(cp))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteCheckpoint(ctx context.Context, workflowID, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.checkpoints[workflowID], checkpointID)
	return nil
}

func (s *MemoryStore) SaveEvent(ctx context.Context, ev *types.WorkflowEvent) error {
	if ev == nil || ev.WorkflowID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.events[ev.WorkflowID] = append(s.events[ev.WorkflowID], clone(ev))
	return nil
}

func (s *MemoryStore) LoadEvents(ctx context.Context, workflowID string) ([]*types.WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	evs := s.events[workflowID]
	out := make([]*types.WorkflowEvent, 0, len(evs))
	for _, ev := range evs {
		out = append(out, clone(ev))
	}
	return out, nil
}

func (s *MemoryStore) SaveMessage(ctx context.Context, msg *types.AgentMessage) error {
	if msg == nil || msg.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.messages[msg.WorkflowID] = append(s.messages[msg.WorkflowID], clone(msg))
	return nil
}

func (s *MemoryStore) LoadMessages(ctx context.Context, workflowID string) ([]*types.AgentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	msgs := s.messages[workflowID]
	out := make([]*types.AgentMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, clone(m))
	}
	return out, nil
}

func (s *MemoryStore) SaveArtifact(ctx context.Context, workflowID, name string, data []byte) error {
	if workflowID == "" || name == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	byName, ok := s.artifacts[workflowID]
	if !ok {
		byName = make(map[string][]byte)
		s.artifacts[workflowID] = byName
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	byName[name] = buf
	return nil
}

func (s *MemoryStore) LoadArtifact(ctx context.Context, workflowID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	data, ok := s.artifacts[workflowID][name]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) ListArtifacts(ctx context.Context, workflowID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	byName := s.artifacts[workflowID]
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) SaveConfig(ctx context.Context, workflowID string, cfg map[string]string) error {
	if workflowID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	snap := make(map[string]string, len(cfg))
	for k, v := range cfg {
		snap[k] = v
	}
	s.configs[workflowID] = snap
	return nil
}

func (s *MemoryStore) LoadConfig(ctx context.Context, workflowID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	cfg, ok := s.configs[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out, nil
}
