// Package registry tracks the lifecycle and capacity of logical worker
// agents by type: spawn, task assignment, error tracking, termination, and
// idle cleanup. Agents are ephemeral runtime records; the only durable form
// is the AgentState snapshot embedded in checkpoints.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pwi-labs/autoflow/bus"
	"github.com/pwi-labs/autoflow/internal/metrics"
	"github.com/pwi-labs/autoflow/types"
)

// DefaultMaxAgentsPerType caps the pool of non-terminated agents per type.
const DefaultMaxAgentsPerType = 5

// DefaultIdleTimeout is how long an agent may sit idle before CleanupIdle
// terminates it.
const DefaultIdleTimeout = 5 * time.Minute

// Options configures a Registry.
type Options struct {
	// MaxAgentsPerType caps concurrently registered agents per type
	// (default 5)
	MaxAgentsPerType int
	// IdleTimeout is the CleanupIdle threshold (default 5m)
	IdleTimeout time.Duration
	// Bus, when non-nil, auto-subscribes each spawned agent to messages
	// addressed to its type
	Bus *bus.MessageBus
	// Metrics, when non-nil, tracks active agent gauges
	Metrics *metrics.Collector
}

// Registry is the bounded in-process pool of registered agents.
// All mutating methods are total over known agent ids: unknown ids return
// false rather than an error. Capacity exhaustion on Spawn is the only
// user-facing error.
type Registry struct {
	mu          sync.Mutex
	agents      map[string]*types.RegisteredAgent
	subsByAgent map[string]string // agentID -> bus subscription id
	maxPerType  int
	idleTimeout time.Duration
	bus         *bus.MessageBus
	metrics     *metrics.Collector
	logger      *zap.Logger
	now         func() time.Time
}

// New creates an agent registry.
func New(opts Options, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxPerType := opts.MaxAgentsPerType
	if maxPerType <= 0 {
		maxPerType = DefaultMaxAgentsPerType
	}
	idleTimeout := opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Registry{
		agents:      make(map[string]*types.RegisteredAgent),
		subsByAgent: make(map[string]string),
		maxPerType:  maxPerType,
		idleTimeout: idleTimeout,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		logger:      logger.With(zap.String("component", "agent_registry")),
		now:         time.Now,
	}
}

// Spawn registers a new idle agent of the given type. It fails when the
// count of non-terminated agents of that type has reached the per-type cap.
func (r *Registry) Spawn(agentType types.AgentType, workflowID, taskID string, metadata map[string]string) (*types.RegisteredAgent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, a := range r.agents {
		if a.Type == agentType && a.Status != types.AgentTerminated {
			count++
		}
	}
	if count >= r.maxPerType {
		return nil, types.NewError(types.ErrAgentCapacity,
			fmt.Sprintf("agent type %s at capacity (%d)", agentType, r.maxPerType))
	}

	now := r.now()
	agent := &types.RegisteredAgent{
		ID:            fmt.Sprintf("%s-%s", agentType, uuid.New().String()[:8]),
		Type:          agentType,
		Status:        types.AgentIdle,
		CurrentTaskID: taskID,
		WorkflowID:    workflowID,
		Metadata:      metadata,
		SpawnedAt:     now,
		LastActiveAt:  now,
	}
	r.agents[agent.ID] = agent

	if r.bus != nil {
		subID := r.bus.Subscribe(agent.ID, bus.Filter{To: string(agentType)}, func(msg *types.AgentMessage) {
			r.touch(agent.ID)
		})
		r.subsByAgent[agent.ID] = subID
	}

	r.metrics.AgentsActive(string(agentType), count+1)
	r.logger.Info("agent spawned",
		zap.String("agent_id", agent.ID),
		zap.String("agent_type", string(agentType)),
		zap.String("workflow_id", workflowID),
	)
	return agent, nil
}

// FindOrSpawn returns an idle agent of the type if one exists, rebinding
// its workflow id; otherwise it spawns a new one.
func (r *Registry) FindOrSpawn(agentType types.AgentType, workflowID string) (*types.RegisteredAgent, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := r.agents[id]
		if a.Type == agentType && a.Status == types.AgentIdle {
			a.WorkflowID = workflowID
			a.LastActiveAt = r.now()
			r.mu.Unlock()
			return a, nil
		}
	}
	r.mu.Unlock()
	return r.Spawn(agentType, workflowID, "", nil)
}

// touch refreshes an agent's last-active timestamp.
func (r *Registry) touch(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok {
		a.LastActiveAt = r.now()
	}
}

// AssignTask transitions the agent to busy on the given task.
// Returns false for unknown or terminated agents.
func (r *Registry) AssignTask(agentID, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok || a.Status == types.AgentTerminated {
		return false
	}
	a.Status = types.AgentBusy
	a.CurrentTaskID = taskID
	a.LastActiveAt = r.now()
	return true
}

// CompleteTask returns the agent to idle and clears its task.
func (r *Registry) CompleteTask(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok || a.Status == types.AgentTerminated {
		return false
	}
	a.Status = types.AgentIdle
	a.CurrentTaskID = ""
	a.TasksCompleted++
	a.LastActiveAt = r.now()
	return true
}

// RecordError puts the agent into error status.
func (r *Registry) RecordError(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok || a.Status == types.AgentTerminated {
		return false
	}
	a.Status = types.AgentError
	a.TasksFailed++
	a.LastActiveAt = r.now()
	return true
}

// ClearError returns an errored agent to idle.
func (r *Registry) ClearError(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok || a.Status != types.AgentError {
		return false
	}
	a.Status = types.AgentIdle
	a.CurrentTaskID = ""
	a.LastActiveAt = r.now()
	return true
}

// Terminate unsubscribes the agent from the bus and removes it.
func (r *Registry) Terminate(agentID string) bool {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	a.Status = types.AgentTerminated
	delete(r.agents, agentID)
	subID := r.subsByAgent[agentID]
	delete(r.subsByAgent, agentID)
	remaining := 0
	for _, other := range r.agents {
		if other.Type == a.Type && other.Status != types.AgentTerminated {
			remaining++
		}
	}
	r.mu.Unlock()

	if r.bus != nil && subID != "" {
		r.bus.Unsubscribe(subID)
	}
	r.metrics.AgentsActive(string(a.Type), remaining)
	r.logger.Info("agent terminated", zap.String("agent_id", agentID))
	return true
}

// TerminateByType terminates every agent of the given type and returns the
// number terminated.
func (r *Registry) TerminateByType(agentType types.AgentType) int {
	return r.terminateWhere(func(a *types.RegisteredAgent) bool { return a.Type == agentType })
}

// TerminateByWorkflow terminates every agent bound to the workflow.
func (r *Registry) TerminateByWorkflow(workflowID string) int {
	return r.terminateWhere(func(a *types.RegisteredAgent) bool { return a.WorkflowID == workflowID })
}

// TerminateAll terminates every registered agent.
func (r *Registry) TerminateAll() int {
	return r.terminateWhere(func(a *types.RegisteredAgent) bool { return true })
}

// CleanupIdle terminates agents idle beyond the configured timeout.
func (r *Registry) CleanupIdle() int {
	cutoff := r.now().Add(-r.idleTimeout)
	return r.terminateWhere(func(a *types.RegisteredAgent) bool {
		return a.Status == types.AgentIdle && a.LastActiveAt.Before(cutoff)
	})
}

func (r *Registry) terminateWhere(pred func(*types.RegisteredAgent) bool) int {
	r.mu.Lock()
	var ids []string
	for id, a := range r.agents {
		if pred(a) {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		r.Terminate(id)
	}
	return len(ids)
}

// Get returns the agent with the given id, or nil.
func (r *Registry) Get(agentID string) *types.RegisteredAgent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents[agentID]
}

// List returns all registered agents, ordered by id.
func (r *Registry) List() []*types.RegisteredAgent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.RegisteredAgent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CountByType counts non-terminated agents of the given type.
func (r *Registry) CountByType(agentType types.AgentType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, a := range r.agents {
		if a.Type == agentType && a.Status != types.AgentTerminated {
			count++
		}
	}
	return count
}

// ToAgentStates projects the active set into checkpoint form, ordered by id.
func (r *Registry) ToAgentStates() []types.AgentState {
	agents := r.List()
	out := make([]types.AgentState, 0, len(agents))
	for _, a := range agents {
		out = append(out, types.AgentState{
			ID:             a.ID,
			Type:           a.Type,
			Status:         a.Status,
			CurrentTaskID:  a.CurrentTaskID,
			TasksCompleted: a.TasksCompleted,
		})
	}
	return out
}
