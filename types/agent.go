package types

import "time"

// AgentType names a logical worker role. The engine's classifier maps task
// titles onto these types; the registry caps the pool per type.
type AgentType string

const (
	AgentDeveloper   AgentType = "developer"
	AgentTester      AgentType = "tester"
	AgentReviewer    AgentType = "reviewer"
	AgentDeployer    AgentType = "deployer"
	AgentPlanner     AgentType = "planner"
	AgentCoordinator AgentType = "coordinator"
)

// AgentStatus represents the runtime state of a registered agent.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentBusy       AgentStatus = "busy"
	AgentWaiting    AgentStatus = "waiting"
	AgentError      AgentStatus = "error"
	AgentTerminated AgentStatus = "terminated"
)

// RegisteredAgent is the ephemeral runtime record for a logical worker.
// It lives only in the registry's process memory; the only durable form is
// the AgentState snapshot embedded in a checkpoint.
type RegisteredAgent struct {
	ID             string            `json:"id"`
	Type           AgentType         `json:"type"`
	Status         AgentStatus       `json:"status"`
	CurrentTaskID  string            `json:"current_task_id,omitempty"`
	WorkflowID     string            `json:"workflow_id,omitempty"`
	TasksCompleted int               `json:"tasks_completed"`
	TasksFailed    int               `json:"tasks_failed"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	SpawnedAt      time.Time         `json:"spawned_at"`
	LastActiveAt   time.Time         `json:"last_active_at"`
}

// AgentState is the checkpoint-embedded projection of a registered agent.
type AgentState struct {
	ID             string      `json:"id"`
	Type           AgentType   `json:"type"`
	Status         AgentStatus `json:"status"`
	CurrentTaskID  string      `json:"current_task_id,omitempty"`
	TasksCompleted int         `json:"tasks_completed"`
}
