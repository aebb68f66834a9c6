package types

import "time"

// RollbackInfo describes the rollback bundle attached to a checkpoint:
// a files backup archive, an optional database snapshot reference, a config
// snapshot, and an optional VCS revision. CanRollback is true iff at least
// one of backup path or VCS revision was obtained at creation time.
type RollbackInfo struct {
	BackupPath     string            `json:"backup_path,omitempty"`
	DBSnapshot     string            `json:"db_snapshot,omitempty"`
	ConfigSnapshot map[string]string `json:"config_snapshot,omitempty"`
	GitRevision    string            `json:"git_revision,omitempty"`
	CanRollback    bool              `json:"can_rollback"`
}

// Checkpoint is an immutable point-in-time snapshot of workflow state.
// Never mutated after creation; only superseded by newer checkpoints or
// deleted by retention cleanup.
type Checkpoint struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	CompletedTasks []string          `json:"completed_tasks"`
	PendingTasks   []string          `json:"pending_tasks"`
	BlockedTasks   []string          `json:"blocked_tasks"`
	Artifacts      map[string]string `json:"artifacts,omitempty"`
	AgentStates    []AgentState      `json:"agent_states,omitempty"`
	Resources      ResourceUsage     `json:"resources"`
	Rollback       RollbackInfo      `json:"rollback"`
}

// CheckpointSummary is the list projection of a checkpoint.
type CheckpointSummary struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Completed   int       `json:"completed"`
	Pending     int       `json:"pending"`
	Blocked     int       `json:"blocked"`
	CanRollback bool      `json:"can_rollback"`
}

// Summary projects the checkpoint into its list form.
func (c *Checkpoint) Summary() CheckpointSummary {
	return CheckpointSummary{
		ID:          c.ID,
		WorkflowID:  c.WorkflowID,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
		Completed:   len(c.CompletedTasks),
		Pending:     len(c.PendingTasks),
		Blocked:     len(c.BlockedTasks),
		CanRollback: c.Rollback.CanRollback,
	}
}
