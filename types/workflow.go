package types

import "time"

// WorkflowStatus represents the top-level workflow state machine:
// pending → planning → executing ⇄ paused → completed | failed | aborted.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowPlanning  WorkflowStatus = "planning"
	WorkflowExecuting WorkflowStatus = "executing"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowAborted   WorkflowStatus = "aborted"
)

// Terminal reports whether the workflow can no longer advance on its own.
// A failed workflow may still be resumed after task approvals.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowAborted
}

// ResourceUsage tracks cumulative resource consumption of a workflow.
type ResourceUsage struct {
	CostUSD       float64       `json:"cost_usd"`
	Elapsed       time.Duration `json:"elapsed"`
	APICalls      int           `json:"api_calls"`
	FilesModified int           `json:"files_modified"`
	TestsRun      int           `json:"tests_run"`
}

// Budget is an optional spend ceiling supplied by the caller.
type Budget struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Workflow is the aggregate root binding a plan, its execution mode, the
// mutable status, resource counters, and the ordered checkpoint trail.
// Owned and mutated exclusively by the workflow engine; persisted after
// every status-affecting mutation.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      WorkflowStatus `json:"status"`
	Mode        ExecutionMode  `json:"mode"`
	Plan        *Plan          `json:"plan"`
	Resources   ResourceUsage  `json:"resources"`
	// CheckpointIDs is ordered oldest-first
	CheckpointIDs []string      `json:"checkpoint_ids,omitempty"`
	Budget        *Budget       `json:"budget,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ApprovalGranted reports whether a human has approved at least one task.
// An approval stands for a review of the whole plan: once granted, tasks
// that were never gated run without further approval prompts, while tasks
// already blocked still need their own explicit approve or deny.
func (w *Workflow) ApprovalGranted() bool {
	if w.Plan == nil {
		return false
	}
	for _, t := range w.Plan.Tasks {
		if t.Approved {
			return true
		}
	}
	return false
}

// Task returns the workflow's task with the given id, or nil.
func (w *Workflow) Task(id string) *Task {
	if w.Plan == nil {
		return nil
	}
	return w.Plan.Task(id)
}

// TaskIDsByStatus projects task ids into the given status bucket.
func (w *Workflow) TaskIDsByStatus(status TaskStatus) []string {
	if w.Plan == nil {
		return nil
	}
	var ids []string
	for _, t := range w.Plan.Tasks {
		if t.Status == status {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
