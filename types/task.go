package types

import (
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskPending means the task has not started yet
	TaskPending TaskStatus = "pending"
	// TaskInProgress means the task is currently executing
	TaskInProgress TaskStatus = "in_progress"
	// TaskCompleted means the task finished successfully
	TaskCompleted TaskStatus = "completed"
	// TaskBlocked means the task is waiting for human approval
	TaskBlocked TaskStatus = "blocked"
	// TaskFailed means the task exhausted its retries
	TaskFailed TaskStatus = "failed"
	// TaskSkipped means the task was explicitly denied/skipped
	TaskSkipped TaskStatus = "skipped"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// TaskPriority represents the relative importance of a task.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// TaskSize is a coarse effort estimate attached by the planner.
type TaskSize string

const (
	SizeSmall  TaskSize = "small"
	SizeMedium TaskSize = "medium"
	SizeLarge  TaskSize = "large"
)

// Task is the unit of work scheduled by the workflow engine.
// Task status is mutated exclusively by the engine's execution loop.
type Task struct {
	// ID is the unique identifier within a plan
	ID string `json:"id"`
	// Title is a short human-readable description; the engine's
	// classifier derives the target agent type and approval category
	// from it
	Title string `json:"title"`
	// Status is the current lifecycle state
	Status TaskStatus `json:"status"`
	// Priority is the relative importance
	Priority TaskPriority `json:"priority,omitempty"`
	// Size is the planner's effort estimate
	Size TaskSize `json:"size,omitempty"`
	// DependsOn lists task ids that must be completed first
	DependsOn []string `json:"depends_on,omitempty"`
	// AssignedAgent is the id of the agent currently working the task
	AssignedAgent string `json:"assigned_agent,omitempty"`
	// Approved records a human approval; an approved task is never
	// gated again
	Approved bool `json:"approved,omitempty"`
	// RetryCount is the number of retries consumed so far
	RetryCount int `json:"retry_count"`
	// MaxRetries caps retries before the workflow fails (0 = engine default)
	MaxRetries int `json:"max_retries,omitempty"`
	// EstimatedCost is the projected spend in USD, consulted by approval gating
	EstimatedCost float64 `json:"estimated_cost,omitempty"`
	// Error holds the most recent execution error message
	Error string `json:"error,omitempty"`
	// StartedAt is when the task first entered in_progress
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Phase groups tasks into a named stage of the plan.
type Phase struct {
	Name    string   `json:"name"`
	TaskIDs []string `json:"task_ids,omitempty"`
}

// Plan is the static task graph a workflow is instantiated from:
// ordered tasks, dependency edges, and phase groupings.
type Plan struct {
	Tasks  []*Task  `json:"tasks"`
	Phases []*Phase `json:"phases,omitempty"`
}

// Task returns the task with the given id, or nil.
func (p *Plan) Task(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ReadyTasks computes the ready set: pending tasks whose dependencies are
// all completed, in plan order. The result is a pure function of the
// current task statuses.
func (p *Plan) ReadyTasks() []*Task {
	statuses := make(map[string]TaskStatus, len(p.Tasks))
	for _, t := range p.Tasks {
		statuses[t.ID] = t.Status
	}

	var ready []*Task
	for _, t := range p.Tasks {
		if t.Status != TaskPending {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if statuses[dep] != TaskCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready
}

// Validate checks plan well-formedness: unique task ids, known dependency
// references, and an acyclic dependency graph (Kahn's algorithm). A cyclic
// plan would otherwise only surface at runtime as a blocked workflow.
func (p *Plan) Validate() error {
	seen := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return NewError(ErrPlanInvalid, "task with empty id")
		}
		if seen[t.ID] {
			return NewError(ErrPlanInvalid, fmt.Sprintf("duplicate task id: %s", t.ID))
		}
		seen[t.ID] = true
	}

	indegree := make(map[string]int, len(p.Tasks))
	dependents := make(map[string][]string, len(p.Tasks))
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return NewError(ErrPlanInvalid, fmt.Sprintf("task %s depends on unknown task %s", t.ID, dep))
			}
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	queue := make([]string, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(p.Tasks) {
		return NewError(ErrPlanInvalid, "dependency cycle detected")
	}
	return nil
}
