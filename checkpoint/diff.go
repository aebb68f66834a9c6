package checkpoint

import (
	"context"
	"sort"
	"time"
)

// DiffResult describes how workflow state changed between two checkpoints.
type DiffResult struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	// TasksCompleted are completed in "to" but not in "from"
	TasksCompleted []string `json:"tasks_completed"`
	// TasksReverted are completed in "from" but no longer in "to"
	TasksReverted []string `json:"tasks_reverted"`
	// TasksUnblocked left the blocked set between the two checkpoints
	TasksUnblocked   []string      `json:"tasks_unblocked"`
	ArtifactsAdded   []string      `json:"artifacts_added"`
	ArtifactsRemoved []string      `json:"artifacts_removed"`
	CostDelta        float64       `json:"cost_delta"`
	TimeDelta        time.Duration `json:"time_delta"`
	AgentDelta       int           `json:"agent_delta"`
}

// Diff computes set differences of task ids and artifact keys between two
// checkpoints of the same workflow, plus cost/time/agent deltas.
func (m *Manager) Diff(ctx context.Context, workflowID, fromID, toID string) (*DiffResult, error) {
	from, err := m.Get(ctx, workflowID, fromID)
	if err != nil {
		return nil, err
	}
	to, err := m.Get(ctx, workflowID, toID)
	if err != nil {
		return nil, err
	}

	mapKeys := func(artifacts map[string]string) []string {
		keys := make([]string, 0, len(artifacts))
		for k := range artifacts {
			keys = append(keys, k)
		}
		return keys
	}

	return &DiffResult{
		FromID:           fromID,
		ToID:             toID,
		TasksCompleted:   subtract(to.CompletedTasks, from.CompletedTasks),
		TasksReverted:    subtract(from.CompletedTasks, to.CompletedTasks),
		TasksUnblocked:   subtract(from.BlockedTasks, to.BlockedTasks),
		ArtifactsAdded:   subtract(mapKeys(to.Artifacts), mapKeys(from.Artifacts)),
		ArtifactsRemoved: subtract(mapKeys(from.Artifacts), mapKeys(to.Artifacts)),
		CostDelta:        to.Resources.CostUSD - from.Resources.CostUSD,
		TimeDelta:        to.Resources.Elapsed - from.Resources.Elapsed,
		AgentDelta:       len(to.AgentStates) - len(from.AgentStates),
	}, nil
}

// subtract returns the sorted elements of a not present in b.
func subtract(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	out := []string{}
	for _, s := range a {
		if !inB[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
