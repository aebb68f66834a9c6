package types

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPlanReadyTasks(t *testing.T) {
	testCases := []struct {
		name     string
		tasks    []*Task
		expected []string
	}{
		{
			name: "no dependencies keeps plan order",
			tasks: []*Task{
				{ID: "a", Status: TaskPending},
				{ID: "b", Status: TaskPending},
				{ID: "c", Status: TaskPending},
			},
			expected: []string{"a", "b", "c"},
		},
		{
			name: "unmet dependency excluded",
			tasks: []*Task{
				{ID: "a", Status: TaskPending},
				{ID: "b", Status: TaskPending, DependsOn: []string{"a"}},
			},
			expected: []string{"a"},
		},
		{
			name: "completed dependency unlocks dependent",
			tasks: []*Task{
				{ID: "a", Status: TaskCompleted},
				{ID: "b", Status: TaskPending, DependsOn: []string{"a"}},
			},
			expected: []string{"b"},
		},
		{
			name: "skipped dependency does not satisfy",
			tasks: []*Task{
				{ID: "a", Status: TaskSkipped},
				{ID: "b", Status: TaskPending, DependsOn: []string{"a"}},
			},
			expected: nil,
		},
		{
			name: "blocked and failed tasks are not ready",
			tasks: []*Task{
				{ID: "a", Status: TaskBlocked},
				{ID: "b", Status: TaskFailed},
				{ID: "c", Status: TaskPending},
			},
			expected: []string{"c"},
		},
		{
			name: "dependency on unknown task never satisfied",
			tasks: []*Task{
				{ID: "a", Status: TaskPending, DependsOn: []string{"ghost"}},
			},
			expected: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			plan := &Plan{Tasks: tc.tasks}
			ready := plan.ReadyTasks()
			var ids []string
			for _, task := range ready {
				ids = append(ids, task.ID)
			}
			assert.Equal(t, tc.expected, ids)
		})
	}
}

func TestPlanValidate(t *testing.T) {
	t.Run("valid dag", func(t *testing.T) {
		plan := &Plan{Tasks: []*Task{
			{ID: "a"},
			{ID: "b", DependsOn: []string{"a"}},
			{ID: "c", DependsOn: []string{"a", "b"}},
		}}
		assert.NoError(t, plan.Validate())
	})

	t.Run("self cycle", func(t *testing.T) {
		plan := &Plan{Tasks: []*Task{
			{ID: "a", DependsOn: []string{"a"}},
		}}
		err := plan.Validate()
		require.Error(t, err)
		assert.Equal(t, ErrPlanInvalid, GetErrorCode(err))
	})

	t.Run("two task cycle", func(t *testing.T) {
		plan := &Plan{Tasks: []*Task{
			{ID: "a", DependsOn: []string{"b"}},
			{ID: "b", DependsOn: []string{"a"}},
		}}
		err := plan.Validate()
		require.Error(t, err)
		assert.Equal(t, ErrPlanInvalid, GetErrorCode(err))
	})

	t.Run("duplicate task id", func(t *testing.T) {
		plan := &Plan{Tasks: []*Task{
			{ID: "a"},
			{ID: "a"},
		}}
		require.Error(t, plan.Validate())
	})

	t.Run("unknown dependency", func(t *testing.T) {
		plan := &Plan{Tasks: []*Task{
			{ID: "a", DependsOn: []string{"missing"}},
		}}
		require.Error(t, plan.Validate())
	})
}

// Ready tasks never include a task whose dependencies are not all completed,
// and their relative order always matches plan order.
func TestPropertyReadyTasksRespectDependencies(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		statuses := []TaskStatus{TaskPending, TaskInProgress, TaskCompleted, TaskBlocked, TaskFailed, TaskSkipped}

		plan := &Plan{}
		for i := 0; i < n; i++ {
			task := &Task{
				ID:     fmt.Sprintf("t%d", i),
				Status: statuses[rapid.IntRange(0, len(statuses)-1).Draw(t, "status")],
			}
			// only depend on earlier tasks so the graph stays acyclic
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(t, "dep") {
					task.DependsOn = append(task.DependsOn, fmt.Sprintf("t%d", j))
				}
			}
			plan.Tasks = append(plan.Tasks, task)
		}
		require.NoError(t, plan.Validate())

		ready := plan.ReadyTasks()
		seen := map[string]int{}
		for i, task := range plan.Tasks {
			seen[task.ID] = i
		}

		prev := -1
		for _, task := range ready {
			assert.Equal(t, TaskPending, task.Status)
			for _, dep := range task.DependsOn {
				assert.Equal(t, TaskCompleted, plan.Task(dep).Status,
					"ready task %s has incomplete dependency %s", task.ID, dep)
			}
			idx := seen[task.ID]
			assert.Greater(t, idx, prev, "ready order must match plan order")
			prev = idx
		}
	})
}

func TestWorkflowTaskIDsByStatus(t *testing.T) {
	wf := &Workflow{Plan: &Plan{Tasks: []*Task{
		{ID: "a", Status: TaskCompleted},
		{ID: "b", Status: TaskPending},
		{ID: "c", Status: TaskCompleted},
		{ID: "d", Status: TaskBlocked},
	}}}

	assert.Equal(t, []string{"a", "c"}, wf.TaskIDsByStatus(TaskCompleted))
	assert.Equal(t, []string{"b"}, wf.TaskIDsByStatus(TaskPending))
	assert.Equal(t, []string{"d"}, wf.TaskIDsByStatus(TaskBlocked))
	assert.Empty(t, wf.TaskIDsByStatus(TaskFailed))
}
