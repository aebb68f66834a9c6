package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwi-labs/autoflow/bus"
	"github.com/pwi-labs/autoflow/types"
)

func TestSpawnCapacity(t *testing.T) {
	r := New(Options{MaxAgentsPerType: 2}, nil)

	a1, err := r.Spawn(types.AgentDeveloper, "wf-1", "", nil)
	require.NoError(t, err)
	_, err = r.Spawn(types.AgentDeveloper, "wf-1", "", nil)
	require.NoError(t, err)

	// third developer exceeds the cap
	_, err = r.Spawn(types.AgentDeveloper, "wf-1", "", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentCapacity, types.GetErrorCode(err))

	// other types have their own pool
	_, err = r.Spawn(types.AgentTester, "wf-1", "", nil)
	require.NoError(t, err)

	// terminating frees a slot
	require.True(t, r.Terminate(a1.ID))
	_, err = r.Spawn(types.AgentDeveloper, "wf-1", "", nil)
	assert.NoError(t, err)
}

func TestFindOrSpawnReusesIdle(t *testing.T) {
	r := New(Options{}, nil)

	a1, err := r.Spawn(types.AgentTester, "wf-1", "", nil)
	require.NoError(t, err)

	// idle agent is reused and rebound to the new workflow
	a2, err := r.FindOrSpawn(types.AgentTester, "wf-2")
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID)
	assert.Equal(t, "wf-2", a2.WorkflowID)
	assert.Equal(t, 1, r.CountByType(types.AgentTester))

	// busy agents are not reused
	require.True(t, r.AssignTask(a1.ID, "t1"))
	a3, err := r.FindOrSpawn(types.AgentTester, "wf-2")
	require.NoError(t, err)
	assert.NotEqual(t, a1.ID, a3.ID)
	assert.Equal(t, 2, r.CountByType(types.AgentTester))
}

func TestTaskLifecycle(t *testing.T) {
	r := New(Options{}, nil)

	a, err := r.Spawn(types.AgentDeveloper, "wf-1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, a.Status)

	require.True(t, r.AssignTask(a.ID, "t1"))
	assert.Equal(t, types.AgentBusy, r.Get(a.ID).Status)
	assert.Equal(t, "t1", r.Get(a.ID).CurrentTaskID)

	require.True(t, r.CompleteTask(a.ID))
	got := r.Get(a.ID)
	assert.Equal(t, types.AgentIdle, got.Status)
	assert.Empty(t, got.CurrentTaskID)
	assert.Equal(t, 1, got.TasksCompleted)

	assert.False(t, r.AssignTask("no-such-agent", "t2"))
	assert.False(t, r.CompleteTask("no-such-agent"))
}

func TestErrorLifecycle(t *testing.T) {
	r := New(Options{}, nil)

	a, err := r.Spawn(types.AgentDeveloper, "wf-1", "", nil)
	require.NoError(t, err)
	require.True(t, r.AssignTask(a.ID, "t1"))

	require.True(t, r.RecordError(a.ID))
	got := r.Get(a.ID)
	assert.Equal(t, types.AgentError, got.Status)
	assert.Equal(t, 1, got.TasksFailed)

	// ClearError only applies to errored agents
	require.True(t, r.ClearError(a.ID))
	assert.Equal(t, types.AgentIdle, r.Get(a.ID).Status)
	assert.False(t, r.ClearError(a.ID))
}

func TestTerminateByWorkflow(t *testing.T) {
	r := New(Options{}, nil)

	_, err := r.Spawn(types.AgentDeveloper, "wf-1", "", nil)
	require.NoError(t, err)
	_, err = r.Spawn(types.AgentTester, "wf-1", "", nil)
	require.NoError(t, err)
	_, err = r.Spawn(types.AgentDeveloper, "wf-2", "", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, r.TerminateByWorkflow("wf-1"))
	assert.Len(t, r.List(), 1)
	assert.Equal(t, "wf-2", r.List()[0].WorkflowID)
}

func TestCleanupIdle(t *testing.T) {
	r := New(Options{IdleTimeout: time.Minute}, nil)

	base := time.Now()
	r.now = func() time.Time { return base }

	stale, err := r.Spawn(types.AgentDeveloper, "wf-1", "", nil)
	require.NoError(t, err)
	busy, err := r.Spawn(types.AgentDeveloper, "wf-1", "", nil)
	require.NoError(t, err)

	// advance past the idle timeout; the busy agent stays
	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.True(t, r.AssignTask(busy.ID, "t1"))

	assert.Equal(t, 1, r.CleanupIdle())
	assert.Nil(t, r.Get(stale.ID))
	assert.NotNil(t, r.Get(busy.ID))
}

func TestSpawnSubscribesToBus(t *testing.T) {
	b := bus.New(bus.Options{}, nil)
	r := New(Options{Bus: b}, nil)

	base := time.Now()
	r.now = func() time.Time { return base }

	a, err := r.Spawn(types.AgentDeveloper, "wf-1", "", nil)
	require.NoError(t, err)

	// a message addressed to the agent type refreshes last-active
	r.now = func() time.Time { return base.Add(time.Second) }
	b.Publish(&types.AgentMessage{From: "engine", To: string(types.AgentDeveloper), Type: types.MessageRequest})
	assert.Equal(t, base.Add(time.Second), r.Get(a.ID).LastActiveAt)

	// termination removes the subscription
	require.True(t, r.Terminate(a.ID))
	assert.NotPanics(t, func() {
		b.Publish(&types.AgentMessage{From: "engine", To: string(types.AgentDeveloper), Type: types.MessageRequest})
	})
}

func TestToAgentStates(t *testing.T) {
	r := New(Options{}, nil)

	a, err := r.Spawn(types.AgentReviewer, "wf-1", "", nil)
	require.NoError(t, err)
	require.True(t, r.AssignTask(a.ID, "t9"))

	states := r.ToAgentStates()
	require.Len(t, states, 1)
	assert.Equal(t, a.ID, states[0].ID)
	assert.Equal(t, types.AgentReviewer, states[0].Type)
	assert.Equal(t, types.AgentBusy, states[0].Status)
	assert.Equal(t, "t9", states[0].CurrentTaskID)
}
