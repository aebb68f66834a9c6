package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/pwi-labs/autoflow/bus"
	"github.com/pwi-labs/autoflow/checkpoint"
	"github.com/pwi-labs/autoflow/persistence"
	"github.com/pwi-labs/autoflow/registry"
	"github.com/pwi-labs/autoflow/types"
)

type testHarness struct {
	engine *Engine
	store  persistence.Store
	bus    *bus.MessageBus
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) *testHarness {
	t.Helper()
	store := persistence.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	msgBus := bus.New(bus.Options{}, nil)
	reg := registry.New(registry.Options{Bus: msgBus}, nil)
	cpm := checkpoint.NewManager(store, checkpoint.Options{WorkDir: t.TempDir(), DisableBackup: true}, nil)

	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return &testHarness{
		engine: New(store, msgBus, reg, cpm, cfg, nil, opts...),
		store:  store,
		bus:    msgBus,
	}
}

func simplePlan(ids ...string) *types.Plan {
	plan := &types.Plan{}
	prev := ""
	for _, id := range ids {
		task := &types.Task{ID: id, Title: "implement " + id}
		if prev != "" {
			task.DependsOn = []string{prev}
		}
		plan.Tasks = append(plan.Tasks, task)
		prev = id
	}
	return plan
}

func eventTypes(t *testing.T, h *testHarness, workflowID string) []types.EventType {
	t.Helper()
	events, err := h.engine.Events(context.Background(), workflowID)
	require.NoError(t, err)
	out := make([]types.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestCreateValidation(t *testing.T) {
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	t.Run("empty plan rejected", func(t *testing.T) {
		_, err := h.engine.Create(ctx, CreateInput{Plan: &types.Plan{}})
		require.Error(t, err)
		assert.Equal(t, types.ErrPlanInvalid, types.GetErrorCode(err))
	})

	t.Run("cyclic plan rejected", func(t *testing.T) {
		plan := &types.Plan{Tasks: []*types.Task{
			{ID: "a", DependsOn: []string{"b"}},
			{ID: "b", DependsOn: []string{"a"}},
		}}
		_, err := h.engine.Create(ctx, CreateInput{Plan: plan})
		require.Error(t, err)
		assert.Equal(t, types.ErrPlanInvalid, types.GetErrorCode(err))
	})

	t.Run("defaults applied", func(t *testing.T) {
		wf, err := h.engine.Create(ctx, CreateInput{Name: "demo", Plan: simplePlan("a")})
		require.NoError(t, err)
		assert.Equal(t, types.WorkflowPending, wf.Status)
		assert.Equal(t, types.ModeSupervised, wf.Mode)
		assert.Equal(t, types.TaskPending, wf.Plan.Tasks[0].Status)
		assert.NotEmpty(t, wf.ID)
	})
}

// A full-auto workflow with a linear plan runs every task to completion and
// ends completed.
func TestExecuteHappyPath(t *testing.T) {
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	wf, err := h.engine.Create(ctx, CreateInput{
		Name: "happy",
		Mode: types.ModeFullAuto,
		Plan: simplePlan("t1", "t2", "t3"),
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	final, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, final.Status)
	for _, task := range final.Plan.Tasks {
		assert.Equal(t, types.TaskCompleted, task.Status)
		assert.NotNil(t, task.CompletedAt)
	}
	assert.NotEmpty(t, final.CheckpointIDs, "execution must leave checkpoints")

	evs := eventTypes(t, h, wf.ID)
	assert.Contains(t, evs, types.EventWorkflowStarted)
	assert.Contains(t, evs, types.EventTaskStarted)
	assert.Contains(t, evs, types.EventTaskCompleted)
	assert.Contains(t, evs, types.EventWorkflowCompleted)
}

func TestExecuteRunsTasksInDependencyOrder(t *testing.T) {
	var order []string
	runner := RunnerFunc(func(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
		order = append(order, task.ID)
		return &TaskResult{}, nil
	})
	h := newTestEngine(t, DefaultConfig(), WithRunner(runner))
	ctx := context.Background()

	// diamond: a -> {b, c} -> d
	plan := &types.Plan{Tasks: []*types.Task{
		{ID: "d", Title: "implement d", DependsOn: []string{"b", "c"}},
		{ID: "a", Title: "implement a"},
		{ID: "b", Title: "implement b", DependsOn: []string{"a"}},
		{ID: "c", Title: "implement c", DependsOn: []string{"a"}},
	}}
	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: plan})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	// first ready in plan order each round
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

// Supervised mode blocks every task; with nothing ready the workflow fails,
// approval moves the task back to pending, and resume completes it.
func TestApprovalGateAndResume(t *testing.T) {
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	wf, err := h.engine.Create(ctx, CreateInput{
		Mode: types.ModeSupervised,
		Plan: simplePlan("t1"),
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	blocked, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowFailed, blocked.Status)
	assert.Equal(t, types.TaskBlocked, blocked.Plan.Tasks[0].Status)
	assert.Contains(t, blocked.Error, "awaiting approval")

	require.NoError(t, h.engine.ApproveTask(ctx, wf.ID, "t1"))
	require.NoError(t, h.engine.Resume(ctx, wf.ID, ""))

	final, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, final.Status)
	assert.Equal(t, types.TaskCompleted, final.Plan.Tasks[0].Status)
}

// Approving one task approves the continuation: after approve + resume,
// downstream tasks run without their own approve/resume cycles and the
// workflow completes in a single resume.
func TestApprovalCoversContinuation(t *testing.T) {
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	wf, err := h.engine.Create(ctx, CreateInput{
		Mode: types.ModeSupervised,
		Plan: simplePlan("t1", "t2"),
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	blocked, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowFailed, blocked.Status)
	assert.Equal(t, types.TaskBlocked, blocked.Task("t1").Status)
	assert.Equal(t, types.TaskPending, blocked.Task("t2").Status)

	require.NoError(t, h.engine.ApproveTask(ctx, wf.ID, "t1"))
	require.NoError(t, h.engine.Resume(ctx, wf.ID, ""))

	final, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, final.Status)
	assert.Equal(t, types.TaskCompleted, final.Task("t1").Status)
	assert.Equal(t, types.TaskCompleted, final.Task("t2").Status)
}

// A prior approval does not decide tasks that were already blocked in an
// earlier round; those still wait for their own approve or deny.
func TestApprovalDoesNotUnblockEarlierRounds(t *testing.T) {
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	// two independent tasks, both gated on the first run
	plan := &types.Plan{Tasks: []*types.Task{
		{ID: "t1", Title: "implement t1"},
		{ID: "t2", Title: "implement t2"},
	}}
	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeSupervised, Plan: plan})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	blocked, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskBlocked, blocked.Task("t1").Status)
	assert.Equal(t, types.TaskBlocked, blocked.Task("t2").Status)

	require.NoError(t, h.engine.ApproveTask(ctx, wf.ID, "t1"))
	require.NoError(t, h.engine.Resume(ctx, wf.ID, ""))

	mid, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, mid.Task("t1").Status)
	assert.Equal(t, types.TaskBlocked, mid.Task("t2").Status)
	assert.Equal(t, types.WorkflowFailed, mid.Status)

	require.NoError(t, h.engine.ApproveTask(ctx, wf.ID, "t2"))
	require.NoError(t, h.engine.Resume(ctx, wf.ID, ""))

	final, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, final.Status)
}

func TestDenySkipsTask(t *testing.T) {
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	wf, err := h.engine.Create(ctx, CreateInput{
		Mode: types.ModeSupervised,
		Plan: simplePlan("t1"),
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	require.NoError(t, h.engine.DenyTask(ctx, wf.ID, "t1"))
	require.NoError(t, h.engine.Resume(ctx, wf.ID, ""))

	final, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	// a skipped task counts as done
	assert.Equal(t, types.WorkflowCompleted, final.Status)
	assert.Equal(t, types.TaskSkipped, final.Plan.Tasks[0].Status)
}

func TestApproveRequiresBlockedTask(t *testing.T) {
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1")})
	require.NoError(t, err)

	err = h.engine.ApproveTask(ctx, wf.ID, "t1")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))

	err = h.engine.ApproveTask(ctx, wf.ID, "no-such-task")
	require.Error(t, err)
	assert.Equal(t, types.ErrTaskNotFound, types.GetErrorCode(err))
}

// A task failing fewer times than the retry cap is retried back to success;
// exhausting the cap fails task and workflow.
func TestRetryPolicy(t *testing.T) {
	t.Run("recovers within cap", func(t *testing.T) {
		attempts := 0
		runner := RunnerFunc(func(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
			attempts++
			if attempts <= 2 {
				return nil, errors.New("transient failure")
			}
			return &TaskResult{}, nil
		})
		h := newTestEngine(t, Config{MaxRetries: 3}, WithRunner(runner))
		ctx := context.Background()

		wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1")})
		require.NoError(t, err)
		require.NoError(t, h.engine.Execute(ctx, wf.ID))

		final, err := h.engine.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, types.WorkflowCompleted, final.Status)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, 2, final.Plan.Tasks[0].RetryCount)
		assert.Empty(t, final.Plan.Tasks[0].Error)
	})

	t.Run("exhaustion fails workflow", func(t *testing.T) {
		runner := RunnerFunc(func(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
			return nil, errors.New("permanent failure")
		})
		h := newTestEngine(t, Config{MaxRetries: 2}, WithRunner(runner))
		ctx := context.Background()

		wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1", "t2")})
		require.NoError(t, err)
		require.NoError(t, h.engine.Execute(ctx, wf.ID))

		final, err := h.engine.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, types.WorkflowFailed, final.Status)
		assert.Equal(t, types.TaskFailed, final.Plan.Tasks[0].Status)
		assert.Equal(t, 2, final.Plan.Tasks[0].RetryCount)
		assert.Contains(t, final.Error, "t1")
		// downstream task never ran
		assert.Equal(t, types.TaskPending, final.Plan.Tasks[1].Status)

		evs := eventTypes(t, h, wf.ID)
		assert.Contains(t, evs, types.EventTaskRetried)
		assert.Contains(t, evs, types.EventTaskFailed)
		assert.Contains(t, evs, types.EventWorkflowFailed)
	})

	t.Run("per-task cap overrides config", func(t *testing.T) {
		attempts := 0
		runner := RunnerFunc(func(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
			attempts++
			return nil, errors.New("always fails")
		})
		h := newTestEngine(t, Config{MaxRetries: 5}, WithRunner(runner))
		ctx := context.Background()

		plan := &types.Plan{Tasks: []*types.Task{{ID: "t1", Title: "implement t1", MaxRetries: 1}}}
		wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: plan})
		require.NoError(t, err)
		require.NoError(t, h.engine.Execute(ctx, wf.ID))

		final, err := h.engine.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, types.WorkflowFailed, final.Status)
		assert.Equal(t, 2, attempts, "initial attempt plus one retry")
	})
}

// At workflow failure the failing task's retry count equals its cap exactly.
func TestPropertyRetryCountBoundedByCap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRetries := rapid.IntRange(1, 4).Draw(t, "maxRetries")
		runner := RunnerFunc(func(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
			return nil, errors.New("boom")
		})

		store := persistence.NewMemoryStore()
		defer store.Close()
		msgBus := bus.New(bus.Options{}, nil)
		reg := registry.New(registry.Options{}, nil)
		cpm := checkpoint.NewManager(store, checkpoint.Options{DisableBackup: true}, nil)
		eng := New(store, msgBus, reg, cpm,
			Config{MaxRetries: maxRetries, RetryDelay: time.Microsecond}, nil,
			WithRunner(runner))

		ctx := context.Background()
		wf, err := eng.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1")})
		require.NoError(t, err)
		require.NoError(t, eng.Execute(ctx, wf.ID))

		final, err := eng.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		require.Equal(t, types.WorkflowFailed, final.Status)
		assert.Equal(t, maxRetries, final.Plan.Tasks[0].RetryCount)
	})
}

func TestPauseDuringExecution(t *testing.T) {
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	var once sync.Once
	runner := RunnerFunc(func(rctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
		once.Do(func() {
			// request the pause mid-task; the loop honors it before
			// the next task
			require.NoError(t, h.engine.Pause(ctx, wf.ID))
		})
		return &TaskResult{}, nil
	})
	h.engine.runner = runner

	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1", "t2", "t3")})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	mid, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowPaused, mid.Status)
	assert.Equal(t, types.TaskCompleted, mid.Plan.Tasks[0].Status)
	assert.Equal(t, types.TaskPending, mid.Plan.Tasks[1].Status)

	// resume finishes the remaining tasks
	require.NoError(t, h.engine.Resume(ctx, wf.ID, ""))
	final, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, final.Status)
}

func TestAbortDuringExecution(t *testing.T) {
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	var once sync.Once
	runner := RunnerFunc(func(rctx context.Context, rwf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
		once.Do(func() {
			require.NoError(t, h.engine.Abort(ctx, rwf.ID))
		})
		return &TaskResult{}, nil
	})
	h.engine.runner = runner

	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1", "t2")})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	final, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowAborted, final.Status)
	assert.Equal(t, types.TaskPending, final.Plan.Tasks[1].Status)

	// aborted is terminal
	err = h.engine.Execute(ctx, wf.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
	err = h.engine.Abort(ctx, wf.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestExecuteStatusGate(t *testing.T) {
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1")})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	// completed workflows cannot be re-executed
	err = h.engine.Execute(ctx, wf.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))

	_, err = h.engine.GetWorkflow(ctx, "wf-missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrWorkflowNotFound, types.GetErrorCode(err))
}

func TestCheckpointInterval(t *testing.T) {
	h := newTestEngine(t, Config{CheckpointInterval: 2})
	ctx := context.Background()

	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1", "t2", "t3", "t4")})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	final, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	// execution start + two interval snapshots + execution end
	assert.Len(t, final.CheckpointIDs, 4)
}

// Retention deletes old checkpoints; the workflow's trail must not keep
// referencing ids that no longer load.
func TestCheckpointTrailPrunedByRetention(t *testing.T) {
	store := persistence.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	msgBus := bus.New(bus.Options{}, nil)
	reg := registry.New(registry.Options{Bus: msgBus}, nil)
	cpm := checkpoint.NewManager(store, checkpoint.Options{
		WorkDir:        t.TempDir(),
		DisableBackup:  true,
		MaxCheckpoints: 2,
	}, nil)
	eng := New(store, msgBus, reg, cpm, Config{CheckpointInterval: 1, RetryDelay: time.Millisecond}, nil)
	ctx := context.Background()

	wf, err := eng.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1", "t2", "t3", "t4")})
	require.NoError(t, err)
	require.NoError(t, eng.Execute(ctx, wf.ID))

	final, err := eng.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, final.CheckpointIDs, 2)
	for _, id := range final.CheckpointIDs {
		_, err := cpm.Get(ctx, wf.ID, id)
		assert.NoError(t, err, "trail id %s must still load", id)
	}
}

func TestResumeFromCheckpoint(t *testing.T) {
	var failing = true
	var runs []string
	runner := RunnerFunc(func(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
		runs = append(runs, task.ID)
		if failing && task.ID == "t2" {
			return nil, errors.New("flaky step")
		}
		return &TaskResult{}, nil
	})
	h := newTestEngine(t, Config{MaxRetries: 1}, WithRunner(runner))
	ctx := context.Background()

	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1", "t2")})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	failed, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, types.WorkflowFailed, failed.Status)
	require.NotEmpty(t, failed.CheckpointIDs)
	startCp := failed.CheckpointIDs[0]

	// an unknown checkpoint is a typed error and leaves the workflow as is
	err = h.engine.Resume(ctx, wf.ID, "cp-missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrCheckpointNotFound, types.GetErrorCode(err))

	// resume from the pre-execution snapshot: all tasks pending again
	failing = false
	runs = nil
	require.NoError(t, h.engine.Resume(ctx, wf.ID, startCp))

	rerun, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, rerun.Status)
	assert.Equal(t, []string{"t1", "t2"}, runs, "checkpoint state reruns both tasks")
}

func TestExecutePublishesTaskRequests(t *testing.T) {
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1", "t2")})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	requests := h.bus.GetMessages(bus.Filter{From: "engine", Types: []types.MessageType{types.MessageRequest}})
	require.Len(t, requests, 2)
	assert.Equal(t, "t1", requests[0].Payload.TaskID)
	assert.Equal(t, wf.ID, requests[0].WorkflowID)
}

// Tasks are assigned to agents matching their title classification.
func TestExecuteAssignsClassifiedAgents(t *testing.T) {
	var agentTypes []types.AgentType
	runner := RunnerFunc(func(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
		agentTypes = append(agentTypes, agent.Type)
		return &TaskResult{}, nil
	})
	h := newTestEngine(t, DefaultConfig(), WithRunner(runner))
	ctx := context.Background()

	plan := &types.Plan{Tasks: []*types.Task{
		{ID: "t1", Title: "Implement parser"},
		{ID: "t2", Title: "Run unit tests", DependsOn: []string{"t1"}},
	}}
	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: plan})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	assert.Equal(t, []types.AgentType{types.AgentDeveloper, types.AgentTester}, agentTypes)
}

func TestTaskResultUpdatesResources(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
		return &TaskResult{
			CostUSD:   0.75,
			APICalls:  3,
			TestsRun:  12,
			Artifacts: map[string]string{"summary": "all green"},
		}, nil
	})
	h := newTestEngine(t, DefaultConfig(), WithRunner(runner))
	ctx := context.Background()

	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1")})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	final, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.75, final.Resources.CostUSD)
	assert.Equal(t, 4, final.Resources.APICalls, "runner calls plus the engine's own call")
	assert.Equal(t, 12, final.Resources.TestsRun)

	data, err := h.store.LoadArtifact(ctx, wf.ID, "summary")
	require.NoError(t, err)
	assert.Equal(t, "all green", string(data))
}

// Concurrent Execute calls on one workflow: exactly one wins.
func TestSingleWriterPerWorkflow(t *testing.T) {
	release := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
		<-release
		return &TaskResult{}, nil
	})
	h := newTestEngine(t, DefaultConfig(), WithRunner(runner))
	ctx := context.Background()

	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeFullAuto, Plan: simplePlan("t1")})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- h.engine.Execute(ctx, wf.ID) }()

	// wait for the loop to occupy the run slot
	require.Eventually(t, func() bool {
		return h.engine.run(wf.ID).running.Load()
	}, time.Second, time.Millisecond)

	err = h.engine.Execute(ctx, wf.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))

	close(release)
	require.NoError(t, <-errCh)
}

func TestScenarioPartialFailureApproveResume(t *testing.T) {
	// mixed plan in autonomous-high: safe tasks run, the destructive one
	// blocks; after denial the rest completes without it
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	plan := &types.Plan{Tasks: []*types.Task{
		{ID: "build", Title: "Implement feature"},
		{ID: "cleanup", Title: "Delete legacy tables", DependsOn: []string{"build"}},
		{ID: "verify", Title: "Validate output", DependsOn: []string{"build"}},
	}}
	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeAutonomousHigh, Plan: plan})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	mid, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowFailed, mid.Status)
	assert.Equal(t, types.TaskCompleted, mid.Task("build").Status)
	assert.Equal(t, types.TaskBlocked, mid.Task("cleanup").Status)
	assert.Equal(t, types.TaskCompleted, mid.Task("verify").Status)

	require.NoError(t, h.engine.DenyTask(ctx, wf.ID, "cleanup"))
	require.NoError(t, h.engine.Resume(ctx, wf.ID, ""))

	final, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowCompleted, final.Status)
	assert.Equal(t, types.TaskSkipped, final.Task("cleanup").Status)
}

// Denying a task leaves its dependents unschedulable: skipped does not
// satisfy a dependency, so the workflow fails with unresolved dependencies.
func TestUnsatisfiableDependenciesFailWorkflow(t *testing.T) {
	h := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	wf, err := h.engine.Create(ctx, CreateInput{Mode: types.ModeSupervised, Plan: simplePlan("t1", "t2")})
	require.NoError(t, err)
	require.NoError(t, h.engine.Execute(ctx, wf.ID))

	require.NoError(t, h.engine.DenyTask(ctx, wf.ID, "t1"))
	require.NoError(t, h.engine.Resume(ctx, wf.ID, ""))

	final, err := h.engine.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowFailed, final.Status)
	assert.Equal(t, types.TaskSkipped, final.Task("t1").Status)
	assert.Equal(t, types.TaskPending, final.Task("t2").Status)
	assert.Contains(t, final.Error, "unresolved")
}
