// Package engine implements the workflow scheduler: it owns the task DAG,
// execution-mode approval gating, retry policy, and the
// pause/resume/abort/rollback state machine, composing the message bus, the
// agent registry, and the checkpoint manager.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pwi-labs/autoflow/bus"
	"github.com/pwi-labs/autoflow/checkpoint"
	"github.com/pwi-labs/autoflow/internal/metrics"
	"github.com/pwi-labs/autoflow/persistence"
	"github.com/pwi-labs/autoflow/registry"
	"github.com/pwi-labs/autoflow/types"
)

const (
	// DefaultCheckpointInterval is the completed-task count between
	// automatic checkpoints.
	DefaultCheckpointInterval = 5
	// DefaultMaxRetries bounds retries per task.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the linear backoff unit: the n-th retry waits
	// n * DefaultRetryDelay.
	DefaultRetryDelay = time.Second
)

// Config tunes the engine's scheduling behavior.
type Config struct {
	// CheckpointInterval is the completed-task count between automatic
	// checkpoints (default 5)
	CheckpointInterval int `json:"checkpoint_interval" yaml:"checkpoint_interval"`
	// MaxRetries is the default retry cap for tasks that do not set
	// their own (default 3)
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// RetryDelay is the linear backoff unit (default 1s)
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
	// DefaultMode is applied to workflows created without a mode
	DefaultMode types.ExecutionMode `json:"default_mode" yaml:"default_mode"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		CheckpointInterval: DefaultCheckpointInterval,
		MaxRetries:         DefaultMaxRetries,
		RetryDelay:         DefaultRetryDelay,
		DefaultMode:        types.ModeSupervised,
	}
}

// TaskResult carries what a worker produced for a completed task.
type TaskResult struct {
	Artifacts     map[string]string
	CostUSD       float64
	APICalls      int
	FilesModified int
	TestsRun      int
}

// TaskRunner performs the actual work of a task once the engine has
// resolved an agent for it. In a fuller deployment the runner would hand
// off to an out-of-process worker over the bus.
type TaskRunner interface {
	Run(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error)
}

// RunnerFunc adapts a function to the TaskRunner interface.
type RunnerFunc func(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error)

func (f RunnerFunc) Run(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
	return f(ctx, wf, task, agent)
}

// noopRunner completes every task immediately with an empty result.
type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, wf *types.Workflow, task *types.Task, agent *types.RegisteredAgent) (*TaskResult, error) {
	return &TaskResult{}, nil
}

// runState holds the cooperative-cancellation flags for one workflow.
// pause and abort are consulted at the top of each loop iteration; running
// enforces the single-writer-per-workflow invariant.
type runState struct {
	pause   atomic.Bool
	abort   atomic.Bool
	running atomic.Bool
}

// Engine is the sole mutator of workflow and task status.
type Engine struct {
	store       persistence.Store
	bus         *bus.MessageBus
	registry    *registry.Registry
	checkpoints *checkpoint.Manager
	classifier  *Classifier
	policies    PolicyTable
	runner      TaskRunner
	metrics     *metrics.Collector
	cfg         Config
	logger      *zap.Logger

	mu   sync.Mutex
	runs map[string]*runState
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRunner replaces the default no-op task runner.
func WithRunner(r TaskRunner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithClassifier replaces the default keyword classifier.
func WithClassifier(c *Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithPolicies replaces the default execution-mode policy table.
func WithPolicies(p PolicyTable) Option {
	return func(e *Engine) { e.policies = p }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates a workflow engine. All collaborators are injected explicitly
// so multiple engines can run in isolation.
func New(store persistence.Store, msgBus *bus.MessageBus, reg *registry.Registry, cpm *checkpoint.Manager, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = types.ModeSupervised
	}
	e := &Engine{
		store:       store,
		bus:         msgBus,
		registry:    reg,
		checkpoints: cpm,
		classifier:  NewClassifier(),
		policies:    DefaultPolicies(),
		runner:      noopRunner{},
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "workflow_engine")),
		runs:        make(map[string]*runState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateInput seeds a new workflow from a plan.
type CreateInput struct {
	Name        string
	Description string
	Mode        types.ExecutionMode
	Plan        *types.Plan
	Budget      *types.Budget
	Timeout     time.Duration
}

// Create validates the plan, builds a pending workflow, persists it, and
// emits workflow_started.
func (e *Engine) Create(ctx context.Context, input CreateInput) (*types.Workflow, error) {
	if input.Plan == nil || len(input.Plan.Tasks) == 0 {
		return nil, types.NewError(types.ErrPlanInvalid, "plan has no tasks")
	}
	if err := input.Plan.Validate(); err != nil {
		return nil, err
	}

	mode := input.Mode
	if mode == "" {
		mode = e.cfg.DefaultMode
	}
	for _, t := range input.Plan.Tasks {
		if t.Status == "" {
			t.Status = types.TaskPending
		}
	}

	now := time.Now()
	wf := &types.Workflow{
		ID:          "wf-" + uuid.New().String(),
		Name:        input.Name,
		Description: input.Description,
		Status:      types.WorkflowPending,
		Mode:        mode,
		Plan:        input.Plan,
		Budget:      input.Budget,
		Timeout:     input.Timeout,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	e.emit(ctx, wf.ID, types.EventWorkflowStarted, "", map[string]any{
		"name": wf.Name,
		"mode": string(mode),
	})
	e.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("name", wf.Name),
		zap.String("mode", string(mode)),
		zap.Int("tasks", len(input.Plan.Tasks)),
	)
	return wf, nil
}

// Execute drives the execution loop until the workflow pauses, aborts,
// completes, or fails. Expected operational failures (retry exhaustion,
// blocked tasks) are recorded on the workflow, not returned; the returned
// error covers usage errors only (unknown workflow, already executing).
func (e *Engine) Execute(ctx context.Context, workflowID string) error {
	wf, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	switch wf.Status {
	case types.WorkflowPending, types.WorkflowPaused, types.WorkflowFailed:
	default:
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot execute workflow in status %s", wf.Status))
	}

	run := e.run(workflowID)
	if !run.running.CompareAndSwap(false, true) {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("workflow %s is already executing", workflowID))
	}
	defer run.running.Store(false)
	run.pause.Store(false)
	run.abort.Store(false)

	wf.Status = types.WorkflowExecuting
	wf.Error = ""
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return err
	}
	e.metrics.WorkflowStarted(string(wf.Mode))
	e.snapshot(ctx, wf, "execution start")

	return e.runLoop(ctx, wf, run)
}

// Pause requests cooperative suspension. When the loop is running the flag
// is honored at the top of the next iteration; otherwise the transition is
// applied immediately.
func (e *Engine) Pause(ctx context.Context, workflowID string) error {
	wf, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	run := e.run(workflowID)
	run.pause.Store(true)
	if run.running.Load() {
		return nil
	}
	if wf.Status != types.WorkflowExecuting {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot pause workflow in status %s", wf.Status))
	}
	e.finishPause(ctx, wf)
	return nil
}

// Resume re-enters the execution loop, optionally restoring task state
// from a checkpoint first. Allowed from paused and from failed (after task
// approvals).
func (e *Engine) Resume(ctx context.Context, workflowID, fromCheckpointID string) error {
	wf, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	switch wf.Status {
	case types.WorkflowPaused, types.WorkflowFailed:
	default:
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot resume workflow in status %s", wf.Status))
	}

	if fromCheckpointID != "" {
		cp, err := e.checkpoints.Get(ctx, workflowID, fromCheckpointID)
		if err != nil {
			return err
		}
		applyCheckpointState(wf, cp)
	}

	run := e.run(workflowID)
	if !run.running.CompareAndSwap(false, true) {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("workflow %s is already executing", workflowID))
	}
	defer run.running.Store(false)
	run.pause.Store(false)
	run.abort.Store(false)

	wf.Status = types.WorkflowExecuting
	wf.Error = ""
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return err
	}
	e.emit(ctx, wf.ID, types.EventWorkflowResumed, "", nil)

	return e.runLoop(ctx, wf, run)
}

// Abort requests cooperative termination. When the loop is running the
// flag is honored at the top of the next iteration; otherwise the
// transition is applied immediately.
func (e *Engine) Abort(ctx context.Context, workflowID string) error {
	wf, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status.Terminal() {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot abort workflow in status %s", wf.Status))
	}
	run := e.run(workflowID)
	run.abort.Store(true)
	if run.running.Load() {
		return nil
	}
	e.finishAbort(ctx, wf)
	return nil
}

// Rollback restores files and config from the checkpoint, reapplies its
// task state to the workflow, and leaves the workflow paused. The restore
// result is returned alongside any usage error so callers can inspect
// partial restores.
func (e *Engine) Rollback(ctx context.Context, workflowID, checkpointID string) (*checkpoint.RestoreResult, error) {
	wf, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	cp, err := e.checkpoints.Get(ctx, workflowID, checkpointID)
	if err != nil {
		return nil, err
	}

	result := e.checkpoints.Restore(ctx, checkpoint.RestoreOptions{
		CheckpointID:  checkpointID,
		WorkflowID:    workflowID,
		RestoreFiles:  true,
		RestoreConfig: true,
	})
	if !result.Success {
		return result, types.NewError(types.ErrRollbackFailed,
			fmt.Sprintf("rollback to checkpoint %s failed", checkpointID))
	}

	applyCheckpointState(wf, cp)
	wf.Status = types.WorkflowPaused
	wf.Error = ""
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return result, err
	}
	e.emit(ctx, wf.ID, types.EventWorkflowRolledBack, "", map[string]any{
		"checkpoint_id": checkpointID,
	})
	return result, nil
}

// ApproveTask moves a blocked task back to pending. The only way, together
// with DenyTask, to act on a blocked task.
func (e *Engine) ApproveTask(ctx context.Context, workflowID, taskID string) error {
	return e.resolveBlocked(ctx, workflowID, taskID, types.TaskPending, types.EventTaskApproved)
}

// DenyTask moves a blocked task to skipped.
func (e *Engine) DenyTask(ctx context.Context, workflowID, taskID string) error {
	return e.resolveBlocked(ctx, workflowID, taskID, types.TaskSkipped, types.EventTaskDenied)
}

func (e *Engine) resolveBlocked(ctx context.Context, workflowID, taskID string, to types.TaskStatus, event types.EventType) error {
	wf, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	task := wf.Task(taskID)
	if task == nil {
		return types.NewError(types.ErrTaskNotFound,
			fmt.Sprintf("task %s not found in workflow %s", taskID, workflowID))
	}
	if task.Status != types.TaskBlocked {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("task %s is %s, not blocked", taskID, task.Status))
	}
	task.Status = to
	if to == types.TaskPending {
		task.Approved = true
	}
	if to == types.TaskSkipped {
		now := time.Now()
		task.CompletedAt = &now
	}
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return err
	}
	e.emit(ctx, workflowID, event, taskID, nil)
	return nil
}

// GetWorkflow loads a workflow from the store.
func (e *Engine) GetWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	return e.loadWorkflow(ctx, workflowID)
}

// Events returns the workflow's audit trail.
func (e *Engine) Events(ctx context.Context, workflowID string) ([]*types.WorkflowEvent, error) {
	return e.store.LoadEvents(ctx, workflowID)
}

func (e *Engine) run(workflowID string) *runState {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.runs[workflowID]
	if !ok {
		rs = &runState{}
		e.runs[workflowID] = rs
	}
	return rs
}

func (e *Engine) loadWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	wf, err := e.store.LoadWorkflow(ctx, workflowID)
	if err == persistence.ErrNotFound {
		return nil, types.NewError(types.ErrWorkflowNotFound,
			fmt.Sprintf("workflow %s not found", workflowID))
	}
	return wf, err
}

func (e *Engine) saveWorkflow(ctx context.Context, wf *types.Workflow) error {
	wf.UpdatedAt = time.Now()
	return e.store.SaveWorkflow(ctx, wf)
}

// emit persists an audit event; failures are logged, never propagated.
func (e *Engine) emit(ctx context.Context, workflowID string, eventType types.EventType, taskID string, payload map[string]any) {
	ev := &types.WorkflowEvent{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Type:       eventType,
		TaskID:     taskID,
		Timestamp:  time.Now(),
		Payload:    payload,
	}
	if err := e.store.SaveEvent(ctx, ev); err != nil {
		e.logger.Warn("failed to persist event",
			zap.String("workflow_id", workflowID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

// applyCheckpointState reapplies a checkpoint's task buckets and resource
// counters onto the workflow. Tasks not mentioned by the checkpoint keep
// their current status.
func applyCheckpointState(wf *types.Workflow, cp *types.Checkpoint) {
	set := func(ids []string, status types.TaskStatus) {
		for _, id := range ids {
			if t := wf.Task(id); t != nil {
				t.Status = status
			}
		}
	}
	set(cp.CompletedTasks, types.TaskCompleted)
	set(cp.PendingTasks, types.TaskPending)
	set(cp.BlockedTasks, types.TaskBlocked)
	wf.Resources = cp.Resources
}
