package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pwi-labs/autoflow/types"
)

// runLoop is the scheduler: it repeatedly selects the first ready task in
// plan order, applies approval gating, executes it through an agent, and
// checkpoints progress. Strictly sequential; pause/abort flags are honored
// at the top of each iteration, never mid-task.
func (e *Engine) runLoop(ctx context.Context, wf *types.Workflow, run *runState) error {
	completedSinceCheckpoint := 0
	started := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			e.finishPause(persistCtx(ctx), wf)
			return err
		}
		if run.abort.Load() {
			e.finishAbort(ctx, wf)
			return nil
		}
		if run.pause.Load() {
			e.finishPause(ctx, wf)
			return nil
		}

		ready := wf.Plan.ReadyTasks()
		if len(ready) == 0 {
			wf.Resources.Elapsed += time.Since(started)
			if e.allTasksDone(wf) {
				e.finishComplete(ctx, wf)
			} else {
				e.finishBlocked(ctx, wf)
			}
			return nil
		}

		task := ready[0]

		if category, needed := e.requiresApproval(wf, task); needed {
			task.Status = types.TaskBlocked
			e.metrics.TaskBlocked()
			if err := e.saveWorkflow(ctx, wf); err != nil {
				return err
			}
			e.emit(ctx, wf.ID, types.EventTaskBlocked, task.ID, map[string]any{
				"category": string(category),
				"cost":     task.EstimatedCost,
			})
			e.logger.Info("task blocked pending approval",
				zap.String("workflow_id", wf.ID),
				zap.String("task_id", task.ID),
				zap.String("category", string(category)),
			)
			continue
		}

		if err := e.executeTask(ctx, wf, task); err != nil {
			if done, loopErr := e.handleTaskError(ctx, wf, task, run, err); done {
				return loopErr
			}
			continue
		}

		completedSinceCheckpoint++
		if completedSinceCheckpoint >= e.cfg.CheckpointInterval {
			e.snapshot(ctx, wf, fmt.Sprintf("auto: %d tasks completed", len(wf.TaskIDsByStatus(types.TaskCompleted))))
			completedSinceCheckpoint = 0
		}
	}
}

// persistCtx returns a short-lived background context for final persistence when
// the caller's context is already canceled.
func persistCtx(ctx context.Context) context.Context {
	if ctx.Err() == nil {
		return ctx
	}
	return context.Background()
}

// allTasksDone reports whether every task reached completed or skipped.
func (e *Engine) allTasksDone(wf *types.Workflow) bool {
	for _, t := range wf.Plan.Tasks {
		if t.Status != types.TaskCompleted && t.Status != types.TaskSkipped {
			return false
		}
	}
	return true
}

// requiresApproval consults the workflow's execution-mode policy for the
// task's classified category and estimated cost. A task carrying a human
// approval is never gated again, and once any task has been approved the
// workflow's remaining ungated tasks run without further prompts: the
// approval covers the continuation of the run. Tasks already blocked keep
// waiting for their own approve or deny.
func (e *Engine) requiresApproval(wf *types.Workflow, task *types.Task) (types.ApprovalCategory, bool) {
	if task.Approved || wf.ApprovalGranted() {
		return "", false
	}
	category := e.classifier.ApprovalCategory(task)
	return category, e.policies.RequiresApproval(wf.Mode, category, task.EstimatedCost)
}

// executeTask runs one task through an agent. The dependency invariant is
// re-checked before the in_progress transition.
func (e *Engine) executeTask(ctx context.Context, wf *types.Workflow, task *types.Task) error {
	for _, dep := range task.DependsOn {
		if d := wf.Task(dep); d == nil || d.Status != types.TaskCompleted {
			return types.NewError(types.ErrInvalidTransition,
				fmt.Sprintf("task %s dependency %s is not completed", task.ID, dep))
		}
	}

	now := time.Now()
	task.Status = types.TaskInProgress
	if task.StartedAt == nil {
		task.StartedAt = &now
	}
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return err
	}
	e.emit(ctx, wf.ID, types.EventTaskStarted, task.ID, nil)

	agentType := e.classifier.AgentType(task)
	agent, err := e.registry.FindOrSpawn(agentType, wf.ID)
	if err != nil {
		return err
	}
	task.AssignedAgent = agent.ID
	e.registry.AssignTask(agent.ID, task.ID)

	if e.bus != nil {
		e.bus.Publish(&types.AgentMessage{
			WorkflowID: wf.ID,
			From:       "engine",
			To:         string(agentType),
			Type:       types.MessageRequest,
			Payload: types.MessagePayload{
				TaskID: task.ID,
				Status: string(types.TaskInProgress),
			},
		})
	}

	result, err := e.runner.Run(ctx, wf, task, agent)
	elapsed := time.Since(now)

	if err != nil {
		e.registry.RecordError(agent.ID)
		e.metrics.TaskExecuted("failed", elapsed.Seconds())
		return types.NewError(types.ErrTaskExecution, fmt.Sprintf("task %s failed", task.ID)).
			WithCause(err).WithRetryable(true)
	}

	e.registry.CompleteTask(agent.ID)
	done := time.Now()
	task.Status = types.TaskCompleted
	task.CompletedAt = &done
	task.Error = ""

	wf.Resources.APICalls++
	wf.Resources.Elapsed += elapsed
	if result != nil {
		wf.Resources.CostUSD += result.CostUSD
		wf.Resources.APICalls += result.APICalls
		wf.Resources.FilesModified += result.FilesModified
		wf.Resources.TestsRun += result.TestsRun
		for name, content := range result.Artifacts {
			if err := e.store.SaveArtifact(ctx, wf.ID, name, []byte(content)); err != nil {
				e.logger.Warn("failed to save artifact",
					zap.String("workflow_id", wf.ID),
					zap.String("artifact", name),
					zap.Error(err),
				)
			}
		}
	}
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return err
	}

	e.metrics.TaskExecuted("completed", elapsed.Seconds())
	e.emit(ctx, wf.ID, types.EventTaskCompleted, task.ID, map[string]any{
		"agent_id": agent.ID,
		"duration": elapsed.String(),
	})
	e.logger.Debug("task completed",
		zap.String("workflow_id", wf.ID),
		zap.String("task_id", task.ID),
		zap.String("agent_id", agent.ID),
	)
	return nil
}

// handleTaskError applies the retry policy: under the cap the task is
// reset to pending after a linear backoff (retryDelay * retryCount);
// exhausted retries fail the whole workflow. Returns done=true when the
// loop must stop.
func (e *Engine) handleTaskError(ctx context.Context, wf *types.Workflow, task *types.Task, run *runState, taskErr error) (done bool, err error) {
	task.Error = taskErr.Error()
	if task.AssignedAgent != "" {
		e.registry.ClearError(task.AssignedAgent)
	}

	maxRetries := task.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}

	if task.RetryCount < maxRetries {
		task.RetryCount++
		task.Status = types.TaskPending
		e.metrics.TaskRetried()
		if err := e.saveWorkflow(ctx, wf); err != nil {
			return true, err
		}
		e.emit(ctx, wf.ID, types.EventTaskRetried, task.ID, map[string]any{
			"retry": task.RetryCount,
			"error": task.Error,
		})

		delay := time.Duration(task.RetryCount) * e.cfg.RetryDelay
		e.logger.Warn("task failed, retrying",
			zap.String("workflow_id", wf.ID),
			zap.String("task_id", task.ID),
			zap.Int("retry", task.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(taskErr),
		)

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			e.finishPause(persistCtx(ctx), wf)
			return true, ctx.Err()
		}
		return false, nil
	}

	now := time.Now()
	task.Status = types.TaskFailed
	task.CompletedAt = &now
	wf.Status = types.WorkflowFailed
	wf.Error = fmt.Sprintf("task %s failed after %d retries: %s", task.ID, task.RetryCount, task.Error)
	if err := e.saveWorkflow(ctx, wf); err != nil {
		return true, err
	}
	e.metrics.WorkflowFinished(string(types.WorkflowFailed))
	e.emit(ctx, wf.ID, types.EventTaskFailed, task.ID, map[string]any{"error": task.Error})
	e.emit(ctx, wf.ID, types.EventWorkflowFailed, "", map[string]any{"error": wf.Error})
	e.snapshot(ctx, wf, "execution end: failed")
	e.logger.Error("workflow failed",
		zap.String("workflow_id", wf.ID),
		zap.String("task_id", task.ID),
		zap.String("error", wf.Error),
	)
	return true, nil
}

func (e *Engine) finishComplete(ctx context.Context, wf *types.Workflow) {
	wf.Status = types.WorkflowCompleted
	wf.Error = ""
	if err := e.saveWorkflow(ctx, wf); err != nil {
		e.logger.Error("failed to persist completed workflow",
			zap.String("workflow_id", wf.ID), zap.Error(err))
	}
	e.metrics.WorkflowFinished(string(types.WorkflowCompleted))
	e.emit(ctx, wf.ID, types.EventWorkflowCompleted, "", map[string]any{
		"cost_usd": wf.Resources.CostUSD,
	})
	e.snapshot(ctx, wf, "execution end: completed")
	e.logger.Info("workflow completed", zap.String("workflow_id", wf.ID))
}

// finishBlocked fails the workflow when no task is ready: either tasks are
// blocked pending approval, or the dependency graph is unsatisfiable.
func (e *Engine) finishBlocked(ctx context.Context, wf *types.Workflow) {
	blocked := wf.TaskIDsByStatus(types.TaskBlocked)
	if len(blocked) > 0 {
		wf.Error = fmt.Sprintf("workflow blocked: %d task(s) awaiting approval, none ready", len(blocked))
	} else {
		wf.Error = "workflow blocked: no ready tasks and unresolved dependencies remain"
	}
	wf.Status = types.WorkflowFailed
	if err := e.saveWorkflow(ctx, wf); err != nil {
		e.logger.Error("failed to persist blocked workflow",
			zap.String("workflow_id", wf.ID), zap.Error(err))
	}
	e.metrics.WorkflowFinished(string(types.WorkflowFailed))
	e.emit(ctx, wf.ID, types.EventWorkflowFailed, "", map[string]any{
		"error":   wf.Error,
		"blocked": blocked,
	})
	e.snapshot(ctx, wf, "execution end: blocked")
	e.logger.Warn("workflow blocked",
		zap.String("workflow_id", wf.ID),
		zap.Strings("blocked_tasks", blocked),
	)
}

func (e *Engine) finishPause(ctx context.Context, wf *types.Workflow) {
	wf.Status = types.WorkflowPaused
	if err := e.saveWorkflow(ctx, wf); err != nil {
		e.logger.Error("failed to persist paused workflow",
			zap.String("workflow_id", wf.ID), zap.Error(err))
	}
	e.snapshot(ctx, wf, "paused")
	e.emit(ctx, wf.ID, types.EventWorkflowPaused, "", nil)
	e.logger.Info("workflow paused", zap.String("workflow_id", wf.ID))
}

func (e *Engine) finishAbort(ctx context.Context, wf *types.Workflow) {
	wf.Status = types.WorkflowAborted
	if err := e.saveWorkflow(ctx, wf); err != nil {
		e.logger.Error("failed to persist aborted workflow",
			zap.String("workflow_id", wf.ID), zap.Error(err))
	}
	e.snapshot(ctx, wf, "aborted")
	terminated := e.registry.TerminateByWorkflow(wf.ID)
	e.metrics.WorkflowFinished(string(types.WorkflowAborted))
	e.emit(ctx, wf.ID, types.EventWorkflowAborted, "", map[string]any{
		"agents_terminated": terminated,
	})
	e.logger.Info("workflow aborted",
		zap.String("workflow_id", wf.ID),
		zap.Int("agents_terminated", terminated),
	)
}

// snapshot creates a checkpoint from current workflow state and records
// its id on the workflow. Best-effort: a checkpoint failure is logged and
// execution continues.
func (e *Engine) snapshot(ctx context.Context, wf *types.Workflow, description string) {
	cp, err := e.checkpoints.CreateFromWorkflowState(ctx, wf, e.registry.ToAgentStates(), description)
	if err != nil {
		e.logger.Warn("checkpoint creation failed",
			zap.String("workflow_id", wf.ID),
			zap.String("description", description),
			zap.Error(err),
		)
		return
	}
	wf.CheckpointIDs = append(wf.CheckpointIDs, cp.ID)
	// retention may have deleted older checkpoints; drop their ids so the
	// trail only references checkpoints that still load
	if summaries, err := e.checkpoints.List(ctx, wf.ID); err == nil {
		kept := make(map[string]bool, len(summaries))
		for _, s := range summaries {
			kept[s.ID] = true
		}
		trail := wf.CheckpointIDs[:0]
		for _, id := range wf.CheckpointIDs {
			if kept[id] {
				trail = append(trail, id)
			}
		}
		wf.CheckpointIDs = trail
	}
	if err := e.saveWorkflow(ctx, wf); err != nil {
		e.logger.Warn("failed to persist checkpoint trail",
			zap.String("workflow_id", wf.ID), zap.Error(err))
	}
	e.emit(ctx, wf.ID, types.EventCheckpointCreated, "", map[string]any{
		"checkpoint_id": cp.ID,
		"description":   description,
	})
}
