// Package checkpoint creates, retrieves, diffs, and restores point-in-time
// snapshots of workflow state, and owns the file/VCS rollback mechanism.
package checkpoint

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pwi-labs/autoflow/internal/metrics"
	"github.com/pwi-labs/autoflow/persistence"
	"github.com/pwi-labs/autoflow/types"
)

// DefaultMaxCheckpoints is the retention cap per workflow.
const DefaultMaxCheckpoints = 20

// Options configures a Manager.
type Options struct {
	// WorkDir is the tree backups are taken from and restored into
	// (default ".")
	WorkDir string
	// BackupDir is where rollback bundles are written
	// (default WorkDir/.autoflow/backups)
	BackupDir string
	// BackupPaths lists the paths (relative to WorkDir) included in each
	// bundle
	BackupPaths []string
	// DisableBackup skips bundle creation entirely
	DisableBackup bool
	// MaxCheckpoints caps retained checkpoints per workflow (default 20);
	// cleanup deletes oldest-first beyond the cap
	MaxCheckpoints int
	// Metrics, when non-nil, counts checkpoint creation
	Metrics *metrics.Collector
}

// Manager is the checkpoint manager.
type Manager struct {
	store    persistence.Store
	archiver *Archiver
	opts     Options
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewManager creates a checkpoint manager backed by the given store.
func NewManager(store persistence.Store, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	if opts.BackupDir == "" {
		opts.BackupDir = opts.WorkDir + "/.autoflow/backups"
	}
	if opts.MaxCheckpoints <= 0 {
		opts.MaxCheckpoints = DefaultMaxCheckpoints
	}
	return &Manager{
		store:    store,
		archiver: &Archiver{WorkDir: opts.WorkDir, BackupDir: opts.BackupDir},
		opts:     opts,
		metrics:  opts.Metrics,
		logger:   logger.With(zap.String("component", "checkpoint_manager")),
	}
}

// CreateInput describes the state to snapshot.
type CreateInput struct {
	WorkflowID     string
	Description    string
	CompletedTasks []string
	PendingTasks   []string
	BlockedTasks   []string
	Artifacts      map[string]string
	AgentStates    []types.AgentState
	Resources      types.ResourceUsage
	// DisableBackup skips the files bundle for this checkpoint only
	DisableBackup bool
}

// Create assembles and persists a checkpoint: captures the current VCS
// revision if available (best-effort), creates a files backup unless
// disabled, snapshots the workflow config, and applies retention cleanup.
// CanRollback is true iff a backup path or VCS revision was obtained.
func (m *Manager) Create(ctx context.Context, input CreateInput) (*types.Checkpoint, error) {
	if input.WorkflowID == "" {
		return nil, persistence.ErrInvalidInput
	}

	cp := &types.Checkpoint{
		ID:             "cp-" + uuid.New().String(),
		WorkflowID:     input.WorkflowID,
		Description:    input.Description,
		CreatedAt:      time.Now(),
		CompletedTasks: input.CompletedTasks,
		PendingTasks:   input.PendingTasks,
		BlockedTasks:   input.BlockedTasks,
		Artifacts:      input.Artifacts,
		AgentStates:    input.AgentStates,
		Resources:      input.Resources,
	}
	if cp.CompletedTasks == nil {
		cp.CompletedTasks = []string{}
	}
	if cp.PendingTasks == nil {
		cp.PendingTasks = []string{}
	}
	if cp.BlockedTasks == nil {
		cp.BlockedTasks = []string{}
	}

	if rev, ok := gitRevision(m.opts.WorkDir); ok {
		cp.Rollback.GitRevision = rev
	}

	if !m.opts.DisableBackup && !input.DisableBackup && len(m.opts.BackupPaths) > 0 {
		bundle, err := m.archiver.Create(cp.ID, m.opts.BackupPaths)
		if err != nil {
			// Backup is best-effort: a checkpoint without a bundle is
			// still usable, it just may not support rollback.
			m.logger.Warn("files backup failed",
				zap.String("checkpoint_id", cp.ID),
				zap.Error(err),
			)
		} else {
			cp.Rollback.BackupPath = bundle
		}
	}

	if cfg, err := m.store.LoadConfig(ctx, input.WorkflowID); err == nil {
		cp.Rollback.ConfigSnapshot = cfg
	}

	cp.Rollback.CanRollback = cp.Rollback.BackupPath != "" || cp.Rollback.GitRevision != ""

	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}

	if _, err := m.Cleanup(ctx, input.WorkflowID); err != nil {
		m.logger.Warn("checkpoint retention cleanup failed",
			zap.String("workflow_id", input.WorkflowID),
			zap.Error(err),
		)
	}

	m.metrics.CheckpointCreated()
	m.logger.Info("checkpoint created",
		zap.String("checkpoint_id", cp.ID),
		zap.String("workflow_id", cp.WorkflowID),
		zap.Int("completed", len(cp.CompletedTasks)),
		zap.Bool("can_rollback", cp.Rollback.CanRollback),
	)
	return cp, nil
}

// CreateFromWorkflowState derives the task-id buckets directly from current
// task statuses. Convenience constructor used by the engine.
func (m *Manager) CreateFromWorkflowState(ctx context.Context, wf *types.Workflow, agentStates []types.AgentState, description string) (*types.Checkpoint, error) {
	artifacts := make(map[string]string)
	if names, err := m.store.ListArtifacts(ctx, wf.ID); err == nil {
		for _, name := range names {
			artifacts[name] = name
		}
	}
	return m.Create(ctx, CreateInput{
		WorkflowID:     wf.ID,
		Description:    description,
		CompletedTasks: wf.TaskIDsByStatus(types.TaskCompleted),
		PendingTasks:   wf.TaskIDsByStatus(types.TaskPending),
		BlockedTasks:   wf.TaskIDsByStatus(types.TaskBlocked),
		Artifacts:      artifacts,
		AgentStates:    agentStates,
		Resources:      wf.Resources,
	})
}

// Get returns the checkpoint with the given id.
func (m *Manager) Get(ctx context.Context, workflowID, checkpointID string) (*types.Checkpoint, error) {
	cp, err := m.store.LoadCheckpoint(ctx, workflowID, checkpointID)
	if err == persistence.ErrNotFound {
		return nil, types.NewError(types.ErrCheckpointNotFound,
			fmt.Sprintf("checkpoint %s not found in workflow %s", checkpointID, workflowID))
	}
	return cp, err
}

// GetLatest returns the most recent checkpoint of the workflow, or nil when
// none exist.
func (m *Manager) GetLatest(ctx context.Context, workflowID string) (*types.Checkpoint, error) {
	cps, err := m.store.ListCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, nil
	}
	return cps[len(cps)-1], nil
}

// List returns checkpoint summaries sorted newest-first.
func (m *Manager) List(ctx context.Context, workflowID string) ([]types.CheckpointSummary, error) {
	cps, err := m.store.ListCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	out := make([]types.CheckpointSummary, 0, len(cps))
	for i := len(cps) - 1; i >= 0; i-- {
		out = append(out, cps[i].Summary())
	}
	return out, nil
}

// find locates a checkpoint by id, scanning all workflows when the
// workflow id is unknown.
func (m *Manager) find(ctx context.Context, workflowID, checkpointID string) (*types.Checkpoint, error) {
	if workflowID != "" {
		return m.store.LoadCheckpoint(ctx, workflowID, checkpointID)
	}
	workflows, err := m.store.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	for _, wf := range workflows {
		cp, err := m.store.LoadCheckpoint(ctx, wf.ID, checkpointID)
		if err == nil {
			return cp, nil
		}
		if err != persistence.ErrNotFound {
			return nil, err
		}
	}
	return nil, persistence.ErrNotFound
}

// Cleanup applies retention: checkpoints beyond MaxCheckpoints are deleted
// oldest-first along with their backup bundles. Returns the number deleted.
func (m *Manager) Cleanup(ctx context.Context, workflowID string) (int, error) {
	cps, err := m.store.ListCheckpoints(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	excess := len(cps) - m.opts.MaxCheckpoints
	if excess <= 0 {
		return 0, nil
	}
	for _, cp := range cps[:excess] {
		if err := m.store.DeleteCheckpoint(ctx, workflowID, cp.ID); err != nil {
			return 0, err
		}
		if cp.Rollback.BackupPath != "" {
			os.Remove(cp.Rollback.BackupPath)
		}
	}
	return excess, nil
}
