package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwi-labs/autoflow/persistence"
	"github.com/pwi-labs/autoflow/types"
)

func newTestManager(t *testing.T, opts Options) (*Manager, persistence.Store) {
	t.Helper()
	store := persistence.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	return NewManager(store, opts, nil), store
}

func TestCreateAndGet(t *testing.T) {
	m, _ := newTestManager(t, Options{DisableBackup: true})
	ctx := context.Background()

	cp, err := m.Create(ctx, CreateInput{
		WorkflowID:     "wf-1",
		Description:    "after phase one",
		CompletedTasks: []string{"t1", "t2"},
		PendingTasks:   []string{"t3"},
		BlockedTasks:   []string{"t4"},
		Artifacts:      map[string]string{"report": "report.md"},
		Resources:      types.ResourceUsage{CostUSD: 1.25, APICalls: 7},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cp.ID)
	assert.False(t, cp.CreatedAt.IsZero())

	got, err := m.Get(ctx, "wf-1", cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, got.ID)
	assert.Equal(t, []string{"t1", "t2"}, got.CompletedTasks)
	assert.Equal(t, []string{"t3"}, got.PendingTasks)
	assert.Equal(t, []string{"t4"}, got.BlockedTasks)
	assert.Equal(t, 1.25, got.Resources.CostUSD)
	assert.Equal(t, "after phase one", got.Description)
}

func TestCreateNilBucketsBecomeEmpty(t *testing.T) {
	m, _ := newTestManager(t, Options{DisableBackup: true})

	cp, err := m.Create(context.Background(), CreateInput{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.NotNil(t, cp.CompletedTasks)
	assert.NotNil(t, cp.PendingTasks)
	assert.NotNil(t, cp.BlockedTasks)
}

func TestCreateRequiresWorkflowID(t *testing.T) {
	m, _ := newTestManager(t, Options{DisableBackup: true})

	_, err := m.Create(context.Background(), CreateInput{})
	assert.ErrorIs(t, err, persistence.ErrInvalidInput)
}

func TestGetMissingIsTyped(t *testing.T) {
	m, _ := newTestManager(t, Options{DisableBackup: true})

	_, err := m.Get(context.Background(), "wf-1", "cp-nope")
	require.Error(t, err)
	assert.Equal(t, types.ErrCheckpointNotFound, types.GetErrorCode(err))
}

func TestGetLatestAndList(t *testing.T) {
	m, _ := newTestManager(t, Options{DisableBackup: true})
	ctx := context.Background()

	first, err := m.Create(ctx, CreateInput{WorkflowID: "wf-1", Description: "first"})
	require.NoError(t, err)
	second, err := m.Create(ctx, CreateInput{WorkflowID: "wf-1", Description: "second"})
	require.NoError(t, err)

	latest, err := m.GetLatest(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	summaries, err := m.List(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	// newest first
	assert.Equal(t, second.ID, summaries[0].ID)
	assert.Equal(t, first.ID, summaries[1].ID)

	none, err := m.GetLatest(ctx, "wf-empty")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRetentionCleanup(t *testing.T) {
	m, _ := newTestManager(t, Options{DisableBackup: true, MaxCheckpoints: 3})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		cp, err := m.Create(ctx, CreateInput{WorkflowID: "wf-1"})
		require.NoError(t, err)
		ids = append(ids, cp.ID)
	}

	summaries, err := m.List(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	// the two oldest are gone
	_, err = m.Get(ctx, "wf-1", ids[0])
	assert.Error(t, err)
	_, err = m.Get(ctx, "wf-1", ids[1])
	assert.Error(t, err)
	_, err = m.Get(ctx, "wf-1", ids[4])
	assert.NoError(t, err)
}

func TestBackupAndRestoreFiles(t *testing.T) {
	workDir := t.TempDir()
	target := filepath.Join(workDir, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o644))

	m, _ := newTestManager(t, Options{
		WorkDir:     workDir,
		BackupPaths: []string{"notes.txt"},
	})
	ctx := context.Background()

	cp, err := m.Create(ctx, CreateInput{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.NotEmpty(t, cp.Rollback.BackupPath)
	assert.True(t, cp.Rollback.CanRollback)
	assert.FileExists(t, cp.Rollback.BackupPath)

	// corrupt the working tree, then roll it back
	require.NoError(t, os.WriteFile(target, []byte("broken"), 0o644))

	result := m.Restore(ctx, RestoreOptions{
		CheckpointID: cp.ID,
		WorkflowID:   "wf-1",
		RestoreFiles: true,
	})
	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.True(t, result.RestoredFiles)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestRestoreMissingCheckpointIsStructuredFailure(t *testing.T) {
	m, _ := newTestManager(t, Options{DisableBackup: true})

	result := m.Restore(context.Background(), RestoreOptions{
		CheckpointID: "cp-missing",
		WorkflowID:   "wf-1",
		RestoreFiles: true,
	})
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "not found")
}

func TestRestoreWithoutRollbackInfoFails(t *testing.T) {
	m, _ := newTestManager(t, Options{DisableBackup: true})
	ctx := context.Background()

	cp, err := m.Create(ctx, CreateInput{WorkflowID: "wf-1"})
	require.NoError(t, err)
	// created in a plain temp dir with backups disabled: nothing to
	// roll back to
	require.False(t, cp.Rollback.CanRollback)

	result := m.Restore(ctx, RestoreOptions{CheckpointID: cp.ID, WorkflowID: "wf-1", RestoreFiles: true})
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "cannot be rolled back")
}

func TestRestoreDryRun(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("x"), 0o644))
	m, _ := newTestManager(t, Options{WorkDir: workDir, BackupPaths: []string{"a.txt"}})
	ctx := context.Background()

	cp, err := m.Create(ctx, CreateInput{WorkflowID: "wf-1"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("changed"), 0o644))

	result := m.Restore(ctx, RestoreOptions{CheckpointID: cp.ID, WorkflowID: "wf-1", RestoreFiles: true, DryRun: true})
	assert.True(t, result.Success)
	assert.False(t, result.RestoredFiles)

	// dry run must not touch the tree
	data, err := os.ReadFile(filepath.Join(workDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "changed", string(data))
}

func TestRestoreDatabaseIsWarning(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("x"), 0o644))
	m, _ := newTestManager(t, Options{WorkDir: workDir, BackupPaths: []string{"a.txt"}})
	ctx := context.Background()

	cp, err := m.Create(ctx, CreateInput{WorkflowID: "wf-1"})
	require.NoError(t, err)

	result := m.Restore(ctx, RestoreOptions{CheckpointID: cp.ID, WorkflowID: "wf-1", RestoreDatabase: true})
	assert.True(t, result.Success)
	assert.False(t, result.RestoredDatabase)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "not supported")
}

func TestRestoreConfig(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("x"), 0o644))
	m, store := newTestManager(t, Options{WorkDir: workDir, BackupPaths: []string{"a.txt"}})
	ctx := context.Background()

	require.NoError(t, store.SaveConfig(ctx, "wf-1", map[string]string{"mode": "supervised"}))

	cp, err := m.Create(ctx, CreateInput{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, cp.Rollback.ConfigSnapshot)

	// drift the live config, then restore the snapshot
	require.NoError(t, store.SaveConfig(ctx, "wf-1", map[string]string{"mode": "full-auto"}))

	result := m.Restore(ctx, RestoreOptions{CheckpointID: cp.ID, WorkflowID: "wf-1", RestoreConfig: true})
	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.True(t, result.RestoredConfig)

	cfg, err := store.LoadConfig(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "supervised", cfg["mode"])
}

func TestDiff(t *testing.T) {
	m, _ := newTestManager(t, Options{DisableBackup: true})
	ctx := context.Background()

	from, err := m.Create(ctx, CreateInput{
		WorkflowID:     "wf-1",
		CompletedTasks: []string{"t1"},
		BlockedTasks:   []string{"t3"},
		Artifacts:      map[string]string{"log": "log.txt"},
		Resources:      types.ResourceUsage{CostUSD: 1, Elapsed: time.Minute},
	})
	require.NoError(t, err)

	to, err := m.Create(ctx, CreateInput{
		WorkflowID:     "wf-1",
		CompletedTasks: []string{"t1", "t2", "t3"},
		Artifacts:      map[string]string{"log": "log.txt", "report": "report.md"},
		AgentStates:    []types.AgentState{{ID: "developer-1"}},
		Resources:      types.ResourceUsage{CostUSD: 3.5, Elapsed: 3 * time.Minute},
	})
	require.NoError(t, err)

	diff, err := m.Diff(ctx, "wf-1", from.ID, to.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t3"}, diff.TasksCompleted)
	assert.Empty(t, diff.TasksReverted)
	assert.Equal(t, []string{"t3"}, diff.TasksUnblocked)
	assert.Equal(t, []string{"report"}, diff.ArtifactsAdded)
	assert.Empty(t, diff.ArtifactsRemoved)
	assert.Equal(t, 2.5, diff.CostDelta)
	assert.Equal(t, 2*time.Minute, diff.TimeDelta)
	assert.Equal(t, 1, diff.AgentDelta)
}

func TestCreateFromWorkflowState(t *testing.T) {
	m, store := newTestManager(t, Options{DisableBackup: true})
	ctx := context.Background()

	require.NoError(t, store.SaveArtifact(ctx, "wf-1", "report", []byte("done")))

	wf := &types.Workflow{
		ID: "wf-1",
		Plan: &types.Plan{Tasks: []*types.Task{
			{ID: "t1", Status: types.TaskCompleted},
			{ID: "t2", Status: types.TaskPending},
			{ID: "t3", Status: types.TaskBlocked},
		}},
		Resources: types.ResourceUsage{CostUSD: 0.5},
	}

	cp, err := m.CreateFromWorkflowState(ctx, wf, []types.AgentState{{ID: "developer-1"}}, "loop checkpoint")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, cp.CompletedTasks)
	assert.Equal(t, []string{"t2"}, cp.PendingTasks)
	assert.Equal(t, []string{"t3"}, cp.BlockedTasks)
	assert.Contains(t, cp.Artifacts, "report")
	require.Len(t, cp.AgentStates, 1)
	assert.Equal(t, 0.5, cp.Resources.CostUSD)
}
