package checkpoint

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/pwi-labs/autoflow/persistence"
)

// RestoreOptions selects the checkpoint and the facets to restore.
// Facets are restored independently; a failure in one does not stop the
// others.
type RestoreOptions struct {
	// CheckpointID identifies the checkpoint
	CheckpointID string
	// WorkflowID, when empty, triggers a scan across all workflows
	WorkflowID string
	// RestoreFiles unpacks the backup bundle (or falls back to the VCS
	// revision when the bundle is missing)
	RestoreFiles bool
	// RestoreDatabase requests database restoration (a declared no-op,
	// recorded as a warning)
	RestoreDatabase bool
	// RestoreConfig writes the config snapshot back to the store
	RestoreConfig bool
	// DryRun verifies the checkpoint without touching anything
	DryRun bool
}

// RestoreResult enumerates exactly which facets were restored. Errors are
// collected, not thrown; Success is true iff the error list is empty, so a
// partial restore (files restored, database not) is representable.
type RestoreResult struct {
	Success          bool     `json:"success"`
	CheckpointID     string   `json:"checkpoint_id"`
	RestoredFiles    bool     `json:"restored_files"`
	RestoredDatabase bool     `json:"restored_database"`
	RestoredConfig   bool     `json:"restored_config"`
	Errors           []string `json:"errors"`
	Warnings         []string `json:"warnings"`
}

// Restore locates the checkpoint, verifies it can be rolled back, and
// restores the requested facets independently unless DryRun is set. A missing
// checkpoint is reported as a structured failure, not an error, so
// automated rollback logic can branch on the result.
func (m *Manager) Restore(ctx context.Context, opts RestoreOptions) *RestoreResult {
	result := &RestoreResult{
		CheckpointID: opts.CheckpointID,
		Errors:       []string{},
		Warnings:     []string{},
	}

	cp, err := m.find(ctx, opts.WorkflowID, opts.CheckpointID)
	if err == persistence.ErrNotFound {
		result.Errors = append(result.Errors, fmt.Sprintf("checkpoint %s not found", opts.CheckpointID))
		return result
	}
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("load checkpoint: %v", err))
		return result
	}

	if !cp.Rollback.CanRollback {
		result.Errors = append(result.Errors, fmt.Sprintf("checkpoint %s cannot be rolled back: no backup or VCS revision", cp.ID))
		return result
	}

	if opts.DryRun {
		result.Success = true
		return result
	}

	if opts.RestoreFiles {
		m.restoreFiles(cp.Rollback.BackupPath, cp.Rollback.GitRevision, result)
	}
	if opts.RestoreDatabase {
		// Database restoration is deliberately not implemented in this
		// design; the snapshot reference is informational only.
		result.Warnings = append(result.Warnings, "database restore is not supported; skipped")
	}
	if opts.RestoreConfig {
		if len(cp.Rollback.ConfigSnapshot) == 0 {
			result.Warnings = append(result.Warnings, "checkpoint has no config snapshot")
		} else {
			cfgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := m.store.SaveConfig(cfgCtx, cp.WorkflowID, cp.Rollback.ConfigSnapshot)
			cancel()
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("restore config: %v", err))
			} else {
				result.RestoredConfig = true
			}
		}
	}

	result.Success = len(result.Errors) == 0
	m.logger.Info("checkpoint restore finished",
		zap.String("checkpoint_id", cp.ID),
		zap.Bool("success", result.Success),
		zap.Bool("files", result.RestoredFiles),
		zap.Bool("config", result.RestoredConfig),
		zap.Int("errors", len(result.Errors)),
	)
	return result
}

// restoreFiles unpacks the backup bundle, falling back to a VCS checkout
// when the bundle file is missing.
func (m *Manager) restoreFiles(backupPath, gitRev string, result *RestoreResult) {
	if backupPath != "" {
		if _, err := os.Stat(backupPath); err == nil {
			if err := m.archiver.Extract(backupPath); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("restore files: %v", err))
				return
			}
			result.RestoredFiles = true
			return
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf("backup archive missing: %s", backupPath))
	}

	if gitRev == "" {
		result.Errors = append(result.Errors, "no backup archive and no VCS revision to restore files from")
		return
	}
	if err := gitCheckout(m.opts.WorkDir, gitRev); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("restore files from VCS revision %s: %v", gitRev, err))
		return
	}
	result.RestoredFiles = true
}
