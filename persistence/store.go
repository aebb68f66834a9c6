// Package persistence provides durable storage for workflow, checkpoint,
// event, message, artifact, and config records, keyed by workflow id.
//
// Supported backends:
// - Memory: for development and testing (default)
// - File: for single-node production deployments
// - Redis: for distributed production deployments
// - SQLite: for single-node deployments that want queryable history
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/pwi-labs/autoflow/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQLite StoreType = "sqlite"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string        `json:"addr" yaml:"addr"`
	Password  string        `json:"password" yaml:"password"`
	DB        int           `json:"db" yaml:"db"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	PoolSize  int           `json:"pool_size" yaml:"pool_size"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// StoreConfig configures a storage backend.
type StoreConfig struct {
	// Type selects the backend (default: memory)
	Type StoreType `json:"type" yaml:"type"`
	// BaseDir is the root directory for the file backend
	BaseDir string `json:"base_dir" yaml:"base_dir"`
	// SQLitePath is the database file for the sqlite backend
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`
	// Redis holds connection settings for the redis backend
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: ".autoflow",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "autoflow:",
			PoolSize:  10,
			Timeout:   5 * time.Second,
		},
	}
}

// Store is the persistence collaborator consumed by the engine, the
// checkpoint manager, and (best-effort) the message bus. All records are
// keyed by workflow id; checkpoints are additionally addressed by their own
// id within a workflow.
type Store interface {
	SaveWorkflow(ctx context.Context, wf *types.Workflow) error
	LoadWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*types.Workflow, error)
	DeleteWorkflow(ctx context.Context, workflowID string) error

	SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	LoadCheckpoint(ctx context.Context, workflowID, checkpointID string) (*types.Checkpoint, error)
	ListCheckpoints(ctx context.Context, workflowID string) ([]*types.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, workflowID, checkpointID string) error

	SaveEvent(ctx context.Context, ev *types.WorkflowEvent) error
	LoadEvents(ctx context.Context, workflowID string) ([]*types.WorkflowEvent, error)

	SaveMessage(ctx context.Context, msg *types.AgentMessage) error
	LoadMessages(ctx context.Context, workflowID string) ([]*types.AgentMessage, error)

	SaveArtifact(ctx context.Context, workflowID, name string, data []byte) error
	LoadArtifact(ctx context.Context, workflowID, name string) ([]byte, error)
	ListArtifacts(ctx context.Context, workflowID string) ([]string, error)

	SaveConfig(ctx context.Context, workflowID string, cfg map[string]string) error
	LoadConfig(ctx context.Context, workflowID string) (map[string]string, error)

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
	// Close releases backend resources
	Close() error
}
