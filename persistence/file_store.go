package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pwi-labs/autoflow/types"
)

// FileStore is a file-based implementation of Store. Suitable for
// single-node production deployments. Each record family lives under its
// own subdirectory of BaseDir; writes are atomic (temp file + rename).
type FileStore struct {
	baseDir string
	mu      sync.Mutex
	closed  bool
}

// NewFileStore creates a file-backed store rooted at config.BaseDir.
func NewFileStore(config StoreConfig) (*FileStore, error) {
	baseDir := config.BaseDir
	if baseDir == "" {
		baseDir = ".autoflow"
	}
	for _, sub := range []string{"workflows", "checkpoints", "events", "messages", "artifacts", "configs"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

// writeJSON writes data atomically: temp file first, then rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *FileStore) workflowPath(id string) string {
	return filepath.Join(s.baseDir, "workflows", id+".json")
}

func (s *FileStore) SaveWorkflow(ctx context.Context, wf *types.Workflow) error {
	if wf == nil || wf.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return writeJSON(s.workflowPath(wf.ID), wf)
}

func (s *FileStore) LoadWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var wf types.Workflow
	if err := readJSON(s.workflowPath(workflowID), &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *FileStore) ListWorkflows(ctx context.Context) ([]*types.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "workflows"))
	if err != nil {
		return nil, err
	}
	var out []*types.Workflow
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var wf types.Workflow
		if err := readJSON(filepath.Join(s.baseDir, "workflows", e.Name()), &wf); err != nil {
			continue
		}
		out = append(out, &wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := os.Remove(s.workflowPath(workflowID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, sub := range []string{"checkpoints", "artifacts"} {
		os.RemoveAll(filepath.Join(s.baseDir, sub, workflowID))
	}
	for _, sub := range []string{"events", "messages", "configs"} {
		os.Remove(filepath.Join(s.baseDir, sub, workflowID+".json"))
	}
	return nil
}

func (s *FileStore) checkpointPath(workflowID, checkpointID string) string {
	return filepath.Join(s.baseDir, "checkpoints", workflowID, checkpointID+".json")
}

func (s *FileStore) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	if cp == nil || cp.ID == "" || cp.WorkflowID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return writeJSON(s.checkpointPath(cp.WorkflowID, cp.ID), cp)
}

func (s *FileStore) LoadCheckpoint(ctx context.Context, workflowID, checkpointID string) (*types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var cp types.Checkpoint
	if err := readJSON(s.checkpointPath(workflowID, checkpointID), &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *FileStore) ListCheckpoints(ctx context.Context, workflowID string) ([]*types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	dir := filepath.Join(s.baseDir, "checkpoints", workflowID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []*types.Checkpoint
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var cp types.Checkpoint
		if err := readJSON(filepath.Join(dir, e.Name()), &cp); err != nil {
			continue
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) DeleteCheckpoint(ctx context.Context, workflowID, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := os.Remove(s.checkpointPath(workflowID, checkpointID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// appendJSON loads a JSON array file, appends one record, and rewrites it.
func appendJSON[T any](path string, record *T) error {
	var records []*T
	if err := readJSON(path, &records); err != nil && err != ErrNotFound {
		return err
	}
	records = append(records, record)
	return writeJSON(path, records)
}

func (s *FileStore) SaveEvent(ctx context.Context, ev *types.WorkflowEvent) error {
	if ev == nil || ev.WorkflowID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return appendJSON(filepath.Join(s.baseDir, "events", ev.WorkflowID+".json"), ev)
}

func (s *FileStore) LoadEvents(ctx context.Context, workflowID string) ([]*types.WorkflowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var evs []*types.WorkflowEvent
	if err := readJSON(filepath.Join(s.baseDir, "events", workflowID+".json"), &evs); err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return evs, nil
}

func (s *FileStore) SaveMessage(ctx context.Context, msg *types.AgentMessage) error {
	if msg == nil || msg.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return appendJSON(filepath.Join(s.baseDir, "messages", msg.WorkflowID+".json"), msg)
}

func (s *FileStore) LoadMessages(ctx context.Context, workflowID string) ([]*types.AgentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var msgs []*types.AgentMessage
	if err := readJSON(filepath.Join(s.baseDir, "messages", workflowID+".json"), &msgs); err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return msgs, nil
}

func (s *FileStore) SaveArtifact(ctx context.Context, workflowID, name string, data []byte) error {
	if workflowID == "" || name == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	dir := filepath.Join(s.baseDir, "artifacts", workflowID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, name))
}

func (s *FileStore) LoadArtifact(ctx context.Context, workflowID, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, "artifacts", workflowID, name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *FileStore) ListArtifacts(ctx context.Context, workflowID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "artifacts", workflowID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) SaveConfig(ctx context.Context, workflowID string, cfg map[string]string) error {
	if workflowID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return writeJSON(filepath.Join(s.baseDir, "configs", workflowID+".json"), cfg)
}

func (s *FileStore) LoadConfig(ctx context.Context, workflowID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var cfg map[string]string
	if err := readJSON(filepath.Join(s.baseDir, "configs", workflowID+".json"), &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
