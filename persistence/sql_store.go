package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/pwi-labs/autoflow/types"
)

// SQLStore is a SQLite-backed implementation of Store built on GORM.
// Records are stored as JSON documents with indexed key columns, which
// keeps the schema stable while the domain types evolve.
type SQLStore struct {
	db *gorm.DB
}

type workflowRecord struct {
	ID        string `gorm:"primaryKey"`
	Status    string `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Data      []byte
}

type checkpointRecord struct {
	ID         string `gorm:"primaryKey"`
	WorkflowID string `gorm:"index"`
	CreatedAt  time.Time
	Data       []byte
}

type eventRecord struct {
	Seq        uint   `gorm:"primaryKey;autoIncrement"`
	WorkflowID string `gorm:"index"`
	CreatedAt  time.Time
	Data       []byte
}

type messageRecord struct {
	Seq        uint   `gorm:"primaryKey;autoIncrement"`
	WorkflowID string `gorm:"index"`
	CreatedAt  time.Time
	Data       []byte
}

type artifactRecord struct {
	WorkflowID string `gorm:"primaryKey"`
	Name       string `gorm:"primaryKey"`
	UpdatedAt  time.Time
	Data       []byte
}

type configRecord struct {
	WorkflowID string `gorm:"primaryKey"`
	UpdatedAt  time.Time
	Data       []byte
}

// NewSQLStore opens (or creates) the SQLite database at config.SQLitePath
// and migrates the schema.
func NewSQLStore(config StoreConfig) (*SQLStore, error) {
	path := config.SQLitePath
	if path == "" {
		path = "autoflow.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.AutoMigrate(
		&workflowRecord{},
		&checkpointRecord{},
		&eventRecord{},
		&messageRecord{},
		&artifactRecord{},
		&configRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) SaveWorkflow(ctx context.Context, wf *types.Workflow) error {
	if wf == nil || wf.ID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	rec := workflowRecord{
		ID:        wf.ID,
		Status:    string(wf.Status),
		CreatedAt: wf.CreatedAt,
		UpdatedAt: wf.UpdatedAt,
		Data:      data,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

func (s *SQLStore) LoadWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	var rec workflowRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var wf types.Workflow
	if err := json.Unmarshal(rec.Data, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *SQLStore) ListWorkflows(ctx context.Context) ([]*types.Workflow, error) {
	var recs []workflowRecord
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*types.Workflow, 0, len(recs))
	for _, rec := range recs {
		var wf types.Workflow
		if err := json.Unmarshal(rec.Data, &wf); err != nil {
			return nil, err
		}
		out = append(out, &wf)
	}
	return out, nil
}

func (s *SQLStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&workflowRecord{}, "id = ?", workflowID).Error; err != nil {
			return err
		}
		for _, model := range []any{&checkpointRecord{}, &eventRecord{}, &messageRecord{}, &artifactRecord{}, &configRecord{}} {
			if err := tx.Delete(model, "workflow_id = ?", workflowID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	if cp == nil || cp.ID == "" || cp.WorkflowID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	rec := checkpointRecord{
		ID:         cp.ID,
		WorkflowID: cp.WorkflowID,
		CreatedAt:  cp.CreatedAt,
		Data:       data,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

func (s *SQLStore) LoadCheckpoint(ctx context.Context, workflowID, checkpointID string) (*types.Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).
		First(&rec, "id = ? AND workflow_id = ?", checkpointID, workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cp types.Checkpoint
	if err := json.Unmarshal(rec.Data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *SQLStore) ListCheckpoints(ctx context.Context, workflowID string) ([]*types.Checkpoint, error) {
	var recs []checkpointRecord
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*types.Checkpoint, 0, len(recs))
	for _, rec := range recs {
		var cp types.Checkpoint
		if err := json.Unmarshal(rec.Data, &cp); err != nil {
			return nil, err
		}
		out = append(out, &cp)
	}
	return out, nil
}

func (s *SQLStore) DeleteCheckpoint(ctx context.Context, workflowID, checkpointID string) error {
	return s.db.WithContext(ctx).
		Delete(&checkpointRecord{}, "id = ? AND workflow_id = ?", checkpointID, workflowID).Error
}

func (s *SQLStore) SaveEvent(ctx context.Context, ev *types.WorkflowEvent) error {
	if ev == nil || ev.WorkflowID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	rec := eventRecord{WorkflowID: ev.WorkflowID, CreatedAt: ev.Timestamp, Data: data}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *SQLStore) LoadEvents(ctx context.Context, workflowID string) ([]*types.WorkflowEvent, error) {
	var recs []eventRecord
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("seq asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*types.WorkflowEvent, 0, len(recs))
	for _, rec := range recs {
		var ev types.WorkflowEvent
		if err := json.Unmarshal(rec.Data, &ev); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, nil
}

func (s *SQLStore) SaveMessage(ctx context.Context, msg *types.AgentMessage) error {
	if msg == nil || msg.ID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	rec := messageRecord{WorkflowID: msg.WorkflowID, CreatedAt: msg.Timestamp, Data: data}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *SQLStore) LoadMessages(ctx context.Context, workflowID string) ([]*types.AgentMessage, error) {
	var recs []messageRecord
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("seq asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*types.AgentMessage, 0, len(recs))
	for _, rec := range recs {
		var msg types.AgentMessage
		if err := json.Unmarshal(rec.Data, &msg); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, nil
}

func (s *SQLStore) SaveArtifact(ctx context.Context, workflowID, name string, data []byte) error {
	if workflowID == "" || name == "" {
		return ErrInvalidInput
	}
	rec := artifactRecord{WorkflowID: workflowID, Name: name, UpdatedAt: time.Now(), Data: data}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

func (s *SQLStore) LoadArtifact(ctx context.Context, workflowID, name string) ([]byte, error) {
	var rec artifactRecord
	err := s.db.WithContext(ctx).
		First(&rec, "workflow_id = ? AND name = ?", workflowID, name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

func (s *SQLStore) ListArtifacts(ctx context.Context, workflowID string) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&artifactRecord{}).
		Where("workflow_id = ?", workflowID).
		Order("name asc").
		Pluck("name", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s *SQLStore) SaveConfig(ctx context.Context, workflowID string, cfg map[string]string) error {
	if workflowID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	rec := configRecord{WorkflowID: workflowID, UpdatedAt: time.Now(), Data: data}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

func (s *SQLStore) LoadConfig(ctx context.Context, workflowID string) (map[string]string, error) {
	var rec configRecord
	err := s.db.WithContext(ctx).First(&rec, "workflow_id = ?", workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg map[string]string
	if err := json.Unmarshal(rec.Data, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
