package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pwi-labs/autoflow/types"
)

// RedisStore is a Redis-based implementation of Store. Suitable for
// distributed production deployments where multiple processes read the
// same workflow history.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(config StoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	timeout := config.Redis.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "autoflow:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}, nil
}

// NewRedisStoreFromClient wraps an existing client; used by tests.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "autoflow:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(parts ...string) string {
	key := s.keyPrefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

func (s *RedisStore) SaveWorkflow(ctx context.Context, wf *types.Workflow) error {
	if wf == nil || wf.ID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key("wf", wf.ID), data, 0)
	pipe.SAdd(ctx, s.key("wf", "ids"), wf.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) LoadWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	data, err := s.client.Get(ctx, s.key("wf", workflowID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var wf types.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *RedisStore) ListWorkflows(ctx context.Context) ([]*types.Workflow, error) {
	ids, err := s.client.SMembers(ctx, s.key("wf", "ids")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := s.LoadWorkflow(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	cpIDs, _ := s.client.LRange(ctx, s.key("cp", "ids", workflowID), 0, -1).Result()
	pipe := s.client.TxPipeline()
	for _, cpID := range cpIDs {
		pipe.Del(ctx, s.key("cp", workflowID, cpID))
	}
	pipe.Del(ctx,
		s.key("wf", workflowID),
		s.key("cp", "ids", workflowID),
		s.key("ev", workflowID),
		s.key("msg", workflowID),
		s.key("art", workflowID),
		s.key("cfg", workflowID),
	)
	pipe.SRem(ctx, s.key("wf", "ids"), workflowID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	if cp == nil || cp.ID == "" || cp.WorkflowID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	// re-saving must not duplicate the id in the ordered index
	exists, err := s.client.Exists(ctx, s.key("cp", cp.WorkflowID, cp.ID)).Result()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key("cp", cp.WorkflowID, cp.ID), data, 0)
	if exists == 0 {
		pipe.RPush(ctx, s.key("cp", "ids", cp.WorkflowID), cp.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) LoadCheckpoint(ctx context.Context, workflowID, checkpointID string) (*types.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.key("cp", workflowID, checkpointID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cp types.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *RedisStore) ListCheckpoints(ctx context.Context, workflowID string) ([]*types.Checkpoint, error) {
	ids, err := s.client.LRange(ctx, s.key("cp", "ids", workflowID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.LoadCheckpoint(ctx, workflowID, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *RedisStore) DeleteCheckpoint(ctx context.Context, workflowID, checkpointID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key("cp", workflowID, checkpointID))
	pipe.LRem(ctx, s.key("cp", "ids", workflowID), 0, checkpointID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) SaveEvent(ctx context.Context, ev *types.WorkflowEvent) error {
	if ev == nil || ev.WorkflowID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.key("ev", ev.WorkflowID), data).Err()
}

func (s *RedisStore) LoadEvents(ctx context.Context, workflowID string) ([]*types.WorkflowEvent, error) {
	items, err := s.client.LRange(ctx, s.key("ev", workflowID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*types.WorkflowEvent, 0, len(items))
	for _, item := range items {
		var ev types.WorkflowEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, nil
}

func (s *RedisStore) SaveMessage(ctx context.Context, msg *types.AgentMessage) error {
	if msg == nil || msg.ID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.key("msg", msg.WorkflowID), data).Err()
}

func (s *RedisStore) LoadMessages(ctx context.Context, workflowID string) ([]*types.AgentMessage, error) {
	items, err := s.client.LRange(ctx, s.key("msg", workflowID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*types.AgentMessage, 0, len(items))
	for _, item := range items {
		var msg types.AgentMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, nil
}

func (s *RedisStore) SaveArtifact(ctx context.Context, workflowID, name string, data []byte) error {
	if workflowID == "" || name == "" {
		return ErrInvalidInput
	}
	return s.client.HSet(ctx, s.key("art", workflowID), name, data).Err()
}

func (s *RedisStore) LoadArtifact(ctx context.Context, workflowID, name string) ([]byte, error) {
	data, err := s.client.HGet(ctx, s.key("art", workflowID), name).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *RedisStore) ListArtifacts(ctx context.Context, workflowID string) ([]string, error) {
	names, err := s.client.HKeys(ctx, s.key("art", workflowID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisStore) SaveConfig(ctx context.Context, workflowID string, cfg map[string]string) error {
	if workflowID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key("cfg", workflowID), data, 0).Err()
}

func (s *RedisStore) LoadConfig(ctx context.Context, workflowID string) (map[string]string, error) {
	data, err := s.client.Get(ctx, s.key("cfg", workflowID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg map[string]string
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
