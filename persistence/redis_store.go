package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/convoloop/types"
)

const (
	redisSnapshotKeyPrefix = "convoloop:snapshot:"
	redisSessionIndexKey   = "convoloop:sessions"
)

// RedisStoreConfig configures the Redis snapshot store.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// SnapshotTTL expires idle snapshots; zero keeps them forever.
	SnapshotTTL time.Duration
}

// RedisStore keeps snapshots in Redis so that multiple nodes can resume
// each other's sessions.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{client: client, ttl: cfg.SnapshotTTL}, nil
}

// NewRedisStoreWithClient wraps an existing client, mainly for tests.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, snap *types.Snapshot) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisSnapshotKeyPrefix+snap.SessionID, data, s.ttl)
		pipe.SAdd(ctx, redisSessionIndexKey, snap.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadSnapshot(ctx context.Context, sessionID string) (*types.Snapshot, error) {
	data, err := s.client.Get(ctx, redisSnapshotKeyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisStore) ListSessions(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, redisSessionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	deleted, err := s.client.Del(ctx, redisSnapshotKeyPrefix+sessionID).Result()
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if err := s.client.SRem(ctx, redisSessionIndexKey, sessionID).Err(); err != nil {
		return fmt.Errorf("delete snapshot index: %w", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
