package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-quest/internal/platform/cache"
	"github.com/p-n-ai/pai-quest/internal/snapshot"
)

// RedisStore keeps the snapshot of one learner under a single Redis key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a Redis-backed store for learnerID.
func NewRedisStore(client *redis.Client, learnerID string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if learnerID == "" {
		return nil, fmt.Errorf("learner_id is required")
	}
	return &RedisStore{client: client, key: cache.Key("snapshot", learnerID)}, nil
}

func (s *RedisStore) Load(ctx context.Context) (*snapshot.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snapshot.Decode(data)
}

func (s *RedisStore) Save(ctx context.Context, snap *snapshot.Snapshot) error {
	data, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
