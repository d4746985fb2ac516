package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"companion/pkg/types"
)

const (
	// Redis key prefix for conversation history
	historyKeyPrefix = "history:"
	// Default TTL for history keys (7 days)
	defaultTTL = 7 * 24 * time.Hour
)

// redisStore keeps history in Redis with a sliding TTL, so an abandoned
// companion's conversations age out on their own.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisStore(client *redis.Client, ttl time.Duration) *redisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisStore{
		client: client,
		ttl:    ttl,
	}
}

// Save replaces the stored history for a client identity and resets the TTL.
func (s *redisStore) Save(ctx context.Context, clientID string, history []types.HistoryEntry) error {
	val, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(clientID), val, s.ttl).Err()
}

// Load retrieves stored history. A missing key returns (nil, nil).
// Refreshes TTL on every read.
func (s *redisStore) Load(ctx context.Context, clientID string) ([]types.HistoryEntry, error) {
	key := s.key(clientID)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}

	var history []types.HistoryEntry
	if err := json.Unmarshal([]byte(val), &history); err != nil {
		return nil, err
	}

	// Refresh TTL on read; failures here never fail the load.
	_ = s.client.Expire(ctx, key, s.ttl).Err()

	return history, nil
}

// Delete removes stored history.
func (s *redisStore) Delete(ctx context.Context, clientID string) error {
	return s.client.Del(ctx, s.key(clientID)).Err()
}

// Close releases the Redis client.
func (s *redisStore) Close() error {
	return s.client.Close()
}

// key constructs the Redis key for a client identity.
func (s *redisStore) key(clientID string) string {
	return historyKeyPrefix + clientID
}
