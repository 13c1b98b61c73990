package oauthstate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "oauthstate:"

// RedisStore keeps state in Redis, relying on key expiry for cleanup.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a store using client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Save stores state until ttl elapses.
func (s *RedisStore) Save(ctx context.Context, state *State, ttl time.Duration) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	err = s.client.Set(ctx, redisKeyPrefix+state.ID, b, ttl).Err()
	return errors.Wrap(err, "saving state")
}

// Consume atomically reads and deletes the state with the given ID.
func (s *RedisStore) Consume(ctx context.Context, id string) (*State, error) {
	if id == "" {
		return nil, ErrStateNotFound
	}
	b, err := s.client.GetDel(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "consuming state")
	}
	return decode(b)
}
