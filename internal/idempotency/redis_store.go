package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore shares idempotency records and in-flight claims between processes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger zerolog.Logger
}

type redisEnvelope struct {
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// NewRedisStore creates a store over an existing redis client.
func NewRedisStore(client redis.UniversalClient, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "payguard:idempotency:",
		logger: logger,
	}
}

// Get returns the record for key. Redis errors are logged and reported as misses.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, bool) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("idempotency.redis_get_failed")
		return nil, false
	}

	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("idempotency.redis_record_corrupt")
		return nil, false
	}
	return &Record{Key: key, Value: env.Value, StoredAt: env.StoredAt}, true
}

// Set stores value under key with the redis TTL set to ttl.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	raw, err := json.Marshal(redisEnvelope{Value: value, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: redis set: %w", err)
	}
	return nil
}

// Delete removes a record.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency: redis del: %w", err)
	}
	return nil
}

// Claim marks key as in flight for ttl. It reports false when another process holds the claim.
func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.claimKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: redis claim: %w", err)
	}
	return ok, nil
}

// Release drops the claim on key.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.claimKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis release: %w", err)
	}
	return nil
}

func (s *RedisStore) claimKey(key string) string {
	return s.prefix + "claim:" + key
}
