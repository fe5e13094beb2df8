package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	challengePrefix   = "pgpgate:challenge:"
	invalidatedPrefix = "pgpgate:invalidated:"
)

// RedisStore keeps challenges and revoked credentials in Redis with native TTLs
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Issue stores a challenge with SET EX
func (s *RedisStore) Issue(ctx context.Context, plaintext string, ttl time.Duration) (string, error) {
	id := uuid.NewString()

	if err := s.client.Set(ctx, challengePrefix+id, plaintext, ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store challenge: %w", err)
	}

	return id, nil
}

// Peek fetches a challenge; a missing key is not an error
func (s *RedisStore) Peek(ctx context.Context, id string) (string, bool, error) {
	value, err := s.client.Get(ctx, challengePrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load challenge: %w", err)
	}

	return value, true, nil
}

// Consume deletes a challenge and reports whether the key existed
func (s *RedisStore) Consume(ctx context.Context, id string) (bool, error) {
	deleted, err := s.client.Del(ctx, challengePrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume challenge: %w", err)
	}

	return deleted > 0, nil
}

// InvalidateToken marks a token as invalidated in Redis
func (s *RedisStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if err := s.client.Set(ctx, invalidatedPrefix+tokenID, "1", expiry).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	return nil
}

// IsTokenInvalidated checks if a token is invalidated in Redis
func (s *RedisStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	val, err := s.client.Exists(ctx, invalidatedPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}

	return val > 0, nil
}
