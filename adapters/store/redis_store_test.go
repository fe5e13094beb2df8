package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client), mr
}

func TestRedisStore_IssuePeekConsume(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	id, err := s.Issue(ctx, "Verification Challenge: 1234", 5*time.Minute)
	require.NoError(t, err)

	assert.True(t, mr.Exists(challengePrefix+id))
	assert.Equal(t, 5*time.Minute, mr.TTL(challengePrefix+id))

	plaintext, ok, err := s.Peek(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Verification Challenge: 1234", plaintext)

	consumed, err := s.Consume(ctx, id)
	require.NoError(t, err)
	assert.True(t, consumed)

	_, ok, err = s.Peek(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	consumed, err = s.Consume(ctx, id)
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestRedisStore_ExpiredChallengeIsAbsent(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	id, err := s.Issue(ctx, "challenge", time.Minute)
	require.NoError(t, err)

	mr.FastForward(time.Minute + time.Second)

	_, ok, err := s.Peek(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_BackendFailureIsAnError(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	mr.Close()

	_, _, err := s.Peek(ctx, "anything")
	assert.Error(t, err)

	_, err = s.Issue(ctx, "challenge", time.Minute)
	assert.Error(t, err)
}

func TestRedisStore_InvalidateToken(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	invalidated, err := s.IsTokenInvalidated(ctx, "jti")
	require.NoError(t, err)
	assert.False(t, invalidated)

	require.NoError(t, s.InvalidateToken(ctx, "jti", time.Hour))

	invalidated, err = s.IsTokenInvalidated(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, invalidated)

	mr.FastForward(2 * time.Hour)

	invalidated, err = s.IsTokenInvalidated(ctx, "jti")
	require.NoError(t, err)
	assert.False(t, invalidated)
}
