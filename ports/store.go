package ports

import (
	"context"
	"time"
)

// ChallengeStore keeps single-use challenges in a TTL key-value store.
// Absent, expired and consumed challenges are indistinguishable.
type ChallengeStore interface {
	// Issue stores plaintext under a fresh id for ttl and returns the id.
	Issue(ctx context.Context, plaintext string, ttl time.Duration) (string, error)

	// Peek returns the plaintext, or false when the id is absent.
	Peek(ctx context.Context, id string) (string, bool, error)

	// Consume deletes the challenge and reports whether this call removed it.
	Consume(ctx context.Context, id string) (bool, error)
}

// RevocationStore interface for credential invalidation
type RevocationStore interface {
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}
