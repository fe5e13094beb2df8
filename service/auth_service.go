package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/pgpgate/core"
	"github.com/layer-3/pgpgate/internal/metrics"
	"github.com/layer-3/pgpgate/ports"
)

const (
	DefaultChallengeTTL = 5 * time.Minute
	DefaultSessionTTL   = 24 * time.Hour
)

// AuthService handles authentication business logic
type AuthService struct {
	challenges ports.ChallengeStore
	verifier   ports.SignatureVerifier
	tokenizer  ports.Tokenizer
	revoked    ports.RevocationStore
	eventPub   ports.EventPublisher

	logger  *slog.Logger
	metrics *metrics.Metrics

	challengeTTL time.Duration
	sessionTTL   time.Duration
}

// AuthOption configures an AuthService
type AuthOption func(*AuthService)

func WithChallengeTTL(ttl time.Duration) AuthOption {
	return func(s *AuthService) { s.challengeTTL = ttl }
}

func WithSessionTTL(ttl time.Duration) AuthOption {
	return func(s *AuthService) { s.sessionTTL = ttl }
}

func WithAuthLogger(logger *slog.Logger) AuthOption {
	return func(s *AuthService) { s.logger = logger }
}

func WithAuthMetrics(m *metrics.Metrics) AuthOption {
	return func(s *AuthService) { s.metrics = m }
}

// NewAuthService creates a new authentication service
func NewAuthService(
	challenges ports.ChallengeStore,
	verifier ports.SignatureVerifier,
	tokenizer ports.Tokenizer,
	revoked ports.RevocationStore,
	eventPub ports.EventPublisher,
	opts ...AuthOption,
) *AuthService {
	s := &AuthService{
		challenges:   challenges,
		verifier:     verifier,
		tokenizer:    tokenizer,
		revoked:      revoked,
		eventPub:     eventPub,
		logger:       slog.Default(),
		challengeTTL: DefaultChallengeTTL,
		sessionTTL:   DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChallengeTTL is how long an issued challenge stays valid.
func (s *AuthService) ChallengeTTL() time.Duration {
	return s.challengeTTL
}

// BeginChallenge mints a challenge embedding a fresh random token
func (s *AuthService) BeginChallenge(ctx context.Context) (*core.Challenge, error) {
	plaintext := core.ChallengePrefix + uuid.NewString()

	id, err := s.challenges.Issue(ctx, plaintext, s.challengeTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue challenge: %w", err)
	}
	s.metrics.ChallengeIssued()

	return &core.Challenge{
		ID:        id,
		Plaintext: plaintext,
		ExpiresAt: time.Now().Add(s.challengeTTL),
	}, nil
}

// PendingChallenge returns the plaintext of a challenge that is still live,
// so a failed login can be shown the same challenge again.
func (s *AuthService) PendingChallenge(ctx context.Context, challengeID string) (string, error) {
	if challengeID == "" {
		return "", core.ErrChallengeExpired
	}

	plaintext, ok, err := s.challenges.Peek(ctx, challengeID)
	if err != nil {
		return "", fmt.Errorf("failed to load challenge: %w", err)
	}
	if !ok {
		return "", core.ErrChallengeExpired
	}

	return plaintext, nil
}

// CompleteLogin verifies a clearsigned challenge and returns the signer's
// fingerprint. A failed verification leaves the challenge in place for retry.
func (s *AuthService) CompleteLogin(ctx context.Context, publicKey, signedMessage, challengeID string) (string, error) {
	plaintext, err := s.PendingChallenge(ctx, challengeID)
	if err != nil {
		s.recordLogin(err)
		return "", err
	}

	result := s.verifier.Verify(publicKey, signedMessage, plaintext)
	if !result.OK() {
		s.logger.Warn("login verification failed", "challenge_id", challengeID, "reason", result.Err)
		s.recordLogin(core.ErrVerificationFailed)
		return "", core.ErrVerificationFailed
	}

	consumed, err := s.challenges.Consume(ctx, challengeID)
	if err != nil {
		err = fmt.Errorf("failed to consume challenge: %w", err)
		s.recordLogin(err)
		return "", err
	}
	if !consumed {
		// Another request redeemed the challenge first.
		s.recordLogin(core.ErrChallengeExpired)
		return "", core.ErrChallengeExpired
	}

	s.logger.Info("login verified", "identity", result.Identity)
	s.recordLogin(nil)

	return result.Identity, nil
}

// IssueCredential creates a session token bound to identity
func (s *AuthService) IssueCredential(identity string) (string, *core.Credential, error) {
	now := time.Now()
	credential := &core.Credential{
		ID:        uuid.NewString(),
		Identity:  identity,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.sessionTTL),
	}

	token, err := s.tokenizer.CredentialToToken(credential)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session token: %w", err)
	}

	return token, credential, nil
}

// ValidateCredential parses a session token and checks it has not been revoked
func (s *AuthService) ValidateCredential(ctx context.Context, token string) (*core.Credential, error) {
	credential, err := s.tokenizer.TokenToCredential(token)
	if err != nil {
		return nil, err
	}

	if time.Now().After(credential.ExpiresAt) {
		return nil, core.ErrTokenExpired
	}

	invalidated, err := s.revoked.IsTokenInvalidated(ctx, credential.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	if invalidated {
		return nil, core.ErrTokenInvalidated
	}

	return credential, nil
}

// Logout invalidates a session token for the rest of its lifetime
func (s *AuthService) Logout(ctx context.Context, token string) (*core.Credential, error) {
	credential, err := s.tokenizer.TokenToCredential(token)
	if err != nil {
		return nil, err
	}

	remaining := time.Until(credential.ExpiresAt)
	if remaining <= 0 {
		return credential, nil
	}

	if err := s.revoked.InvalidateToken(ctx, credential.ID, remaining); err != nil {
		return nil, fmt.Errorf("failed to invalidate token: %w", err)
	}

	if err := s.eventPub.PublishLogout(ctx, credential.Identity, credential.ID); err != nil {
		// The token is already invalidated in the store, which is what matters
		s.logger.Warn("failed to publish logout event", "identity", credential.Identity, "error", err)
	}

	return credential, nil
}

func (s *AuthService) recordLogin(err error) {
	switch {
	case err == nil:
		s.metrics.Login(metrics.LoginSuccess)
	case errors.Is(err, core.ErrChallengeExpired):
		s.metrics.Login(metrics.LoginChallengeExpired)
	case errors.Is(err, core.ErrVerificationFailed):
		s.metrics.Login(metrics.LoginVerificationFailed)
	default:
		s.metrics.Login(metrics.LoginError)
	}
}
