package service

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/layer-3/pgpgate/adapters/store"
	"github.com/layer-3/pgpgate/adapters/tokenizer"
	"github.com/layer-3/pgpgate/adapters/verifier"
	"github.com/layer-3/pgpgate/core"
	"github.com/layer-3/pgpgate/internal/metrics"
	"github.com/layer-3/pgpgate/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPublicKey = "-----BEGIN PGP PUBLIC KEY BLOCK-----test"

type authFixture struct {
	service   *AuthService
	store     *store.MemoryStore
	verifier  *stubVerifier
	publisher *fakePublisher
}

func newAuthFixture(t *testing.T, v ports.SignatureVerifier) *authFixture {
	t.Helper()

	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	f := &authFixture{
		store:     store.NewMemoryStore(),
		verifier:  &stubVerifier{publicKey: testPublicKey, identity: "FINGERPRINT"},
		publisher: &fakePublisher{},
	}
	if v == nil {
		v = f.verifier
	}
	f.service = NewAuthService(f.store, v, tokenizer.NewJWTTokenizer(signKey), f.store, f.publisher,
		WithChallengeTTL(time.Minute), WithSessionTTL(time.Hour))

	return f
}

func TestAuthService_BeginChallenge(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, nil)

	first, err := f.service.BeginChallenge(ctx)
	require.NoError(t, err)
	second, err := f.service.BeginChallenge(ctx)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.Plaintext, core.ChallengePrefix))
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.Plaintext, second.Plaintext)

	stored, ok, err := f.store.Peek(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.Plaintext, stored)
}

func TestAuthService_CompleteLogin(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, nil)

	challenge, err := f.service.BeginChallenge(ctx)
	require.NoError(t, err)

	identity, err := f.service.CompleteLogin(ctx, testPublicKey, "signed:"+challenge.Plaintext, challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, "FINGERPRINT", identity)

	_, err = f.service.CompleteLogin(ctx, testPublicKey, "signed:"+challenge.Plaintext, challenge.ID)
	assert.ErrorIs(t, err, core.ErrChallengeExpired)
}

func TestAuthService_UnknownChallenge(t *testing.T) {
	f := newAuthFixture(t, nil)

	for _, id := range []string{"", "never-issued", "00000000-0000-0000-0000-000000000000"} {
		_, err := f.service.CompleteLogin(context.Background(), testPublicKey, "signed:x", id)
		assert.ErrorIs(t, err, core.ErrChallengeExpired)
	}
	assert.Zero(t, f.verifier.calls)
}

func TestAuthService_FailedVerificationKeepsChallenge(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, nil)

	challenge, err := f.service.BeginChallenge(ctx)
	require.NoError(t, err)

	_, err = f.service.CompleteLogin(ctx, testPublicKey, "signed:something else", challenge.ID)
	assert.ErrorIs(t, err, core.ErrVerificationFailed)

	plaintext, err := f.service.PendingChallenge(ctx, challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.Plaintext, plaintext)

	identity, err := f.service.CompleteLogin(ctx, testPublicKey, "signed:"+challenge.Plaintext, challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, "FINGERPRINT", identity)
}

func TestAuthService_ConcurrentLoginsRedeemOnce(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, concurrentVerifier{identity: "FINGERPRINT"})

	challenge, err := f.service.BeginChallenge(ctx)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.CompleteLogin(ctx, testPublicKey, "sig", challenge.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, core.ErrChallengeExpired)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

type concurrentVerifier struct{ identity string }

func (v concurrentVerifier) Verify(publicKey, signedMessage, expectedPlaintext string) core.Verification {
	return core.Verification{Identity: v.identity}
}

func TestAuthService_CredentialLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, nil)

	token, credential, err := f.service.IssueCredential("FINGERPRINT")
	require.NoError(t, err)
	assert.Equal(t, "FINGERPRINT", credential.Identity)

	validated, err := f.service.ValidateCredential(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, credential.ID, validated.ID)

	loggedOut, err := f.service.Logout(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "FINGERPRINT", loggedOut.Identity)
	assert.Equal(t, []string{"FINGERPRINT"}, f.publisher.logouts)

	_, err = f.service.ValidateCredential(ctx, token)
	assert.ErrorIs(t, err, core.ErrTokenInvalidated)

	_, err = f.service.ValidateCredential(ctx, "garbage")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestAuthService_LogoutSurvivesPublishFailure(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, nil)
	f.publisher.err = assert.AnError

	token, _, err := f.service.IssueCredential("FINGERPRINT")
	require.NoError(t, err)

	_, err = f.service.Logout(ctx, token)
	require.NoError(t, err)

	_, err = f.service.ValidateCredential(ctx, token)
	assert.ErrorIs(t, err, core.ErrTokenInvalidated)
}

func TestAuthService_EndToEndWithOpenPGP(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, verifier.NewOpenPGPVerifier(nil))

	key, err := openpgp.NewEntity("Test User", "", "test@user.com", nil)
	require.NoError(t, err)

	c1, err := f.store.Issue(ctx, "Verification Challenge: 1234", time.Minute)
	require.NoError(t, err)

	var pub bytes.Buffer
	w, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, key.Serialize(w))
	require.NoError(t, w.Close())

	var signed bytes.Buffer
	sw, err := clearsign.Encode(&signed, key.PrivateKey, nil)
	require.NoError(t, err)
	_, err = sw.Write([]byte("Verification Challenge: 1234"))
	require.NoError(t, err)
	require.NoError(t, sw.Close())

	identity, err := f.service.CompleteLogin(ctx, pub.String(), signed.String(), c1)
	require.NoError(t, err)
	assert.Equal(t, verifier.Fingerprint(key), identity)

	_, err = f.service.CompleteLogin(ctx, pub.String(), signed.String(), c1)
	assert.ErrorIs(t, err, core.ErrChallengeExpired)
}

func TestAuthService_RecordLoginMatchesWrappedErrors(t *testing.T) {
	m := metrics.New()
	s := &AuthService{metrics: m}

	s.recordLogin(fmt.Errorf("redeem: %w", core.ErrChallengeExpired))
	s.recordLogin(fmt.Errorf("verify: %w", core.ErrVerificationFailed))
	s.recordLogin(errBrokenPipe)
	s.recordLogin(nil)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()

	assert.Contains(t, body, `pgpgate_logins_total{result="challenge_expired"} 1`)
	assert.Contains(t, body, `pgpgate_logins_total{result="verification_failed"} 1`)
	assert.Contains(t, body, `pgpgate_logins_total{result="error"} 1`)
	assert.Contains(t, body, `pgpgate_logins_total{result="success"} 1`)
}
