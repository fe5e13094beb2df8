package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims are the standard claims carried by a session cookie.
// The subject is the signer's key fingerprint.
type SessionClaims struct {
	jwt.RegisteredClaims
}
