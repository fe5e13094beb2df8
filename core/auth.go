package core

import "time"

// ChallengePrefix starts every challenge plaintext handed out for signing.
const ChallengePrefix = "Verification Challenge: "

// Challenge represents an authentication challenge
type Challenge struct {
	ID        string    // Opaque store key for the challenge
	Plaintext string    // Text the client must clearsign
	ExpiresAt time.Time // When the store forgets the challenge
}

// Credential represents an authenticated login bound to a session cookie
type Credential struct {
	ID        string    // Unique credential identifier, used for revocation
	Identity  string    // Full fingerprint of the signer's key
	IssuedAt  time.Time // When the credential was created
	ExpiresAt time.Time // When the credential stops being accepted
}

// Verification is the outcome of checking a clearsigned challenge.
// Err carries operator-facing detail only and is never shown to clients.
type Verification struct {
	Identity string
	Err      error
}

// OK reports whether the signature was accepted.
func (v Verification) OK() bool {
	return v.Err == nil && v.Identity != ""
}
