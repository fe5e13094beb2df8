package ports

import "github.com/layer-3/pgpgate/core"

// SignatureVerifier checks a clearsigned message against the expected
// plaintext and the supplied public key. It never returns an error to the
// caller: every failure is a negative Verification.
type SignatureVerifier interface {
	Verify(publicKey, signedMessage, expectedPlaintext string) core.Verification
}
