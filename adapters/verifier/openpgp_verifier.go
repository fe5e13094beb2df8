package verifier

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/layer-3/pgpgate/core"
)

// Failure reasons reported in core.Verification.Err. They all wrap
// core.ErrVerificationFailed.
var (
	ErrMalformedKey      = fmt.Errorf("%w: malformed public key", core.ErrVerificationFailed)
	ErrMalformedMessage  = fmt.Errorf("%w: malformed signed message", core.ErrVerificationFailed)
	ErrChallengeMismatch = fmt.Errorf("%w: challenge mismatch", core.ErrVerificationFailed)
	ErrNoSignature       = fmt.Errorf("%w: no signature", core.ErrVerificationFailed)
	ErrUnknownSigner     = fmt.Errorf("%w: signer key id not found in public key", core.ErrVerificationFailed)
	ErrBadSignature      = fmt.Errorf("%w: signature does not verify", core.ErrVerificationFailed)
)

var blobReplacer = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\u202f", " ",
	"\u00a0", " ",
	"\u2009", " ",
)

// OpenPGPVerifier verifies clearsigned challenges against an armored public key
type OpenPGPVerifier struct {
	config *packet.Config
}

// NewOpenPGPVerifier creates a verifier. A nil config uses library defaults.
func NewOpenPGPVerifier(config *packet.Config) *OpenPGPVerifier {
	return &OpenPGPVerifier{config: config}
}

// Verify runs the cheap content checks before any signature math.
func (v *OpenPGPVerifier) Verify(publicKey, signedMessage, expectedPlaintext string) core.Verification {
	publicKey = normalize(publicKey)
	signedMessage = normalize(signedMessage)

	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(publicKey))
	if err != nil {
		return failed(fmt.Errorf("%w: %v", ErrMalformedKey, err))
	}
	if len(keyring) == 0 || keyring[0].PrimaryKey == nil {
		return failed(ErrMalformedKey)
	}
	key := keyring[0]

	block, _ := clearsign.Decode([]byte(signedMessage))
	if block == nil {
		return failed(ErrMalformedMessage)
	}

	if strings.TrimSpace(string(block.Plaintext)) != strings.TrimSpace(expectedPlaintext) {
		return failed(ErrChallengeMismatch)
	}

	if block.ArmoredSignature == nil {
		return failed(ErrNoSignature)
	}
	sigBytes, err := io.ReadAll(block.ArmoredSignature.Body)
	if err != nil {
		return failed(fmt.Errorf("%w: %v", ErrMalformedMessage, err))
	}
	sig, err := firstSignature(sigBytes)
	if err != nil {
		return failed(err)
	}

	signerID, ok := issuerKeyID(sig)
	if !ok || !ownsKeyID(key, signerID) {
		return failed(ErrUnknownSigner)
	}

	_, err = openpgp.CheckDetachedSignature(
		openpgp.EntityList{key},
		bytes.NewReader(block.Bytes),
		bytes.NewReader(sigBytes),
		v.config,
	)
	if err != nil {
		return failed(fmt.Errorf("%w: %v", ErrBadSignature, err))
	}

	return core.Verification{Identity: Fingerprint(key)}
}

// Fingerprint returns the full upper-case hex fingerprint of the primary key.
func Fingerprint(entity *openpgp.Entity) string {
	return strings.ToUpper(hex.EncodeToString(entity.PrimaryKey.Fingerprint))
}

func normalize(blob string) string {
	return strings.TrimSpace(blobReplacer.Replace(blob))
}

func failed(err error) core.Verification {
	return core.Verification{Err: err}
}

func firstSignature(sigBytes []byte) (*packet.Signature, error) {
	reader := packet.NewReader(bytes.NewReader(sigBytes))
	for {
		p, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoSignature
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if sig, ok := p.(*packet.Signature); ok {
			return sig, nil
		}
	}
}

// issuerKeyID falls back to the issuer fingerprint subpacket when the
// signature carries no issuer key id.
func issuerKeyID(sig *packet.Signature) (uint64, bool) {
	if sig.IssuerKeyId != nil {
		return *sig.IssuerKeyId, true
	}

	fp := sig.IssuerFingerprint
	if len(fp) < 8 {
		return 0, false
	}
	if sig.Version >= 5 {
		return binary.BigEndian.Uint64(fp[:8]), true
	}
	return binary.BigEndian.Uint64(fp[len(fp)-8:]), true
}

func ownsKeyID(key *openpgp.Entity, keyID uint64) bool {
	if key.PrimaryKey.KeyId == keyID {
		return true
	}
	for _, sub := range key.Subkeys {
		if sub.PublicKey != nil && sub.PublicKey.KeyId == keyID {
			return true
		}
	}
	return false
}
