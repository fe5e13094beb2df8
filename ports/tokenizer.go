package ports

import "github.com/layer-3/pgpgate/core"

// Tokenizer converts between credentials and session tokens
type Tokenizer interface {
	CredentialToToken(credential *core.Credential) (string, error)
	TokenToCredential(token string) (*core.Credential, error)
}
