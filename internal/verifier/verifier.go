// Package verifier implements the short keyed digest that protects return-URL
// parameters against tampering. A token proves a URL was issued by this
// installation without being tied to any visitor identity or session — an
// anonymous visitor initiating login has no session token yet, and a visitor
// whose session is refreshing has an invalid one, so session-scoped nonces
// cannot serve here. Tokens do not expire; rotation of the underlying secret
// invalidates all outstanding links, which is acceptable because the links
// are short-lived in practice.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

const (
	// tokenLength is the number of hex characters kept from the digest.
	// Short enough to embed in a URL, long enough (40 bits) to resist
	// brute-force guessing within a link's practical lifetime.
	tokenLength = 10

	// digestOffset is where the token is cut from the hex digest. A fixed
	// non-zero offset, so a token never equals a digest prefix.
	digestOffset = 3
)

// Sign computes the verifier token for data under secret. The digest is
// order-sensitive: secret is hashed before data.
func Sign(secret, data string) string {
	h := sha256.New()
	h.Write([]byte(secret))
	h.Write([]byte(data))
	digest := hex.EncodeToString(h.Sum(nil))
	return digest[digestOffset : digestOffset+tokenLength]
}

// Equal recomputes the token for data and compares it to token using exact
// string equality. An empty secret means no secret has been provisioned yet;
// that makes verification impossible, so Equal returns false rather than
// failing.
func Equal(secret, token, data string) bool {
	if secret == "" {
		return false
	}
	return Sign(secret, data) == token
}

// SecretSource is the narrow accessor behind which the process-wide verifier
// secret lives. Implementations lazily create the secret on first use and
// persist it durably; see settings.Service.
type SecretSource interface {
	VerifierSecret(ctx context.Context) (string, error)
}

// Verifier binds the token functions to a SecretSource.
type Verifier struct {
	secrets SecretSource
}

// New returns a Verifier reading its secret from the given source.
func New(secrets SecretSource) *Verifier {
	return &Verifier{secrets: secrets}
}

// Create computes the token for data using the provisioned secret,
// provisioning it first if this is the installation's first use.
func (v *Verifier) Create(ctx context.Context, data string) (string, error) {
	secret, err := v.secrets.VerifierSecret(ctx)
	if err != nil {
		return "", err
	}
	return Sign(secret, data), nil
}

// Check reports whether token matches data. Any failure to obtain the secret
// is treated the same as invalid input: false, never an error.
func (v *Verifier) Check(ctx context.Context, token, data string) bool {
	secret, err := v.secrets.VerifierSecret(ctx)
	if err != nil {
		return false
	}
	return Equal(secret, token, data)
}
