package directory

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gatekey-io/gatekey/internal/db"
)

// rsaKeyBits is the RSA key size used for session-token signing.
// 2048 bits is the minimum recommended; 4096 for higher security at the
// cost of slightly slower signing/verification.
const rsaKeyBits = 2048

// Sentinel errors for session-token validation.
var (
	// ErrTokenExpired is returned when a session token has expired.
	ErrTokenExpired = errors.New("directory: session token expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or verified.
	ErrTokenInvalid = errors.New("directory: session token invalid")
)

// SessionClaims holds the custom claims embedded in every local session token.
// Standard claims (exp, iat, iss) are included via jwt.RegisteredClaims.
type SessionClaims struct {
	jwt.RegisteredClaims

	// Username is the local account the session is bound to.
	Username string `json:"username"`
}

// TokenManager handles RS256 signing and verification of local session
// tokens. It holds the RSA key pair in memory after initialization.
type TokenManager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
}

// NewTokenManagerFromFiles loads an RSA key pair from PEM files on disk.
// privateKeyPath must point to a PKCS#8 or PKCS#1 PEM-encoded private key.
// publicKeyPath must point to the corresponding PEM-encoded public key.
//
// Use this in production where keys are mounted as secrets (Docker, Kubernetes).
func NewTokenManagerFromFiles(privateKeyPath, publicKeyPath, issuer string) (*TokenManager, error) {
	privBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("directory: reading private key file: %w", err)
	}

	pubBytes, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("directory: reading public key file: %w", err)
	}

	return newTokenManagerFromPEM(privBytes, pubBytes, issuer)
}

// NewTokenManagerGenerated creates a TokenManager with a freshly generated
// RSA key pair. The keys are ephemeral — all existing session tokens are
// invalidated on server restart.
//
// Suitable for development and single-instance deployments where forced
// re-login on restart is acceptable.
func NewTokenManagerGenerated(issuer string) (*TokenManager, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("directory: generating RSA key pair: %w", err)
	}

	return &TokenManager{
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
		issuer:     issuer,
	}, nil
}

// newTokenManagerFromPEM parses PEM-encoded RSA key bytes.
func newTokenManagerFromPEM(privatePEM, publicPEM []byte, issuer string) (*TokenManager, error) {
	privBlock, _ := pem.Decode(privatePEM)
	if privBlock == nil {
		return nil, errors.New("directory: failed to decode private key PEM block")
	}

	// Support both PKCS#1 (RSA PRIVATE KEY) and PKCS#8 (PRIVATE KEY) formats.
	var privateKey *rsa.PrivateKey
	switch privBlock.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("directory: parsing PKCS#1 private key: %w", err)
		}
		privateKey = key
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(privBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("directory: parsing PKCS#8 private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("directory: PKCS#8 key is not an RSA key")
		}
		privateKey = rsaKey
	default:
		return nil, fmt.Errorf("directory: unsupported private key PEM type: %s", privBlock.Type)
	}

	pubBlock, _ := pem.Decode(publicPEM)
	if pubBlock == nil {
		return nil, errors.New("directory: failed to decode public key PEM block")
	}

	pubInterface, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("directory: parsing public key: %w", err)
	}

	publicKey, ok := pubInterface.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("directory: public key is not an RSA key")
	}

	return &TokenManager{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
	}, nil
}

// Generate creates a signed RS256 session token for the given account,
// expiring at expiresAt. The expiration comes from the flow's computed
// session length, not from a constant here.
func (m *TokenManager) Generate(account *db.Account, expiresAt time.Time) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   account.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			// JTI provides a unique identifier for this token instance.
			// Useful if token revocation via a denylist is added later.
			ID: uuid.NewString(),
		},
		Username: account.Username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)

	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", fmt.Errorf("directory: signing session token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a session token string.
// Returns the embedded SessionClaims on success, or a sentinel error.
//
// Callers should use errors.Is(err, directory.ErrTokenExpired) to distinguish
// expired tokens from tampered/malformed ones.
func (m *TokenManager) Validate(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&SessionClaims{},
		func(t *jwt.Token) (any, error) {
			// Reject tokens signed with anything other than RS256.
			// This prevents the "alg:none" and HMAC confusion attacks.
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("directory: unexpected signing method: %v", t.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
