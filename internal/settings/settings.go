// Package settings exposes the gateway's runtime configuration, stored in the
// database settings table so it can be changed without a server restart. The
// auth configuration is re-read on every request for the same reason the
// teacher of this pattern re-reads its provider row: an operator edit must
// take effect immediately.
package settings

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/db"
	"github.com/gatekey-io/gatekey/internal/repositories"
)

// Setting keys. All runtime auth configuration lives under the "auth."
// namespace; the verifier secret has its own key because it is written by the
// gateway itself rather than by an operator.
const (
	KeyProviderURL      = "auth.provider_url"
	KeyClientID         = "auth.client_id"
	KeyClientSecret     = "auth.client_secret"
	KeyClientAuthMethod = "auth.client_auth_method"
	KeyScopes           = "auth.scopes"
	KeyClaimForUsername = "auth.claim_for_username"
	KeyLinkAccounts     = "auth.link_accounts"
	KeySessionLength    = "auth.session_length"
	KeyLoginAction      = "auth.login_action"
	KeyLogoutAction     = "auth.logout_action"
	KeyLoginReturnURL   = "auth.login_return_url"
	KeyLogoutReturnURL  = "auth.logout_return_url"
	KeyAdminContact     = "auth.admin_contact"

	keyVerifierSecret = "verifier.secret"
)

// DefaultSessionLength is the local session lifetime used when
// auth.session_length is unset or unparsable.
const DefaultSessionLength = 86400 * time.Second

// verifierSecretBytes is the entropy of the generated verifier secret.
const verifierSecretBytes = 32

// AuthConfig is the read-only configuration surface of the login flow.
type AuthConfig struct {
	ProviderURL      string
	ClientID         string
	ClientSecret     string
	ClientAuthMethod string
	Scopes           string // space-delimited
	ClaimForUsername string

	LinkAccounts  bool
	SessionLength time.Duration

	LoginAction     string
	LogoutAction    string
	LoginReturnURL  string
	LogoutReturnURL string

	AdminContact string
}

// requiredOptions is the fixed set a login attempt cannot proceed without.
// Order matters: validation reports the first missing option by name.
var requiredOptions = []struct {
	name  string
	field func(*AuthConfig) string
}{
	{"provider_url", func(c *AuthConfig) string { return c.ProviderURL }},
	{"client_id", func(c *AuthConfig) string { return c.ClientID }},
	{"client_secret", func(c *AuthConfig) string { return c.ClientSecret }},
	{"client_auth_method", func(c *AuthConfig) string { return c.ClientAuthMethod }},
	{"scopes", func(c *AuthConfig) string { return c.Scopes }},
	{"claim_for_username", func(c *AuthConfig) string { return c.ClaimForUsername }},
}

// MissingRequired returns the name of the first required option that is empty,
// or "" when the configuration is complete.
func (c *AuthConfig) MissingRequired() string {
	for _, opt := range requiredOptions {
		if opt.field(c) == "" {
			return opt.name
		}
	}
	return ""
}

// Service loads auth configuration and owns the verifier secret lifecycle.
type Service struct {
	repo   repositories.SettingsRepository
	logger *zap.Logger
}

// NewService creates a settings Service.
func NewService(repo repositories.SettingsRepository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.Named("settings"),
	}
}

// AuthConfig loads the full auth configuration namespace in one query.
// Missing keys yield zero values; required-option enforcement is the login
// flow's job, not the loader's.
func (s *Service) AuthConfig(ctx context.Context) (*AuthConfig, error) {
	rows, err := s.repo.GetMany(ctx, "auth.")
	if err != nil {
		return nil, fmt.Errorf("settings: loading auth config: %w", err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = string(row.Value)
	}

	cfg := &AuthConfig{
		ProviderURL:      values[KeyProviderURL],
		ClientID:         values[KeyClientID],
		ClientSecret:     values[KeyClientSecret],
		ClientAuthMethod: values[KeyClientAuthMethod],
		Scopes:           values[KeyScopes],
		ClaimForUsername: values[KeyClaimForUsername],
		LoginAction:      values[KeyLoginAction],
		LogoutAction:     values[KeyLogoutAction],
		LoginReturnURL:   values[KeyLoginReturnURL],
		LogoutReturnURL:  values[KeyLogoutReturnURL],
		AdminContact:     values[KeyAdminContact],
		SessionLength:    DefaultSessionLength,
	}

	if v := values[KeyLinkAccounts]; v != "" {
		linked, err := strconv.ParseBool(v)
		if err != nil {
			s.logger.Warn("unparsable link_accounts setting, treating as false",
				zap.String("value", v))
		}
		cfg.LinkAccounts = linked
	}

	if v := values[KeySessionLength]; v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			s.logger.Warn("unparsable session_length setting, using default",
				zap.String("value", v))
		} else {
			cfg.SessionLength = time.Duration(seconds) * time.Second
		}
	}

	return cfg, nil
}

// VerifierSecret returns the process-wide verifier secret, generating and
// persisting it on first use. Creation is a create-if-absent against the
// settings table: two instances racing on a fresh installation both generate
// a candidate, the first insert wins, and both read back the winner. The
// secret is shared by all visitors and never rotated automatically.
func (s *Service) VerifierSecret(ctx context.Context) (string, error) {
	stored, err := s.repo.Get(ctx, keyVerifierSecret)
	if err == nil {
		return string(stored.Value), nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return "", fmt.Errorf("settings: loading verifier secret: %w", err)
	}

	raw := make([]byte, verifierSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("settings: generating verifier secret: %w", err)
	}
	candidate := base64.RawURLEncoding.EncodeToString(raw)

	winner, err := s.repo.SetIfAbsent(ctx, keyVerifierSecret, db.EncryptedString(candidate))
	if err != nil {
		return "", fmt.Errorf("settings: provisioning verifier secret: %w", err)
	}

	s.logger.Info("verifier secret provisioned")
	return string(winner), nil
}
