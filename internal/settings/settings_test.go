package settings

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/db"
	"github.com/gatekey-io/gatekey/internal/repositories"
)

// fakeSettingsRepo is an in-memory SettingsRepository for tests.
type fakeSettingsRepo struct {
	values map[string]db.EncryptedString
}

func newFakeSettingsRepo(values map[string]string) *fakeSettingsRepo {
	r := &fakeSettingsRepo{values: make(map[string]db.EncryptedString)}
	for k, v := range values {
		r.values[k] = db.EncryptedString(v)
	}
	return r
}

func (r *fakeSettingsRepo) Get(_ context.Context, key string) (*db.Setting, error) {
	v, ok := r.values[key]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &db.Setting{Key: key, Value: v}, nil
}

func (r *fakeSettingsRepo) Set(_ context.Context, key string, value db.EncryptedString) error {
	r.values[key] = value
	return nil
}

func (r *fakeSettingsRepo) GetMany(_ context.Context, prefix string) ([]db.Setting, error) {
	var rows []db.Setting
	for k, v := range r.values {
		if strings.HasPrefix(k, prefix) {
			rows = append(rows, db.Setting{Key: k, Value: v})
		}
	}
	return rows, nil
}

func (r *fakeSettingsRepo) Delete(_ context.Context, key string) error {
	delete(r.values, key)
	return nil
}

func (r *fakeSettingsRepo) SetIfAbsent(_ context.Context, key string, value db.EncryptedString) (db.EncryptedString, error) {
	if existing, ok := r.values[key]; ok {
		return existing, nil
	}
	r.values[key] = value
	return value, nil
}

func newTestService(values map[string]string) *Service {
	return NewService(newFakeSettingsRepo(values), zap.NewNop())
}

func TestAuthConfigLoads(t *testing.T) {
	svc := newTestService(map[string]string{
		KeyProviderURL:      "https://idp.example.org",
		KeyClientID:         "gatekey",
		KeyClientSecret:     "hunter2",
		KeyClientAuthMethod: "client_secret_basic",
		KeyScopes:           "openid profile email",
		KeyClaimForUsername: "preferred_username",
		KeyLinkAccounts:     "true",
		KeySessionLength:    "3600",
		KeyLogoutReturnURL:  "https://example.org/bye",
	})

	cfg, err := svc.AuthConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "https://idp.example.org", cfg.ProviderURL)
	assert.Equal(t, "preferred_username", cfg.ClaimForUsername)
	assert.True(t, cfg.LinkAccounts)
	assert.Equal(t, 3600, int(cfg.SessionLength.Seconds()))
	assert.Equal(t, "https://example.org/bye", cfg.LogoutReturnURL)
	assert.Empty(t, cfg.MissingRequired())
}

func TestAuthConfigDefaults(t *testing.T) {
	svc := newTestService(nil)

	cfg, err := svc.AuthConfig(context.Background())
	require.NoError(t, err)

	assert.False(t, cfg.LinkAccounts)
	assert.Equal(t, DefaultSessionLength, cfg.SessionLength)
}

func TestAuthConfigBadSessionLength(t *testing.T) {
	svc := newTestService(map[string]string{KeySessionLength: "soon"})

	cfg, err := svc.AuthConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionLength, cfg.SessionLength)
}

func TestMissingRequiredReportsFirstGap(t *testing.T) {
	cfg := &AuthConfig{
		ProviderURL:      "https://idp.example.org",
		ClientID:         "gatekey",
		ClientAuthMethod: "client_secret_post",
		Scopes:           "openid",
		ClaimForUsername: "sub",
	}

	assert.Equal(t, "client_secret", cfg.MissingRequired())

	cfg.ClientSecret = "s"
	assert.Empty(t, cfg.MissingRequired())
}

func TestVerifierSecretProvisionedOnce(t *testing.T) {
	svc := newTestService(nil)

	first, err := svc.VerifierSecret(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := svc.VerifierSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestVerifierSecretConcurrentFirstUse(t *testing.T) {
	repo := newFakeSettingsRepo(nil)
	a := NewService(repo, zap.NewNop())
	b := NewService(repo, zap.NewNop())

	// Both instances share the backing store; whichever inserts first wins
	// and the other reads back the winner.
	fromA, err := a.VerifierSecret(context.Background())
	require.NoError(t, err)
	fromB, err := b.VerifierSecret(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fromA, fromB)
}
