package oidcclient

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// memGateway is a minimal in-memory session gateway.
type memGateway struct {
	values map[string]string
}

func (g *memGateway) Set(_ context.Context, key, value string) error {
	g.values[key] = value
	return nil
}

func (g *memGateway) Get(_ context.Context, key string) (string, error) {
	return g.values[key], nil
}

func (g *memGateway) Clear(_ context.Context, key string) error {
	delete(g.values, key)
	return nil
}

func (g *memGateway) ClearAll(context.Context) error {
	g.values = make(map[string]string)
	return nil
}

func (g *memGateway) Close(context.Context) error { return nil }

func TestAuthStyle(t *testing.T) {
	assert.Equal(t, oauth2.AuthStyleInHeader, authStyle("client_secret_basic"))
	assert.Equal(t, oauth2.AuthStyleInParams, authStyle("client_secret_post"))
	assert.Equal(t, oauth2.AuthStyleAutoDetect, authStyle("private_key_jwt"))
	assert.Equal(t, oauth2.AuthStyleAutoDetect, authStyle(""))
}

func TestAuthenticateReportsProviderError(t *testing.T) {
	c := &Client{
		sess: &memGateway{values: make(map[string]string)},
		params: url.Values{
			"error":             {"access_denied"},
			"error_description": {"user cancelled"},
		},
	}

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_denied")
	assert.Contains(t, err.Error(), "user cancelled")
}

func TestCompleteExchangeRejectsStateMismatch(t *testing.T) {
	sess := &memGateway{values: map[string]string{
		keyState:        "expected-state",
		keyCodeVerifier: "verifier",
	}}
	c := &Client{
		sess:   sess,
		params: url.Values{"code": {"abc"}, "state": {"wrong-state"}},
	}

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state parameter")

	// Round-trip state is single use even on failure.
	assert.Empty(t, sess.values[keyState])
	assert.Empty(t, sess.values[keyCodeVerifier])
}

func TestCompleteExchangeRequiresStoredState(t *testing.T) {
	c := &Client{
		sess:   &memGateway{values: make(map[string]string)},
		params: url.Values{"code": {"abc"}, "state": {""}},
	}

	err := c.Authenticate(context.Background())
	require.Error(t, err)
}

func TestRandomBase64(t *testing.T) {
	a, err := randomBase64(stateBytes)
	require.NoError(t, err)
	b, err := randomBase64(stateBytes)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=")
}

func TestUserInfoBeforeAuthenticate(t *testing.T) {
	c := &Client{}
	_, err := c.RequestUserInfo(context.Background())
	require.Error(t, err)
}
