// Package oidcclient is the concrete OIDC relying-party client behind the
// login flow, built on coreos/go-oidc and golang.org/x/oauth2. It runs the
// Authorization Code flow with PKCE against a single configured provider and
// keeps its round-trip state (state nonce, code verifier) in the visitor's
// session so the callback may land on a different process.
package oidcclient

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/gatekey-io/gatekey/internal/flow"
	"github.com/gatekey-io/gatekey/internal/session"
)

const (
	// stateBytes is the length of the random state parameter for CSRF
	// protection.
	stateBytes = 16

	// codeVerifierBytes is the length of the PKCE code verifier before
	// encoding. RFC 7636 requires a minimum of 32 bytes of entropy.
	codeVerifierBytes = 32
)

// Session keys for the in-flight round trip. Namespaced apart from the login
// flow's own keys; both are cleared when the exchange completes.
const (
	keyState        = "oidc.state"
	keyCodeVerifier = "oidc.code_verifier"
)

// Client authenticate results feed the login flow; see flow.Client for the
// contract.
type Client struct {
	provider *gooidc.Provider
	oauth2   oauth2.Config
	clientID string

	sess   session.Gateway
	params url.Values

	token    *oauth2.Token
	idClaims map[string]any
}

// New constructs a Client for one request. It performs OIDC discovery against
// cfg.ProviderURL; discovery results are cached per process by go-oidc, so
// repeated logins do not refetch the metadata document.
//
// New matches flow.ClientFactory.
func New(ctx context.Context, cfg flow.ClientConfig, sess session.Gateway, params url.Values) (flow.Client, error) {
	provider, err := gooidc.NewProvider(ctx, cfg.ProviderURL)
	if err != nil {
		return nil, fmt.Errorf("oidcclient: discovering provider %q: %w", cfg.ProviderURL, err)
	}

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = authStyle(cfg.ClientAuthMethod)

	return &Client{
		provider: provider,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       cfg.Scopes,
		},
		clientID: cfg.ClientID,
		sess:     sess,
		params:   params,
	}, nil
}

// authStyle maps the configured token-endpoint auth method onto oauth2's
// auth styles. Unknown values fall back to auto-detection.
func authStyle(method string) oauth2.AuthStyle {
	switch method {
	case "client_secret_basic":
		return oauth2.AuthStyleInHeader
	case "client_secret_post":
		return oauth2.AuthStyleInParams
	default:
		return oauth2.AuthStyleAutoDetect
	}
}

// Authenticate implements flow.Client. Without a code parameter it prepares
// the round trip and returns a *flow.RedirectRequired pointing at the
// provider's authorization endpoint. With one it verifies state, exchanges
// the code and validates the ID token.
func (c *Client) Authenticate(ctx context.Context) error {
	if errCode := c.params.Get("error"); errCode != "" {
		return fmt.Errorf("oidcclient: provider returned error %q: %s",
			errCode, c.params.Get("error_description"))
	}

	code := c.params.Get("code")
	if code == "" {
		return c.beginRoundTrip(ctx)
	}
	return c.completeExchange(ctx, code)
}

// beginRoundTrip generates the state nonce and PKCE verifier, persists them
// in the session, and reports the authorization URL to redirect to.
func (c *Client) beginRoundTrip(ctx context.Context) error {
	state, err := randomBase64(stateBytes)
	if err != nil {
		return fmt.Errorf("oidcclient: generating state: %w", err)
	}
	codeVerifier, err := randomBase64(codeVerifierBytes)
	if err != nil {
		return fmt.Errorf("oidcclient: generating PKCE code verifier: %w", err)
	}

	if err := c.sess.Set(ctx, keyState, state); err != nil {
		return fmt.Errorf("oidcclient: staging round-trip state: %w", err)
	}
	if err := c.sess.Set(ctx, keyCodeVerifier, codeVerifier); err != nil {
		return fmt.Errorf("oidcclient: staging code verifier: %w", err)
	}
	if err := c.sess.Close(ctx); err != nil {
		return fmt.Errorf("oidcclient: persisting round-trip state: %w", err)
	}

	return &flow.RedirectRequired{
		URL: c.oauth2.AuthCodeURL(
			state,
			oauth2.AccessTypeOnline,
			oauth2.S256ChallengeOption(codeVerifier),
		),
	}
}

// completeExchange is the callback leg: state check, code exchange, ID-token
// verification.
func (c *Client) completeExchange(ctx context.Context, code string) error {
	storedState, err := c.sess.Get(ctx, keyState)
	if err != nil {
		return fmt.Errorf("oidcclient: reading round-trip state: %w", err)
	}
	codeVerifier, err := c.sess.Get(ctx, keyCodeVerifier)
	if err != nil {
		return fmt.Errorf("oidcclient: reading code verifier: %w", err)
	}

	// The round-trip state is single use regardless of how the exchange
	// ends.
	if err := c.sess.Clear(ctx, keyState); err != nil {
		return fmt.Errorf("oidcclient: clearing round-trip state: %w", err)
	}
	if err := c.sess.Clear(ctx, keyCodeVerifier); err != nil {
		return fmt.Errorf("oidcclient: clearing code verifier: %w", err)
	}

	if storedState == "" || c.params.Get("state") != storedState {
		return fmt.Errorf("oidcclient: state parameter does not match session")
	}
	if codeVerifier == "" {
		return fmt.Errorf("oidcclient: code verifier missing from session")
	}

	token, err := c.oauth2.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return fmt.Errorf("oidcclient: exchanging authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return fmt.Errorf("oidcclient: token response missing id_token")
	}

	verifier := c.provider.Verifier(&gooidc.Config{ClientID: c.clientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return fmt.Errorf("oidcclient: verifying id_token: %w", err)
	}

	claims := make(map[string]any)
	if err := idToken.Claims(&claims); err != nil {
		return fmt.Errorf("oidcclient: extracting id_token claims: %w", err)
	}

	c.token = token
	c.idClaims = claims
	return nil
}

// RequestUserInfo implements flow.Client.
func (c *Client) RequestUserInfo(ctx context.Context) (map[string]any, error) {
	if c.token == nil {
		return nil, fmt.Errorf("oidcclient: userinfo requested before authentication")
	}

	info, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(c.token))
	if err != nil {
		return nil, fmt.Errorf("oidcclient: fetching userinfo: %w", err)
	}

	payload := make(map[string]any)
	if err := info.Claims(&payload); err != nil {
		return nil, fmt.Errorf("oidcclient: decoding userinfo claims: %w", err)
	}
	return payload, nil
}

// IDTokenPayload implements flow.Client.
func (c *Client) IDTokenPayload() map[string]any {
	// Copy so callers cannot mutate the verified claims.
	out := make(map[string]any, len(c.idClaims))
	for k, v := range c.idClaims {
		out[k] = v
	}
	return out
}

// randomBase64 returns a URL-safe base64-encoded random string of n bytes.
func randomBase64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
