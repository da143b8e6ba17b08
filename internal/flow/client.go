package flow

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gatekey-io/gatekey/internal/session"
)

// ClientConfig is everything a per-request OIDC client needs. It is rebuilt
// from settings on every login attempt so configuration edits apply without a
// restart.
type ClientConfig struct {
	ProviderURL      string
	ClientID         string
	ClientSecret     string
	ClientAuthMethod string
	Scopes           []string

	// RedirectURL is the gateway's own callback endpoint, registered at the
	// identity provider.
	RedirectURL string
}

// Client is the per-request OIDC relying-party client. A fresh Client is
// constructed for every request that enters the exchange stage; it carries no
// state between requests beyond what it stores in the session gateway.
type Client interface {
	// Authenticate completes the authorization-code exchange. On the first
	// leg of the round trip, when no code is present yet, it returns a
	// *RedirectRequired carrying the provider authorization URL.
	Authenticate(ctx context.Context) error

	// RequestUserInfo fetches the userinfo document for the authenticated
	// visitor. Only valid after a successful Authenticate.
	RequestUserInfo(ctx context.Context) (map[string]any, error)

	// IDTokenPayload returns the verified ID-token claims. Only valid after
	// a successful Authenticate.
	IDTokenPayload() map[string]any
}

// ClientFactory constructs a Client bound to one request. params are the
// inbound query parameters (the callback's code and state live there); sess
// is the visitor's session gateway, used for the state nonce.
type ClientFactory func(ctx context.Context, cfg ClientConfig, sess session.Gateway, params url.Values) (Client, error)

// RedirectRequired is returned by Client.Authenticate when the visitor must
// first be sent to the identity provider. It is the one non-terminal error of
// the exchange stage.
type RedirectRequired struct {
	// URL is the provider's authorization endpoint with all request
	// parameters attached.
	URL string
}

// Error implements error.
func (e *RedirectRequired) Error() string {
	return fmt.Sprintf("flow: redirect to identity provider required: %s", e.URL)
}
