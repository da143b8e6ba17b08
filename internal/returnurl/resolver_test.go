package returnurl

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/verifier"
)

type staticSecrets string

func (s staticSecrets) VerifierSecret(context.Context) (string, error) {
	return string(s), nil
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	v := verifier.New(staticSecrets("test-secret"))
	r, err := NewResolver("https://example.org/", v, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestParseIntent(t *testing.T) {
	assert.True(t, ParseIntent("").IsZero())
	assert.Equal(t, Here(), ParseIntent("here"))
	assert.Equal(t, Home(), ParseIntent("home"))
	assert.Equal(t, Setting(), ParseIntent("setting"))
	assert.Equal(t, Smart(), ParseIntent("smart"))
	assert.Equal(t, Explicit("https://example.org/x"), ParseIntent("https://example.org/x"))
}

func TestResolveSmartLogout(t *testing.T) {
	r := newTestResolver(t)
	s := Settings{LogoutReturnURL: "https://example.org/goodbye"}

	// Public resource: smart logout keeps the visitor where they were.
	res := r.Resolve(FlowLogout, Smart(), s, RequestContext{Path: "/wiki/start", PublicResource: true})
	assert.Equal(t, "https://example.org/wiki/start", res.URL)
	assert.False(t, res.IsHome())

	// Protected resource: smart logout falls through to the setting.
	res = r.Resolve(FlowLogout, Smart(), s, RequestContext{Path: "/wiki/private", PublicResource: false})
	assert.Equal(t, "https://example.org/goodbye", res.URL)
}

func TestResolveSmartLoginCollapsesToSetting(t *testing.T) {
	r := newTestResolver(t)
	s := Settings{LoginReturnURL: "https://example.org/dashboard"}

	// Login never returns "here" for smart, even on a public page.
	res := r.Resolve(FlowLogin, Smart(), s, RequestContext{Path: "/wiki/start", PublicResource: true})
	assert.Equal(t, "https://example.org/dashboard", res.URL)
}

func TestResolveDefaults(t *testing.T) {
	r := newTestResolver(t)

	// No intent, no configured action, no configured return URL:
	// login defaults Setting→Here, logout defaults Smart→Setting→Home.
	res := r.Resolve(FlowLogin, Intent{}, Settings{}, RequestContext{Path: "/page?id=3"})
	assert.Equal(t, "https://example.org/page?id=3", res.URL)

	res = r.Resolve(FlowLogout, Intent{}, Settings{}, RequestContext{Path: "/page", PublicResource: false})
	assert.True(t, res.IsHome())
	assert.Equal(t, "https://example.org/", res.URL)
}

func TestResolveConfiguredAction(t *testing.T) {
	r := newTestResolver(t)
	s := Settings{LoginAction: "home"}

	res := r.Resolve(FlowLogin, Intent{}, s, RequestContext{Path: "/somewhere"})
	assert.True(t, res.IsHome())
}

func TestResolveHereWithoutPath(t *testing.T) {
	r := newTestResolver(t)

	res := r.Resolve(FlowLogin, Here(), Settings{}, RequestContext{})
	assert.True(t, res.IsHome())
}

func TestResolveExplicitRejectsForeignHost(t *testing.T) {
	r := newTestResolver(t)

	// An explicit URL off the allow-list is substituted with home.
	res := r.Resolve(FlowLogin, Explicit("https://evil.example/phish"), Settings{}, RequestContext{})
	assert.True(t, res.IsHome())

	// The same host becomes valid once an operator configures it.
	s := Settings{LogoutReturnURL: "https://sso.example.net/done"}
	res = r.Resolve(FlowLogin, Explicit("https://sso.example.net/elsewhere"), s, RequestContext{})
	assert.Equal(t, "https://sso.example.net/elsewhere", res.URL)
}

func TestAllowedHosts(t *testing.T) {
	r := newTestResolver(t)

	hosts := r.AllowedHosts(Settings{
		LoginReturnURL:  "https://apps.example.net/in",
		LogoutReturnURL: "https://example.org/bye", // same host, not duplicated
	})
	assert.Equal(t, []string{"example.org", "apps.example.net"}, hosts)
}

func TestEmbedExtractRoundTrip(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	original := "https://example.org/doc?page=intro&rev=7"
	res := r.Resolve(FlowLogin, Explicit(original), Settings{}, RequestContext{})
	require.Equal(t, original, res.URL)

	action, err := r.Embed(ctx, "https://example.org/auth/login", res)
	require.NoError(t, err)

	u, err := url.Parse(action)
	require.NoError(t, err)

	got, err := r.ExtractAndValidate(ctx, u.Query(), Settings{})
	require.NoError(t, err)
	assert.Equal(t, original, got) // byte-for-byte
}

func TestEmbedHomeAttachesNothing(t *testing.T) {
	r := newTestResolver(t)

	res := r.Resolve(FlowLogin, Home(), Settings{}, RequestContext{})
	action, err := r.Embed(context.Background(), "https://example.org/auth/login", res)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/auth/login", action)
}

func TestExtractWithoutReturnDefaultsToHome(t *testing.T) {
	r := newTestResolver(t)

	got, err := r.ExtractAndValidate(context.Background(), url.Values{}, Settings{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/", got)
}

func TestExtractMissingVerifier(t *testing.T) {
	r := newTestResolver(t)
	params := url.Values{ParamReturn: {"https://example.org/doc"}}

	_, err := r.ExtractAndValidate(context.Background(), params, Settings{})
	require.ErrorIs(t, err, ErrUnsafeLink)
	assert.Contains(t, err.Error(), "missing verifier")
}

func TestExtractForgedVerifier(t *testing.T) {
	r := newTestResolver(t)
	params := url.Values{
		ParamReturn:   {"https://evil.example/"},
		ParamVerifier: {"0123456789"},
	}

	_, err := r.ExtractAndValidate(context.Background(), params, Settings{})
	require.ErrorIs(t, err, ErrUnsafeLink)
	assert.Contains(t, err.Error(), "incorrect verifier")
}

func TestExtractValidVerifierForeignHost(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	// A correctly signed URL can still be off the allow-list, e.g. after an
	// operator removed a configured return host. That is a bad destination,
	// not an unsafe link.
	foreign := "https://gone.example.net/page"
	s := Settings{LoginReturnURL: "https://gone.example.net/page"}
	res := r.Resolve(FlowLogin, Explicit(foreign), s, RequestContext{})
	action, err := r.Embed(ctx, "https://example.org/auth/login", res)
	require.NoError(t, err)

	u, err := url.Parse(action)
	require.NoError(t, err)

	_, err = r.ExtractAndValidate(ctx, u.Query(), Settings{})
	require.ErrorIs(t, err, ErrBadDestination)
}
