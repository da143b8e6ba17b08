// Package flow implements the login and logout state machines of the gateway.
// The flows are pure orchestration: they read configuration, drive the OIDC
// client, and talk to the session gateway and the account directory, but they
// never touch HTTP directly. Each entry point returns either an Outcome the
// web layer executes (a redirect, possibly with a session credential to set)
// or a *FlowError the web layer routes to the fatal error sink.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/db"
	"github.com/gatekey-io/gatekey/internal/directory"
	"github.com/gatekey-io/gatekey/internal/repositories"
	"github.com/gatekey-io/gatekey/internal/returnurl"
	"github.com/gatekey-io/gatekey/internal/session"
	"github.com/gatekey-io/gatekey/internal/settings"
)

// SessionLengthHook lets the host adjust the local session length per
// account. It receives the configured length and must return the length to
// use; returning the input unchanged keeps the configured value.
type SessionLengthHook func(configured time.Duration, account *db.Account) time.Duration

// Request is the flow's view of one inbound request.
type Request struct {
	// Params are the query parameters of the request: return/verifier on the
	// login or logout action, code/state on the IdP callback.
	Params url.Values

	// Path is the current request path, used by "here" return resolution.
	Path string

	// PublicResource reports whether the current resource is reachable
	// without authentication.
	PublicResource bool

	// Session is the inbound visitor's session gateway.
	Session session.Gateway

	// Account is the currently authenticated local account, nil when the
	// visitor has none.
	Account *db.Account
}

// Outcome is a successfully concluded flow step. The web layer redirects to
// RedirectURL; when SessionToken is non-empty it first sets the local session
// credential.
type Outcome struct {
	RedirectURL string

	SessionToken     string
	SessionExpiresAt time.Time

	// Account is the local account the credential is bound to, nil for
	// OIDC-only logins and for logouts.
	Account *db.Account
}

// Flow drives login and logout.
type Flow struct {
	settings  *settings.Service
	resolver  *returnurl.Resolver
	directory directory.Directory
	newClient ClientFactory

	// callbackURL is the gateway's IdP redirect target.
	callbackURL string

	sessionLength SessionLengthHook
	logger        *zap.Logger
}

// New creates a Flow. callbackURL is the absolute URL of the gateway's IdP
// callback endpoint.
func New(
	svc *settings.Service,
	resolver *returnurl.Resolver,
	dir directory.Directory,
	newClient ClientFactory,
	callbackURL string,
	logger *zap.Logger,
) *Flow {
	return &Flow{
		settings:    svc,
		resolver:    resolver,
		directory:   dir,
		newClient:   newClient,
		callbackURL: callbackURL,
		logger:      logger.Named("flow"),
	}
}

// OnSessionLength registers the per-account session length hook.
func (f *Flow) OnSessionLength(h SessionLengthHook) { f.sessionLength = h }

// returnSettings narrows an AuthConfig to what the resolver consumes.
func returnSettings(cfg *settings.AuthConfig) returnurl.Settings {
	return returnurl.Settings{
		LoginAction:     cfg.LoginAction,
		LogoutAction:    cfg.LogoutAction,
		LoginReturnURL:  cfg.LoginReturnURL,
		LogoutReturnURL: cfg.LogoutReturnURL,
	}
}

// Login runs the login state machine. It is entered twice per round trip:
// once on the login action, where it captures the return destination and ends
// in a RedirectRequired outcome pointing at the identity provider, and once
// on the IdP callback, where it completes the exchange and concludes the
// login. The machine itself does not distinguish the two legs — the client's
// Authenticate result does.
func (f *Flow) Login(ctx context.Context, req Request) (*Outcome, error) {
	cfg, err := f.settings.AuthConfig(ctx)
	if err != nil {
		return nil, fail(KindConfiguration, err, "loading configuration: %v", err)
	}
	if missing := cfg.MissingRequired(); missing != "" {
		return nil, fail(KindConfiguration, nil, "required option %q is not configured", missing)
	}
	rs := returnSettings(cfg)

	// Capture the return destination when the action carries one. The IdP
	// callback never does — the destination captured on the first leg stays
	// in the session across the round trip.
	if req.Params.Get(returnurl.ParamReturn) != "" {
		dest, err := f.resolver.ExtractAndValidate(ctx, req.Params, rs)
		if err != nil {
			return nil, f.destinationError(err)
		}
		if err := req.Session.Set(ctx, session.KeyReturnURL, dest); err != nil {
			return nil, fail(KindIdPSetup, err, "staging return destination: %v", err)
		}
		// The destination must survive the provider round trip even if it
		// lands on another process.
		if err := req.Session.Close(ctx); err != nil {
			return nil, fail(KindIdPSetup, err, "persisting return destination: %v", err)
		}
	}

	client, err := f.newClient(ctx, ClientConfig{
		ProviderURL:      cfg.ProviderURL,
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		ClientAuthMethod: cfg.ClientAuthMethod,
		Scopes:           strings.Fields(cfg.Scopes),
		RedirectURL:      f.callbackURL,
	}, req.Session, req.Params)
	if err != nil {
		return nil, fail(KindIdPSetup, err, "constructing identity provider client: %v", err)
	}

	if err := client.Authenticate(ctx); err != nil {
		var redirect *RedirectRequired
		if errors.As(err, &redirect) {
			return &Outcome{RedirectURL: redirect.URL}, nil
		}
		return nil, fail(KindIdPAuth, err, "identity provider exchange failed: %v", err)
	}

	userinfo, err := client.RequestUserInfo(ctx)
	if err != nil {
		return nil, fail(KindUserInfo, err, "fetching userinfo: %v", err)
	}

	if err := f.recordExchange(ctx, req.Session, client, userinfo); err != nil {
		return nil, fail(KindIdPAuth, err, "recording authenticated session: %v", err)
	}

	// The captured destination is read back and cleared unconditionally:
	// whatever happens next, no stale destination may leak into a later
	// flow of the same visitor.
	returnTo, err := f.takeReturnURL(ctx, req.Session)
	if err != nil {
		return nil, fail(KindIdPAuth, err, "reading return destination: %v", err)
	}

	username, ok := usernameClaim(userinfo, cfg.ClaimForUsername)
	if !ok {
		// A session without a usable identity must not persist in the
		// authenticated state it just reached.
		if err := f.Logout(ctx, req.Session, req.Account); err != nil {
			f.logger.Error("failed to tear down session after claim failure", zap.Error(err))
		}
		return nil, fail(KindUserInfo, nil,
			"userinfo payload does not contain a usable %q claim", cfg.ClaimForUsername)
	}

	if !cfg.LinkAccounts {
		return &Outcome{RedirectURL: returnTo}, nil
	}
	return f.concludeLinked(ctx, req, cfg, username, returnTo)
}

// concludeLinked finishes a login with account linking enabled.
func (f *Flow) concludeLinked(
	ctx context.Context,
	req Request,
	cfg *settings.AuthConfig,
	username, returnTo string,
) (*Outcome, error) {
	account, err := f.directory.FindByUsername(ctx, username)
	if errors.Is(err, repositories.ErrNotFound) {
		// Mixed mode: an OIDC identity without a local record logs in
		// OIDC-only rather than failing.
		f.logger.Info("no local account for identity, proceeding without one",
			zap.String("username", username))
		return &Outcome{RedirectURL: returnTo}, nil
	}
	if err != nil {
		return nil, f.integrityFailure(ctx, req, err, "looking up local account: %v", err)
	}

	if !f.directory.Valid(account) {
		return nil, f.integrityFailure(ctx, req, nil,
			"local account %q is inconsistent and cannot be logged in", username)
	}

	length := cfg.SessionLength
	if f.sessionLength != nil {
		length = f.sessionLength(length, account)
	}
	expiresAt := time.Now().Add(length)

	token, err := f.directory.CreateSessionToken(ctx, account, expiresAt)
	if err != nil {
		return nil, f.integrityFailure(ctx, req, err, "issuing local session credential: %v", err)
	}

	f.directory.NotifyLogin(ctx, account)
	f.logger.Info("login concluded",
		zap.String("username", account.Username),
		zap.Time("session_expires_at", expiresAt),
	)

	return &Outcome{
		RedirectURL:      returnTo,
		SessionToken:     token,
		SessionExpiresAt: expiresAt,
		Account:          account,
	}, nil
}

// integrityFailure tears down the just-established OIDC session and builds
// the terminal error. An account that cannot be bound must not stay half
// logged in.
func (f *Flow) integrityFailure(ctx context.Context, req Request, cause error, format string, args ...any) *FlowError {
	if err := f.Logout(ctx, req.Session, req.Account); err != nil {
		f.logger.Error("failed to tear down session after integrity failure", zap.Error(err))
	}
	return fail(KindLocalAccountIntegrity, cause, format, args...)
}

// recordExchange writes the authenticated state into the session and persists
// it in one flush.
func (f *Flow) recordExchange(ctx context.Context, sess session.Gateway, client Client, userinfo map[string]any) error {
	idPayload, err := json.Marshal(client.IDTokenPayload())
	if err != nil {
		return err
	}
	infoPayload, err := json.Marshal(userinfo)
	if err != nil {
		return err
	}

	if err := sess.Set(ctx, session.KeyState, session.StateValid); err != nil {
		return err
	}
	if err := sess.Set(ctx, session.KeyIDToken, string(idPayload)); err != nil {
		return err
	}
	return sess.Set(ctx, session.KeyUserInfo, string(infoPayload))
}

// takeReturnURL reads the captured destination and clears it, persisting the
// clear together with the exchange writes staged before it. A missing
// destination is unusual but not an error; it means the visitor hit the
// callback without going through the action, and they go home.
func (f *Flow) takeReturnURL(ctx context.Context, sess session.Gateway) (string, error) {
	returnTo, err := sess.Get(ctx, session.KeyReturnURL)
	if err != nil {
		return "", err
	}
	if returnTo == "" {
		f.logger.Info("no return destination captured, defaulting to home")
		returnTo = f.resolver.Home()
	}
	if err := sess.Clear(ctx, session.KeyReturnURL); err != nil {
		return "", err
	}
	if err := sess.Close(ctx); err != nil {
		return "", err
	}
	return returnTo, nil
}

// destinationError maps resolver validation errors to flow errors.
func (f *Flow) destinationError(err error) *FlowError {
	switch {
	case errors.Is(err, returnurl.ErrUnsafeLink):
		return fail(KindUnsafeLink, err, "%v", err)
	case errors.Is(err, returnurl.ErrBadDestination):
		return fail(KindBadDestination, err, "%v", err)
	default:
		return fail(KindConfiguration, err, "%v", err)
	}
}

// usernameClaim extracts the configured username claim. Only a non-empty
// string value is usable.
func usernameClaim(userinfo map[string]any, claim string) (string, bool) {
	v, ok := userinfo[claim]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// ActionURL builds an outbound login or logout action URL with the resolved
// return destination embedded. actionURL may be absolute or site-relative;
// the return pair is appended to its query. Failures are configuration
// errors — the destination itself is resolver-validated and falls back to
// home rather than failing.
func (f *Flow) ActionURL(ctx context.Context, flowKind returnurl.Flow, intent returnurl.Intent, actionURL string, reqCtx returnurl.RequestContext) (string, error) {
	cfg, err := f.settings.AuthConfig(ctx)
	if err != nil {
		return "", fail(KindConfiguration, err, "loading configuration: %v", err)
	}
	rs := returnSettings(cfg)
	res := f.resolver.Resolve(flowKind, intent, rs, reqCtx)
	out, err := f.resolver.Embed(ctx, actionURL, res)
	if err != nil {
		return "", fail(KindConfiguration, err, "signing return destination: %v", err)
	}
	return out, nil
}
