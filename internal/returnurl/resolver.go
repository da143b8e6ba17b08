// Package returnurl turns abstract return intents into concrete, validated
// destinations and carries them safely across the identity-provider round
// trip. A destination travels as a pair of query parameters: the URL itself
// and a verifier token proving the pair was issued by this installation.
// Forged or corrupted pairs are treated as potential redirect attacks and
// fail hard, never silently.
package returnurl

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/verifier"
)

// Query parameter names used on action URLs and the IdP callback.
const (
	ParamReturn   = "return"
	ParamVerifier = "verifier"
)

// Sentinel errors for callback validation. Callers use errors.Is and route
// both to the fatal error sink.
var (
	// ErrUnsafeLink means the return parameter was present without a valid
	// verifier — a missing or incorrect token.
	ErrUnsafeLink = errors.New("returnurl: unsafe link")

	// ErrBadDestination means the verifier matched but the decoded URL is
	// empty, relative, or points at a host outside the allow-list.
	ErrBadDestination = errors.New("returnurl: bad destination")
)

// Settings is the slice of auth configuration the resolver consumes.
type Settings struct {
	LoginAction     string
	LogoutAction    string
	LoginReturnURL  string
	LogoutReturnURL string
}

// RequestContext describes the inbound request a resolution happens for.
type RequestContext struct {
	// Path is the current request path (with query), made absolute against
	// the site origin when the intent is Here. May be empty, in which case
	// Here falls back to home.
	Path string

	// PublicResource reports whether the current resource is reachable
	// without authentication. Smart logout returns the visitor to a public
	// page but not to one that would immediately bounce them back to login.
	PublicResource bool
}

// Resolved is a validated absolute destination. Resolved values are only
// constructed by Resolver methods, after allow-list checks.
type Resolved struct {
	URL string

	// home marks a resolution that ended at the site home. Home carries no
	// attacker-influenceable parameter, so Embed attaches no return token
	// for it.
	home bool
}

// IsHome reports whether the destination is the site home.
func (r Resolved) IsHome() bool { return r.home }

// Resolver maps intents to destinations for one site.
type Resolver struct {
	site     *url.URL
	verifier *verifier.Verifier
	logger   *zap.Logger
}

// NewResolver creates a Resolver for the given site URL (the site's own
// origin plus home path). The verifier signs and checks return tokens.
func NewResolver(siteURL string, v *verifier.Verifier, logger *zap.Logger) (*Resolver, error) {
	site, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("returnurl: parsing site url %q: %w", siteURL, err)
	}
	if !site.IsAbs() || site.Host == "" {
		return nil, fmt.Errorf("returnurl: site url %q must be absolute", siteURL)
	}
	return &Resolver{
		site:     site,
		verifier: v,
		logger:   logger.Named("returnurl"),
	}, nil
}

// Home returns the site home URL.
func (r *Resolver) Home() string {
	return r.site.String()
}

// AllowedHosts returns the redirect-safety allow-list: the site's own host
// plus the hosts of the configured login and logout return URLs. The web
// layer registers these with the host platform on startup.
func (r *Resolver) AllowedHosts(s Settings) []string {
	hosts := []string{r.site.Host}
	for _, raw := range []string{s.LoginReturnURL, s.LogoutReturnURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || u.Host == r.site.Host {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// Resolve applies the staged resolution algorithm: default the intent from
// per-flow configuration, collapse Smart and Setting, then materialize one of
// Here, Home or an explicit URL. The result is always allow-listed; explicit
// URLs that fail validation are replaced by the site home.
func (r *Resolver) Resolve(flow Flow, intent Intent, s Settings, reqCtx RequestContext) Resolved {
	// Stage 1: empty intent pulls the per-flow configured action, then the
	// per-flow default.
	if intent.IsZero() {
		intent = ParseIntent(s.actionFor(flow))
	}
	if intent.IsZero() {
		if flow == FlowLogin {
			intent = Setting()
		} else {
			intent = Smart()
		}
	}

	// Stage 2: Smart. Logout may return "here" when the page is public; a
	// login has no safe "where you were" default because the prior page may
	// itself require authentication, so it always collapses to Setting.
	if intent.kind == kindSmart {
		if flow == FlowLogout && reqCtx.PublicResource {
			intent = Here()
		} else {
			intent = Setting()
		}
	}

	// Stage 3: Setting pulls the configured per-flow return URL.
	if intent.kind == kindSetting {
		raw := s.returnURLFor(flow)
		switch {
		case raw != "":
			intent = Explicit(raw)
		case flow == FlowLogin:
			intent = Here()
		default:
			intent = Home()
		}
	}

	// Stages 4-5: only Here, Home and Explicit remain.
	switch intent.kind {
	case kindHere:
		if reqCtx.Path == "" {
			return Resolved{URL: r.Home(), home: true}
		}
		ref, err := url.Parse(reqCtx.Path)
		if err != nil {
			r.logger.Warn("unparsable request path, falling back to home",
				zap.String("path", reqCtx.Path))
			return Resolved{URL: r.Home(), home: true}
		}
		return Resolved{URL: r.site.ResolveReference(ref).String()}

	case kindExplicit:
		if r.validDestination(intent.url, s) {
			return Resolved{URL: intent.url}
		}
		r.logger.Warn("configured or requested return url failed validation, falling back to home",
			zap.String("url", intent.url))
		return Resolved{URL: r.Home(), home: true}

	default: // kindHome
		return Resolved{URL: r.Home(), home: true}
	}
}

// Embed appends the return token (URL plus verifier) to an action URL. Home
// destinations are embedded as nothing at all: the callback treats an absent
// return parameter as "go home".
func (r *Resolver) Embed(ctx context.Context, actionURL string, res Resolved) (string, error) {
	if res.home {
		return actionURL, nil
	}

	u, err := url.Parse(actionURL)
	if err != nil {
		return "", fmt.Errorf("returnurl: parsing action url %q: %w", actionURL, err)
	}

	token, err := r.verifier.Create(ctx, res.URL)
	if err != nil {
		return "", fmt.Errorf("returnurl: signing return url: %w", err)
	}

	q := u.Query()
	q.Set(ParamReturn, res.URL)
	q.Set(ParamVerifier, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExtractAndValidate is the inverse of Embed, applied to callback request
// parameters. An absent return parameter is the normal direct-invocation case
// and yields the site home. A present return parameter must carry a matching
// verifier and decode to an allow-listed absolute URL; every failure is
// terminal for the request.
func (r *Resolver) ExtractAndValidate(ctx context.Context, params url.Values, s Settings) (string, error) {
	raw := params.Get(ParamReturn)
	if raw == "" {
		return r.Home(), nil
	}

	token := params.Get(ParamVerifier)
	if token == "" {
		return "", fmt.Errorf("%w: missing verifier", ErrUnsafeLink)
	}

	if !r.verifier.Check(ctx, token, raw) {
		return "", fmt.Errorf("%w: incorrect verifier", ErrUnsafeLink)
	}

	if !r.validDestination(raw, s) {
		return "", fmt.Errorf("%w: %q", ErrBadDestination, raw)
	}

	return raw, nil
}

// validDestination reports whether raw is an absolute http(s) URL whose host
// is on the allow-list.
func (r *Resolver) validDestination(raw string, s Settings) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	for _, host := range r.AllowedHosts(s) {
		if u.Host == host {
			return true
		}
	}
	return false
}

func (s Settings) actionFor(flow Flow) string {
	if flow == FlowLogin {
		return s.LoginAction
	}
	return s.LogoutAction
}

func (s Settings) returnURLFor(flow Flow) string {
	if flow == FlowLogin {
		return s.LoginReturnURL
	}
	return s.LogoutReturnURL
}
