package web

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/flow"
	"github.com/gatekey-io/gatekey/internal/returnurl"
	"github.com/gatekey-io/gatekey/internal/session"
)

// AuthHandler is the HTTP driver of the login and logout flows. It translates
// requests into flow.Request values, executes the returned Outcome, and
// routes terminal errors to the ErrorSink. All flow decisions live in the
// flow package; nothing here branches on flow semantics.
type AuthHandler struct {
	flow    *flow.Flow
	store   *session.Store
	sink    *ErrorSink
	metrics *Metrics
	logger  *zap.Logger
	secure  bool
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(fl *flow.Flow, store *session.Store, sink *ErrorSink, metrics *Metrics, secure bool, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		flow:    fl,
		store:   store,
		sink:    sink,
		metrics: metrics,
		logger:  logger.Named("web"),
		secure:  secure,
	}
}

// flowRequest assembles the flow's view of the inbound request.
func (h *AuthHandler) flowRequest(r *http.Request, sess session.Gateway) flow.Request {
	return flow.Request{
		Params:  r.URL.Query(),
		Path:    r.URL.RequestURI(),
		Session: sess,
		Account: accountFromCtx(r.Context()),
	}
}

// Login serves the login action. The same flow entry point also serves the
// IdP callback — the flow distinguishes the legs by the request parameters,
// not the route.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sess := h.store.Visitor(visitorIDFromCtx(r.Context()))

	out, err := h.flow.Login(r.Context(), h.flowRequest(r, sess))
	if err != nil {
		h.metrics.IncrementLogin("error")
		h.sink.Render(w, r, sess, accountFromCtx(r.Context()), err)
		return
	}

	h.execute(w, r, out)
}

// Callback serves the IdP redirect target. Identical to Login by design.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	h.Login(w, r)
}

// Logout serves the logout action.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := h.store.Visitor(visitorIDFromCtx(r.Context()))

	out, err := h.flow.LogoutAndRedirect(r.Context(), h.flowRequest(r, sess))
	if err != nil {
		h.metrics.IncrementLogout("error")
		h.sink.Render(w, r, sess, accountFromCtx(r.Context()), err)
		return
	}

	h.metrics.IncrementLogout("ok")
	h.clearSessionCookie(w)
	http.Redirect(w, r, out.RedirectURL, http.StatusFound)
}

// StartLogin resolves the visitor's return destination and redirects into the
// login action with the signed return pair attached. Site pages link here
// instead of signing links themselves — the verifier secret never leaves the
// server. "intent" names the destination (here, home, setting, smart, or an
// explicit URL), "from" is the page the visitor was on, and "public" marks
// that page as reachable without authentication.
func (h *AuthHandler) StartLogin(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, returnurl.FlowLogin, PathLogin)
}

// StartLogout is StartLogin's logout counterpart.
func (h *AuthHandler) StartLogout(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, returnurl.FlowLogout, PathLogout)
}

func (h *AuthHandler) start(w http.ResponseWriter, r *http.Request, flowKind returnurl.Flow, actionPath string) {
	q := r.URL.Query()
	public, _ := strconv.ParseBool(q.Get("public"))

	target, err := h.flow.ActionURL(r.Context(), flowKind, returnurl.ParseIntent(q.Get("intent")), actionPath, returnurl.RequestContext{
		Path:           q.Get("from"),
		PublicResource: public,
	})
	if err != nil {
		sess := h.store.Visitor(visitorIDFromCtx(r.Context()))
		h.sink.Render(w, r, sess, accountFromCtx(r.Context()), err)
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// execute applies a successful flow outcome: set or keep the session
// credential, then redirect.
func (h *AuthHandler) execute(w http.ResponseWriter, r *http.Request, out *flow.Outcome) {
	switch {
	case out.SessionToken != "":
		h.metrics.IncrementLogin("linked")
		http.SetCookie(w, &http.Cookie{
			Name:     CookieSession,
			Value:    out.SessionToken,
			Path:     "/",
			Expires:  out.SessionExpiresAt,
			HttpOnly: true,
			Secure:   h.secure,
			SameSite: http.SameSiteLaxMode,
		})
		h.logger.Info("session credential issued",
			zap.String("username", out.Account.Username),
			zap.Time("expires_at", out.SessionExpiresAt),
		)
	case out.Account == nil && r.URL.Query().Get("code") != "":
		// Callback leg concluded without a credential: OIDC-only login.
		h.metrics.IncrementLogin("oidc_only")
	default:
		h.metrics.IncrementLogin("redirect")
	}

	http.Redirect(w, r, out.RedirectURL, http.StatusFound)
}

// clearSessionCookie expires the auth cookie.
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieSession,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
