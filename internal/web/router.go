// Package web is the HTTP surface of the gateway: the login, callback and
// logout endpoints, the fatal-error page, and the operational endpoints. The
// handlers are thin drivers; everything flow-shaped happens in the flow
// package.
package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/directory"
	"github.com/gatekey-io/gatekey/internal/flow"
	"github.com/gatekey-io/gatekey/internal/session"
	"github.com/gatekey-io/gatekey/internal/settings"
)

// Route paths. The callback path is also what main registers at the identity
// provider as the redirect URL.
const (
	PathLogin       = "/auth/login"
	PathCallback    = "/auth/callback"
	PathLogout      = "/auth/logout"
	PathStartLogin  = "/auth/start/login"
	PathStartLogout = "/auth/start/logout"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It is
// populated in main after all components are initialized and passed to
// NewRouter as a single struct to keep the constructor signature manageable.
type RouterConfig struct {
	Flow      *flow.Flow
	Store     *session.Store
	Settings  *settings.Service
	Directory directory.Directory
	Tokens    *directory.TokenManager
	Metrics   *Metrics
	Logger    *zap.Logger

	// HomeURL is the site home, used by the error page links.
	HomeURL string

	// Secure controls whether cookies are set with the Secure flag.
	// Set to true in production (HTTPS), false in local development.
	Secure bool
}

// NewRouter builds and returns the fully configured Chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	sink := NewErrorSink(cfg.Flow, cfg.Settings, cfg.Metrics, cfg.HomeURL, PathLogin, cfg.Secure, cfg.Logger)
	authHandler := NewAuthHandler(cfg.Flow, cfg.Store, sink, cfg.Metrics, cfg.Secure, cfg.Logger)

	// The auth endpoints need a visitor identity and, for logout, the
	// current account.
	r.Group(func(r chi.Router) {
		r.Use(VisitorID(cfg.Secure))
		r.Use(CurrentAccount(cfg.Tokens, cfg.Directory, cfg.Logger))

		r.Get(PathLogin, authHandler.Login)
		r.Get(PathCallback, authHandler.Callback)
		r.Get(PathLogout, authHandler.Logout)
		r.Get(PathStartLogin, authHandler.StartLogin)
		r.Get(PathStartLogout, authHandler.StartLogout)
	})

	// Operational endpoints.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
