package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/db"
	"github.com/gatekey-io/gatekey/internal/directory"
)

// Cookie names. The visitor cookie identifies the session row; the auth
// cookie carries the signed local session credential.
const (
	CookieVisitor = "gatekey_visitor"
	CookieSession = "gatekey_session"
)

// contextKey is an unexported type for context keys defined in this package.
// Using a custom type prevents collisions with keys defined in other packages.
type contextKey int

const (
	contextKeyVisitorID contextKey = iota
	contextKeyAccount
)

// VisitorID is a middleware that ensures every request carries a visitor
// cookie. A missing cookie gets a fresh UUID; the ID is stored in the request
// context for the handlers and session gateway.
func VisitorID(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var visitorID string
			if c, err := r.Cookie(CookieVisitor); err == nil && c.Value != "" {
				visitorID = c.Value
			} else {
				visitorID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     CookieVisitor,
					Value:    visitorID,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), contextKeyVisitorID, visitorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CurrentAccount is a middleware that resolves the auth cookie to a local
// account and stores it in the request context. An absent, expired or invalid
// credential simply yields no account — the auth endpoints work for both
// states, so this middleware never rejects a request.
func CurrentAccount(tokens *directory.TokenManager, dir directory.Directory, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(CookieSession)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tokens.Validate(cookie.Value)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			account, err := dir.FindByUsername(r.Context(), claims.Username)
			if err != nil || !dir.Valid(account) {
				if err != nil {
					logger.Debug("account lookup for valid credential failed",
						zap.String("username", claims.Username),
						zap.Error(err),
					)
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyAccount, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger returns a Chi-compatible middleware that logs each request
// using the provided zap logger. Chi's middleware.RequestID is expected to
// run before this middleware so the request ID is available in the context.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// visitorIDFromCtx retrieves the visitor ID stored by the VisitorID
// middleware.
func visitorIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyVisitorID).(string)
	return id
}

// accountFromCtx retrieves the account stored by the CurrentAccount
// middleware. Returns nil for unauthenticated visitors.
func accountFromCtx(ctx context.Context) *db.Account {
	account, _ := ctx.Value(contextKeyAccount).(*db.Account)
	return account
}
