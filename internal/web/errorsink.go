package web

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/db"
	"github.com/gatekey-io/gatekey/internal/flow"
	"github.com/gatekey-io/gatekey/internal/session"
	"github.com/gatekey-io/gatekey/internal/settings"
)

// errorPage is the fatal-error page. All interpolations go through
// html/template, so attacker-influenced detail strings render inert.
var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Header}}</title></head>
<body>
<h1>{{.Header}}</h1>
<p>Something went wrong while signing you in, and we could not complete the
request. We apologize for the inconvenience.</p>
{{if .AdminContact}}<p>If this keeps happening, please contact <a href="mailto:{{.AdminContact}}">{{.AdminContact}}</a>.</p>{{end}}
<p><a href="{{.HomeURL}}">Back to the site</a> &middot; <a href="{{.LoginURL}}">Try signing in again</a> &middot; <a href="javascript:history.back()">Go back</a></p>
{{if .Detail}}<hr><p><small><code>{{.Detail}}</code></small></p>{{end}}
</body>
</html>
`))

// errorPageData is the template payload of the fatal-error page.
type errorPageData struct {
	Header       string
	Detail       string
	AdminContact string
	HomeURL      string
	LoginURL     string
}

// ErrorSink renders terminal flow errors. Every error that reaches the sink
// first tears the visitor's session down: whatever state the flow was in, the
// visitor leaves the page logged out, with nothing half-established to
// resume from.
type ErrorSink struct {
	flow     *flow.Flow
	settings *settings.Service
	metrics  *Metrics
	logger   *zap.Logger

	homeURL  string
	loginURL string
	secure   bool
}

// NewErrorSink creates an ErrorSink.
func NewErrorSink(fl *flow.Flow, svc *settings.Service, metrics *Metrics, homeURL, loginURL string, secure bool, logger *zap.Logger) *ErrorSink {
	return &ErrorSink{
		flow:     fl,
		settings: svc,
		metrics:  metrics,
		logger:   logger.Named("errorsink"),
		homeURL:  homeURL,
		loginURL: loginURL,
		secure:   secure,
	}
}

// Render logs the visitor out and writes the error page with status 500.
// Errors that are not *flow.FlowError get a generic header and no detail.
func (s *ErrorSink) Render(w http.ResponseWriter, r *http.Request, sess session.Gateway, account *db.Account, err error) {
	ctx := r.Context()

	if logoutErr := s.flow.Logout(ctx, sess, account); logoutErr != nil {
		s.logger.Error("failed to log out on error path", zap.Error(logoutErr))
	}

	// The credential cookie goes with the session.
	http.SetCookie(w, &http.Cookie{
		Name:     CookieSession,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	data := errorPageData{
		Header:       "Login failed",
		AdminContact: s.adminContact(ctx),
		HomeURL:      s.homeURL,
		LoginURL:     s.loginURL,
	}

	var fe *flow.FlowError
	if errors.As(err, &fe) {
		data.Header = fe.Header
		data.Detail = fe.Detail
		s.metrics.IncrementFlowError(fe.Kind.String())
		s.logger.Error("flow failed",
			zap.String("kind", fe.Kind.String()),
			zap.String("detail", fe.Detail),
			zap.Error(fe.Err),
		)
	} else {
		s.metrics.IncrementFlowError("unknown")
		s.logger.Error("flow failed with unclassified error", zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	if err := errorPage.Execute(w, data); err != nil {
		s.logger.Error("failed to render error page", zap.Error(err))
	}
}

// adminContact loads the configured contact address, best effort. The error
// page must render even when configuration loading is the thing that broke.
func (s *ErrorSink) adminContact(ctx context.Context) string {
	cfg, err := s.settings.AuthConfig(ctx)
	if err != nil {
		return ""
	}
	return cfg.AdminContact
}
