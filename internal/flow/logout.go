package flow

import (
	"context"

	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/db"
	"github.com/gatekey-io/gatekey/internal/session"
)

// ctxKey is the private type for context flags set by the flow.
type ctxKey int

// logoutInProgressKey marks a context already inside Logout. Logout hooks may
// call arbitrary host code; if that code triggers another logout for the same
// request, the guard turns it into a no-op instead of recursing.
const logoutInProgressKey ctxKey = iota

// Logout clears the visitor's session and, when a local account was logged
// in, notifies the directory. The session clear happens first and
// unconditionally: even if notification fails, the visitor ends up logged
// out.
func (f *Flow) Logout(ctx context.Context, sess session.Gateway, account *db.Account) error {
	if ctx.Value(logoutInProgressKey) != nil {
		return nil
	}
	ctx = context.WithValue(ctx, logoutInProgressKey, true)

	if err := sess.ClearAll(ctx); err != nil {
		return fail(KindConfiguration, err, "clearing session: %v", err)
	}

	if account == nil {
		return nil
	}

	f.directory.NotifyLogout(ctx, account)
	f.logger.Info("logout concluded", zap.String("username", account.Username))
	return nil
}

// LogoutAndRedirect is the logout action entry point. The return destination
// is validated before anything is cleared — a forged logout link fails hard
// without logging the visitor out.
func (f *Flow) LogoutAndRedirect(ctx context.Context, req Request) (*Outcome, error) {
	cfg, err := f.settings.AuthConfig(ctx)
	if err != nil {
		return nil, fail(KindConfiguration, err, "loading configuration: %v", err)
	}

	dest, err := f.resolver.ExtractAndValidate(ctx, req.Params, returnSettings(cfg))
	if err != nil {
		return nil, f.destinationError(err)
	}

	if err := f.Logout(ctx, req.Session, req.Account); err != nil {
		return nil, err
	}

	return &Outcome{RedirectURL: dest}, nil
}
