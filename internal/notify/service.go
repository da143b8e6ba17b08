// Package notify fans login and logout events out to an optional audit
// webhook. It hangs off the directory's notification hooks, so the login flow
// itself stays unaware of it, and delivery failures never fail a login that
// already succeeded.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/db"
	"github.com/gatekey-io/gatekey/internal/directory"
	"github.com/gatekey-io/gatekey/internal/repositories"
)

// sendTimeout bounds a single webhook delivery. Sends run detached from the
// request, so the request context cannot be used.
const sendTimeout = 15 * time.Second

// Service delivers audit events for account logins and logouts.
type Service struct {
	webhook *webhookSender
	logger  *zap.Logger
}

// NewService creates a notify Service reading its webhook configuration from
// the settings repository. Configuration is reloaded on every send — no
// restart needed after a settings change.
func NewService(settingsRepo repositories.SettingsRepository, logger *zap.Logger) *Service {
	return &Service{
		webhook: newWebhookSender(func(ctx context.Context) (*webhookConfig, error) {
			return loadWebhookConfig(ctx, settingsRepo)
		}),
		logger: logger.Named("notify"),
	}
}

// Register hangs the service off the directory's login and logout hooks.
func (s *Service) Register(dir *directory.Service) {
	dir.OnLogin(func(_ context.Context, account *db.Account) {
		s.dispatch("login", fmt.Sprintf("Login: %s", account.Username), account)
	})
	dir.OnLogout(func(_ context.Context, account *db.Account) {
		s.dispatch("logout", fmt.Sprintf("Logout: %s", account.Username), account)
	})
}

// dispatch sends one event in the background. The hook runs inside request
// handling, so delivery must neither block nor fail the request.
func (s *Service) dispatch(eventType, title string, account *db.Account) {
	payload := map[string]any{
		"username": account.Username,
		"at":       time.Now().UTC().Format(time.RFC3339),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := s.webhook.Send(ctx, eventType, title, title, payload); err != nil {
			s.logger.Warn("webhook delivery failed",
				zap.String("type", eventType),
				zap.String("username", account.Username),
				zap.Error(err),
			)
		}
	}()
}
