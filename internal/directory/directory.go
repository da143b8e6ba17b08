// Package directory is the gateway's view of the host account system: local
// user records that may be linked to an OIDC identity, session-token
// issuance, and the login/logout notification hooks the host platform hangs
// behavior off.
package directory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/db"
	"github.com/gatekey-io/gatekey/internal/repositories"
)

// Hook is a login/logout notification callback. Hooks run synchronously in
// request scope and must not call back into the login or logout flow.
type Hook func(ctx context.Context, account *db.Account)

// Directory is the contract the login flow requires from the host account
// system.
type Directory interface {
	// FindByUsername looks up the local record matching an OIDC username
	// claim. Returns repositories.ErrNotFound when no record exists — for
	// the login flow that is a normal mixed-mode case, not an error.
	FindByUsername(ctx context.Context, username string) (*db.Account, error)

	// Valid reports whether a record is structurally sound enough to bind a
	// session to. An inconsistent record is a local-account integrity
	// failure, not an OIDC-only fallback.
	Valid(account *db.Account) bool

	// CreateSessionToken issues the signed local session credential for an
	// account, valid until expiresAt.
	CreateSessionToken(ctx context.Context, account *db.Account, expiresAt time.Time) (string, error)

	// NotifyLogin fires the host's "logged in" hooks and records the login.
	NotifyLogin(ctx context.Context, account *db.Account)

	// NotifyLogout fires the host's "logged out" hooks.
	NotifyLogout(ctx context.Context, account *db.Account)
}

// Service is the database-backed Directory implementation.
type Service struct {
	accounts repositories.AccountRepository
	tokens   *TokenManager
	logger   *zap.Logger

	loginHooks  []Hook
	logoutHooks []Hook
}

// NewService creates a Directory over the given account repository and token
// manager.
func NewService(accounts repositories.AccountRepository, tokens *TokenManager, logger *zap.Logger) *Service {
	return &Service{
		accounts: accounts,
		tokens:   tokens,
		logger:   logger.Named("directory"),
	}
}

// OnLogin registers a hook fired after every linked-account login.
func (s *Service) OnLogin(h Hook) { s.loginHooks = append(s.loginHooks, h) }

// OnLogout registers a hook fired after every linked-account logout.
func (s *Service) OnLogout(h Hook) { s.logoutHooks = append(s.logoutHooks, h) }

// FindByUsername implements Directory.
func (s *Service) FindByUsername(ctx context.Context, username string) (*db.Account, error) {
	return s.accounts.GetByUsername(ctx, username)
}

// Valid implements Directory. A record must carry an ID and a username and
// must not be disabled.
func (s *Service) Valid(account *db.Account) bool {
	if account == nil {
		return false
	}
	return account.ID != (uuid.UUID{}) &&
		account.Username != "" &&
		account.IsActive
}

// CreateSessionToken implements Directory.
func (s *Service) CreateSessionToken(ctx context.Context, account *db.Account, expiresAt time.Time) (string, error) {
	return s.tokens.Generate(account, expiresAt)
}

// NotifyLogin implements Directory. The last-login timestamp update is
// best-effort: a failed write must not fail a login that already succeeded.
func (s *Service) NotifyLogin(ctx context.Context, account *db.Account) {
	if err := s.accounts.TouchLastLogin(ctx, account.Username, time.Now()); err != nil {
		s.logger.Warn("failed to record last login",
			zap.String("username", account.Username),
			zap.Error(err),
		)
	}
	for _, h := range s.loginHooks {
		h(ctx, account)
	}
}

// NotifyLogout implements Directory.
func (s *Service) NotifyLogout(ctx context.Context, account *db.Account) {
	for _, h := range s.logoutHooks {
		h(ctx, account)
	}
}
