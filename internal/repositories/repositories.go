package repositories

import (
	"context"
	"time"

	"github.com/gatekey-io/gatekey/internal/db"
)

// -----------------------------------------------------------------------------
// AccountRepository
// -----------------------------------------------------------------------------

type AccountRepository interface {
	Create(ctx context.Context, account *db.Account) error
	GetByUsername(ctx context.Context, username string) (*db.Account, error)
	Update(ctx context.Context, account *db.Account) error
	TouchLastLogin(ctx context.Context, username string, at time.Time) error
}

// -----------------------------------------------------------------------------
// SessionRepository
// -----------------------------------------------------------------------------

// SessionRepository persists visitor session entries. The session gateway
// buffers writes in memory and hands them to SaveBatch in one transaction
// when the request closes the session.
type SessionRepository interface {
	Get(ctx context.Context, visitorID, key string) (string, error)
	GetAll(ctx context.Context, visitorID string) (map[string]string, error)

	// SaveBatch applies a set of upserts and deletes atomically.
	// A nil value in entries marks the key for deletion.
	SaveBatch(ctx context.Context, visitorID string, entries map[string]*string, expiresAt time.Time) error

	DeleteAll(ctx context.Context, visitorID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// -----------------------------------------------------------------------------
// SettingsRepository
// -----------------------------------------------------------------------------

type SettingsRepository interface {
	Get(ctx context.Context, key string) (*db.Setting, error)
	Set(ctx context.Context, key string, value db.EncryptedString) error
	GetMany(ctx context.Context, prefix string) ([]db.Setting, error)
	Delete(ctx context.Context, key string) error

	// SetIfAbsent inserts the value only when the key does not exist yet and
	// returns the stored value, which may be a concurrent writer's. Used for
	// the one-time verifier-secret provisioning.
	SetIfAbsent(ctx context.Context, key string, value db.EncryptedString) (db.EncryptedString, error)
}
