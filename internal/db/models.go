package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM. The type must be exported:
// GORM's reflection skips fields promoted through an unexported embedded
// struct, which would leave ID/CreatedAt/UpdatedAt out of the schema.
type Base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// This ensures every record has a valid time-ordered ID before insertion.
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

// Account is a local user record that may be linked to an OIDC identity via
// the username claim. When account linking is disabled the gateway never
// touches this table — visitors authenticate as OIDC-only users with no
// local record.
type Account struct {
	Base
	Username    string `gorm:"uniqueIndex;not null"`
	Email       string `gorm:"default:''"`
	DisplayName string `gorm:"default:''"`
	IsActive    bool   `gorm:"not null;default:true"`
	LastLoginAt *time.Time
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

// SessionEntry is a single key/value pair in a visitor's session. A visitor
// session is the set of rows sharing one VisitorID; it holds the transient
// login-flow keys (state, id_token, userinfo, return_url) plus whatever the
// OIDC client stashes for the round trip.
//
// Rows carry an ExpiresAt so the janitor can purge sessions abandoned
// mid-flow (e.g. a visitor who never returns from the identity provider).
type SessionEntry struct {
	VisitorID string    `gorm:"primaryKey;size:64"`
	Key       string    `gorm:"primaryKey;size:64"`
	Value     string    `gorm:"type:text;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

// Setting is a generic key-value configuration entry stored in the database.
// Keys are namespaced by convention (e.g. "auth.client_id", "site.url").
// Sensitive values (e.g. "auth.client_secret", the verifier secret) are
// encrypted at the application layer via EncryptedString before being
// persisted.
//
// Setting does not embed Base because it uses a string primary key (the key
// itself) rather than a UUID, and does not need CreatedAt.
type Setting struct {
	Key       string          `gorm:"primaryKey"`
	Value     EncryptedString `gorm:"type:text;not null"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime"`
}
