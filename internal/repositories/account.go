package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/gatekey-io/gatekey/internal/db"
)

// gormAccountRepository is the GORM implementation of AccountRepository.
type gormAccountRepository struct {
	database *gorm.DB
}

// NewAccountRepository returns an AccountRepository backed by the provided *gorm.DB.
func NewAccountRepository(database *gorm.DB) AccountRepository {
	return &gormAccountRepository{database: database}
}

// Create inserts a new account record into the database. A username
// collision surfaces as ErrConflict.
func (r *gormAccountRepository) Create(ctx context.Context, account *db.Account) error {
	if err := r.database.WithContext(ctx).Create(account).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("accounts: create: %w", ErrConflict)
		}
		return fmt.Errorf("accounts: create: %w", err)
	}
	return nil
}

// isDuplicateKey reports whether err is a unique-constraint violation. GORM
// translates these for postgres; the modernc sqlite driver surfaces them as
// plain messages, so the constraint text is matched as a fallback.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

// GetByUsername retrieves an account by username. Returns ErrNotFound if no
// record exists.
func (r *gormAccountRepository) GetByUsername(ctx context.Context, username string) (*db.Account, error) {
	var account db.Account
	err := r.database.WithContext(ctx).First(&account, "username = ?", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("accounts: get by username: %w", err)
	}
	return &account, nil
}

// Update persists changes to an existing account record.
func (r *gormAccountRepository) Update(ctx context.Context, account *db.Account) error {
	result := r.database.WithContext(ctx).Save(account)
	if result.Error != nil {
		return fmt.Errorf("accounts: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastLogin records a successful sign-in time without rewriting the
// whole record.
func (r *gormAccountRepository) TouchLastLogin(ctx context.Context, username string, at time.Time) error {
	err := r.database.WithContext(ctx).
		Model(&db.Account{}).
		Where("username = ?", username).
		Update("last_login_at", at).Error
	if err != nil {
		return fmt.Errorf("accounts: touch last login: %w", err)
	}
	return nil
}
