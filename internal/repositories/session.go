package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gatekey-io/gatekey/internal/db"
)

// gormSessionRepository is the GORM implementation of SessionRepository.
type gormSessionRepository struct {
	database *gorm.DB
}

// NewSessionRepository returns a SessionRepository backed by the provided *gorm.DB.
func NewSessionRepository(database *gorm.DB) SessionRepository {
	return &gormSessionRepository{database: database}
}

// Get retrieves a single session value. Returns ErrNotFound when the visitor
// has no entry under the given key.
func (r *gormSessionRepository) Get(ctx context.Context, visitorID, key string) (string, error) {
	var entry db.SessionEntry
	err := r.database.WithContext(ctx).
		First(&entry, "visitor_id = ? AND key = ?", visitorID, key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("sessions: get: %w", err)
	}
	return entry.Value, nil
}

// GetAll loads every entry of one visitor session as a key/value map.
func (r *gormSessionRepository) GetAll(ctx context.Context, visitorID string) (map[string]string, error) {
	var entries []db.SessionEntry
	err := r.database.WithContext(ctx).
		Where("visitor_id = ?", visitorID).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("sessions: get all: %w", err)
	}

	values := make(map[string]string, len(entries))
	for _, e := range entries {
		values[e.Key] = e.Value
	}
	return values, nil
}

// SaveBatch applies buffered session mutations in one transaction. Upserts
// overwrite existing rows; nil values delete the row. The whole batch shares
// a single expiry so the janitor drops abandoned sessions as a unit.
func (r *gormSessionRepository) SaveBatch(ctx context.Context, visitorID string, entries map[string]*string, expiresAt time.Time) error {
	if len(entries) == 0 {
		return nil
	}

	err := r.database.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, value := range entries {
			if value == nil {
				if err := tx.Delete(&db.SessionEntry{}, "visitor_id = ? AND key = ?", visitorID, key).Error; err != nil {
					return err
				}
				continue
			}
			entry := db.SessionEntry{
				VisitorID: visitorID,
				Key:       key,
				Value:     *value,
				ExpiresAt: expiresAt,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "visitor_id"}, {Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
			}).Create(&entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sessions: save batch: %w", err)
	}
	return nil
}

// DeleteAll removes every entry of one visitor session.
func (r *gormSessionRepository) DeleteAll(ctx context.Context, visitorID string) error {
	err := r.database.WithContext(ctx).
		Delete(&db.SessionEntry{}, "visitor_id = ?", visitorID).Error
	if err != nil {
		return fmt.Errorf("sessions: delete all: %w", err)
	}
	return nil
}

// DeleteExpired permanently removes all expired session entries.
// Intended to be called periodically by the janitor.
func (r *gormSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result := r.database.WithContext(ctx).
		Where("expires_at < CURRENT_TIMESTAMP").
		Delete(&db.SessionEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("sessions: delete expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}
