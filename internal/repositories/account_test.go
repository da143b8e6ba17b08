package repositories

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gatekey-io/gatekey/internal/db"
)

// newTestDB opens a migrated throwaway SQLite database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	return database
}

func TestAccountCreateAndGet(t *testing.T) {
	repo := NewAccountRepository(newTestDB(t))
	ctx := context.Background()

	created := &db.Account{Username: "jsmith", Email: "jsmith@example.org", IsActive: true}
	require.NoError(t, repo.Create(ctx, created))

	got, err := repo.GetByUsername(ctx, "jsmith")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "jsmith@example.org", got.Email)
}

func TestAccountCreateDuplicateUsernameConflicts(t *testing.T) {
	repo := NewAccountRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &db.Account{Username: "jsmith", IsActive: true}))

	err := repo.Create(ctx, &db.Account{Username: "jsmith", IsActive: true})
	require.ErrorIs(t, err, ErrConflict)
}

func TestAccountGetByUsernameNotFound(t *testing.T) {
	repo := NewAccountRepository(newTestDB(t))

	_, err := repo.GetByUsername(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}
