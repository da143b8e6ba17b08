package directory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/db"
	"github.com/gatekey-io/gatekey/internal/repositories"
)

// fakeAccountRepo is an in-memory AccountRepository.
type fakeAccountRepo struct {
	accounts    map[string]*db.Account
	lastTouched string
}

func (r *fakeAccountRepo) Create(_ context.Context, account *db.Account) error {
	r.accounts[account.Username] = account
	return nil
}

func (r *fakeAccountRepo) GetByUsername(_ context.Context, username string) (*db.Account, error) {
	a, ok := r.accounts[username]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return a, nil
}

func (r *fakeAccountRepo) Update(_ context.Context, account *db.Account) error {
	r.accounts[account.Username] = account
	return nil
}

func (r *fakeAccountRepo) TouchLastLogin(_ context.Context, username string, _ time.Time) error {
	r.lastTouched = username
	return nil
}

func testAccount(username string) *db.Account {
	a := &db.Account{Username: username, IsActive: true}
	a.ID = uuid.New()
	return a
}

func newTestService(t *testing.T) (*Service, *fakeAccountRepo) {
	t.Helper()
	tokens, err := NewTokenManagerGenerated("gatekey-test")
	require.NoError(t, err)
	repo := &fakeAccountRepo{accounts: make(map[string]*db.Account)}
	return NewService(repo, tokens, zap.NewNop()), repo
}

func TestValid(t *testing.T) {
	svc, _ := newTestService(t)

	assert.True(t, svc.Valid(testAccount("jsmith")))
	assert.False(t, svc.Valid(nil))
	assert.False(t, svc.Valid(&db.Account{Username: "jsmith", IsActive: true})) // no ID
	assert.False(t, svc.Valid(testAccount("")))

	disabled := testAccount("jsmith")
	disabled.IsActive = false
	assert.False(t, svc.Valid(disabled))
}

func TestSessionTokenRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	account := testAccount("jsmith")

	token, err := svc.CreateSessionToken(context.Background(), account, time.Now().Add(time.Hour))
	require.NoError(t, err)

	claims, err := svc.tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "jsmith", claims.Username)
}

func TestValidateExpiredToken(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.CreateSessionToken(context.Background(), testAccount("jsmith"), time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = svc.tokens.Validate(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.tokens.Validate("not.a.token")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestNotifyLoginFiresHooksAndTouches(t *testing.T) {
	svc, repo := newTestService(t)

	var hooked string
	svc.OnLogin(func(_ context.Context, account *db.Account) {
		hooked = account.Username
	})

	svc.NotifyLogin(context.Background(), testAccount("jsmith"))
	assert.Equal(t, "jsmith", hooked)
	assert.Equal(t, "jsmith", repo.lastTouched)
}

func TestNotifyLogoutFiresHooks(t *testing.T) {
	svc, _ := newTestService(t)

	fired := 0
	svc.OnLogout(func(context.Context, *db.Account) { fired++ })

	svc.NotifyLogout(context.Background(), testAccount("jsmith"))
	assert.Equal(t, 1, fired)
}
