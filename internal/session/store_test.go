package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/repositories"
)

// fakeSessionRepo is an in-memory SessionRepository recording batch saves.
type fakeSessionRepo struct {
	rows       map[string]map[string]string
	batchSaves int
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{rows: make(map[string]map[string]string)}
}

func (r *fakeSessionRepo) Get(_ context.Context, visitorID, key string) (string, error) {
	v, ok := r.rows[visitorID][key]
	if !ok {
		return "", repositories.ErrNotFound
	}
	return v, nil
}

func (r *fakeSessionRepo) GetAll(_ context.Context, visitorID string) (map[string]string, error) {
	out := make(map[string]string)
	for k, v := range r.rows[visitorID] {
		out[k] = v
	}
	return out, nil
}

func (r *fakeSessionRepo) SaveBatch(_ context.Context, visitorID string, entries map[string]*string, _ time.Time) error {
	r.batchSaves++
	if r.rows[visitorID] == nil {
		r.rows[visitorID] = make(map[string]string)
	}
	for k, v := range entries {
		if v == nil {
			delete(r.rows[visitorID], k)
			continue
		}
		r.rows[visitorID][k] = *v
	}
	return nil
}

func (r *fakeSessionRepo) DeleteAll(_ context.Context, visitorID string) error {
	delete(r.rows, visitorID)
	return nil
}

func (r *fakeSessionRepo) DeleteExpired(context.Context) (int64, error) { return 0, nil }

func TestWritesAreBufferedUntilClose(t *testing.T) {
	repo := newFakeSessionRepo()
	store := NewStore(repo, 0, zap.NewNop())
	ctx := context.Background()

	g := store.Visitor("v1")
	require.NoError(t, g.Set(ctx, KeyReturnURL, "https://example.org/doc"))

	// Visible through the writing gateway, not yet durable.
	v, err := g.Get(ctx, KeyReturnURL)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/doc", v)
	assert.Empty(t, repo.rows["v1"])

	require.NoError(t, g.Close(ctx))
	assert.Equal(t, "https://example.org/doc", repo.rows["v1"][KeyReturnURL])
	assert.Equal(t, 1, repo.batchSaves)

	// Nothing staged after a flush — a second Close is a no-op.
	require.NoError(t, g.Close(ctx))
	assert.Equal(t, 1, repo.batchSaves)
}

func TestClearStagesDeletion(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.rows["v1"] = map[string]string{KeyReturnURL: "https://example.org/doc"}
	store := NewStore(repo, 0, zap.NewNop())
	ctx := context.Background()

	g := store.Visitor("v1")
	require.NoError(t, g.Clear(ctx, KeyReturnURL))

	// Staged deletion shadows the stored value.
	v, err := g.Get(ctx, KeyReturnURL)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, g.Close(ctx))
	_, ok := repo.rows["v1"][KeyReturnURL]
	assert.False(t, ok)
}

func TestClearAllIsImmediate(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.rows["v1"] = map[string]string{KeyState: StateValid}
	store := NewStore(repo, 0, zap.NewNop())
	ctx := context.Background()

	g := store.Visitor("v1")
	require.NoError(t, g.Set(ctx, KeyReturnURL, "staged"))
	require.NoError(t, g.ClearAll(ctx))

	// Durable rows gone without a Close, staged writes discarded.
	assert.Empty(t, repo.rows["v1"])
	require.NoError(t, g.Close(ctx))
	assert.Empty(t, repo.rows["v1"])
}

func TestGetAbsentKey(t *testing.T) {
	store := NewStore(newFakeSessionRepo(), 0, zap.NewNop())

	v, err := store.Visitor("v1").Get(context.Background(), KeyUserInfo)
	require.NoError(t, err)
	assert.Empty(t, v)
}
