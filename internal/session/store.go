package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/repositories"
)

// DefaultTTL is how long session entries live without being refreshed.
// Generous compared to the IdP round trip it has to survive; the janitor
// purges whatever expires.
const DefaultTTL = 2 * time.Hour

// Store hands out visitor-bound Gateways over one SessionRepository.
type Store struct {
	repo   repositories.SessionRepository
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore creates a session Store. ttl <= 0 selects DefaultTTL.
func NewStore(repo repositories.SessionRepository, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		repo:   repo,
		ttl:    ttl,
		logger: logger.Named("session"),
	}
}

// Visitor binds a Gateway to one visitor ID (from the visitor cookie).
func (s *Store) Visitor(visitorID string) Gateway {
	return &visitorGateway{
		store:     s,
		visitorID: visitorID,
		staged:    make(map[string]*string),
	}
}

// PurgeExpired removes expired entries across all visitors. Called by the
// janitor, not by request handling.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx)
}

// visitorGateway implements Gateway with an in-memory staging buffer.
// A staged nil marks a deletion. The buffer is flushed as one batch by Close.
type visitorGateway struct {
	store     *Store
	visitorID string
	staged    map[string]*string
}

func (g *visitorGateway) Set(_ context.Context, key, value string) error {
	g.staged[key] = &value
	return nil
}

func (g *visitorGateway) Get(ctx context.Context, key string) (string, error) {
	if staged, ok := g.staged[key]; ok {
		if staged == nil {
			return "", nil
		}
		return *staged, nil
	}

	value, err := g.store.repo.Get(ctx, g.visitorID, key)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("session: reading %q: %w", key, err)
	}
	return value, nil
}

func (g *visitorGateway) Clear(_ context.Context, key string) error {
	g.staged[key] = nil
	return nil
}

func (g *visitorGateway) ClearAll(ctx context.Context) error {
	// Staged writes die with the session. The delete goes straight to the
	// repository so the clear holds even if the request never reaches Close.
	g.staged = make(map[string]*string)
	if err := g.store.repo.DeleteAll(ctx, g.visitorID); err != nil {
		return fmt.Errorf("session: clearing all: %w", err)
	}
	return nil
}

func (g *visitorGateway) Close(ctx context.Context) error {
	if len(g.staged) == 0 {
		return nil
	}

	expiresAt := time.Now().Add(g.store.ttl)
	if err := g.store.repo.SaveBatch(ctx, g.visitorID, g.staged, expiresAt); err != nil {
		return fmt.Errorf("session: persisting: %w", err)
	}
	g.staged = make(map[string]*string)
	return nil
}
