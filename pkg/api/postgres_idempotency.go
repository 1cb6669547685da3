package api

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/ironlayer/ironlayer/pkg/repository"
)

// PostgresIdempotencyStore persists replay entries so apply retries
// survive a server restart. Multi-replica deployments need this
// instead of the in-memory default.
type PostgresIdempotencyStore struct {
	db      *sql.DB
	dialect repository.Dialect
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewPostgresIdempotencyStore creates the durable store.
func NewPostgresIdempotencyStore(db *sql.DB, dialect repository.Dialect, ttl time.Duration, logger *slog.Logger) *PostgresIdempotencyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresIdempotencyStore{db: db, dialect: dialect, ttl: ttl, logger: logger, now: time.Now}
}

// Lookup reads a cached response if one exists within the TTL window.
// Store errors degrade to a cache miss: replay is a convenience, and a
// duplicate submit is caught by the plan's own run state.
func (s *PostgresIdempotencyStore) Lookup(key string) (*CachedResponse, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	query := `SELECT status_code, body, cached_at FROM idempotency_keys WHERE idem_key = $1`
	var cached CachedResponse
	err := s.db.QueryRowContext(ctx, repository.Rebind(s.dialect, query), key).
		Scan(&cached.StatusCode, &cached.Body, &cached.CachedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("idempotency lookup failed", "error", err)
		}
		return nil, false
	}
	if s.now().Sub(cached.CachedAt) > s.ttl {
		return nil, false
	}
	return &cached, true
}

// Save writes a response entry, overwriting a stale one for the key.
func (s *PostgresIdempotencyStore) Save(key string, statusCode int, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	query := `INSERT INTO idempotency_keys (idem_key, status_code, body, cached_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idem_key) DO UPDATE SET
			status_code = EXCLUDED.status_code,
			body = EXCLUDED.body,
			cached_at = EXCLUDED.cached_at`
	_, err := s.db.ExecContext(ctx, repository.Rebind(s.dialect, query),
		key, statusCode, body, s.now().UTC())
	if err != nil {
		s.logger.Warn("idempotency save failed", "error", err)
	}
}
