package revocation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// PostgresStore persists revocations. Rows are never deleted early;
// expired rows simply stop matching.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed revocation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS token_revocations (
	jti TEXT PRIMARY KEY,
	reason TEXT NOT NULL DEFAULT '',
	revoked_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_token_revocations_expires ON token_revocations(expires_at);
`

// Init creates the revocation table.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// IsRevoked reports whether jti has an unexpired revocation row.
func (s *PostgresStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM token_revocations WHERE jti = $1 AND expires_at > NOW())`,
		jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("revocation: lookup jti: %w", err)
	}
	return revoked, nil
}

// Revoke records a revocation. Revoking twice keeps the earliest
// revoked_at and the widest expiry.
func (s *PostgresStore) Revoke(ctx context.Context, rev contracts.TokenRevocation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_revocations (jti, reason, revoked_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (jti) DO UPDATE SET
			expires_at = GREATEST(token_revocations.expires_at, EXCLUDED.expires_at)
	`, rev.JTI, rev.Reason, rev.RevokedAt, rev.ExpiresAt)
	if err != nil {
		return fmt.Errorf("revocation: revoke jti: %w", err)
	}
	return nil
}
