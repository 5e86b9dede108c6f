package sqlite

import (
	"context"
	"fmt"
	"time"
)

// SessionRepo sweeps the auxiliary web-layer tables. The pipeline never
// reads or writes their contents.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new auxiliary-table repository.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// DeleteSessionsOlderThan removes expired dashboard sessions.
func (r *SessionRepo) DeleteSessionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTokensOlderThan removes expired API tokens.
func (r *SessionRepo) DeleteTokensOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep tokens: %w", err)
	}
	return res.RowsAffected()
}
