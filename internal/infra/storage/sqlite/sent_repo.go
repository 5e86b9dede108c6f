package sqlite

import (
	"context"
	"fmt"
	"time"
)

// SentRepo implements storage.SentRepository on SQLite.
type SentRepo struct {
	db *DB
}

// NewSentRepo creates a new sent-record repository.
func NewSentRepo(db *DB) *SentRepo {
	return &SentRepo{db: db}
}

// Exists reports whether a fingerprint has already been delivered.
func (r *SentRepo) Exists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM sent_records WHERE fingerprint = ?)`
	if err := r.db.GetContext(ctx, &exists, query, fingerprint); err != nil {
		return false, fmt.Errorf("failed to check sent record: %w", err)
	}
	return exists, nil
}

// RecordSent marks a fingerprint delivered. INSERT OR IGNORE makes the call
// idempotent: a duplicate fingerprint leaves the original row untouched.
func (r *SentRepo) RecordSent(ctx context.Context, fingerprint, location string) error {
	query := `
		INSERT OR IGNORE INTO sent_records (fingerprint, location, created_at)
		VALUES (?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query, fingerprint, location, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record sent fingerprint: %w", err)
	}
	return nil
}

// DeleteOlderThan removes sent records created before the cutoff.
func (r *SentRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sent_records WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sent records: %w", err)
	}
	return res.RowsAffected()
}
