package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/crmsync/leadrelay/internal/core/domain"
	"github.com/crmsync/leadrelay/internal/infra/storage"
)

// DeadLetterRepo implements storage.DeadLetterRepository on SQLite.
type DeadLetterRepo struct {
	db *DB
}

// NewDeadLetterRepo creates a new dead-letter repository.
func NewDeadLetterRepo(db *DB) *DeadLetterRepo {
	return &DeadLetterRepo{db: db}
}

type deadLetterRow struct {
	Fingerprint   string    `db:"fingerprint"`
	Payload       string    `db:"payload"`
	Tenant        string    `db:"tenant"`
	AttemptCount  int       `db:"attempt_count"`
	LastError     string    `db:"last_error"`
	ErrorHistory  string    `db:"error_history"`
	FirstFailedAt time.Time `db:"first_failed_at"`
	LastAttemptAt time.Time `db:"last_attempt_at"`
	DeadAt        time.Time `db:"dead_at"`
}

func (row deadLetterRow) toDomain() (*domain.DeadLetter, error) {
	dl := &domain.DeadLetter{
		Fingerprint:   row.Fingerprint,
		Tenant:        row.Tenant,
		AttemptCount:  row.AttemptCount,
		FirstFailedAt: row.FirstFailedAt,
		LastAttemptAt: row.LastAttemptAt,
		DeadAt:        row.DeadAt,
	}
	if err := json.Unmarshal([]byte(row.Payload), &dl.Lead); err != nil {
		return nil, fmt.Errorf("failed to decode dead letter payload: %w", err)
	}
	if err := json.Unmarshal([]byte(row.ErrorHistory), &dl.ErrorHistory); err != nil {
		return nil, fmt.Errorf("failed to decode dead letter history: %w", err)
	}
	return dl, nil
}

// Promote moves a queued failure into the dead letter table. Delete and
// insert run in one transaction, so a crash between statements can never
// leave the fingerprint in both tables or in neither.
func (r *DeadLetterRepo) Promote(ctx context.Context, fp string) error {
	return r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		var row failureRow
		err := tx.GetContext(ctx, &row,
			`SELECT fingerprint, payload, tenant, attempt_count, last_error, error_history, first_failed_at, last_attempt_at
			 FROM queued_failures WHERE fingerprint = ?`, fp)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", storage.ErrNotQueued, fp)
		}
		if err != nil {
			return fmt.Errorf("failed to load queued failure for promotion: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO dead_letters
				(fingerprint, payload, tenant, attempt_count, last_error, error_history, first_failed_at, last_attempt_at, dead_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.Fingerprint, row.Payload, row.Tenant, row.AttemptCount,
			row.LastError, row.ErrorHistory, row.FirstFailedAt, row.LastAttemptAt, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to insert dead letter: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM queued_failures WHERE fingerprint = ?`, fp); err != nil {
			return fmt.Errorf("failed to delete promoted failure: %w", err)
		}
		return nil
	})
}

// Requeue moves a dead letter back into the failure queue for another round
// of attempts. The attempt count and history travel with it unchanged.
func (r *DeadLetterRepo) Requeue(ctx context.Context, fp string) error {
	return r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		var row deadLetterRow
		err := tx.GetContext(ctx, &row,
			`SELECT fingerprint, payload, tenant, attempt_count, last_error, error_history, first_failed_at, last_attempt_at, dead_at
			 FROM dead_letters WHERE fingerprint = ?`, fp)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", storage.ErrNotDeadLettered, fp)
		}
		if err != nil {
			return fmt.Errorf("failed to load dead letter for requeue: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO queued_failures
				(fingerprint, payload, tenant, attempt_count, last_error, error_history, first_failed_at, last_attempt_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			row.Fingerprint, row.Payload, row.Tenant, row.AttemptCount,
			row.LastError, row.ErrorHistory, row.FirstFailedAt, row.LastAttemptAt)
		if err != nil {
			return fmt.Errorf("failed to requeue dead letter: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE fingerprint = ?`, fp); err != nil {
			return fmt.Errorf("failed to delete requeued dead letter: %w", err)
		}
		return nil
	})
}

// RequeueAll moves every dead letter back into the failure queue.
func (r *DeadLetterRepo) RequeueAll(ctx context.Context) (int64, error) {
	var moved int64
	err := r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO queued_failures
				(fingerprint, payload, tenant, attempt_count, last_error, error_history, first_failed_at, last_attempt_at)
			 SELECT fingerprint, payload, tenant, attempt_count, last_error, error_history, first_failed_at, last_attempt_at
			 FROM dead_letters`)
		if err != nil {
			return fmt.Errorf("failed to requeue dead letters: %w", err)
		}
		moved, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters`); err != nil {
			return fmt.Errorf("failed to clear dead letters: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// List returns all dead letters, newest first.
func (r *DeadLetterRepo) List(ctx context.Context) ([]*domain.DeadLetter, error) {
	var rows []deadLetterRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT fingerprint, payload, tenant, attempt_count, last_error, error_history, first_failed_at, last_attempt_at, dead_at
		 FROM dead_letters ORDER BY dead_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	letters := make([]*domain.DeadLetter, 0, len(rows))
	for _, row := range rows {
		dl, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	return letters, nil
}

// Count returns the dead letter depth.
func (r *DeadLetterRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM dead_letters`); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes dead letters moved before the cutoff.
func (r *DeadLetterRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE dead_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep dead letters: %w", err)
	}
	return res.RowsAffected()
}
