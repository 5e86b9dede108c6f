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

// FailureRepo implements storage.FailureRepository on SQLite.
type FailureRepo struct {
	db *DB
}

// NewFailureRepo creates a new queued-failure repository.
func NewFailureRepo(db *DB) *FailureRepo {
	return &FailureRepo{db: db}
}

type failureRow struct {
	Fingerprint   string    `db:"fingerprint"`
	Payload       string    `db:"payload"`
	Tenant        string    `db:"tenant"`
	AttemptCount  int       `db:"attempt_count"`
	LastError     string    `db:"last_error"`
	ErrorHistory  string    `db:"error_history"`
	FirstFailedAt time.Time `db:"first_failed_at"`
	LastAttemptAt time.Time `db:"last_attempt_at"`
}

func (row failureRow) toDomain() (*domain.QueuedFailure, error) {
	qf := &domain.QueuedFailure{
		Fingerprint:   row.Fingerprint,
		Tenant:        row.Tenant,
		AttemptCount:  row.AttemptCount,
		FirstFailedAt: row.FirstFailedAt,
		LastAttemptAt: row.LastAttemptAt,
	}
	if err := json.Unmarshal([]byte(row.Payload), &qf.Lead); err != nil {
		return nil, fmt.Errorf("failed to decode queued payload: %w", err)
	}
	if err := json.Unmarshal([]byte(row.LastError), &qf.LastError); err != nil {
		return nil, fmt.Errorf("failed to decode last error: %w", err)
	}
	if err := json.Unmarshal([]byte(row.ErrorHistory), &qf.ErrorHistory); err != nil {
		return nil, fmt.Errorf("failed to decode error history: %w", err)
	}
	return qf, nil
}

// Enqueue creates the first queued failure for a fingerprint. A second
// enqueue for the same fingerprint is a programming error upstream, so it
// is rejected with ErrAlreadyQueued instead of silently merged.
func (r *FailureRepo) Enqueue(
	ctx context.Context,
	fp string,
	lead domain.Lead,
	tenant string,
	errInfo domain.ErrorInfo,
) error {
	payload, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	lastErr, err := json.Marshal(errInfo)
	if err != nil {
		return fmt.Errorf("failed to encode error info: %w", err)
	}
	history, err := json.Marshal([]domain.ErrorInfo{errInfo})
	if err != nil {
		return fmt.Errorf("failed to encode error history: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO queued_failures
			(fingerprint, payload, tenant, attempt_count, last_error, error_history, first_failed_at, last_attempt_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, fp, string(payload), tenant, string(lastErr), string(history), now, now)
	if err != nil {
		return fmt.Errorf("failed to enqueue failure: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyQueued, fp)
	}
	return nil
}

// Increment records a repeat failure and returns the new attempt count. The
// read-append-write runs in one transaction so the history never loses an
// entry under a crash between statements.
func (r *FailureRepo) Increment(ctx context.Context, fp string, errInfo domain.ErrorInfo) (int, error) {
	var newCount int
	err := r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		var row failureRow
		err := tx.GetContext(ctx, &row,
			`SELECT fingerprint, payload, tenant, attempt_count, last_error, error_history, first_failed_at, last_attempt_at
			 FROM queued_failures WHERE fingerprint = ?`, fp)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", storage.ErrNotQueued, fp)
		}
		if err != nil {
			return fmt.Errorf("failed to load queued failure: %w", err)
		}

		var history []domain.ErrorInfo
		if err := json.Unmarshal([]byte(row.ErrorHistory), &history); err != nil {
			return fmt.Errorf("failed to decode error history: %w", err)
		}
		history = append(history, errInfo)

		lastErr, err := json.Marshal(errInfo)
		if err != nil {
			return fmt.Errorf("failed to encode error info: %w", err)
		}
		historyJSON, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("failed to encode error history: %w", err)
		}

		newCount = row.AttemptCount + 1
		_, err = tx.ExecContext(ctx,
			`UPDATE queued_failures
			 SET attempt_count = ?, last_error = ?, error_history = ?, last_attempt_at = ?
			 WHERE fingerprint = ?`,
			newCount, string(lastErr), string(historyJSON), time.Now().UTC(), fp)
		if err != nil {
			return fmt.Errorf("failed to update queued failure: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newCount, nil
}

// Get retrieves one queued failure.
func (r *FailureRepo) Get(ctx context.Context, fp string) (*domain.QueuedFailure, error) {
	var row failureRow
	err := r.db.GetContext(ctx, &row,
		`SELECT fingerprint, payload, tenant, attempt_count, last_error, error_history, first_failed_at, last_attempt_at
		 FROM queued_failures WHERE fingerprint = ?`, fp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotQueued, fp)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queued failure: %w", err)
	}
	return row.toDomain()
}

// List returns all queued failures, oldest attempt first.
func (r *FailureRepo) List(ctx context.Context) ([]*domain.QueuedFailure, error) {
	var rows []failureRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT fingerprint, payload, tenant, attempt_count, last_error, error_history, first_failed_at, last_attempt_at
		 FROM queued_failures ORDER BY last_attempt_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued failures: %w", err)
	}

	failures := make([]*domain.QueuedFailure, 0, len(rows))
	for _, row := range rows {
		qf, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		failures = append(failures, qf)
	}
	return failures, nil
}

// Remove deletes a queued failure after a successful delivery.
func (r *FailureRepo) Remove(ctx context.Context, fp string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM queued_failures WHERE fingerprint = ?`, fp); err != nil {
		return fmt.Errorf("failed to remove queued failure: %w", err)
	}
	return nil
}

// Count returns the queue depth.
func (r *FailureRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM queued_failures`); err != nil {
		return 0, fmt.Errorf("failed to count queued failures: %w", err)
	}
	return count, nil
}
