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
)

// MetaRepo implements storage.MetaRepository on SQLite. The table holds a
// single row keyed by id=1, upserted on every write.
type MetaRepo struct {
	db *DB
}

// NewMetaRepo creates a new pipeline-metadata repository.
func NewMetaRepo(db *DB) *MetaRepo {
	return &MetaRepo{db: db}
}

type metaRow struct {
	LastCheckAt    sql.NullTime `db:"last_check_at"`
	CacheBuiltAt   sql.NullTime `db:"cache_built_at"`
	LastDigestAt   sql.NullTime `db:"last_digest_at"`
	LocationCounts string       `db:"location_counts"`
}

// Get retrieves the metadata row, zero-valued when not yet written.
func (r *MetaRepo) Get(ctx context.Context) (*domain.PipelineMeta, error) {
	var row metaRow
	err := r.db.GetContext(ctx, &row,
		`SELECT last_check_at, cache_built_at, last_digest_at, location_counts FROM pipeline_meta WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.PipelineMeta{LocationCounts: map[string]int64{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline meta: %w", err)
	}

	meta := &domain.PipelineMeta{
		LastCheckAt:    row.LastCheckAt.Time,
		CacheBuiltAt:   row.CacheBuiltAt.Time,
		LastDigestAt:   row.LastDigestAt.Time,
		LocationCounts: map[string]int64{},
	}
	if row.LocationCounts != "" {
		if err := json.Unmarshal([]byte(row.LocationCounts), &meta.LocationCounts); err != nil {
			return nil, fmt.Errorf("failed to decode location counts: %w", err)
		}
	}
	return meta, nil
}

// TouchLastCheck stamps the end of a poll cycle.
func (r *MetaRepo) TouchLastCheck(ctx context.Context, at time.Time) error {
	return r.upsertTime(ctx, "last_check_at", at)
}

// TouchLastDigest stamps the last error digest emission.
func (r *MetaRepo) TouchLastDigest(ctx context.Context, at time.Time) error {
	return r.upsertTime(ctx, "last_digest_at", at)
}

// TouchCacheBuilt stamps when the hot dedup cache came online.
func (r *MetaRepo) TouchCacheBuilt(ctx context.Context, at time.Time) error {
	return r.upsertTime(ctx, "cache_built_at", at)
}

func (r *MetaRepo) upsertTime(ctx context.Context, column string, at time.Time) error {
	// column comes from the callers above, never from input
	query := fmt.Sprintf(`
		INSERT INTO pipeline_meta (id, %s) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET %s = excluded.%s
	`, column, column, column)
	if _, err := r.db.ExecContext(ctx, query, at.UTC()); err != nil {
		return fmt.Errorf("failed to update pipeline meta %s: %w", column, err)
	}
	return nil
}

// IncrementLocationCount bumps the cumulative delivered count for a
// location. Read-modify-write of the JSON map runs in one transaction.
func (r *MetaRepo) IncrementLocationCount(ctx context.Context, location string, delta int64) error {
	return r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		var raw string
		err := tx.GetContext(ctx, &raw, `SELECT location_counts FROM pipeline_meta WHERE id = 1`)
		if errors.Is(err, sql.ErrNoRows) {
			raw = "{}"
		} else if err != nil {
			return fmt.Errorf("failed to load location counts: %w", err)
		}

		counts := map[string]int64{}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &counts); err != nil {
				return fmt.Errorf("failed to decode location counts: %w", err)
			}
		}
		counts[location] += delta

		encoded, err := json.Marshal(counts)
		if err != nil {
			return fmt.Errorf("failed to encode location counts: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO pipeline_meta (id, location_counts) VALUES (1, ?)
			ON CONFLICT (id) DO UPDATE SET location_counts = excluded.location_counts
		`, string(encoded))
		if err != nil {
			return fmt.Errorf("failed to update location counts: %w", err)
		}
		return nil
	})
}
