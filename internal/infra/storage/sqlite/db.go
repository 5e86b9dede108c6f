// Package sqlite implements the durable store on a single SQLite file.
// WAL mode gives concurrent readers with a single serialized writer, which
// is all the pipeline needs: one process instance owns one store file.
package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds SQLite connection configuration.
type Config struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	OpenRetries int           `yaml:"open_retries"`
}

// DB wraps the SQLite connection shared by all repositories.
type DB struct {
	*sqlx.DB
}

// NewDB opens (and migrates) the store file. Opening is retried a few times
// with a fixed delay: right after a snapshot restore the file can still be
// contended by the filesystem, and failing the whole process for that would
// be premature. Exhausted retries are fatal to the caller.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.OpenRetries <= 0 {
		cfg.OpenRetries = 3
	}

	dsn := fmt.Sprintf("file:%s?%s", cfg.Path, url.Values{
		"_journal_mode": {"WAL"},
		"_busy_timeout": {fmt.Sprintf("%d", cfg.BusyTimeout.Milliseconds())},
		"_foreign_keys": {"on"},
		"_synchronous":  {"NORMAL"},
	}.Encode())

	var db *sqlx.DB
	backoff := retry.WithMaxRetries(uint64(cfg.OpenRetries), retry.NewConstant(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var openErr error
		db, openErr = sqlx.ConnectContext(ctx, "sqlite3", dsn)
		if openErr != nil {
			slog.Warn("store open failed, retrying", "path", cfg.Path, "error", openErr)
			return retry.RetryableError(openErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", cfg.Path, err)
	}

	// A single writer keeps SQLITE_BUSY out of the write path; readers
	// still run concurrently through WAL snapshots.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{DB: db}, nil
}

func migrate(db *sqlx.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}
	return nil
}

// Health checks if the store is reachable.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// inTx runs fn inside one transaction with commit-on-success and
// rollback-on-error semantics. Every multi-statement state transition in
// this package goes through here.
func (db *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
