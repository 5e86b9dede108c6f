package storage

import (
	"context"
	"errors"
	"time"

	"github.com/crmsync/leadrelay/internal/core/domain"
)

var (
	// ErrAlreadyQueued is returned by EnqueueFailure when the fingerprint
	// already has a queued failure; the correct call is IncrementFailure.
	ErrAlreadyQueued = errors.New("failure already queued for fingerprint")

	// ErrNotQueued is returned when a fingerprint has no queued failure.
	ErrNotQueued = errors.New("no queued failure for fingerprint")

	// ErrNotDeadLettered is returned when a fingerprint has no dead letter.
	ErrNotDeadLettered = errors.New("no dead letter for fingerprint")
)

// SentRepository handles delivered-lead bookkeeping
type SentRepository interface {
	// Exists reports whether a fingerprint has already been delivered
	Exists(ctx context.Context, fingerprint string) (bool, error)

	// RecordSent marks a fingerprint delivered. Idempotent: recording a
	// duplicate fingerprint is a no-op, not an error
	RecordSent(ctx context.Context, fingerprint, location string) error

	// DeleteOlderThan removes sent records created before the cutoff,
	// returning the number removed
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// FailureRepository handles the transient-failure retry queue
type FailureRepository interface {
	// Enqueue creates the first queued failure for a fingerprint.
	// Returns ErrAlreadyQueued when one already exists
	Enqueue(ctx context.Context, fp string, lead domain.Lead, tenant string, errInfo domain.ErrorInfo) error

	// Increment records a repeat failure, appending to the error history,
	// and returns the resulting attempt count
	Increment(ctx context.Context, fp string, errInfo domain.ErrorInfo) (int, error)

	// Get retrieves one queued failure
	Get(ctx context.Context, fp string) (*domain.QueuedFailure, error)

	// List returns all queued failures, oldest attempt first
	List(ctx context.Context) ([]*domain.QueuedFailure, error)

	// Remove deletes a queued failure after a successful delivery
	Remove(ctx context.Context, fp string) error

	// Count returns the queue depth
	Count(ctx context.Context) (int, error)
}

// DeadLetterRepository handles retired failures
type DeadLetterRepository interface {
	// Promote atomically moves a queued failure into the dead letter
	// table with its full history. Returns ErrNotQueued when the
	// fingerprint is absent from the queue
	Promote(ctx context.Context, fp string) error

	// Requeue moves a dead letter back into the failure queue, attempt
	// count preserved. Returns ErrNotDeadLettered when absent
	Requeue(ctx context.Context, fp string) error

	// RequeueAll moves every dead letter back, returning how many moved
	RequeueAll(ctx context.Context) (int64, error)

	// List returns all dead letters, newest first
	List(ctx context.Context) ([]*domain.DeadLetter, error)

	// Count returns the dead letter depth
	Count(ctx context.Context) (int, error)

	// DeleteOlderThan removes dead letters moved before the cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MetaRepository handles the single pipeline bookkeeping row
type MetaRepository interface {
	// Get retrieves the metadata row, zero-valued when not yet written
	Get(ctx context.Context) (*domain.PipelineMeta, error)

	// TouchLastCheck stamps the end of a poll cycle
	TouchLastCheck(ctx context.Context, at time.Time) error

	// TouchLastDigest stamps the last error digest emission
	TouchLastDigest(ctx context.Context, at time.Time) error

	// TouchCacheBuilt stamps when the hot dedup cache came online
	TouchCacheBuilt(ctx context.Context, at time.Time) error

	// IncrementLocationCount bumps the cumulative delivered count for a location
	IncrementLocationCount(ctx context.Context, location string, delta int64) error
}

// SessionRepository sweeps the auxiliary expiring tables owned by the web
// layer. Opaque to the pipeline beyond retention.
type SessionRepository interface {
	// DeleteSessionsOlderThan removes expired dashboard sessions
	DeleteSessionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteTokensOlderThan removes expired API tokens
	DeleteTokensOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store bundles every repository backed by one durable file.
type Store interface {
	Sent() SentRepository
	Failures() FailureRepository
	DeadLetters() DeadLetterRepository
	Meta() MetaRepository
	Sessions() SessionRepository

	// Health checks the underlying connection
	Health(ctx context.Context) error

	// Close releases the underlying connection
	Close() error
}
