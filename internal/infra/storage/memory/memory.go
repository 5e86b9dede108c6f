// Package memory provides an in-memory store for dev mode and tests.
// Semantics mirror the sqlite package, including the one-table-at-a-time
// invariant for a fingerprint.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crmsync/leadrelay/internal/core/domain"
	"github.com/crmsync/leadrelay/internal/infra/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu          sync.Mutex
	sent        map[string]domain.SentRecord
	failures    map[string]*domain.QueuedFailure
	deadLetters map[string]*domain.DeadLetter
	meta        domain.PipelineMeta
	sessions    map[string]time.Time
	tokens      map[string]time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		sent:        make(map[string]domain.SentRecord),
		failures:    make(map[string]*domain.QueuedFailure),
		deadLetters: make(map[string]*domain.DeadLetter),
		meta:        domain.PipelineMeta{LocationCounts: map[string]int64{}},
		sessions:    make(map[string]time.Time),
		tokens:      make(map[string]time.Time),
	}
}

func (s *Store) Sent() storage.SentRepository              { return (*sentRepo)(s) }
func (s *Store) Failures() storage.FailureRepository       { return (*failureRepo)(s) }
func (s *Store) DeadLetters() storage.DeadLetterRepository { return (*deadLetterRepo)(s) }
func (s *Store) Meta() storage.MetaRepository              { return (*metaRepo)(s) }
func (s *Store) Sessions() storage.SessionRepository       { return (*sessionRepo)(s) }

func (s *Store) Health(ctx context.Context) error { return nil }
func (s *Store) Close() error                     { return nil }

type sentRepo Store

func (r *sentRepo) Exists(ctx context.Context, fingerprint string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sent[fingerprint]
	return ok, nil
}

func (r *sentRepo) RecordSent(ctx context.Context, fingerprint, location string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sent[fingerprint]; ok {
		return nil
	}
	r.sent[fingerprint] = domain.SentRecord{
		Fingerprint: fingerprint,
		Location:    location,
		CreatedAt:   time.Now().UTC(),
	}
	return nil
}

func (r *sentRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for fp, rec := range r.sent {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.sent, fp)
			removed++
		}
	}
	return removed, nil
}

type failureRepo Store

func (r *failureRepo) Enqueue(
	ctx context.Context,
	fp string,
	lead domain.Lead,
	tenant string,
	errInfo domain.ErrorInfo,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.failures[fp]; ok {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyQueued, fp)
	}
	now := time.Now().UTC()
	r.failures[fp] = &domain.QueuedFailure{
		Fingerprint:   fp,
		Lead:          lead,
		Tenant:        tenant,
		AttemptCount:  1,
		LastError:     errInfo,
		ErrorHistory:  []domain.ErrorInfo{errInfo},
		FirstFailedAt: now,
		LastAttemptAt: now,
	}
	return nil
}

func (r *failureRepo) Increment(ctx context.Context, fp string, errInfo domain.ErrorInfo) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	qf, ok := r.failures[fp]
	if !ok {
		return 0, fmt.Errorf("%w: %s", storage.ErrNotQueued, fp)
	}
	qf.AttemptCount++
	qf.LastError = errInfo
	qf.ErrorHistory = append(qf.ErrorHistory, errInfo)
	qf.LastAttemptAt = time.Now().UTC()
	return qf.AttemptCount, nil
}

func (r *failureRepo) Get(ctx context.Context, fp string) (*domain.QueuedFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	qf, ok := r.failures[fp]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotQueued, fp)
	}
	cp := *qf
	return &cp, nil
}

func (r *failureRepo) List(ctx context.Context) ([]*domain.QueuedFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.QueuedFailure, 0, len(r.failures))
	for _, qf := range r.failures {
		cp := *qf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAttemptAt.Before(out[j].LastAttemptAt)
	})
	return out, nil
}

func (r *failureRepo) Remove(ctx context.Context, fp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, fp)
	return nil
}

func (r *failureRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures), nil
}

type deadLetterRepo Store

func (r *deadLetterRepo) Promote(ctx context.Context, fp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	qf, ok := r.failures[fp]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotQueued, fp)
	}
	r.deadLetters[fp] = &domain.DeadLetter{
		Fingerprint:   qf.Fingerprint,
		Lead:          qf.Lead,
		Tenant:        qf.Tenant,
		AttemptCount:  qf.AttemptCount,
		ErrorHistory:  append([]domain.ErrorInfo(nil), qf.ErrorHistory...),
		FirstFailedAt: qf.FirstFailedAt,
		LastAttemptAt: qf.LastAttemptAt,
		DeadAt:        time.Now().UTC(),
	}
	delete(r.failures, fp)
	return nil
}

func (r *deadLetterRepo) Requeue(ctx context.Context, fp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dl, ok := r.deadLetters[fp]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotDeadLettered, fp)
	}
	r.failures[fp] = &domain.QueuedFailure{
		Fingerprint:   dl.Fingerprint,
		Lead:          dl.Lead,
		Tenant:        dl.Tenant,
		AttemptCount:  dl.AttemptCount,
		ErrorHistory:  append([]domain.ErrorInfo(nil), dl.ErrorHistory...),
		FirstFailedAt: dl.FirstFailedAt,
		LastAttemptAt: dl.LastAttemptAt,
	}
	if n := len(dl.ErrorHistory); n > 0 {
		r.failures[fp].LastError = dl.ErrorHistory[n-1]
	}
	delete(r.deadLetters, fp)
	return nil
}

func (r *deadLetterRepo) RequeueAll(ctx context.Context) (int64, error) {
	r.mu.Lock()
	fps := make([]string, 0, len(r.deadLetters))
	for fp := range r.deadLetters {
		fps = append(fps, fp)
	}
	r.mu.Unlock()

	for _, fp := range fps {
		if err := r.Requeue(ctx, fp); err != nil {
			return int64(len(fps)), err
		}
	}
	return int64(len(fps)), nil
}

func (r *deadLetterRepo) List(ctx context.Context) ([]*domain.DeadLetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.DeadLetter, 0, len(r.deadLetters))
	for _, dl := range r.deadLetters {
		cp := *dl
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DeadAt.After(out[j].DeadAt)
	})
	return out, nil
}

func (r *deadLetterRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deadLetters), nil
}

func (r *deadLetterRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for fp, dl := range r.deadLetters {
		if dl.DeadAt.Before(cutoff) {
			delete(r.deadLetters, fp)
			removed++
		}
	}
	return removed, nil
}

type metaRepo Store

func (r *metaRepo) Get(ctx context.Context) (*domain.PipelineMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := r.meta
	cp.LocationCounts = make(map[string]int64, len(r.meta.LocationCounts))
	for k, v := range r.meta.LocationCounts {
		cp.LocationCounts[k] = v
	}
	return &cp, nil
}

func (r *metaRepo) TouchLastCheck(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.LastCheckAt = at
	return nil
}

func (r *metaRepo) TouchLastDigest(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.LastDigestAt = at
	return nil
}

func (r *metaRepo) TouchCacheBuilt(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.CacheBuiltAt = at
	return nil
}

func (r *metaRepo) IncrementLocationCount(ctx context.Context, location string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.LocationCounts[location] += delta
	return nil
}

type sessionRepo Store

func (r *sessionRepo) DeleteSessionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, created := range r.sessions {
		if created.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (r *sessionRepo) DeleteTokensOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, created := range r.tokens {
		if created.Before(cutoff) {
			delete(r.tokens, id)
			removed++
		}
	}
	return removed, nil
}
