package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/crmsync/leadrelay/internal/core/domain"
	"github.com/crmsync/leadrelay/internal/infra/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), Config{
		Path: filepath.Join(t.TempDir(), "relay.db"),
	})
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testErrorInfo() domain.ErrorInfo {
	return domain.ErrorInfo{
		Kind:       "server_unavailable",
		Message:    "upstream down",
		StatusCode: 503,
		OccurredAt: time.Now().UTC(),
	}
}

func TestRecordSentIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Sent().RecordSent(ctx, "fp-1", "sheet-1/Leads"); err != nil {
		t.Fatalf("RecordSent() error: %v", err)
	}
	if err := store.Sent().RecordSent(ctx, "fp-1", "sheet-1/Leads"); err != nil {
		t.Fatalf("duplicate RecordSent() error: %v", err)
	}

	exists, err := store.Sent().Exists(ctx, "fp-1")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if !exists {
		t.Errorf("recorded fingerprint must exist")
	}

	removed, err := store.Sent().DeleteOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1 row despite two RecordSent calls", removed)
	}
}

func TestPromoteRequeuePreservesHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lead := domain.Lead{Email: "a@example.com", FirstName: "Jane", LastName: "Doe"}

	if err := store.Failures().Enqueue(ctx, "fp-1", lead, "acme", testErrorInfo()); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := store.Failures().Enqueue(ctx, "fp-1", lead, "acme", testErrorInfo()); !errors.Is(err, storage.ErrAlreadyQueued) {
		t.Fatalf("second Enqueue() = %v, want ErrAlreadyQueued", err)
	}
	count, err := store.Failures().Increment(ctx, "fp-1", testErrorInfo())
	if err != nil {
		t.Fatalf("Increment() error: %v", err)
	}
	if count != 2 {
		t.Fatalf("attempt count = %d, want 2", count)
	}

	if err := store.DeadLetters().Promote(ctx, "fp-1"); err != nil {
		t.Fatalf("Promote() error: %v", err)
	}
	if _, err := store.Failures().Get(ctx, "fp-1"); !errors.Is(err, storage.ErrNotQueued) {
		t.Errorf("promoted fingerprint still queued: %v", err)
	}
	letters, err := store.DeadLetters().List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("dead letter count = %d, want 1", len(letters))
	}
	if letters[0].AttemptCount != 2 {
		t.Errorf("dead letter attempt count = %d, want 2", letters[0].AttemptCount)
	}
	if len(letters[0].ErrorHistory) != 2 {
		t.Errorf("dead letter history length = %d, want 2", len(letters[0].ErrorHistory))
	}
	if letters[0].Lead.Email != lead.Email {
		t.Errorf("dead letter payload email = %q, want %q", letters[0].Lead.Email, lead.Email)
	}

	if err := store.DeadLetters().Requeue(ctx, "fp-1"); err != nil {
		t.Fatalf("Requeue() error: %v", err)
	}
	qf, err := store.Failures().Get(ctx, "fp-1")
	if err != nil {
		t.Fatalf("Get() after requeue error: %v", err)
	}
	if qf.AttemptCount != 2 {
		t.Errorf("requeued attempt count = %d, want 2", qf.AttemptCount)
	}
	if n, _ := store.DeadLetters().Count(ctx); n != 0 {
		t.Errorf("requeued fingerprint still dead-lettered")
	}

	if err := store.DeadLetters().Requeue(ctx, "fp-1"); !errors.Is(err, storage.ErrNotDeadLettered) {
		t.Errorf("Requeue() on missing fingerprint = %v, want ErrNotDeadLettered", err)
	}
}

func TestSweepCutoffs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Sent().RecordSent(ctx, "fp-sent", "sheet-1/Leads"); err != nil {
		t.Fatalf("RecordSent() error: %v", err)
	}
	if err := store.Failures().Enqueue(ctx, "fp-dead", domain.Lead{Email: "b@example.com"}, "acme", testErrorInfo()); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := store.DeadLetters().Promote(ctx, "fp-dead"); err != nil {
		t.Fatalf("Promote() error: %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	if removed, err := store.Sent().DeleteOlderThan(ctx, past); err != nil || removed != 0 {
		t.Errorf("sent sweep before cutoff removed %d (err %v), want 0", removed, err)
	}
	if removed, err := store.DeadLetters().DeleteOlderThan(ctx, past); err != nil || removed != 0 {
		t.Errorf("dead letter sweep before cutoff removed %d (err %v), want 0", removed, err)
	}

	if removed, err := store.Sent().DeleteOlderThan(ctx, future); err != nil || removed != 1 {
		t.Errorf("sent sweep removed %d (err %v), want 1", removed, err)
	}
	if removed, err := store.DeadLetters().DeleteOlderThan(ctx, future); err != nil || removed != 1 {
		t.Errorf("dead letter sweep removed %d (err %v), want 1", removed, err)
	}

	if exists, _ := store.Sent().Exists(ctx, "fp-sent"); exists {
		t.Errorf("swept fingerprint must not exist")
	}
}

func TestMetaRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := store.Meta().TouchLastCheck(ctx, now); err != nil {
		t.Fatalf("TouchLastCheck() error: %v", err)
	}
	if err := store.Meta().IncrementLocationCount(ctx, "sheet-1/Leads", 2); err != nil {
		t.Fatalf("IncrementLocationCount() error: %v", err)
	}
	if err := store.Meta().IncrementLocationCount(ctx, "sheet-1/Leads", 1); err != nil {
		t.Fatalf("IncrementLocationCount() error: %v", err)
	}

	meta, err := store.Meta().Get(ctx)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !meta.LastCheckAt.Equal(now) {
		t.Errorf("LastCheckAt = %v, want %v", meta.LastCheckAt, now)
	}
	if meta.LocationCounts["sheet-1/Leads"] != 3 {
		t.Errorf("location count = %d, want 3", meta.LocationCounts["sheet-1/Leads"])
	}
}
