package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crmsync/leadrelay/internal/core/domain"
	"github.com/crmsync/leadrelay/internal/infra/storage"
)

func errInfo(kind string) domain.ErrorInfo {
	return domain.ErrorInfo{Kind: kind, Message: kind, OccurredAt: time.Now().UTC()}
}

func TestRecordSentIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.Sent().RecordSent(ctx, "fp-1", "sheet/tab"); err != nil {
		t.Fatalf("RecordSent() error: %v", err)
	}
	if err := s.Sent().RecordSent(ctx, "fp-1", "other/tab"); err != nil {
		t.Fatalf("second RecordSent() error: %v", err)
	}

	exists, err := s.Sent().Exists(ctx, "fp-1")
	if err != nil || !exists {
		t.Errorf("Exists() = (%v, %v), want (true, nil)", exists, err)
	}
	// Original location wins; the duplicate insert is a no-op.
	if s.sent["fp-1"].Location != "sheet/tab" {
		t.Errorf("duplicate RecordSent must not overwrite, got location %s", s.sent["fp-1"].Location)
	}
}

func TestEnqueueThenIncrement(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	lead := domain.Lead{Email: "jane@example.com"}

	if err := s.Failures().Enqueue(ctx, "fp-1", lead, "acme", errInfo("server_error")); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	count, err := s.Failures().Increment(ctx, "fp-1", errInfo("api_rate_limited"))
	if err != nil {
		t.Fatalf("Increment() error: %v", err)
	}
	if count != 2 {
		t.Errorf("Increment() = %d, want 2", count)
	}

	qf, err := s.Failures().Get(ctx, "fp-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(qf.ErrorHistory) != 2 {
		t.Errorf("error history length = %d, want 2", len(qf.ErrorHistory))
	}
	if qf.LastError.Kind != "api_rate_limited" {
		t.Errorf("last error kind = %s, want api_rate_limited", qf.LastError.Kind)
	}

	// Fingerprint must be absent from sent and dead letter tables.
	if exists, _ := s.Sent().Exists(ctx, "fp-1"); exists {
		t.Errorf("queued fingerprint must not appear in sent records")
	}
	if n, _ := s.DeadLetters().Count(ctx); n != 0 {
		t.Errorf("queued fingerprint must not appear in dead letters")
	}
}

func TestEnqueueTwiceIsProgrammingError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	lead := domain.Lead{Email: "jane@example.com"}

	if err := s.Failures().Enqueue(ctx, "fp-1", lead, "acme", errInfo("server_error")); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	err := s.Failures().Enqueue(ctx, "fp-1", lead, "acme", errInfo("server_error"))
	if !errors.Is(err, storage.ErrAlreadyQueued) {
		t.Errorf("second Enqueue() = %v, want ErrAlreadyQueued", err)
	}
}

func TestIncrementWithoutEnqueue(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if _, err := s.Failures().Increment(ctx, "missing", errInfo("server_error")); !errors.Is(err, storage.ErrNotQueued) {
		t.Errorf("Increment() on missing fingerprint = %v, want ErrNotQueued", err)
	}
}

func TestPromoteAndRequeueRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	lead := domain.Lead{Email: "jane@example.com"}

	if err := s.Failures().Enqueue(ctx, "fp-1", lead, "acme", errInfo("server_error")); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := s.Failures().Increment(ctx, "fp-1", errInfo("server_error")); err != nil {
			t.Fatalf("Increment() error: %v", err)
		}
	}

	if err := s.DeadLetters().Promote(ctx, "fp-1"); err != nil {
		t.Fatalf("Promote() error: %v", err)
	}
	if n, _ := s.Failures().Count(ctx); n != 0 {
		t.Errorf("promoted fingerprint must leave the failure queue")
	}
	if n, _ := s.DeadLetters().Count(ctx); n != 1 {
		t.Errorf("dead letter count = %d, want 1", n)
	}

	if err := s.DeadLetters().Requeue(ctx, "fp-1"); err != nil {
		t.Fatalf("Requeue() error: %v", err)
	}
	if n, _ := s.DeadLetters().Count(ctx); n != 0 {
		t.Errorf("requeued fingerprint must leave the dead letter table")
	}

	qf, err := s.Failures().Get(ctx, "fp-1")
	if err != nil {
		t.Fatalf("Get() after requeue error: %v", err)
	}
	if qf.AttemptCount != 5 {
		t.Errorf("attempt count after round trip = %d, want 5", qf.AttemptCount)
	}
	if len(qf.ErrorHistory) != 5 {
		t.Errorf("error history after round trip = %d entries, want 5", len(qf.ErrorHistory))
	}
}

func TestPromoteMissingFingerprint(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.DeadLetters().Promote(ctx, "missing"); !errors.Is(err, storage.ErrNotQueued) {
		t.Errorf("Promote() on missing fingerprint = %v, want ErrNotQueued", err)
	}
}

func TestSentRetentionSweep(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_ = s.Sent().RecordSent(ctx, "old", "a")
	_ = s.Sent().RecordSent(ctx, "new", "a")
	rec := s.sent["old"]
	rec.CreatedAt = time.Now().Add(-120 * 24 * time.Hour)
	s.sent["old"] = rec

	removed, err := s.Sent().DeleteOlderThan(ctx, time.Now().Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("sweep removed %d records, want 1", removed)
	}
	if exists, _ := s.Sent().Exists(ctx, "new"); !exists {
		t.Errorf("sweep must leave records newer than the cutoff")
	}
}

func TestLocationCounts(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_ = s.Meta().IncrementLocationCount(ctx, "sheet/tab", 1)
	_ = s.Meta().IncrementLocationCount(ctx, "sheet/tab", 2)

	meta, err := s.Meta().Get(ctx)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if meta.LocationCounts["sheet/tab"] != 3 {
		t.Errorf("location count = %d, want 3", meta.LocationCounts["sheet/tab"])
	}
}
