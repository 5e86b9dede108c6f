// Package notify collects digest-worthy delivery failures for the external
// notification collaborator. Email delivery itself lives outside this core;
// the default implementation just logs what a mailer would send.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crmsync/leadrelay/internal/core/domain"
)

// Entry is one digest line.
type Entry struct {
	ID          string
	Fingerprint string
	Tenant      string
	Location    string
	Kind        string
	Message     string
	DeadLetter  bool
	At          time.Time
}

// Digest receives failures that deserve operator attention.
type Digest interface {
	// ReportPermanent records a failure no retry will fix
	ReportPermanent(ctx context.Context, fp string, lead domain.Lead, loc domain.Location, errInfo domain.ErrorInfo)

	// ReportDeadLetter records a promotion after the cross-cycle budget
	ReportDeadLetter(ctx context.Context, fp string, tenant string, attempts int, errInfo domain.ErrorInfo)

	// Flush hands accumulated entries to the notification collaborator
	// and clears the buffer, returning what was flushed
	Flush(ctx context.Context) []Entry
}

// LogDigest buffers entries and emits them through slog on flush.
type LogDigest struct {
	mu      sync.Mutex
	entries []Entry
}

// NewLogDigest creates an empty digest buffer.
func NewLogDigest() *LogDigest {
	return &LogDigest{}
}

func (d *LogDigest) ReportPermanent(
	ctx context.Context,
	fp string,
	lead domain.Lead,
	loc domain.Location,
	errInfo domain.ErrorInfo,
) {
	d.add(Entry{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		Location:    loc.String(),
		Kind:        errInfo.Kind,
		Message:     errInfo.Message,
		At:          time.Now().UTC(),
	})
}

func (d *LogDigest) ReportDeadLetter(
	ctx context.Context,
	fp string,
	tenant string,
	attempts int,
	errInfo domain.ErrorInfo,
) {
	d.add(Entry{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		Tenant:      tenant,
		Kind:        errInfo.Kind,
		Message:     errInfo.Message,
		DeadLetter:  true,
		At:          time.Now().UTC(),
	})
}

func (d *LogDigest) add(e Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, e)
}

// Flush logs and clears the buffer.
func (d *LogDigest) Flush(ctx context.Context) []Entry {
	d.mu.Lock()
	flushed := d.entries
	d.entries = nil
	d.mu.Unlock()

	for _, e := range flushed {
		if e.DeadLetter {
			slog.Warn("Dead letter digest entry",
				"fingerprint", e.Fingerprint, "tenant", e.Tenant, "kind", e.Kind, "error", e.Message)
		} else {
			slog.Warn("Permanent failure digest entry",
				"fingerprint", e.Fingerprint, "location", e.Location, "kind", e.Kind, "error", e.Message)
		}
	}
	return flushed
}
