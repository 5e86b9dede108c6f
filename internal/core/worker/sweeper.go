package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/crmsync/leadrelay/internal/infra/storage"
	"github.com/crmsync/leadrelay/internal/pipeline/metrics"
)

// RetentionConfig holds per-table retention windows. Zero disables a sweep.
type RetentionConfig struct {
	Sent        time.Duration `yaml:"sent"`
	DeadLetters time.Duration `yaml:"dead_letters"`
	Sessions    time.Duration `yaml:"sessions"`
	Tokens      time.Duration `yaml:"tokens"`
}

// DefaultRetention provides the standard windows.
var DefaultRetention = RetentionConfig{
	Sent:        90 * 24 * time.Hour,
	DeadLetters: 90 * 24 * time.Hour,
	Sessions:    7 * 24 * time.Hour,
	Tokens:      24 * time.Hour,
}

// Sweeper deletes expired rows on a schedule. Each table's sweep is
// isolated: one failing must not abort the others.
type Sweeper struct {
	cfg   RetentionConfig
	store storage.Store
}

// NewSweeper creates a new retention sweeper.
func NewSweeper(cfg RetentionConfig, store storage.Store) *Sweeper {
	return &Sweeper{cfg: cfg, store: store}
}

// Start runs the sweep loop until the context is canceled.
func (s *Sweeper) Start(ctx context.Context) {
	interval := s.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial sweep
	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// interval derives the check cadence from the shortest enabled window.
func (s *Sweeper) interval() time.Duration {
	shortest := time.Duration(0)
	for _, w := range []time.Duration{s.cfg.Sent, s.cfg.DeadLetters, s.cfg.Sessions, s.cfg.Tokens} {
		if w > 0 && (shortest == 0 || w < shortest) {
			shortest = w
		}
	}
	if shortest == 0 {
		return time.Hour
	}
	interval := min(shortest/10, time.Hour)
	return max(interval, time.Minute)
}

type sweep struct {
	table  string
	window time.Duration
	run    func(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweep runs every enabled retention sweep once.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	sweeps := []sweep{
		{"sent_records", s.cfg.Sent, s.store.Sent().DeleteOlderThan},
		{"dead_letters", s.cfg.DeadLetters, s.store.DeadLetters().DeleteOlderThan},
		{"sessions", s.cfg.Sessions, s.store.Sessions().DeleteSessionsOlderThan},
		{"tokens", s.cfg.Tokens, s.store.Sessions().DeleteTokensOlderThan},
	}

	for _, sw := range sweeps {
		if sw.window <= 0 {
			continue
		}
		removed, err := sw.run(ctx, now.Add(-sw.window))
		if err != nil {
			metrics.SweepErrors.WithLabelValues(sw.table).Inc()
			slog.Error("Retention sweep failed", "table", sw.table, "error", err)
			continue
		}
		if removed > 0 {
			metrics.SweepDeleted.WithLabelValues(sw.table).Add(float64(removed))
			slog.Info("Retention sweep removed rows", "table", sw.table, "count", removed)
		}
	}
}
