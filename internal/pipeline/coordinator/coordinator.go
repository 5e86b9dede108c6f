// Package coordinator drives the poll cycle: fetch candidates, dedup by
// fingerprint, deliver through the retry engine, and write every outcome
// back to the durable store.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crmsync/leadrelay/internal/core/domain"
	"github.com/crmsync/leadrelay/internal/core/fingerprint"
	"github.com/crmsync/leadrelay/internal/infra/crm"
	"github.com/crmsync/leadrelay/internal/infra/source"
	"github.com/crmsync/leadrelay/internal/infra/storage"
	"github.com/crmsync/leadrelay/internal/notify"
	"github.com/crmsync/leadrelay/internal/pipeline/classify"
	"github.com/crmsync/leadrelay/internal/pipeline/metrics"
	"github.com/crmsync/leadrelay/internal/pipeline/retry"
)

// LocationConfig names one watched tab and the tenant its leads belong to.
type LocationConfig struct {
	SourceID string `yaml:"source_id"`
	TabID    string `yaml:"tab_id"` // resolved to a name when tab_name is empty
	TabName  string `yaml:"tab_name"`
	Tenant   string `yaml:"tenant"`
}

// Config holds coordinator settings.
type Config struct {
	Locations             []LocationConfig
	Tenants               map[string]domain.Tenant
	PollInterval          time.Duration
	Concurrency           int
	Retry                 retry.Config
	MaxCrossCycleAttempts int
	// ScopedFingerprints mixes the source id into the dedup key. Off by
	// default: the same human lead reported by two sources should count
	// once. Flipping this changes what "duplicate" means.
	ScopedFingerprints bool
}

// DedupCache is the optional hot cache consulted before the store.
type DedupCache interface {
	SeenSent(ctx context.Context, fingerprint string) bool
	MarkSent(ctx context.Context, fingerprint string)
}

// Coordinator orchestrates delivery and bookkeeping for poll cycles.
type Coordinator struct {
	cfg     Config
	store   storage.Store
	src     source.Client
	crm     crm.Client
	cache   DedupCache // nil when redis is not configured
	digest  notify.Digest
	running atomic.Bool
}

// New creates a coordinator.
func New(
	cfg Config,
	store storage.Store,
	src source.Client,
	crmClient crm.Client,
	cache DedupCache,
	digest notify.Digest,
) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxCrossCycleAttempts <= 0 {
		cfg.MaxCrossCycleAttempts = 10
	}
	return &Coordinator{
		cfg:    cfg,
		store:  store,
		src:    src,
		crm:    crmClient,
		cache:  cache,
		digest: digest,
	}
}

// Start runs poll cycles until the context is canceled.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator already running")
	}
	defer c.running.Store(false)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	// Initial cycle
	if err := c.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Poll cycle failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Poll cycle failed", "error", err)
			}
		}
	}
}

// RunCycle executes one full poll cycle: retry previously queued failures,
// then pull and deliver new candidates, then stamp the bookkeeping row.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	c.retryQueued(ctx)

	for _, loc := range c.cfg.Locations {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.processLocation(ctx, loc); err != nil {
			slog.Error("Failed to process location",
				"source", loc.SourceID, "tab", loc.TabName, "error", err)
		}
	}

	if depth, err := c.store.Failures().Count(ctx); err == nil {
		metrics.QueuedFailures.Set(float64(depth))
	}

	flushed := c.digest.Flush(ctx)

	// Bookkeeping survives a shutdown signal raised mid-cycle.
	bg := context.WithoutCancel(ctx)
	if len(flushed) > 0 {
		if err := c.store.Meta().TouchLastDigest(bg, time.Now().UTC()); err != nil {
			slog.Warn("Failed to stamp digest emission", "error", err)
		}
	}
	if err := c.store.Meta().TouchLastCheck(bg, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to stamp poll cycle: %w", err)
	}
	return ctx.Err()
}

func (c *Coordinator) processLocation(ctx context.Context, loc LocationConfig) error {
	tenant, ok := c.cfg.Tenants[loc.Tenant]
	if !ok {
		return fmt.Errorf("unknown tenant %q", loc.Tenant)
	}

	tabName := loc.TabName
	if tabName == "" {
		resolved, err := c.src.ResolveTabName(ctx, loc.SourceID, loc.TabID)
		if err != nil {
			return fmt.Errorf("failed to resolve tab %s: %w", loc.TabID, err)
		}
		if resolved == "" {
			slog.Warn("Tab no longer exists, skipping", "source", loc.SourceID, "tab_id", loc.TabID)
			return nil
		}
		tabName = resolved
	}

	rows, err := c.src.FetchRows(ctx, loc.SourceID, tabName)
	if err != nil {
		return fmt.Errorf("failed to fetch rows: %w", err)
	}

	candidates := source.Candidates(rows, loc.SourceID, tabName)
	pending, err := c.pendingSet(ctx)
	if err != nil {
		return err
	}
	fresh := make([]delivery, 0, len(candidates))

	for _, cand := range candidates {
		lead, ok := source.MapLead(cand)
		if !ok {
			metrics.LeadsProcessed.WithLabelValues(cand.Location.String(), "invalid").Inc()
			continue
		}

		fp := fingerprint.Compute(lead)
		if c.cfg.ScopedFingerprints {
			fp = fingerprint.ComputeScoped(lead, loc.SourceID)
		}

		seen, err := c.alreadyHandled(ctx, fp, pending)
		if err != nil {
			return err
		}
		if seen {
			metrics.LeadsProcessed.WithLabelValues(cand.Location.String(), "duplicate").Inc()
			continue
		}

		fresh = append(fresh, delivery{fp: fp, lead: lead, loc: cand.Location, tenant: tenant})
		// A sheet often repeats a row. Claim the fingerprint so later
		// duplicates in this batch dedup against it.
		pending[fp] = struct{}{}
	}

	c.deliverBatch(ctx, fresh)
	return nil
}

// pendingSet snapshots the fingerprints currently queued or dead-lettered.
// The intake path leaves both alone: queued entries belong to the retry
// pass, dead letters to the operator.
func (c *Coordinator) pendingSet(ctx context.Context) (map[string]struct{}, error) {
	pending := make(map[string]struct{})

	failures, err := c.store.Failures().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued failures: %w", err)
	}
	for _, qf := range failures {
		pending[qf.Fingerprint] = struct{}{}
	}

	letters, err := c.store.DeadLetters().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	for _, dl := range letters {
		pending[dl.Fingerprint] = struct{}{}
	}
	return pending, nil
}

// alreadyHandled reports whether a fingerprint is anywhere in the store's
// three state tables. The cache only fronts the sent set; the store stays
// authoritative on a miss.
func (c *Coordinator) alreadyHandled(ctx context.Context, fp string, pending map[string]struct{}) (bool, error) {
	if _, ok := pending[fp]; ok {
		return true, nil
	}

	if c.cache != nil && c.cache.SeenSent(ctx, fp) {
		metrics.DedupHits.WithLabelValues("cache").Inc()
		return true, nil
	}

	sent, err := c.store.Sent().Exists(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("failed to check sent set: %w", err)
	}
	if sent {
		metrics.DedupHits.WithLabelValues("store").Inc()
		if c.cache != nil {
			c.cache.MarkSent(ctx, fp)
		}
		return true, nil
	}
	return false, nil
}

type delivery struct {
	fp     string
	lead   domain.Lead
	loc    domain.Location
	tenant domain.Tenant
}

// deliverBatch pushes deliveries through a bounded worker pool. Each worker
// blocks in its own backoff waits without stalling the others.
func (c *Coordinator) deliverBatch(ctx context.Context, batch []delivery) {
	if len(batch) == 0 {
		return
	}

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, d := range batch {
		if ctx.Err() != nil {
			break // stop picking up new records; in-flight ones finish
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(d delivery) {
			defer wg.Done()
			defer func() { <-sem }()
			c.deliverNew(ctx, d)
		}(d)
	}
	wg.Wait()
}

// deliverNew attempts a first-time delivery and records the outcome.
func (c *Coordinator) deliverNew(ctx context.Context, d delivery) {
	err := c.attempt(ctx, d.lead, d.tenant)
	// Bookkeeping must not be lost to a shutdown signal that arrives
	// after the CRM call succeeded.
	bg := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		c.recordSuccess(bg, d)

	case errors.Is(err, retry.ErrPermanent):
		info := errorInfo(err)
		metrics.LeadsProcessed.WithLabelValues(d.loc.String(), "permanent").Inc()
		c.digest.ReportPermanent(bg, d.fp, d.lead, d.loc, info)
		slog.Warn("Permanent delivery failure",
			"fingerprint", d.fp, "location", d.loc.String(), "kind", info.Kind)

	case errors.Is(err, retry.ErrExhausted):
		c.recordExhausted(bg, d, errorInfo(err))

	default:
		// Context cancellation mid-backoff. The lead was never accepted
		// downstream, so dropping it here is safe: the next cycle sees
		// the same candidate again.
		slog.Info("Delivery aborted", "fingerprint", d.fp, "error", err)
	}
}

func (c *Coordinator) attempt(ctx context.Context, lead domain.Lead, tenant domain.Tenant) error {
	return retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		start := time.Now()
		_, err := c.crm.Submit(ctx, lead, tenant)
		metrics.DeliveryLatency.WithLabelValues(tenant.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.DeliveryAttempts.WithLabelValues(tenant.Name, "failure").Inc()
			return err
		}
		metrics.DeliveryAttempts.WithLabelValues(tenant.Name, "success").Inc()
		return nil
	})
}

func (c *Coordinator) recordSuccess(ctx context.Context, d delivery) {
	if err := c.store.Sent().RecordSent(ctx, d.fp, d.loc.String()); err != nil {
		// The lead is delivered but unrecorded -- the one state this
		// pipeline works hardest to avoid. Scream, and leave dedup to
		// the downstream API's idempotency.
		slog.Error("Delivered lead could not be recorded",
			"fingerprint", d.fp, "location", d.loc.String(), "error", err)
		return
	}
	if c.cache != nil {
		c.cache.MarkSent(ctx, d.fp)
	}
	if err := c.store.Meta().IncrementLocationCount(ctx, d.loc.String(), 1); err != nil {
		slog.Warn("Failed to bump location counter", "location", d.loc.String(), "error", err)
	}
	metrics.LeadsProcessed.WithLabelValues(d.loc.String(), "sent").Inc()
}

func (c *Coordinator) recordExhausted(ctx context.Context, d delivery, info domain.ErrorInfo) {
	metrics.LeadsProcessed.WithLabelValues(d.loc.String(), "queued").Inc()

	err := c.store.Failures().Enqueue(ctx, d.fp, d.lead, d.tenant.Name, info)
	if err == nil {
		return
	}
	if !errors.Is(err, storage.ErrAlreadyQueued) {
		slog.Error("Failed to enqueue delivery failure", "fingerprint", d.fp, "error", err)
		return
	}

	count, err := c.store.Failures().Increment(ctx, d.fp, info)
	if err != nil {
		slog.Error("Failed to increment delivery failure", "fingerprint", d.fp, "error", err)
		return
	}
	c.promoteIfOverBudget(ctx, d.fp, d.tenant.Name, count, info)
}

// promoteIfOverBudget retires a fingerprint once its persisted attempt
// count exceeds the cross-cycle budget.
func (c *Coordinator) promoteIfOverBudget(ctx context.Context, fp, tenant string, count int, info domain.ErrorInfo) {
	if count <= c.cfg.MaxCrossCycleAttempts {
		return
	}
	if err := c.store.DeadLetters().Promote(ctx, fp); err != nil {
		slog.Error("Failed to promote to dead letter", "fingerprint", fp, "error", err)
		return
	}
	metrics.DeadLettersTotal.Inc()
	c.digest.ReportDeadLetter(ctx, fp, tenant, count, info)
	slog.Warn("Lead promoted to dead letter", "fingerprint", fp, "attempts", count)
}

// retryQueued runs one delivery attempt for every queued failure.
func (c *Coordinator) retryQueued(ctx context.Context) {
	failures, err := c.store.Failures().List(ctx)
	if err != nil {
		slog.Error("Failed to list queued failures", "error", err)
		return
	}
	if len(failures) == 0 {
		return
	}

	slog.Info("Retrying queued failures", "count", len(failures))

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, qf := range failures {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(qf *domain.QueuedFailure) {
			defer wg.Done()
			defer func() { <-sem }()
			c.retryOne(ctx, qf)
		}(qf)
	}
	wg.Wait()
}

func (c *Coordinator) retryOne(ctx context.Context, qf *domain.QueuedFailure) {
	tenant, ok := c.cfg.Tenants[qf.Tenant]
	if !ok {
		slog.Error("Queued failure references unknown tenant", "fingerprint", qf.Fingerprint, "tenant", qf.Tenant)
		return
	}

	// A crash between recording a delivery and dequeueing it leaves the
	// fingerprint in both tables. Reconcile instead of re-submitting.
	if sent, serr := c.store.Sent().Exists(ctx, qf.Fingerprint); serr == nil && sent {
		if rerr := c.store.Failures().Remove(ctx, qf.Fingerprint); rerr != nil {
			slog.Error("Failed to dequeue already-sent lead", "fingerprint", qf.Fingerprint, "error", rerr)
		}
		return
	}

	// One attempt per cycle: the cross-cycle budget is measured in hours
	// of backoff, not in tight in-process loops.
	cfg := c.cfg.Retry
	cfg.MaxAttempts = 1

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		_, err := c.crm.Submit(ctx, qf.Lead, tenant)
		return err
	})
	bg := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		// Record the delivery before touching the queue: losing the
		// dequeue re-runs the reconcile above, losing the sent record
		// loses the delivery.
		if rerr := c.store.Sent().RecordSent(bg, qf.Fingerprint, ""); rerr != nil {
			slog.Error("Delivered lead could not be recorded", "fingerprint", qf.Fingerprint, "error", rerr)
			return
		}
		if rerr := c.store.Failures().Remove(bg, qf.Fingerprint); rerr != nil {
			slog.Error("Failed to dequeue delivered lead", "fingerprint", qf.Fingerprint, "error", rerr)
			return
		}
		if c.cache != nil {
			c.cache.MarkSent(bg, qf.Fingerprint)
		}
		slog.Info("Queued lead delivered", "fingerprint", qf.Fingerprint, "attempts", qf.AttemptCount+1)

	case errors.Is(err, retry.ErrPermanent):
		// The request has become permanently rejectable (e.g. the tenant
		// key was revoked). No future cycle will do better; retire it now
		// rather than burning the rest of the budget.
		info := errorInfo(err)
		if _, ierr := c.store.Failures().Increment(bg, qf.Fingerprint, info); ierr != nil {
			slog.Error("Failed to record permanent failure", "fingerprint", qf.Fingerprint, "error", ierr)
			return
		}
		if perr := c.store.DeadLetters().Promote(bg, qf.Fingerprint); perr != nil {
			slog.Error("Failed to promote permanent failure", "fingerprint", qf.Fingerprint, "error", perr)
			return
		}
		metrics.DeadLettersTotal.Inc()
		c.digest.ReportDeadLetter(bg, qf.Fingerprint, qf.Tenant, qf.AttemptCount+1, info)

	case errors.Is(err, retry.ErrExhausted):
		info := errorInfo(err)
		count, ierr := c.store.Failures().Increment(bg, qf.Fingerprint, info)
		if ierr != nil {
			slog.Error("Failed to increment delivery failure", "fingerprint", qf.Fingerprint, "error", ierr)
			return
		}
		c.promoteIfOverBudget(bg, qf.Fingerprint, qf.Tenant, count, info)

	default:
		slog.Info("Queued retry aborted", "fingerprint", qf.Fingerprint, "error", err)
	}
}

// errorInfo extracts the classified failure buried in a retry-engine error.
func errorInfo(err error) domain.ErrorInfo {
	info := domain.ErrorInfo{
		Kind:       string(classify.KindUnknown),
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
	}
	var cerr *classify.Error
	if errors.As(err, &cerr) {
		info.Kind = string(cerr.Kind)
		info.StatusCode = cerr.StatusCode
		info.Message = cerr.Msg
	}
	return info
}
