package health

import (
	"context"
	"sync"
	"time"

	"github.com/crmsync/leadrelay/internal/infra/storage"
)

// Thresholds that downgrade pipeline status.
const (
	degradedQueueDepth = 25
	criticalQueueDepth = 100
	staleCycleAfter    = 30 * time.Minute
)

// Monitor aggregates health status from the durable store.
type Monitor struct {
	store      storage.Store
	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor creates a new health monitor.
func NewMonitor(store storage.Store) *Monitor {
	return &Monitor{store: store}
}

// Check performs a health check, rate-limited to once per 10s.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && !m.lastCheck.IsZero() {
		return m.lastReport
	}

	report := Report{Status: StatusHealthy, StoreReachable: true}

	if err := m.store.Health(ctx); err != nil {
		report.Status = StatusCritical
		report.StoreReachable = false
		m.lastCheck = time.Now()
		m.lastReport = report
		return report
	}

	if depth, err := m.store.Failures().Count(ctx); err == nil {
		report.QueueDepth = depth
		if depth >= criticalQueueDepth {
			report.Status = StatusCritical
		} else if depth >= degradedQueueDepth {
			report.Status = StatusDegraded
		}
	}

	if count, err := m.store.DeadLetters().Count(ctx); err == nil {
		report.DeadLetters = count
	}

	if meta, err := m.store.Meta().Get(ctx); err == nil && !meta.LastCheckAt.IsZero() {
		age := time.Since(meta.LastCheckAt)
		report.LastCycleAge = age.Round(time.Second).String()
		if age > staleCycleAfter && report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
