// Package health provides pipeline health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the pipeline.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Report contains the full pipeline health report.
type Report struct {
	Status         SystemStatus `json:"status"`
	StoreReachable bool         `json:"store_reachable"`
	QueueDepth     int          `json:"queue_depth"`
	DeadLetters    int          `json:"dead_letters"`
	LastCycleAge   string       `json:"last_cycle_age"` // "" before the first cycle
}
