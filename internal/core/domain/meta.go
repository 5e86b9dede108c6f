package domain

import "time"

// PipelineMeta is the single bookkeeping row updated after every poll cycle.
type PipelineMeta struct {
	LastCheckAt    time.Time
	CacheBuiltAt   time.Time
	LastDigestAt   time.Time
	LocationCounts map[string]int64
}
