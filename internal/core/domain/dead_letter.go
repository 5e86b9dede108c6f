package domain

import "time"

// DeadLetter is a lead retired from active retry after exhausting its
// cross-cycle attempt budget. Requeueable by operator action.
type DeadLetter struct {
	Fingerprint   string
	Lead          Lead
	Tenant        string
	AttemptCount  int
	ErrorHistory  []ErrorInfo
	FirstFailedAt time.Time
	LastAttemptAt time.Time
	DeadAt        time.Time
}

// SentRecord marks a fingerprint as delivered. Write-once; removed only by
// retention expiry.
type SentRecord struct {
	Fingerprint string
	Location    string
	CreatedAt   time.Time
}
