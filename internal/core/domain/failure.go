package domain

import "time"

// ErrorInfo is one recorded delivery failure.
type ErrorInfo struct {
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// QueuedFailure is a lead whose delivery failed transiently and is waiting
// for another attempt. Exactly one row per fingerprint; removed on success
// or on promotion to dead letter.
type QueuedFailure struct {
	Fingerprint   string
	Lead          Lead
	Tenant        string
	AttemptCount  int
	LastError     ErrorInfo
	ErrorHistory  []ErrorInfo
	FirstFailedAt time.Time
	LastAttemptAt time.Time
}
