package resilience

import (
	"time"
)

// Policy is the call discipline for one external service: how long to wait
// between consecutive calls and how to retry a failed one.
type Policy struct {
	// MinInterval is the minimum time between the start of two calls to the
	// same service. Zero disables pacing.
	MinInterval time.Duration
	Retry       RetryConfig
}

// NewPolicy builds a Policy from flat config values. Non-positive values keep
// the defaults.
func NewPolicy(minIntervalMs, maxAttempts, initialBackoffMs, maxBackoffMs int) Policy {
	retry := DefaultRetryConfig()
	if maxAttempts > 0 {
		retry.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		retry.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		retry.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	var interval time.Duration
	if minIntervalMs > 0 {
		interval = time.Duration(minIntervalMs) * time.Millisecond
	}
	return Policy{MinInterval: interval, Retry: retry}
}
