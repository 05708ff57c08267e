package transport

import "time"

const (
	DefaultInitialDelay = 2 * time.Second
	DefaultMaxDelay     = 30 * time.Second

	// maxBackoffShift caps the exponent so the delay stops doubling after the
	// fifth retry.
	maxBackoffShift = 4
)

// Backoff returns the delay before retry number attempt (zero based):
// min(initial * 2^min(attempt, 4), max).
func Backoff(initial, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := initial << min(attempt, maxBackoffShift)
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
