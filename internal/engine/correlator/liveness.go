package correlator

import "time"

// Freshness buckets the age of the last agent heartbeat.
type Freshness int

const (
	FreshnessNone Freshness = iota // no heartbeat seen yet
	FreshnessFresh
	FreshnessLagging
	FreshnessStale
)

const (
	freshWithin   = 10 * time.Second
	laggingWithin = 30 * time.Second
)

func (f Freshness) String() string {
	switch f {
	case FreshnessFresh:
		return "fresh"
	case FreshnessLagging:
		return "lagging"
	case FreshnessStale:
		return "stale"
	default:
		return "none"
	}
}

// HeartbeatAge returns the time since the last heartbeat. ok is false if no
// heartbeat has been received.
func (c *Correlator) HeartbeatAge(now time.Time) (age time.Duration, ok bool) {
	c.mu.RLock()
	last := c.stats.LastHeartbeat
	c.mu.RUnlock()
	if last.IsZero() {
		return 0, false
	}
	return now.Sub(last), true
}

// Freshness classifies the heartbeat age at now.
func (c *Correlator) Freshness(now time.Time) Freshness {
	age, ok := c.HeartbeatAge(now)
	switch {
	case !ok:
		return FreshnessNone
	case age < freshWithin:
		return FreshnessFresh
	case age < laggingWithin:
		return FreshnessLagging
	default:
		return FreshnessStale
	}
}
