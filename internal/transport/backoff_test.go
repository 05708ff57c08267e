package transport

import (
	"testing"
	"time"
)

func TestBackoff_Sequence(t *testing.T) {
	want := []time.Duration{2, 4, 8, 16, 30, 30, 30}
	for attempt, w := range want {
		got := Backoff(DefaultInitialDelay, DefaultMaxDelay, attempt)
		if got != w*time.Second {
			t.Errorf("Backoff(attempt=%d) = %s, want %s", attempt, got, w*time.Second)
		}
	}
}

func TestBackoff_ExponentIsCapped(t *testing.T) {
	// With a large max the delay stops doubling after 2^4.
	got := Backoff(time.Second, time.Hour, 50)
	if got != 16*time.Second {
		t.Errorf("Backoff(attempt=50) = %s, want 16s", got)
	}
	if got := Backoff(time.Second, time.Hour, -3); got != time.Second {
		t.Errorf("Negative attempt should behave like 0, got %s", got)
	}
}
