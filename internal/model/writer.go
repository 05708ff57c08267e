package model

import "time"

// Writer defines a generic interface for persisting completed pairs.
type Writer interface {
	// Write persists one batch of completed pairs. timestamp names the snapshot.
	Write(pairs []*MatchedHttpPair, timestamp string) error

	// GetInterval returns the configured snapshot interval for this writer.
	GetInterval() time.Duration

	// Name identifies the writer in logs.
	Name() string
}
