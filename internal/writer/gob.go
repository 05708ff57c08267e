package writer

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"CaptureBridge/internal/model"
)

const (
	gobDataFile    = "pairs.dat"
	gobSummaryFile = "summary.json"
)

// SummaryData holds the metadata for a snapshot, internal to the writer.
type SummaryData struct {
	TotalPairs     int            `json:"total_pairs"`
	CompletedPairs int            `json:"completed_pairs"`
	RequestBytes   uint64         `json:"request_bytes"`
	ResponseBytes  uint64         `json:"response_bytes"`
	Hosts          map[string]int `json:"hosts"`
	Timestamp      string         `json:"timestamp"`
}

// GobWriter handles writing pair snapshots to disk in gob format.
// It implements the model.Writer interface.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates a new writer for pair snapshots.
func NewGobWriter(rootPath string, interval time.Duration) model.Writer {
	return &GobWriter{rootPath: rootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

func (w *GobWriter) Name() string { return "gob" }

// Write serializes one batch of pairs into <root>/<timestamp>/pairs.dat and
// writes a summary.json next to it.
func (w *GobWriter) Write(pairs []*model.MatchedHttpPair, timestamp string) error {
	if len(pairs) == 0 {
		return nil
	}

	// 1. Create timestamped directory
	snapshotDir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	records := make([]model.PairRecord, 0, len(pairs))
	summary := SummaryData{Hosts: make(map[string]int)}
	for _, p := range pairs {
		rec := p.Record()
		records = append(records, rec)
		summary.TotalPairs++
		if rec.Complete {
			summary.CompletedPairs++
		}
		summary.RequestBytes += uint64(len(rec.Request))
		summary.ResponseBytes += uint64(len(rec.Response))
		summary.Hosts[rec.Host]++
	}

	// 2. Write the records
	dataPath := filepath.Join(snapshotDir, gobDataFile)
	file, err := os.Create(dataPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", dataPath, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(records); err != nil {
		return fmt.Errorf("failed to encode pairs to gob for file '%s': %w", dataPath, err)
	}

	// 3. Write summary file
	summary.Timestamp = time.Now().UTC().Format(time.RFC3339)
	summaryFile, err := os.Create(filepath.Join(snapshotDir, gobSummaryFile))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}

	return nil
}

// ReadGobSnapshot loads the records of one snapshot directory.
func ReadGobSnapshot(snapshotDir string) ([]model.PairRecord, error) {
	file, err := os.Open(filepath.Join(snapshotDir, gobDataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	var records []model.PairRecord
	if err := gob.NewDecoder(file).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return records, nil
}
