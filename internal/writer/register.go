// Package writer holds the pair sinks driven by the manager's snapshotters.
package writer

import (
	"fmt"
	"time"

	"CaptureBridge/internal/config"
	"CaptureBridge/internal/factory"
	"CaptureBridge/internal/model"
)

// SnapshotTimeFormat names snapshot directories and files.
const SnapshotTimeFormat = "2006-01-02_15-04-05"

func init() {
	factory.RegisterWriter("gob", func(def config.WriterDef) (model.Writer, error) {
		interval, err := parseInterval(def)
		if err != nil {
			return nil, err
		}
		return NewGobWriter(def.Gob.RootPath, interval), nil
	})
	factory.RegisterWriter("pcap", func(def config.WriterDef) (model.Writer, error) {
		interval, err := parseInterval(def)
		if err != nil {
			return nil, err
		}
		return NewPcapWriter(def.Pcap.RootPath, interval)
	})
	factory.RegisterWriter("clickhouse", func(def config.WriterDef) (model.Writer, error) {
		interval, err := parseInterval(def)
		if err != nil {
			return nil, err
		}
		return NewClickHouseWriter(def.ClickHouse, interval)
	})
}

func parseInterval(def config.WriterDef) (time.Duration, error) {
	interval, err := time.ParseDuration(def.SnapshotInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid snapshot_interval for %s writer: %w", def.Type, err)
	}
	return interval, nil
}
