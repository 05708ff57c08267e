package writer

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"CaptureBridge/internal/config"
	"CaptureBridge/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS http_pairs (
    Timestamp    DateTime,
    PairID       String,
    CapturedAt   DateTime,
    Method       LowCardinality(String),
    Host         String,
    URL          String,
    StatusCode   Nullable(UInt16),
    Port         UInt16,
    HTTPS        Bool,
    ProcessName  LowCardinality(String),
    PID          Int64,
    ClientIP     String,
    ClientPort   UInt16,
    ServerIP     String,
    ServerPort   UInt16,
    RequestSize  UInt32,
    ResponseSize UInt32,
    Request      String,
    Response     String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Host, Timestamp);
`

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
}

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration) (model.Writer, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn, interval: interval}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

func (w *ClickHouseWriter) Name() string { return "clickhouse" }

// Close releases the ClickHouse connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}

// Write inserts one batch of pairs into the http_pairs table.
func (w *ClickHouseWriter) Write(pairs []*model.MatchedHttpPair, timestamp string) error {
	if len(pairs) == 0 {
		return nil // Nothing to write
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO http_pairs")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	snapshotTime, _ := time.Parse(SnapshotTimeFormat, timestamp)
	for _, p := range pairs {
		if err := batch.Append(clickhouseRow(snapshotTime, p.Record())...); err != nil {
			return fmt.Errorf("failed to append pair %s to batch: %w", p.ID(), err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Wrote %d pairs to ClickHouse", len(pairs))
	return nil
}

// clickhouseRow orders the record fields as the http_pairs columns.
func clickhouseRow(snapshotTime time.Time, rec model.PairRecord) []interface{} {
	captured := rec.Timestamp
	if captured.IsZero() {
		captured = rec.CreatedAt
	}
	return []interface{}{
		snapshotTime,
		rec.ID,
		captured,
		rec.Method,
		rec.Host,
		rec.URL,
		nullableStatus(rec.StatusCode),
		uint16(rec.Port),
		rec.HTTPS,
		rec.ProcessName,
		rec.PID,
		rec.ClientIP,
		uint16(rec.ClientPort),
		rec.ServerIP,
		uint16(rec.ServerPort),
		uint32(len(rec.Request)),
		uint32(len(rec.Response)),
		string(rec.Request),
		string(rec.Response),
	}
}

func nullableStatus(status string) *uint16 {
	code, err := strconv.ParseUint(status, 10, 16)
	if err != nil {
		return nil
	}
	v := uint16(code)
	return &v
}
