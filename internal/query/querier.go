package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"CaptureBridge/internal/config"
	"CaptureBridge/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const (
	// DefaultLimit caps a history query without an explicit limit.
	DefaultLimit = 100
	// MaxLimit is the largest accepted history limit.
	MaxLimit = 10000
)

// ErrInvalidRequest is returned for history requests that cannot be run.
var ErrInvalidRequest = errors.New("invalid history request")

// HistoryRequest filters the stored pair history. Zero values match anything.
type HistoryRequest struct {
	Host       string
	Method     string
	StatusCode int
	Since      time.Time
	Until      time.Time
	Limit      int
}

// HostSummary aggregates the stored pairs of one host.
type HostSummary struct {
	Host          string    `json:"host"`
	Pairs         uint64    `json:"pairs"`
	ResponseBytes uint64    `json:"response_bytes"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// Querier defines the interface for querying pair history.
type Querier interface {
	History(ctx context.Context, req HistoryRequest) ([]model.PairRecord, error)
	Hosts(ctx context.Context, since, until time.Time) ([]HostSummary, error)
	Close() error
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn clickhouse.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (clickhouse.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
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

func (q *clickhouseQuerier) Close() error { return q.conn.Close() }

// buildHistoryQuery renders the history SELECT and its arguments.
func buildHistoryQuery(req HistoryRequest) (string, []interface{}, error) {
	limit := req.Limit
	switch {
	case limit < 0 || limit > MaxLimit:
		return "", nil, fmt.Errorf("%w: limit must be between 0 and %d", ErrInvalidRequest, MaxLimit)
	case limit == 0:
		limit = DefaultLimit
	}
	if !req.Since.IsZero() && !req.Until.IsZero() && req.Until.Before(req.Since) {
		return "", nil, fmt.Errorf("%w: until is before since", ErrInvalidRequest)
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT
			PairID, CapturedAt, Method, Host, URL, StatusCode, Port, HTTPS,
			ProcessName, PID, ClientIP, ClientPort, ServerIP, ServerPort,
			Request, Response
		FROM http_pairs`)

	var whereClauses []string
	args := []interface{}{}

	if req.Host != "" {
		whereClauses = append(whereClauses, "Host = ?")
		args = append(args, req.Host)
	}
	if req.Method != "" {
		whereClauses = append(whereClauses, "Method = ?")
		args = append(args, strings.ToUpper(req.Method))
	}
	if req.StatusCode > 0 {
		whereClauses = append(whereClauses, "StatusCode = ?")
		args = append(args, uint16(req.StatusCode))
	}
	if !req.Since.IsZero() {
		whereClauses = append(whereClauses, "CapturedAt >= ?")
		args = append(args, req.Since)
	}
	if !req.Until.IsZero() {
		whereClauses = append(whereClauses, "CapturedAt <= ?")
		args = append(args, req.Until)
	}

	if len(whereClauses) > 0 {
		queryBuilder.WriteString(" WHERE " + strings.Join(whereClauses, " AND "))
	}
	queryBuilder.WriteString(" ORDER BY CapturedAt DESC LIMIT " + strconv.Itoa(limit))
	return queryBuilder.String(), args, nil
}

// History returns the stored pairs matching req, newest first.
func (q *clickhouseQuerier) History(ctx context.Context, req HistoryRequest) ([]model.PairRecord, error) {
	query, args, err := buildHistoryQuery(req)
	if err != nil {
		return nil, err
	}

	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var records []model.PairRecord
	for rows.Next() {
		var (
			rec                model.PairRecord
			status             *uint16
			port, cport, sport uint16
			request, response  string
		)
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Method, &rec.Host, &rec.URL, &status, &port, &rec.HTTPS,
			&rec.ProcessName, &rec.PID, &rec.ClientIP, &cport, &rec.ServerIP, &sport, &request, &response); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		rec.CreatedAt = rec.Timestamp
		rec.StatusCode = statusString(status)
		rec.Port, rec.ClientPort, rec.ServerPort = int(port), uint32(cport), uint32(sport)
		rec.Request, rec.Response = []byte(request), []byte(response)
		rec.Complete = len(response) > 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history rows: %w", err)
	}
	return records, nil
}

// Hosts summarises the stored pairs per host within the time range.
func (q *clickhouseQuerier) Hosts(ctx context.Context, since, until time.Time) ([]HostSummary, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT
			Host,
			count() AS Pairs,
			sum(ResponseSize) AS ResponseBytes,
			min(CapturedAt) AS FirstSeen,
			max(CapturedAt) AS LastSeen
		FROM http_pairs`)

	var whereClauses []string
	args := []interface{}{}
	if !since.IsZero() {
		whereClauses = append(whereClauses, "CapturedAt >= ?")
		args = append(args, since)
	}
	if !until.IsZero() {
		whereClauses = append(whereClauses, "CapturedAt <= ?")
		args = append(args, until)
	}
	if len(whereClauses) > 0 {
		queryBuilder.WriteString(" WHERE " + strings.Join(whereClauses, " AND "))
	}
	queryBuilder.WriteString(" GROUP BY Host ORDER BY Pairs DESC")

	rows, err := q.conn.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var summaries []HostSummary
	for rows.Next() {
		var s HostSummary
		if err := rows.Scan(&s.Host, &s.Pairs, &s.ResponseBytes, &s.FirstSeen, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan host summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func statusString(status *uint16) string {
	if status == nil {
		return model.Sentinel
	}
	return strconv.Itoa(int(*status))
}
