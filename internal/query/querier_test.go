package query

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBuildHistoryQuery(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)

	query, args, err := buildHistoryQuery(HistoryRequest{
		Host:       "example.com",
		Method:     "post",
		StatusCode: 404,
		Since:      since,
		Until:      until,
		Limit:      5,
	})
	if err != nil {
		t.Fatalf("buildHistoryQuery failed: %v", err)
	}
	wantWhere := "WHERE Host = ? AND Method = ? AND StatusCode = ? AND CapturedAt >= ? AND CapturedAt <= ?"
	if !strings.Contains(query, wantWhere) {
		t.Errorf("Query lacks %q:\n%s", wantWhere, query)
	}
	if !strings.HasSuffix(query, "ORDER BY CapturedAt DESC LIMIT 5") {
		t.Errorf("Unexpected query tail:\n%s", query)
	}
	if len(args) != 5 || args[0] != "example.com" || args[1] != "POST" || args[2] != uint16(404) {
		t.Errorf("Unexpected args %v", args)
	}
}

func TestBuildHistoryQuery_Defaults(t *testing.T) {
	query, args, err := buildHistoryQuery(HistoryRequest{})
	if err != nil {
		t.Fatalf("buildHistoryQuery failed: %v", err)
	}
	if strings.Contains(query, "WHERE") || len(args) != 0 {
		t.Errorf("Expected no filters, got %q %v", query, args)
	}
	if !strings.HasSuffix(query, "LIMIT 100") {
		t.Errorf("Expected the default limit:\n%s", query)
	}
}

func TestBuildHistoryQuery_Invalid(t *testing.T) {
	now := time.Now()
	for _, req := range []HistoryRequest{
		{Limit: -1},
		{Limit: MaxLimit + 1},
		{Since: now, Until: now.Add(-time.Minute)},
	} {
		if _, _, err := buildHistoryQuery(req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Request %+v: expected ErrInvalidRequest, got %v", req, err)
		}
	}
}

func TestStatusString(t *testing.T) {
	code := uint16(204)
	if got := statusString(&code); got != "204" {
		t.Errorf("statusString(204) = %q", got)
	}
	if got := statusString(nil); got != "-" {
		t.Errorf("statusString(nil) = %q", got)
	}
}
