package mockagent

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"CaptureBridge/internal/engine/correlator"
	"CaptureBridge/internal/model"
	"CaptureBridge/internal/transport"
	"CaptureBridge/internal/writer"
)

func capturedPair(id string, clientPort uint32, request, response string) *model.MatchedHttpPair {
	req := &model.CapturedEvent{
		Timestamp: 1700000000,
		Type:      model.EventTypeHTTP1Request,
		SrcIP:     "10.0.0.2",
		SrcPort:   clientPort,
		DstIP:     "10.0.0.1",
		DstPort:   80,
		Payload:   []byte(request),
	}
	pair := model.NewMatchedHttpPair(id, req, time.Unix(1700000000, 0))
	pair.AttachResponse(&model.CapturedEvent{
		Type:    model.EventTypeHTTP1Response,
		SrcIP:   "10.0.0.1",
		SrcPort: 80,
		DstIP:   "10.0.0.2",
		DstPort: clientPort,
		Payload: []byte(response),
	})
	return pair
}

func TestLoadPcap_ReassemblesWriterOutput(t *testing.T) {
	dir := t.TempDir()
	w, err := writer.NewPcapWriter(dir, time.Second)
	if err != nil {
		t.Fatalf("NewPcapWriter failed: %v", err)
	}
	bigRequest := "POST /upload HTTP/1.1\r\nHost: example.com\r\n\r\n" + strings.Repeat("x", 3000)
	pairs := []*model.MatchedHttpPair{
		capturedPair("p1", 51000, bigRequest, "HTTP/1.1 201 Created\r\n\r\n"),
		capturedPair("p2", 51001, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", "HTTP/1.1 200 OK\r\n\r\n"),
	}
	if err := w.Write(pairs, "snap"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	events, err := LoadPcap(filepath.Join(dir, "snap.pcap"))
	if err != nil {
		t.Fatalf("LoadPcap failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(events))
	}

	req, resp := events[0], events[1]
	if !bytes.Equal(req.Payload, []byte(bigRequest)) || req.Length != uint32(len(bigRequest)) {
		t.Errorf("Request not reassembled: %d bytes", len(req.Payload))
	}
	if req.Type != 1 || resp.Type != 3 {
		t.Errorf("Unexpected declared types %d/%d", req.Type, resp.Type)
	}
	if req.SrcIP != "10.0.0.2" || req.SrcPort != 51000 || req.DstPort != 80 || req.Timestamp != 1700000000 {
		t.Errorf("Unexpected request addressing %+v", req)
	}
	if correlator.ConnectionKey(req.UUID) != correlator.ConnectionKey(resp.UUID) {
		t.Errorf("Request and response on different connections: %s / %s", req.UUID, resp.UUID)
	}
	if correlator.ConnectionKey(req.UUID) == correlator.ConnectionKey(events[2].UUID) {
		t.Errorf("Two conversations share a connection key: %s", req.UUID)
	}
}

func TestReadPcap_BadInput(t *testing.T) {
	if _, err := ReadPcap(strings.NewReader("not a pcap")); err == nil {
		t.Error("Expected an error for a bad header")
	}
	if _, err := LoadPcap(filepath.Join(t.TempDir(), "missing.pcap")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestDeclaredType(t *testing.T) {
	tests := map[string]uint32{
		"GET / HTTP/1.1":  1,
		"PATCH /x":        1,
		"HTTP/1.1 200 OK": 3,
		"\x16\x03\x01":    0,
		"GETX":            0,
	}
	for payload, want := range tests {
		if got := declaredType([]byte(payload)); got != want {
			t.Errorf("declaredType(%q) = %d, want %d", payload, got, want)
		}
	}
}

func TestAgent_FeedsTheBridge(t *testing.T) {
	events := Synthetic(3, "shop.test", time.Unix(1700000000, 0))
	if len(events) != 6 {
		t.Fatalf("Expected 6 events, got %d", len(events))
	}
	agent := NewAgent(events, Options{EventInterval: time.Millisecond, HeartbeatInterval: time.Hour})
	srv := httptest.NewServer(agent)
	defer srv.Close()

	engine := correlator.New(correlator.Options{})
	client := transport.NewClient(transport.Options{Handler: transport.NewDispatcher(engine)})
	defer client.Shutdown()
	if err := client.Connect("ws" + strings.TrimPrefix(srv.URL, "http")); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for engine.Stats().CompletedPairs < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stats := engine.Stats()
	if stats.CompletedPairs != 3 {
		t.Fatalf("Expected 3 completed pairs, got %+v", stats)
	}
	if stats.HeartbeatCount != 1 {
		t.Errorf("Expected the initial heartbeat, got count %d", stats.HeartbeatCount)
	}
	if logs := engine.RuntimeLogs(); len(logs) != 1 || !strings.Contains(logs[0], "6 events") {
		t.Errorf("Unexpected runtime logs %v", logs)
	}
	for _, p := range engine.Pairs() {
		if p.Host() != "shop.test" {
			t.Errorf("Unexpected host on %s", p)
		}
	}
	if agent.Clients() != 1 {
		t.Errorf("Expected one client, got %d", agent.Clients())
	}
}
