package model

import "testing"

func newEvent(typ EventType, payload string) *CapturedEvent {
	return &CapturedEvent{Type: typ, DstIP: "10.0.0.1", DstPort: 80, Payload: []byte(payload)}
}

func TestCapturedEvent_RequestFacets(t *testing.T) {
	ev := newEvent(EventTypeHTTP1Request, "GET /a?b=c HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n")
	if got := ev.Method(); got != "GET" {
		t.Errorf("Method() = %q, want GET", got)
	}
	if got := ev.URL(); got != "/a?b=c" {
		t.Errorf("URL() = %q, want /a?b=c", got)
	}
	if got := ev.Host(); got != "example.com" {
		t.Errorf("Host() = %q, want example.com", got)
	}
	if got := ev.StatusCode(); got != Sentinel {
		t.Errorf("StatusCode() on a request = %q, want sentinel", got)
	}
}

func TestCapturedEvent_ResponseFacets(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{"HTTP/1.1 200 OK\r\n", "200"},
		{"HTTP/2 204\r\n", "204"},
		{"HTTP/1.1 404", "404"},
		{"HTTP/1.1 abc def", "abc"},
		{"HTTP/1.1", Sentinel},
		{"HTTP/1.1 ", Sentinel},
	}
	for _, tt := range tests {
		ev := newEvent(EventTypeHTTP1Response, tt.payload)
		if got := ev.StatusCode(); got != tt.want {
			t.Errorf("StatusCode(%q) = %q, want %q", tt.payload, got, tt.want)
		}
		if got := ev.Method(); got != Sentinel {
			t.Errorf("Method() on a response = %q, want sentinel", got)
		}
	}
}

func TestCapturedEvent_StatusCodeInt(t *testing.T) {
	code, ok := newEvent(EventTypeHTTP1Response, "HTTP/1.1 503 Unavailable\r\n").StatusCodeInt()
	if !ok || code != 503 {
		t.Errorf("StatusCodeInt() = %d, %t; want 503, true", code, ok)
	}
	if _, ok := newEvent(EventTypeHTTP1Response, "HTTP/1.1 abc\r\n").StatusCodeInt(); ok {
		t.Error("Expected non numeric status to fail")
	}
}

func TestCapturedEvent_Sentinels(t *testing.T) {
	tests := []struct {
		name   string
		ev     *CapturedEvent
		method string
		url    string
		host   string
	}{
		{"empty payload", newEvent(EventTypeHTTP1Request, ""), Sentinel, Sentinel, "10.0.0.1"},
		{"long first token", newEvent(EventTypeHTTP1Request, "VERYLONGMETHOD / HTTP/1.1\r\n"), Sentinel, "/", "10.0.0.1"},
		{"no second space", newEvent(EventTypeHTTP1Request, "GET /only"), "GET", Sentinel, "10.0.0.1"},
		{"lower case host", newEvent(EventTypeHTTP1Request, "POST /p HTTP/1.1\r\nhost: api.local\r\n"), "POST", "/p", "api.local"},
		{"unterminated host", newEvent(EventTypeHTTP1Request, "GET / HTTP/1.1\r\nHost: x.com"), "GET", "/", "10.0.0.1"},
		{"host on lf line", newEvent(EventTypeHTTP1Request, "GET / HTTP/1.1\nHost: y.com\n"), "GET", "/", "y.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.Method(); got != tt.method {
				t.Errorf("Method() = %q, want %q", got, tt.method)
			}
			if got := tt.ev.URL(); got != tt.url {
				t.Errorf("URL() = %q, want %q", got, tt.url)
			}
			if got := tt.ev.Host(); got != tt.host {
				t.Errorf("Host() = %q, want %q", got, tt.host)
			}
		})
	}
}

func TestConnectionState_String(t *testing.T) {
	want := map[ConnectionState]string{
		StateDisconnected: "DISCONNECTED",
		StateConnecting:   "CONNECTING",
		StateConnected:    "CONNECTED",
		StateReconnecting: "RECONNECTING",
		StateError:        "ERROR",
	}
	for s, label := range want {
		if s.String() != label {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), label)
		}
	}
}
