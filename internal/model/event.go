package model

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Sentinel is returned by the payload facets when a value cannot be extracted.
const Sentinel = "-"

// EventType is the detailed classification of a captured event.
// The positive values mirror the type tag sent by the capture agent.
type EventType int

const (
	EventTypeUnknown       EventType = 0
	EventTypeHTTP1Request  EventType = 1
	EventTypeHTTP2Request  EventType = 2
	EventTypeHTTP1Response EventType = 3
	EventTypeHTTP2Response EventType = 4
	// Detected by payload sniffing when the agent sent no type.
	EventTypeAutoRequest  EventType = -1
	EventTypeAutoResponse EventType = -2
)

// String returns a human readable description of the event type.
func (t EventType) String() string {
	switch t {
	case EventTypeHTTP1Request:
		return "HTTP/1.x Request"
	case EventTypeHTTP2Request:
		return "HTTP/2 Request"
	case EventTypeHTTP1Response:
		return "HTTP/1.x Response"
	case EventTypeHTTP2Response:
		return "HTTP/2 Response"
	case EventTypeAutoRequest:
		return "Auto-Detected Request"
	case EventTypeAutoResponse:
		return "Auto-Detected Response"
	default:
		return "Unknown"
	}
}

// Kind collapses the event type into request, response or unknown.
func (t EventType) Kind() EventKind {
	switch t {
	case EventTypeHTTP1Request, EventTypeHTTP2Request, EventTypeAutoRequest:
		return KindRequest
	case EventTypeHTTP1Response, EventTypeHTTP2Response, EventTypeAutoResponse:
		return KindResponse
	default:
		return KindUnknown
	}
}

// EventKind is the pairing role of an event.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindRequest
	KindResponse
)

func (k EventKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// CapturedEvent is one traffic event observed by the capture agent.
// It is never modified after construction.
type CapturedEvent struct {
	Timestamp   int64 // seconds since epoch, as reported by the agent
	UUID        string
	SrcIP       string
	SrcPort     uint32
	DstIP       string
	DstPort     uint32
	PID         int64
	ProcessName string
	Type        EventType
	Length      uint32
	Payload     []byte
	ReceivedAt  time.Time

	facetsOnce sync.Once
	facets     eventFacets
}

type eventFacets struct {
	method string
	url    string
	status string
	host   string
}

// IsRequest reports whether the event was classified as a request.
func (e *CapturedEvent) IsRequest() bool { return e.Type.Kind() == KindRequest }

// IsResponse reports whether the event was classified as a response.
func (e *CapturedEvent) IsResponse() bool { return e.Type.Kind() == KindResponse }

// Kind returns the pairing role of the event.
func (e *CapturedEvent) Kind() EventKind { return e.Type.Kind() }

// Source returns "ip:port" of the sender.
func (e *CapturedEvent) Source() string {
	return fmt.Sprintf("%s:%d", e.SrcIP, e.SrcPort)
}

// Destination returns "ip:port" of the receiver.
func (e *CapturedEvent) Destination() string {
	return fmt.Sprintf("%s:%d", e.DstIP, e.DstPort)
}

// Time converts the agent timestamp into a time.Time.
func (e *CapturedEvent) Time() time.Time {
	return time.Unix(e.Timestamp, 0)
}

// Method returns the HTTP method of a request, or Sentinel.
func (e *CapturedEvent) Method() string { return e.loadFacets().method }

// URL returns the request target of a request, or Sentinel.
func (e *CapturedEvent) URL() string { return e.loadFacets().url }

// StatusCode returns the status code text of a response, or Sentinel.
func (e *CapturedEvent) StatusCode() string { return e.loadFacets().status }

// Host returns the Host header value, falling back to the destination IP.
func (e *CapturedEvent) Host() string { return e.loadFacets().host }

// StatusCodeInt parses StatusCode. ok is false when it is not a number.
func (e *CapturedEvent) StatusCodeInt() (code int, ok bool) {
	code, err := strconv.Atoi(e.StatusCode())
	return code, err == nil
}

func (e *CapturedEvent) loadFacets() *eventFacets {
	e.facetsOnce.Do(func() {
		e.facets = eventFacets{method: Sentinel, url: Sentinel, status: Sentinel}
		p := e.Payload
		if len(p) > 0 && e.IsRequest() {
			e.facets.method = requestMethod(p)
			e.facets.url = requestURL(p)
		}
		if len(p) > 0 && e.IsResponse() {
			e.facets.status = responseStatus(p)
		}
		e.facets.host = hostHeader(p, e.DstIP)
	})
	return &e.facets
}

// requestMethod takes the first token of the request line. Tokens longer than
// nine bytes are not methods.
func requestMethod(p []byte) string {
	sp := bytes.IndexByte(p, ' ')
	if sp > 0 && sp < 10 {
		return string(p[:sp])
	}
	return Sentinel
}

func requestURL(p []byte) string {
	first := bytes.IndexByte(p, ' ')
	if first <= 0 {
		return Sentinel
	}
	second := bytes.IndexByte(p[first+1:], ' ')
	if second < 0 {
		return Sentinel
	}
	return string(p[first+1 : first+1+second])
}

// responseStatus reads the second token of a status line ("HTTP/1.1 200 OK",
// "HTTP/2 200"). Without a trailing space at most three bytes are taken.
func responseStatus(p []byte) string {
	first := bytes.IndexByte(p, ' ')
	if first <= 0 {
		return Sentinel
	}
	end := min(len(p), first+4)
	if second := bytes.IndexByte(p[first+1:], ' '); second >= 0 {
		end = first + 1 + second
	}
	if end <= first+1 {
		return Sentinel
	}
	return string(bytes.TrimSpace(p[first+1 : end]))
}

func hostHeader(p []byte, fallback string) string {
	if len(p) == 0 {
		return fallback
	}
	header := []byte("Host:")
	idx := bytes.Index(p, header)
	if idx < 0 {
		header = []byte("host:")
		idx = bytes.Index(p, header)
	}
	if idx < 0 {
		return fallback
	}
	start := idx + len(header)
	end := bytes.IndexByte(p[start:], '\r')
	if end < 0 {
		end = bytes.IndexByte(p[start:], '\n')
	}
	if end <= 0 {
		return fallback
	}
	return string(bytes.TrimSpace(p[start : start+end]))
}

// String implements fmt.Stringer.
func (e *CapturedEvent) String() string {
	return fmt.Sprintf("CapturedEvent[uuid=%s, type=%s, %s -> %s, process=%s(%d), len=%d]",
		e.UUID, e.Type, e.Source(), e.Destination(), e.ProcessName, e.PID, e.Length)
}
