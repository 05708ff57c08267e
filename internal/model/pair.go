package model

import (
	"fmt"
	"sync"
	"time"
)

// MatchedHttpPair holds a request and, once it arrives, its response.
// A pair only moves forward: request only, then request and response.
// Once complete it never changes again.
type MatchedHttpPair struct {
	id        string
	createdAt time.Time

	mu             sync.RWMutex
	request        *CapturedEvent
	response       *CapturedEvent
	sentDownstream bool
}

// NewMatchedHttpPair creates a pair for the given request.
func NewMatchedHttpPair(id string, request *CapturedEvent, createdAt time.Time) *MatchedHttpPair {
	return &MatchedHttpPair{id: id, request: request, createdAt: createdAt}
}

// ID returns the generated pair id.
func (p *MatchedHttpPair) ID() string { return p.id }

// CreatedAt returns the time the pair was created.
func (p *MatchedHttpPair) CreatedAt() time.Time { return p.createdAt }

func (p *MatchedHttpPair) Request() *CapturedEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.request
}

func (p *MatchedHttpPair) Response() *CapturedEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.response
}

func (p *MatchedHttpPair) HasRequest() bool { return p.Request() != nil }

func (p *MatchedHttpPair) HasResponse() bool { return p.Response() != nil }

// IsComplete reports whether both sides are present.
func (p *MatchedHttpPair) IsComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.request != nil && p.response != nil
}

// AttachResponse sets the response if none is present yet. It returns false
// when the pair already has a response.
func (p *MatchedHttpPair) AttachResponse(resp *CapturedEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.response != nil {
		return false
	}
	p.response = resp
	return true
}

// MarkSentDownstream flags the pair as handed to the sinks. It returns false if
// the flag was already set.
func (p *MatchedHttpPair) MarkSentDownstream() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sentDownstream {
		return false
	}
	p.sentDownstream = true
	return true
}

func (p *MatchedHttpPair) SentDownstream() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sentDownstream
}

func (p *MatchedHttpPair) Method() string {
	if req := p.Request(); req != nil {
		return req.Method()
	}
	return Sentinel
}

func (p *MatchedHttpPair) URL() string {
	if req := p.Request(); req != nil {
		return req.URL()
	}
	return Sentinel
}

// Host prefers the request Host header, then the response destination IP.
func (p *MatchedHttpPair) Host() string {
	if req := p.Request(); req != nil {
		return req.Host()
	}
	if resp := p.Response(); resp != nil {
		return resp.DstIP
	}
	return Sentinel
}

func (p *MatchedHttpPair) StatusCode() string {
	if resp := p.Response(); resp != nil {
		return resp.StatusCode()
	}
	return Sentinel
}

// Port is the server side port: the request destination, else the response source.
func (p *MatchedHttpPair) Port() int {
	if req := p.Request(); req != nil {
		return int(req.DstPort)
	}
	if resp := p.Response(); resp != nil {
		return int(resp.SrcPort)
	}
	return 0
}

// IsHTTPS guesses TLS from the server port.
func (p *MatchedHttpPair) IsHTTPS() bool {
	port := p.Port()
	return port == 443 || port == 8443
}

func (p *MatchedHttpPair) RequestLength() uint32 {
	if req := p.Request(); req != nil {
		return req.Length
	}
	return 0
}

func (p *MatchedHttpPair) ResponseLength() uint32 {
	if resp := p.Response(); resp != nil {
		return resp.Length
	}
	return 0
}

// ProcessInfo returns "name (pid)" of the process that produced the traffic.
func (p *MatchedHttpPair) ProcessInfo() string {
	ev := p.Request()
	if ev == nil {
		ev = p.Response()
	}
	if ev == nil {
		return Sentinel
	}
	return fmt.Sprintf("%s (%d)", ev.ProcessName, ev.PID)
}

// Timestamp returns the agent timestamp of the request, else of the response.
// The zero time is returned when neither carries one.
func (p *MatchedHttpPair) Timestamp() time.Time {
	if req := p.Request(); req != nil && req.Timestamp > 0 {
		return req.Time()
	}
	if resp := p.Response(); resp != nil && resp.Timestamp > 0 {
		return resp.Time()
	}
	return time.Time{}
}

func (p *MatchedHttpPair) String() string {
	return fmt.Sprintf("MatchedHttpPair[id=%s, method=%s, url=%s, status=%s, complete=%t]",
		p.id, p.Method(), p.URL(), p.StatusCode(), p.IsComplete())
}
