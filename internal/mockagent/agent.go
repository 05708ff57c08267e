package mockagent

import (
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"CaptureBridge/internal/engine/protocol"

	"github.com/gorilla/websocket"
)

// Agent serves a fixed list of events to every WebSocket client, with
// periodic heartbeats.
type Agent struct {
	events            []*protocol.Event
	eventInterval     time.Duration
	heartbeatInterval time.Duration
	loop              bool
	upgrader          websocket.Upgrader

	heartbeats atomic.Int64
	clients    atomic.Int64
}

// Options tune an Agent. Zero durations select 100ms between events and 5s
// between heartbeats.
type Options struct {
	EventInterval     time.Duration
	HeartbeatInterval time.Duration
	// Loop replays the events forever instead of once.
	Loop bool
}

// NewAgent creates an Agent serving events.
func NewAgent(events []*protocol.Event, opts Options) *Agent {
	if opts.EventInterval <= 0 {
		opts.EventInterval = 100 * time.Millisecond
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	return &Agent{
		events:            events,
		eventInterval:     opts.EventInterval,
		heartbeatInterval: opts.HeartbeatInterval,
		loop:              opts.Loop,
		upgrader:          websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Clients returns the number of connections served so far.
func (a *Agent) Clients() int64 { return a.clients.Load() }

// ServeHTTP upgrades the request and streams frames until the client leaves.
func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("MockAgent: upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	a.clients.Add(1)
	log.Printf("MockAgent: client %s connected", r.RemoteAddr)

	// The bridge never sends anything; reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(frame []byte) bool {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			log.Printf("MockAgent: write failed: %v", err)
			return false
		}
		return true
	}

	if !send(protocol.RunLogFrame(fmt.Sprintf("mock agent attached, %d events queued", len(a.events)))) ||
		!send(a.heartbeat()) {
		return
	}

	hb := time.NewTicker(a.heartbeatInterval)
	defer hb.Stop()
	ev := time.NewTicker(a.eventInterval)
	defer ev.Stop()

	next := 0
	for {
		select {
		case <-gone:
			log.Printf("MockAgent: client %s left", r.RemoteAddr)
			return
		case <-hb.C:
			if !send(a.heartbeat()) {
				return
			}
		case <-ev.C:
			if next >= len(a.events) {
				if !a.loop || len(a.events) == 0 {
					continue
				}
				next = 0
			}
			if !send(protocol.EventFrame(a.events[next])) {
				return
			}
			next++
		}
	}
}

func (a *Agent) heartbeat() []byte {
	n := a.heartbeats.Add(1)
	return protocol.HeartbeatFrame(&protocol.Heartbeat{
		Timestamp: time.Now().Unix(),
		Count:     n,
		Message:   "mock agent alive",
	})
}
