// Package transport keeps the connection to the capture agent alive and feeds
// the decoded frames to a FrameHandler.
package transport

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"CaptureBridge/internal/engine/protocol"
	"CaptureBridge/internal/model"

	"github.com/gorilla/websocket"
)

// ErrNoEndpoint is returned by Connect when no endpoint is given.
var ErrNoEndpoint = errors.New("no endpoint configured")

// FrameHandler consumes decoded agent frames.
type FrameHandler interface {
	HandleFrame(frame *protocol.Frame)
}

// Options configure a Client. Zero delays select the defaults.
type Options struct {
	Dialer       Dialer
	Handler      FrameHandler
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Stats counts inbound traffic.
type Stats struct {
	FramesReceived  uint64
	MalformedFrames uint64
	TextMessages    uint64
	Connects        uint64
	Attempt         int
}

// Client is a reconnecting agent connection.
//
// Connection callbacks run on goroutines owned by the client while Connect and
// Disconnect are called from the application. Every callback carries the
// generation it was started under and is ignored once Disconnect or a newer
// attempt has moved the generation on.
//
// State changes are queued under mu in the order they happen and handed to the
// listener by one goroutine at a time, so the listener never sees an older
// state after a newer one.
type Client struct {
	dialer       Dialer
	handler      FrameHandler
	initialDelay time.Duration
	maxDelay     time.Duration

	connecting atomic.Bool

	mu            sync.Mutex
	state         model.ConnectionState
	endpoint      string
	autoReconnect bool
	attempt       int
	generation    uint64
	conn          Conn
	cancelDial    context.CancelFunc
	retry         *time.Timer
	pending       []model.ConnectionState
	delivering    bool

	listenerMu sync.RWMutex
	listener   model.StateListener

	framesReceived  atomic.Uint64
	malformedFrames atomic.Uint64
	textMessages    atomic.Uint64
	connects        atomic.Uint64

	wg sync.WaitGroup
}

// NewClient creates a disconnected Client.
func NewClient(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = NewWSDialer()
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	return &Client{
		dialer:       opts.Dialer,
		handler:      opts.Handler,
		initialDelay: opts.InitialDelay,
		maxDelay:     opts.MaxDelay,
		state:        model.StateDisconnected,
	}
}

// SetStateListener registers the single state observer, replacing any
// previous one.
func (c *Client) SetStateListener(fn model.StateListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listener = fn
}

// State returns the current connection state.
func (c *Client) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the last endpoint passed to Connect.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// Stats returns the traffic counters and the current retry attempt.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	attempt := c.attempt
	c.mu.Unlock()
	return Stats{
		FramesReceived:  c.framesReceived.Load(),
		MalformedFrames: c.malformedFrames.Load(),
		TextMessages:    c.textMessages.Load(),
		Connects:        c.connects.Load(),
		Attempt:         attempt,
	}
}

// Connect starts connecting to endpoint and keeps reconnecting until
// Disconnect is called. It returns immediately; progress is reported through
// the state listener. A call made while an attempt is in flight is ignored.
func (c *Client) Connect(endpoint string) error {
	if endpoint == "" {
		return ErrNoEndpoint
	}
	if c.connecting.Load() {
		log.Printf("Transport: connect to %s ignored, an attempt is already in flight", endpoint)
		return nil
	}

	c.mu.Lock()
	c.endpoint = endpoint
	c.autoReconnect = true
	c.attempt = 0
	c.stopRetryLocked()
	c.mu.Unlock()

	c.dial()
	return nil
}

// dial starts one connection attempt on its own goroutine.
func (c *Client) dial() {
	c.mu.Lock()
	if !c.autoReconnect {
		c.mu.Unlock()
		return
	}
	if !c.connecting.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return
	}
	c.closeConnLocked()
	c.generation++
	gen := c.generation
	endpoint := c.endpoint
	next := model.StateConnecting
	if c.attempt > 0 {
		next = model.StateReconnecting
		log.Printf("Transport: connecting to %s (attempt %d)", endpoint, c.attempt+1)
	} else {
		log.Printf("Transport: connecting to %s", endpoint)
	}
	c.setStateLocked(next)
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(ctx, gen, endpoint)
	c.flush()
}

func (c *Client) run(ctx context.Context, gen uint64, endpoint string) {
	defer c.wg.Done()

	conn, err := c.dialer.Dial(ctx, endpoint)
	if err != nil {
		c.onDialError(gen, err)
		return
	}
	if !c.onOpen(gen, conn) {
		conn.Close()
		return
	}
	c.readLoop(gen, conn)
}

func (c *Client) onOpen(gen uint64, conn Conn) bool {
	c.mu.Lock()
	if gen != c.generation || !c.autoReconnect {
		c.mu.Unlock()
		return false
	}
	c.cancelDial = nil
	c.conn = conn
	c.attempt = 0
	c.connecting.Store(false)
	c.setStateLocked(model.StateConnected)
	endpoint := c.endpoint
	c.mu.Unlock()

	c.connects.Add(1)
	log.Printf("Transport: connected to %s", endpoint)
	c.flush()
	return true
}

func (c *Client) onDialError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.cancelDial = nil
	c.connecting.Store(false)
	log.Printf("Transport: %v", err)
	c.setStateLocked(model.StateError)
	if c.autoReconnect {
		c.setStateLocked(model.StateReconnecting)
		c.scheduleRetryLocked()
	}
	c.mu.Unlock()

	c.flush()
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.onClosed(gen, err)
			return
		}
		if messageType != websocket.BinaryMessage {
			c.textMessages.Add(1)
			continue
		}
		c.framesReceived.Add(1)
		frame, err := protocol.Decode(data)
		if err != nil {
			c.malformedFrames.Add(1)
			log.Printf("Transport: dropping frame of %d bytes: %v", len(data), err)
			continue
		}
		if c.handler != nil {
			c.handler.HandleFrame(frame)
		}
	}
}

func (c *Client) onClosed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		// Closed by Disconnect or replaced by a newer attempt.
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connecting.Store(false)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("Transport: connection closed by agent: %v", err)
	} else {
		log.Printf("Transport: connection lost: %v", err)
		c.setStateLocked(model.StateError)
	}
	if c.autoReconnect {
		c.setStateLocked(model.StateReconnecting)
		c.scheduleRetryLocked()
	} else {
		c.setStateLocked(model.StateDisconnected)
	}
	c.mu.Unlock()

	c.flush()
}

// scheduleRetryLocked arms the single retry timer, replacing any pending one.
func (c *Client) scheduleRetryLocked() {
	if !c.autoReconnect {
		return
	}
	c.stopRetryLocked()
	delay := Backoff(c.initialDelay, c.maxDelay, c.attempt)
	c.attempt++
	gen := c.generation
	log.Printf("Transport: scheduling reconnect in %s", delay)
	c.retry = time.AfterFunc(delay, func() { c.retryFired(gen) })
}

func (c *Client) retryFired(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || !c.autoReconnect {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.mu.Unlock()
	c.dial()
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) closeConnLocked() {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			log.Printf("Transport: error closing connection: %v", err)
		}
		c.conn = nil
	}
}

// Disconnect stops reconnecting, closes the connection and moves to
// Disconnected. It is safe to call in any state and more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.autoReconnect = false
	c.stopRetryLocked()
	c.generation++
	c.closeConnLocked()
	c.connecting.Store(false)
	changed := c.setStateLocked(model.StateDisconnected)
	c.mu.Unlock()

	if changed {
		log.Println("Transport: disconnected")
	}
	c.flush()
}

// Shutdown disconnects and waits for the connection goroutines to exit.
func (c *Client) Shutdown() {
	c.Disconnect()
	c.wg.Wait()
}

// setStateLocked records s and queues it for the listener. It reports
// whether the state changed.
func (c *Client) setStateLocked(s model.ConnectionState) bool {
	if c.state == s {
		return false
	}
	c.state = s
	c.pending = append(c.pending, s)
	return true
}

// flush delivers queued state changes outside c.mu so the listener may call
// back into the client. If another goroutine is already delivering, that
// goroutine picks up the new entries before it returns.
func (c *Client) flush() {
	c.mu.Lock()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.pending) > 0 {
		s := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.deliver(s)
		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}

func (c *Client) deliver(s model.ConnectionState) {
	c.listenerMu.RLock()
	fn := c.listener
	c.listenerMu.RUnlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Transport: error in state listener: %v", r)
		}
	}()
	fn(s)
}
