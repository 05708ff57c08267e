// Package correlator pairs captured HTTP requests with their responses.
//
// Events are grouped by connection key. Each key owns a FIFO queue of pairs in
// request arrival order, and a response always completes the oldest pair that
// has none. This relies on the capture agent delivering the events of one
// connection in send order; events delivered out of order within a key would be
// paired with the wrong partner, and nothing here detects that.
package correlator

import (
	"log"
	"strings"
	"sync"
	"time"

	"CaptureBridge/internal/model"

	"github.com/google/uuid"
)

const (
	// DefaultStaleAfter is how long a fully resolved connection queue is kept.
	DefaultStaleAfter = 5 * time.Minute
	// DefaultMaxRuntimeLogs bounds the runtime log ring.
	DefaultMaxRuntimeLogs = 1000
	// unknownConnection groups events that carry no uuid.
	unknownConnection = "unknown"
)

// DefaultAllowedMethods are the request methods kept for pairing.
var DefaultAllowedMethods = []string{"GET", "POST"}

// Options tune a Correlator. Zero values select the defaults.
type Options struct {
	StaleAfter     time.Duration
	MaxRuntimeLogs int
	AllowedMethods []string

	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

// Stats is a point-in-time view of the correlator counters.
type Stats struct {
	TotalEvents       uint64
	TotalPairs        uint64
	CompletedPairs    uint64
	RejectedRequests  uint64
	RejectedResponses uint64
	OrphanResponses   uint64
	PendingKeys       int
	PendingPairs      int
	LastHeartbeat     time.Time
	HeartbeatCount    int64
	HeartbeatMessage  string
}

// Correlator is the stateful pairing engine. It is safe for concurrent use.
type Correlator struct {
	staleAfter     time.Duration
	maxRuntimeLogs int
	allowed        map[string]struct{}
	now            func() time.Time
	newID          func() string

	mu      sync.RWMutex
	pending map[string][]*model.MatchedHttpPair
	pairs   []*model.MatchedHttpPair
	byID    map[string]*model.MatchedHttpPair
	logs    []string
	stats   Stats

	listenerMu    sync.RWMutex
	pairListeners []model.PairListener
	logListeners  []model.LogListener
}

// New creates a Correlator.
func New(opts Options) *Correlator {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.MaxRuntimeLogs <= 0 {
		opts.MaxRuntimeLogs = DefaultMaxRuntimeLogs
	}
	if len(opts.AllowedMethods) == 0 {
		opts.AllowedMethods = DefaultAllowedMethods
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	allowed := make(map[string]struct{}, len(opts.AllowedMethods))
	for _, m := range opts.AllowedMethods {
		allowed[strings.ToUpper(m)] = struct{}{}
	}
	return &Correlator{
		staleAfter:     opts.StaleAfter,
		maxRuntimeLogs: opts.MaxRuntimeLogs,
		allowed:        allowed,
		now:            opts.Now,
		newID:          opts.NewID,
		pending:        make(map[string][]*model.MatchedHttpPair),
		byID:           make(map[string]*model.MatchedHttpPair),
	}
}

// ConnectionKey derives the connection grouping key from an agent uuid such as
// "sock:27570_27907_curl_0_1_0.0.0.0:0-0.0.0.0:0_0". The first three
// underscore separated segments identify the connection; the rest encode
// direction and sequence. Trailing empty segments do not count, and UUIDs with
// fewer than four segments are used whole.
func ConnectionKey(id string) string {
	if id == "" {
		return unknownConnection
	}
	parts := strings.Split(id, "_")
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) < 4 {
		return id
	}
	return strings.Join(parts[:3], "_")
}

// OnEvent feeds one classified event into the engine.
func (c *Correlator) OnEvent(ev *model.CapturedEvent) {
	var notify *model.MatchedHttpPair

	c.mu.Lock()
	c.stats.TotalEvents++
	switch ev.Kind() {
	case model.KindRequest:
		notify = c.acceptRequestLocked(ev)
	case model.KindResponse:
		notify = c.acceptResponseLocked(ev)
	}
	c.sweepLocked()
	c.mu.Unlock()

	if notify != nil {
		c.notifyPair(notify)
	}
}

func (c *Correlator) acceptRequestLocked(ev *model.CapturedEvent) *model.MatchedHttpPair {
	if !c.acceptableRequest(ev) {
		c.stats.RejectedRequests++
		return nil
	}
	key := ConnectionKey(ev.UUID)
	pair := model.NewMatchedHttpPair(key+"_req_"+c.newID(), ev, c.now())
	c.pending[key] = append(c.pending[key], pair)
	c.pairs = append(c.pairs, pair)
	c.byID[pair.ID()] = pair
	c.stats.TotalPairs++
	return pair
}

func (c *Correlator) acceptableRequest(ev *model.CapturedEvent) bool {
	if _, ok := c.allowed[strings.ToUpper(ev.Method())]; !ok {
		return false
	}
	if url := ev.URL(); url == model.Sentinel || url == "" {
		return false
	}
	host := ev.Host()
	return host != model.Sentinel && host != "" && host != "0.0.0.0"
}

func (c *Correlator) acceptResponseLocked(ev *model.CapturedEvent) *model.MatchedHttpPair {
	code, ok := ev.StatusCodeInt()
	if !ok || code < 100 || code > 599 {
		c.stats.RejectedResponses++
		return nil
	}
	for _, pair := range c.pending[ConnectionKey(ev.UUID)] {
		if pair.HasResponse() {
			continue
		}
		if pair.AttachResponse(ev) {
			c.stats.CompletedPairs++
			return pair
		}
	}
	// Responses without a request have no value downstream.
	c.stats.OrphanResponses++
	return nil
}

// OnHeartbeat records agent liveness.
func (c *Correlator) OnHeartbeat(timestamp, count int64, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.LastHeartbeat = c.now()
	c.stats.HeartbeatCount = count
	c.stats.HeartbeatMessage = message
}

// OnRuntimeLog stores an agent log line and notifies log listeners.
func (c *Correlator) OnRuntimeLog(line string) {
	if line == "" {
		return
	}
	c.mu.Lock()
	c.logs = append(c.logs, line)
	if over := len(c.logs) - c.maxRuntimeLogs; over > 0 {
		c.logs = append(c.logs[:0:0], c.logs[over:]...)
	}
	c.mu.Unlock()

	c.notifyLog(line)
}

// Sweep drops connection queues that are empty, or whose oldest pair is older
// than the staleness window while every pair in the queue is complete.
func (c *Correlator) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
}

func (c *Correlator) sweepLocked() {
	now := c.now()
	for key, queue := range c.pending {
		if len(queue) == 0 {
			delete(c.pending, key)
			continue
		}
		if now.Sub(queue[0].CreatedAt()) <= c.staleAfter {
			continue
		}
		if allComplete(queue) {
			delete(c.pending, key)
		}
	}
}

func allComplete(queue []*model.MatchedHttpPair) bool {
	for _, p := range queue {
		if !p.IsComplete() {
			return false
		}
	}
	return true
}

// Clear resets the engine to its initial state. Listeners are kept.
func (c *Correlator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[string][]*model.MatchedHttpPair)
	c.pairs = nil
	c.byID = make(map[string]*model.MatchedHttpPair)
	c.logs = nil
	c.stats = Stats{}
}

// Pairs returns a snapshot of every pair created since the last Clear, in
// creation order.
func (c *Correlator) Pairs() []*model.MatchedHttpPair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.MatchedHttpPair, len(c.pairs))
	copy(out, c.pairs)
	return out
}

// Pair looks a pair up by id.
func (c *Correlator) Pair(id string) (*model.MatchedHttpPair, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

// PendingKeys returns the connection keys that currently own a queue.
func (c *Correlator) PendingKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}
	return keys
}

// RuntimeLogs returns a snapshot of the runtime log ring, oldest first.
func (c *Correlator) RuntimeLogs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.logs))
	copy(out, c.logs)
	return out
}

// Stats returns the current counters.
func (c *Correlator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.PendingKeys = len(c.pending)
	for _, queue := range c.pending {
		for _, p := range queue {
			if !p.IsComplete() {
				s.PendingPairs++
			}
		}
	}
	return s
}

// AddPairListener registers fn for pair creation and completion.
func (c *Correlator) AddPairListener(fn model.PairListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.pairListeners = append(c.pairListeners, fn)
}

// AddLogListener registers fn for runtime log lines.
func (c *Correlator) AddLogListener(fn model.LogListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.logListeners = append(c.logListeners, fn)
}

// Listeners run on the caller's goroutine without any engine lock held, so
// they may call back into the correlator.
func (c *Correlator) notifyPair(pair *model.MatchedHttpPair) {
	c.listenerMu.RLock()
	listeners := append([]model.PairListener(nil), c.pairListeners...)
	c.listenerMu.RUnlock()
	for _, fn := range listeners {
		safeCall("pair", func() { fn(pair) })
	}
}

func (c *Correlator) notifyLog(line string) {
	c.listenerMu.RLock()
	listeners := append([]model.LogListener(nil), c.logListeners...)
	c.listenerMu.RUnlock()
	for _, fn := range listeners {
		safeCall("log", func() { fn(line) })
	}
}

func safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Correlator: error in %s listener: %v", kind, r)
		}
	}()
	fn()
}
