package manager

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"CaptureBridge/internal/alerter"
	"CaptureBridge/internal/config"
	"CaptureBridge/internal/engine/correlator"
	"CaptureBridge/internal/factory"
	"CaptureBridge/internal/model"
	"CaptureBridge/internal/notification"
	"CaptureBridge/internal/probe"
	"CaptureBridge/internal/transport"
	"CaptureBridge/internal/writer"
)

// Publisher forwards completed pairs to a message bus.
type Publisher interface {
	Publish(pair *model.MatchedHttpPair) error
	Close()
}

// Deps overrides the collaborators NewManager would otherwise build from the
// config. Nil fields are built from the config.
type Deps struct {
	Dialer    transport.Dialer
	Writers   []model.Writer
	Publisher Publisher
	Notifier  model.Notifier
	Now       func() time.Time
}

// Manager wires the agent connection, the correlation engine and the
// downstream sinks together.
type Manager struct {
	correlator *correlator.Correlator
	dispatcher *transport.Dispatcher
	client     *transport.Client
	alerter    *alerter.Alerter
	publisher  Publisher
	writers    []model.Writer
	buffers    []*pairBuffer

	endpointMu  sync.RWMutex
	endpoint    string
	autoConnect bool

	// Worker pool for downstream forwarding
	pairChannel chan *model.MatchedHttpPair
	numWorkers  int
	workerWg    sync.WaitGroup

	// Snapshotting resources
	done          chan struct{}
	snapshotterWg sync.WaitGroup

	// sendMu guards pairChannel against sends after close.
	sendMu   sync.RWMutex
	stopped  bool
	started  atomic.Bool
	stopOnce sync.Once

	forwarded     atomic.Uint64
	publishErrors atomic.Uint64

	listenerMu     sync.RWMutex
	stateListeners []model.StateListener
}

// NewManager creates a Manager from the configuration.
func NewManager(cfg *config.Config) (*Manager, error) {
	return New(cfg, Deps{})
}

// New creates a Manager, taking collaborators from deps where set.
func New(cfg *config.Config, deps Deps) (*Manager, error) {
	staleAfter, err := time.ParseDuration(cfg.Engine.StaleAfter)
	if err != nil {
		return nil, fmt.Errorf("invalid engine stale_after: %w", err)
	}
	initialDelay, err := time.ParseDuration(cfg.Bridge.InitialReconnectDelay)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge initial_reconnect_delay: %w", err)
	}
	maxDelay, err := time.ParseDuration(cfg.Bridge.MaxReconnectDelay)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge max_reconnect_delay: %w", err)
	}
	if cfg.Engine.NumWorkers <= 0 {
		return nil, fmt.Errorf("engine num_workers must be positive")
	}

	dialer := deps.Dialer
	if dialer == nil {
		handshake, err := time.ParseDuration(cfg.Bridge.HandshakeTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid bridge handshake_timeout: %w", err)
		}
		dialer = &transport.WSDialer{Origin: cfg.Bridge.Origin, HandshakeTimeout: handshake}
	}

	writers := deps.Writers
	if writers == nil {
		writers, err = factory.Create(cfg)
		if err != nil {
			return nil, err
		}
	}

	publisher := deps.Publisher
	if publisher == nil && cfg.NATS.Enabled {
		p, err := probe.NewPublisher(cfg.NATS)
		if err != nil {
			return nil, err
		}
		publisher = p
	}

	m := &Manager{
		correlator: correlator.New(correlator.Options{
			StaleAfter:     staleAfter,
			MaxRuntimeLogs: cfg.Engine.MaxRuntimeLogs,
			AllowedMethods: cfg.Engine.AllowedMethods,
			Now:            deps.Now,
		}),
		publisher:   publisher,
		writers:     writers,
		endpoint:    cfg.Bridge.Endpoint,
		autoConnect: cfg.Bridge.AutoConnect,
		done:        make(chan struct{}),
		pairChannel: make(chan *model.MatchedHttpPair, cfg.Engine.SizeOfPairChannel),
		numWorkers:  cfg.Engine.NumWorkers,
	}
	for range writers {
		m.buffers = append(m.buffers, &pairBuffer{})
	}

	m.dispatcher = transport.NewDispatcher(m.correlator)
	m.client = transport.NewClient(transport.Options{
		Dialer:       dialer,
		Handler:      m.dispatcher,
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
	})
	m.client.SetStateListener(m.onState)

	if cfg.Alerter.Enabled {
		notifier := deps.Notifier
		if notifier == nil {
			if cfg.SMTP.Host != "" {
				notifier = notification.NewEmailNotifier(cfg.SMTP)
			} else {
				log.Println("Alerter is enabled but no SMTP server is configured; alerts go to the log.")
				notifier = notification.LogNotifier{}
			}
		}
		m.alerter, err = alerter.NewAlerter(&cfg.Alerter, m, notifier)
		if err != nil {
			return nil, fmt.Errorf("failed to create alerter: %w", err)
		}
		log.Println("Alerter enabled and initialized.")
	}

	return m, nil
}

// Start begins the forwarding workers, the snapshotters and the alerter, and
// connects to the agent when auto_connect is set.
func (m *Manager) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}

	for i, w := range m.writers {
		m.snapshotterWg.Add(1)
		go m.runSnapshotter(w, m.buffers[i])
		log.Printf("Started snapshotter for writer '%s' with interval %s.", w.Name(), w.GetInterval())
	}

	if m.alerter != nil {
		m.alerter.Start()
	}

	m.workerWg.Add(m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		go m.worker()
	}
	m.correlator.AddPairListener(m.onPair)
	log.Printf("Manager started with %d workers.", m.numWorkers)

	if endpoint := m.Endpoint(); m.autoConnect && endpoint != "" {
		if err := m.client.Connect(endpoint); err != nil {
			log.Printf("Manager: auto connect failed: %v", err)
		}
	}
}

// onPair hands every completed pair to the workers exactly once.
func (m *Manager) onPair(pair *model.MatchedHttpPair) {
	if !pair.IsComplete() || !pair.MarkSentDownstream() {
		return
	}
	m.sendMu.RLock()
	defer m.sendMu.RUnlock()
	if m.stopped {
		return
	}
	m.pairChannel <- pair
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	for pair := range m.pairChannel {
		if m.publisher != nil {
			if err := m.publisher.Publish(pair); err != nil {
				m.publishErrors.Add(1)
				log.Printf("Manager: failed to publish pair %s: %v", pair.ID(), err)
			}
		}
		for _, buf := range m.buffers {
			buf.add(pair)
		}
		m.forwarded.Add(1)
	}
}

// runSnapshotter runs a dedicated snapshot loop for a single writer.
func (m *Manager) runSnapshotter(w model.Writer, buf *pairBuffer) {
	defer m.snapshotterWg.Done()
	interval := w.GetInterval()
	if interval <= 0 {
		log.Printf("Invalid interval %s for writer '%s', snapshotter will not run.", interval, w.Name())
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.takeSnapshot(w, buf)
		case <-m.done:
			m.takeSnapshot(w, buf)
			return
		}
	}
}

func (m *Manager) takeSnapshot(w model.Writer, buf *pairBuffer) {
	pairs := buf.drain()
	if len(pairs) == 0 {
		return
	}
	timestamp := time.Now().Format(writer.SnapshotTimeFormat)
	if err := w.Write(pairs, timestamp); err != nil {
		log.Printf("Error writing snapshot for writer '%s': %v", w.Name(), err)
		return
	}
	log.Printf("Wrote %d pairs to writer '%s' at %s.", len(pairs), w.Name(), timestamp)
}

// Stop gracefully shuts down the manager.
func (m *Manager) Stop() {
	m.stopOnce.Do(m.stop)
}

func (m *Manager) stop() {
	log.Println("Manager stopping...")
	// 1. Close the agent connection so no new events arrive.
	m.client.Shutdown()

	// 2. Stop accepting pairs and let the workers drain the channel.
	m.sendMu.Lock()
	m.stopped = true
	close(m.pairChannel)
	m.sendMu.Unlock()
	if m.started.Load() {
		log.Println("Waiting for workers to finish...")
		m.workerWg.Wait()
	}

	// 3. Snapshotters take a final snapshot and exit.
	close(m.done)
	m.snapshotterWg.Wait()

	if m.alerter != nil {
		m.alerter.Stop()
	}
	if m.publisher != nil {
		m.publisher.Close()
	}
	for _, w := range m.writers {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Printf("Error closing writer '%s': %v", w.Name(), err)
			}
		}
	}
	log.Println("Manager stopped.")
}

func (m *Manager) onState(state model.ConnectionState) {
	log.Printf("Manager: agent connection is %s", state)
	m.listenerMu.RLock()
	listeners := append([]model.StateListener(nil), m.stateListeners...)
	m.listenerMu.RUnlock()
	for _, fn := range listeners {
		notifyState(fn, state)
	}
}

func notifyState(fn model.StateListener, state model.ConnectionState) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Manager: error in state listener: %v", r)
		}
	}()
	fn(state)
}

// AddStateListener registers an observer of connection state changes.
func (m *Manager) AddStateListener(fn model.StateListener) {
	m.listenerMu.Lock()
	m.stateListeners = append(m.stateListeners, fn)
	m.listenerMu.Unlock()
}

// AddPairListener registers an observer of pair creation and completion.
func (m *Manager) AddPairListener(fn model.PairListener) {
	m.correlator.AddPairListener(fn)
}

// Connect connects to endpoint, or to the configured endpoint if empty.
func (m *Manager) Connect(endpoint string) error {
	m.endpointMu.Lock()
	if endpoint != "" {
		m.endpoint = endpoint
	}
	endpoint = m.endpoint
	m.endpointMu.Unlock()
	return m.client.Connect(endpoint)
}

// Disconnect closes the agent connection and stops reconnecting.
func (m *Manager) Disconnect() { m.client.Disconnect() }

// Clear drops every pair and pending queue.
func (m *Manager) Clear() { m.correlator.Clear() }

// State returns the agent connection state.
func (m *Manager) State() model.ConnectionState { return m.client.State() }

// Endpoint returns the agent endpoint in use.
func (m *Manager) Endpoint() string {
	m.endpointMu.RLock()
	defer m.endpointMu.RUnlock()
	return m.endpoint
}

// HeartbeatAge returns the time since the last agent heartbeat.
func (m *Manager) HeartbeatAge(now time.Time) (time.Duration, bool) {
	return m.correlator.HeartbeatAge(now)
}

// Pairs returns a snapshot of all known pairs.
func (m *Manager) Pairs() []*model.MatchedHttpPair { return m.correlator.Pairs() }

// Pair looks up a pair by id.
func (m *Manager) Pair(id string) (*model.MatchedHttpPair, bool) { return m.correlator.Pair(id) }

// RuntimeLogs returns the buffered agent log lines.
func (m *Manager) RuntimeLogs() []string { return m.correlator.RuntimeLogs() }

// Status is a point-in-time view of the whole bridge.
type Status struct {
	State           string           `json:"state"`
	Endpoint        string           `json:"endpoint"`
	Freshness       string           `json:"heartbeat_freshness"`
	HeartbeatAge    float64          `json:"heartbeat_age_seconds"`
	HeartbeatCount  int64            `json:"heartbeat_count"`
	Engine          correlator.Stats `json:"-"`
	Transport       transport.Stats  `json:"-"`
	TotalEvents     uint64           `json:"total_events"`
	TotalPairs      uint64           `json:"total_pairs"`
	CompletedPairs  uint64           `json:"completed_pairs"`
	PendingPairs    int              `json:"pending_pairs"`
	PendingKeys     int              `json:"pending_connections"`
	FramesReceived  uint64           `json:"frames_received"`
	MalformedFrames uint64           `json:"malformed_frames"`
	Unclassified    uint64           `json:"unclassified_events"`
	UnknownFrames   uint64           `json:"unknown_frames"`
	ReconnectTry    int              `json:"reconnect_attempt"`
	Forwarded       uint64           `json:"forwarded_pairs"`
	PublishErrors   uint64           `json:"publish_errors"`
	Writers         []string         `json:"writers"`
}

// Status collects the current counters.
func (m *Manager) Status() Status {
	now := time.Now()
	es := m.correlator.Stats()
	ts := m.client.Stats()
	s := Status{
		State:           m.client.State().String(),
		Endpoint:        m.Endpoint(),
		Freshness:       m.correlator.Freshness(now).String(),
		HeartbeatCount:  es.HeartbeatCount,
		Engine:          es,
		Transport:       ts,
		TotalEvents:     es.TotalEvents,
		TotalPairs:      es.TotalPairs,
		CompletedPairs:  es.CompletedPairs,
		PendingPairs:    es.PendingPairs,
		PendingKeys:     es.PendingKeys,
		FramesReceived:  ts.FramesReceived,
		MalformedFrames: ts.MalformedFrames,
		Unclassified:    m.dispatcher.Unclassified(),
		UnknownFrames:   m.dispatcher.UnknownFrames(),
		ReconnectTry:    ts.Attempt,
		Forwarded:       m.forwarded.Load(),
		PublishErrors:   m.publishErrors.Load(),
		Writers:         []string{},
	}
	if age, ok := m.correlator.HeartbeatAge(now); ok {
		s.HeartbeatAge = age.Seconds()
	}
	for _, w := range m.writers {
		s.Writers = append(s.Writers, w.Name())
	}
	return s
}

// pairBuffer collects forwarded pairs between two snapshots of one writer.
type pairBuffer struct {
	mu    sync.Mutex
	pairs []*model.MatchedHttpPair
}

func (b *pairBuffer) add(p *model.MatchedHttpPair) {
	b.mu.Lock()
	b.pairs = append(b.pairs, p)
	b.mu.Unlock()
}

func (b *pairBuffer) drain() []*model.MatchedHttpPair {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pairs
	b.pairs = nil
	return out
}
