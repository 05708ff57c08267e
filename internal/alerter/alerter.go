package alerter

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"CaptureBridge/internal/config"
	"CaptureBridge/internal/model"

	"github.com/gomarkdown/markdown"
)

// Source exposes the liveness signals of the agent connection.
type Source interface {
	State() model.ConnectionState
	Endpoint() string
	HeartbeatAge(now time.Time) (time.Duration, bool)
}

// Alerter periodically checks the agent connection and notifies when it
// becomes unhealthy or recovers.
type Alerter struct {
	source        Source
	notifier      model.Notifier
	checkInterval time.Duration
	maxAge        time.Duration
	now           func() time.Time

	mu       sync.Mutex
	lastSent string
	alerting bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAlerter creates a new Alerter instance.
func NewAlerter(cfg *config.AlerterConfig, source Source, notifier model.Notifier) (*Alerter, error) {
	interval, err := time.ParseDuration(cfg.CheckInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid check_interval for alerter: %w", err)
	}
	maxAge, err := time.ParseDuration(cfg.HeartbeatMaxAge)
	if err != nil {
		return nil, fmt.Errorf("invalid heartbeat_max_age for alerter: %w", err)
	}
	if interval <= 0 || maxAge <= 0 {
		return nil, fmt.Errorf("alerter durations must be positive")
	}

	return &Alerter{
		source:        source,
		notifier:      notifier,
		checkInterval: interval,
		maxAge:        maxAge,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}, nil
}

// Start launches the periodic check in the background until Stop is called.
func (a *Alerter) Start() {
	a.wg.Add(1)
	go a.run()
	log.Println("Alerter started")
}

func (a *Alerter) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Evaluate()
		case <-a.stopChan:
			return
		}
	}
}

// Stop gracefully stops the alerter's evaluation loop.
func (a *Alerter) Stop() {
	log.Println("Stopping Alerter...")
	a.stopOnce.Do(func() { close(a.stopChan) })
	a.wg.Wait()
}

// Check returns the problems currently visible on the connection.
func (a *Alerter) Check(now time.Time) []string {
	var problems []string
	state := a.source.State()
	if state != model.StateConnected {
		problems = append(problems, fmt.Sprintf("Agent connection to `%s` is **%s**.", a.source.Endpoint(), state))
		return problems
	}
	age, ok := a.source.HeartbeatAge(now)
	switch {
	case !ok:
		problems = append(problems, "Connected, but no heartbeat has been received from the agent.")
	case age > a.maxAge:
		problems = append(problems, fmt.Sprintf("Last agent heartbeat was %s ago (limit %s).", age.Truncate(time.Second), a.maxAge))
	}
	return problems
}

// Evaluate runs one check and sends a notification when the set of problems
// changed since the last one sent, including the recovery to healthy.
func (a *Alerter) Evaluate() {
	now := a.now()
	problems := a.Check(now)
	key := strings.Join(problems, "\n")

	a.mu.Lock()
	if key == a.lastSent {
		a.mu.Unlock()
		return
	}
	wasAlerting := a.alerting
	a.lastSent = key
	a.alerting = len(problems) > 0
	a.mu.Unlock()

	if len(problems) == 0 && !wasAlerting {
		return
	}

	subject := "CaptureBridge: agent connection recovered"
	if len(problems) > 0 {
		subject = fmt.Sprintf("CaptureBridge Alert Summary (%d Triggered)", len(problems))
		log.Printf("Alerter evaluation completed. %d alert(s) triggered.", len(problems))
	}
	body := RenderBody(problems, now)

	if a.notifier == nil {
		return
	}
	if err := a.notifier.Send(subject, body); err != nil {
		log.Printf("ERROR: Failed to send alert notification: %v", err)
	} else {
		log.Printf("INFO: Alert notification sent successfully.")
	}
}

// RenderBody renders the notification as HTML from a markdown summary.
func RenderBody(problems []string, now time.Time) string {
	var md strings.Builder
	md.WriteString("# CaptureBridge Alert Summary\n\n")
	fmt.Fprintf(&md, "Checked at %s.\n\n", now.Format(time.RFC3339))
	if len(problems) == 0 {
		md.WriteString("The agent connection is healthy again.\n")
	} else {
		md.WriteString("The following problems were detected:\n\n")
		for _, p := range problems {
			md.WriteString("- " + p + "\n")
		}
	}
	return string(markdown.ToHTML([]byte(md.String()), nil, nil))
}
