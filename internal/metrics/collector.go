// Package metrics exports the bridge counters in the Prometheus format.
package metrics

import (
	"CaptureBridge/internal/engine/manager"
	"CaptureBridge/internal/model"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "capturebridge"

// Source provides the status snapshot read on every scrape.
type Source interface {
	Status() manager.Status
	State() model.ConnectionState
}

type metric struct {
	desc  *prometheus.Desc
	typ   prometheus.ValueType
	value func(s *manager.Status) float64
}

// Collector is a prometheus.Collector over a Source.
type Collector struct {
	source  Source
	metrics []metric
	state   *prometheus.Desc
}

// NewCollector creates a Collector reading from source.
func NewCollector(source Source) *Collector {
	counter := func(name, help string, fn func(s *manager.Status) float64) metric {
		return metric{prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil), prometheus.CounterValue, fn}
	}
	gauge := func(name, help string, fn func(s *manager.Status) float64) metric {
		return metric{prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil), prometheus.GaugeValue, fn}
	}
	return &Collector{
		source: source,
		state: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "connection_state"),
			"1 for the current agent connection state, 0 otherwise.", []string{"state"}, nil),
		metrics: []metric{
			counter("events_total", "Classified capture events received.", func(s *manager.Status) float64 { return float64(s.TotalEvents) }),
			counter("pairs_total", "Pairs created from accepted requests.", func(s *manager.Status) float64 { return float64(s.TotalPairs) }),
			counter("pairs_completed_total", "Pairs that received their response.", func(s *manager.Status) float64 { return float64(s.CompletedPairs) }),
			counter("rejected_requests_total", "Requests dropped by the acceptance filter.", func(s *manager.Status) float64 { return float64(s.Engine.RejectedRequests) }),
			counter("rejected_responses_total", "Responses dropped by the acceptance filter.", func(s *manager.Status) float64 { return float64(s.Engine.RejectedResponses) }),
			counter("orphan_responses_total", "Responses without a waiting request.", func(s *manager.Status) float64 { return float64(s.Engine.OrphanResponses) }),
			counter("frames_received_total", "Binary frames read from the agent.", func(s *manager.Status) float64 { return float64(s.FramesReceived) }),
			counter("frames_malformed_total", "Frames that failed to decode.", func(s *manager.Status) float64 { return float64(s.MalformedFrames) }),
			counter("frames_unknown_total", "Frames with an unknown log type.", func(s *manager.Status) float64 { return float64(s.UnknownFrames) }),
			counter("events_unclassified_total", "Events that were neither request nor response.", func(s *manager.Status) float64 { return float64(s.Unclassified) }),
			counter("connects_total", "Successful agent connections.", func(s *manager.Status) float64 { return float64(s.Transport.Connects) }),
			counter("pairs_forwarded_total", "Completed pairs handed to the sinks.", func(s *manager.Status) float64 { return float64(s.Forwarded) }),
			counter("publish_errors_total", "Failed NATS publishes.", func(s *manager.Status) float64 { return float64(s.PublishErrors) }),
			gauge("pending_pairs", "Pairs held in connection queues.", func(s *manager.Status) float64 { return float64(s.PendingPairs) }),
			gauge("pending_connections", "Connection queues being tracked.", func(s *manager.Status) float64 { return float64(s.PendingKeys) }),
			gauge("reconnect_attempt", "Current reconnect attempt, 0 when connected.", func(s *manager.Status) float64 { return float64(s.ReconnectTry) }),
			gauge("heartbeat_age_seconds", "Seconds since the last agent heartbeat.", func(s *manager.Status) float64 { return s.HeartbeatAge }),
			gauge("heartbeat_count", "Event count reported by the last heartbeat.", func(s *manager.Status) float64 { return float64(s.HeartbeatCount) }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
	ch <- c.state
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	status := c.source.Status()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.typ, m.value(&status))
	}
	current := c.source.State()
	for s := model.StateDisconnected; s <= model.StateError; s++ {
		v := 0.0
		if s == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.String())
	}
}
