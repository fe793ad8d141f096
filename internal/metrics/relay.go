package metrics

import (
	"fmt"

	"stonksrelay/internal/bus"
)

// Namespace prefixes every relay metric.
const Namespace = "relay"

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// RelayMetrics holds the relay's counters and derives them from bus events.
type RelayMetrics struct {
	collector *Collector

	Messages   *Counter
	Ignored    *Counter
	Deliveries *Counter
	Failures   *Counter
	Feedback   *Counter
	Inflight   *Gauge
	Latency    *Histogram
}

// NewRelayMetrics registers the relay metrics on c.
func NewRelayMetrics(c *Collector) *RelayMetrics {
	return &RelayMetrics{
		collector:  c,
		Messages:   c.Counter(Namespace+"_messages_total", "Messages seen by the relay", ""),
		Ignored:    c.Counter(Namespace+"_ignored_total", "Messages that matched no trigger", ""),
		Deliveries: c.Counter(Namespace+"_deliveries_total", "Webhook deliveries that succeeded", ""),
		Failures:   c.Counter(Namespace+"_delivery_failures_total", "Webhook deliveries that failed", ""),
		Feedback:   c.Counter(Namespace+"_feedback_failures_total", "Reactions or replies that could not be posted", ""),
		Inflight:   c.Gauge(Namespace+"_inflight_deliveries", "Deliveries currently in progress", ""),
		Latency: c.Histogram(Namespace+"_webhook_latency_seconds", "Webhook round trip latency in seconds", "",
			latencyBuckets),
	}
}

// Collector returns the underlying collector.
func (m *RelayMetrics) Collector() *Collector { return m.collector }

// Triggered returns the per-kind trigger counter.
func (m *RelayMetrics) Triggered(kind string) *Counter {
	return m.collector.Counter(Namespace+"_events_total", "Messages forwarded by trigger kind",
		fmt.Sprintf("trigger=%q", kind))
}

// Handler returns a bus handler that updates the metrics.
func (m *RelayMetrics) Handler() bus.EventHandler {
	return func(e bus.Event) {
		switch e.Type {
		case bus.EventMessageIgnored:
			m.Messages.Inc()
			m.Ignored.Inc()
		case bus.EventTriggered:
			m.Messages.Inc()
			m.Triggered(e.Trigger).Inc()
			m.Inflight.Inc()
		case bus.EventDelivered:
			m.Inflight.Dec()
			m.Deliveries.Inc()
			m.Latency.Observe(float64(e.LatencyMs) / 1000)
		case bus.EventDeliveryFailed:
			m.Inflight.Dec()
			m.Failures.Inc()
			if e.LatencyMs > 0 {
				m.Latency.Observe(float64(e.LatencyMs) / 1000)
			}
		case bus.EventFeedbackFailed:
			m.Feedback.Inc()
		}
	}
}
