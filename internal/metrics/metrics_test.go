package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stonksrelay/internal/bus"
)

func TestCollector_CounterReuse(t *testing.T) {
	c := NewCollector("test")
	a := c.Counter("test_total", "help", "")
	b := c.Counter("test_total", "help", "")
	if a != b {
		t.Fatal("expected the same counter for the same name and labels")
	}
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Errorf("expected 3, got %d", a.Value())
	}
	if c.Counter("test_total", "help", `kind="x"`) == a {
		t.Error("expected a distinct counter per label set")
	}
}

func TestCollector_WriteTo(t *testing.T) {
	c := NewCollector("test")
	c.Counter("test_events_total", "Events", `trigger="dm"`).Inc()
	c.Counter("test_events_total", "Events", `trigger="prefix"`).Add(2)
	c.Gauge("test_inflight", "Inflight", "").Set(4)
	h := c.Histogram("test_latency_seconds", "Latency", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(3)

	var sb strings.Builder
	if _, err := c.WriteTo(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()

	for _, want := range []string{
		"# TYPE test_uptime_seconds gauge",
		"# TYPE test_events_total counter",
		`test_events_total{trigger="dm"} 1`,
		`test_events_total{trigger="prefix"} 2`,
		"test_inflight 4",
		`test_latency_seconds_bucket{le="0.1"} 1`,
		`test_latency_seconds_bucket{le="1"} 2`,
		`test_latency_seconds_bucket{le="+Inf"} 3`,
		"test_latency_seconds_count 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if strings.Count(out, "# TYPE test_events_total") != 1 {
		t.Error("expected a single TYPE line per metric name")
	}
}

func TestRelayMetrics_Handler(t *testing.T) {
	m := NewRelayMetrics(NewCollector(Namespace))
	eb := bus.NewEventBus(nil)
	eb.On("*", m.Handler())

	eb.Emit(bus.Event{Type: bus.EventMessageIgnored})
	eb.Emit(bus.Event{Type: bus.EventTriggered, Trigger: "mention"})
	eb.Emit(bus.Event{Type: bus.EventTriggered, Trigger: "dm"})
	eb.Emit(bus.Event{Type: bus.EventDelivered, Trigger: "mention", LatencyMs: 120})

	if got := m.Messages.Value(); got != 3 {
		t.Errorf("messages: expected 3, got %d", got)
	}
	if got := m.Ignored.Value(); got != 1 {
		t.Errorf("ignored: expected 1, got %d", got)
	}
	if got := m.Triggered("mention").Value(); got != 1 {
		t.Errorf("mention trigger: expected 1, got %d", got)
	}
	if got := m.Inflight.Value(); got != 1 {
		t.Errorf("inflight: expected 1, got %d", got)
	}
	if got := m.Latency.Count(); got != 1 {
		t.Errorf("latency observations: expected 1, got %d", got)
	}

	eb.Emit(bus.Event{Type: bus.EventDeliveryFailed, Trigger: "dm", Error: "boom"})
	eb.Emit(bus.Event{Type: bus.EventFeedbackFailed})

	if got := m.Inflight.Value(); got != 0 {
		t.Errorf("inflight after failure: expected 0, got %d", got)
	}
	if got := m.Failures.Value(); got != 1 {
		t.Errorf("failures: expected 1, got %d", got)
	}
	if got := m.Feedback.Value(); got != 1 {
		t.Errorf("feedback failures: expected 1, got %d", got)
	}
	if got := m.Deliveries.Value(); got != 1 {
		t.Errorf("deliveries: expected 1, got %d", got)
	}
}

func TestServer_Routes(t *testing.T) {
	m := NewRelayMetrics(NewCollector(Namespace))
	m.Messages.Inc()
	srv := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, Path: "/stats"}, m.Collector())
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}

	health, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer health.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(health.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}
