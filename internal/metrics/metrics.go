// Package metrics exposes the node's counters and gauges to Prometheus.
//
// Most values are read on scrape from the components' own Stats/Status
// snapshots; only sentence results are pushed in.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/telemetry_node/internal/gps"
	"github.com/relabs-tech/telemetry_node/internal/ingest"
	"github.com/relabs-tech/telemetry_node/internal/scheduler"
)

const namespace = "telemetry_node"

// Metrics owns a private registry. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry  *prometheus.Registry
	sentences *prometheus.CounterVec
}

// New creates the registry with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	sentences := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gps",
		Name:      "sentences_total",
		Help:      "Receiver sentences by how they were handled.",
	}, []string{"result"})
	reg.MustRegister(sentences)

	return &Metrics{registry: reg, sentences: sentences}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Sentence counts one handled sentence. Suitable as gps.ParserOptions.OnSentence.
func (m *Metrics) Sentence(result string) {
	if m == nil {
		return
	}
	m.sentences.WithLabelValues(result).Inc()
}

// WatchBuffer exports the ingest buffer counters.
func (m *Metrics) WatchBuffer(stats func() ingest.Stats) {
	if m == nil {
		return
	}
	counter := func(name, help string, pick func(ingest.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(stats())) })
	}
	m.registry.MustRegister(
		counter("samples_written_total", "Samples written into the ring buffer.",
			func(s ingest.Stats) uint64 { return s.Writes }),
		counter("batches_emitted_total", "Batches published as ready.",
			func(s ingest.Stats) uint64 { return s.Batches }),
		counter("batches_superseded_total", "Ready batches replaced before being taken.",
			func(s ingest.Stats) uint64 { return s.Superseded }),
		counter("payloads_rejected_total", "Link payloads that failed to decode.",
			func(s ingest.Stats) uint64 { return s.Rejected }),
		counter("samples_dropped_total", "Samples dropped because a push was already in progress.",
			func(s ingest.Stats) uint64 { return s.Dropped }),
	)
}

// WatchScheduler exports upload results and backoff state.
func (m *Metrics) WatchScheduler(status func() scheduler.Status) {
	if m == nil {
		return
	}
	uploads := func(result string, pick func(scheduler.Status) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "uplink",
			Name:        "uploads_total",
			Help:        "Upload attempts by result.",
			ConstLabels: prometheus.Labels{"result": result},
		}, func() float64 { return float64(pick(status())) })
	}
	gauge := func(name, help string, value func(scheduler.Status) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "uplink",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(status()) })
	}
	m.registry.MustRegister(
		uploads("success", func(s scheduler.Status) uint64 { return s.Successes }),
		uploads("failure", func(s scheduler.Status) uint64 { return s.Failures }),
		gauge("interval_seconds", "Current minimum time between upload attempts.",
			func(s scheduler.Status) float64 { return s.CurrentInterval.Seconds() }),
		gauge("consecutive_failures", "Failures since the last success or backoff step.",
			func(s scheduler.Status) float64 { return float64(s.ConsecutiveFailures) }),
		gauge("batch_pending", "1 when a batch is waiting to be sent.",
			func(s scheduler.Status) float64 { return boolFloat(s.Pending) }),
	)
}

// WatchPosition exports whether the node currently holds a usable fix.
func (m *Metrics) WatchPosition(fix func() gps.Fix) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gps",
		Name:      "position_valid",
		Help:      "1 when the current fix is valid.",
	}, func() float64 { return boolFloat(fix().Valid) }))
}

// WatchLink exports the number of peers known to the wireless link.
func (m *Metrics) WatchLink(peers func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "link",
		Name:      "peers",
		Help:      "Peers that have written to the link.",
	}, func() float64 { return float64(peers()) }))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
