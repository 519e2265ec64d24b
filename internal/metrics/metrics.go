// Package metrics records harvest counters in a private Prometheus registry and
// writes them as a node-exporter textfile at the end of a run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JakeFAU/topic-harvester/internal/harvest"
)

// Recorder implements harvest.Observer.
type Recorder struct {
	reg *prometheus.Registry

	fetchesTotal   *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	recordsTotal   prometheus.Counter
	contentChars   prometheus.Histogram
	failuresTotal  *prometheus.CounterVec
	duplicateTotal prometheus.Counter
	topicsTotal    prometheus.Counter
	lastRun        prometheus.Gauge
}

var _ harvest.Observer = (*Recorder)(nil)

// New registers the harvest collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		reg: reg,
		fetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Total provider requests, labeled by kind (search, article) and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Provider request latency, labeled by kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"kind"},
		),
		recordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_records_total",
			Help: "Total records extracted.",
		}),
		contentChars: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_record_content_chars",
			Help:    "Normalized lead length before truncation.",
			Buckets: []float64{150, 300, 600, 1200, 2500, 5000},
		}),
		failuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_failures_total",
				Help: "Failed queries, labeled by failure kind.",
			},
			[]string{"kind"},
		),
		duplicateTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_duplicates_total",
			Help: "Candidates skipped because they were already collected.",
		}),
		topicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvester_topics_total",
			Help: "Topics processed.",
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// ObserveFetch implements harvest.Observer.
func (r *Recorder) ObserveFetch(kind string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.fetchesTotal.WithLabelValues(kind, outcome).Inc()
	r.fetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRecord implements harvest.Observer.
func (r *Recorder) ObserveRecord(_ string, contentLength int) {
	r.recordsTotal.Inc()
	r.contentChars.Observe(float64(contentLength))
}

// ObserveFailure implements harvest.Observer.
func (r *Recorder) ObserveFailure(kind harvest.FailureKind) {
	r.failuresTotal.WithLabelValues(string(kind)).Inc()
}

// ObserveDuplicate implements harvest.Observer.
func (r *Recorder) ObserveDuplicate() {
	r.duplicateTotal.Inc()
}

// ObserveTopic implements harvest.Observer.
func (r *Recorder) ObserveTopic() {
	r.topicsTotal.Inc()
}

// MarkFinished stamps the run completion time.
func (r *Recorder) MarkFinished(t time.Time) {
	r.lastRun.Set(float64(t.Unix()))
}

// WriteTextfile writes all collectors to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
