package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects per-run metrics in a private registry so a one-shot run
// can dump them to a node_exporter textfile. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	lastRunSuccess  prometheus.Gauge
	lastRunTime     prometheus.Gauge
}

// NewRecorder registers the calmirror collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calmirror_events_total",
			Help: "Events processed in this run, by operation.",
		}, []string{"operation"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calmirror_provider_latency_seconds",
			Help:    "Histogram of calendar provider call latencies.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "calmirror_last_run_success",
			Help: "1 if the last run completed without error, else 0.",
		}),
		lastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "calmirror_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}

	r.registry.MustRegister(r.events, r.providerLatency, r.lastRunSuccess, r.lastRunTime)
	return r
}

// AddEvents counts n events for operation ("listed", "deleted", "inserted", "updated", "unchanged").
func (r *Recorder) AddEvents(operation string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.events.WithLabelValues(operation).Add(float64(n))
}

// ObserveProviderLatency records how long a provider call took.
func (r *Recorder) ObserveProviderLatency(operation string, start time.Time) {
	if r == nil {
		return
	}
	r.providerLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RunFinished records the outcome of the run.
func (r *Recorder) RunFinished(err error, at time.Time) {
	if r == nil {
		return
	}
	if err != nil {
		r.lastRunSuccess.Set(0)
	} else {
		r.lastRunSuccess.Set(1)
	}
	r.lastRunTime.Set(float64(at.Unix()))
}

// WriteTextfile writes every collected metric to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
