package ingest

import (
	"time"

	"github.com/david/bid-finder/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records per-source aggregation outcomes. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	results    *prometheus.CounterVec
	duplicates prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bidfinder",
			Name:      "source_requests_total",
			Help:      "Adapter invocations by platform and outcome.",
		}, []string{"platform", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bidfinder",
			Name:      "source_duration_seconds",
			Help:      "Adapter latency by platform.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"platform"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bidfinder",
			Name:      "source_results_total",
			Help:      "Records returned by each platform before deduplication.",
		}, []string{"platform"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bidfinder",
			Name:      "duplicates_dropped_total",
			Help:      "Records dropped by deduplication.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.results, m.duplicates)
	}
	return m
}

func (m *Metrics) observeSource(status models.SourceStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	platform := string(status.PlatformID)
	m.requests.WithLabelValues(platform, status.Status).Inc()
	m.duration.WithLabelValues(platform).Observe(elapsed.Seconds())
	m.results.WithLabelValues(platform).Add(float64(status.Count))
}

func (m *Metrics) observeDuplicates(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicates.Add(float64(n))
}
