// Package metrics holds the Prometheus series the API records. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ResolutionsTotal     *prometheus.CounterVec
	ContributionsTotal   prometheus.Counter
	SlugsAssignedTotal   prometheus.Counter
	SlugWarningsTotal    *prometheus.CounterVec
	SlugAllocationTries  prometheus.Histogram
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	SlugCacheLookupTotal *prometheus.CounterVec
}

// New registers every series on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_resolutions_total",
				Help: "Conversation resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ContributionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agora_contributions_total",
				Help: "Contributions appended",
			},
		),
		SlugsAssignedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agora_slugs_assigned_total",
				Help: "Slugs assigned by the append workflow",
			},
		),
		SlugWarningsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_slug_warnings_total",
				Help: "Slug assignments that failed after the contribution was stored",
			},
			[]string{"reason"},
		),
		SlugAllocationTries: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agora_slug_allocation_attempts",
				Help:    "Candidates checked per slug allocation",
				Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100},
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_http_requests_total",
				Help: "HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agora_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		SlugCacheLookupTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_slug_cache_lookups_total",
				Help: "Slug cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) ObserveResolution(outcome string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ContributionAppended() {
	if m == nil {
		return
	}
	m.ContributionsTotal.Inc()
}

func (m *Metrics) SlugAssigned() {
	if m == nil {
		return
	}
	m.SlugsAssignedTotal.Inc()
}

func (m *Metrics) SlugWarning(reason string) {
	if m == nil {
		return
	}
	m.SlugWarningsTotal.WithLabelValues(reason).Inc()
}

// ObserveSlugAttempts satisfies slug.Observer.
func (m *Metrics) ObserveSlugAttempts(attempts int) {
	if m == nil {
		return
	}
	m.SlugAllocationTries.Observe(float64(attempts))
}

func (m *Metrics) ObserveHTTP(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) SlugCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.SlugCacheLookupTotal.WithLabelValues(result).Inc()
}
