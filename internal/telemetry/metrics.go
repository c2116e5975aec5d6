package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	CarrierErrors    *prometheus.CounterVec
	RateCacheLookups *prometheus.CounterVec
	TrackingRefresh  *prometheus.CounterVec
}

// NewMetrics creates metrics and registers them with reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uspsbridge_requests_total",
				Help: "Total number of requests by operation, carrier, and status",
			},
			[]string{"operation", "carrier", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uspsbridge_request_duration_seconds",
				Help:    "Request duration in seconds by operation and carrier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "carrier"},
		),
		CarrierErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uspsbridge_carrier_errors_total",
				Help: "Total carrier API errors by carrier and error type",
			},
			[]string{"carrier", "error_type"},
		),
		RateCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uspsbridge_rate_cache_lookups_total",
				Help: "Rate lookups by carrier and whether they were served from cache",
			},
			[]string{"carrier", "result"},
		),
		TrackingRefresh: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uspsbridge_tracking_refresh_total",
				Help: "Tracking refresh outcomes per shipment",
			},
			[]string{"outcome"},
		),
	}
}

// RecordRequest records a request metric.
func (m *Metrics) RecordRequest(operation, carrier, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(operation, carrier, status).Inc()
	m.RequestDuration.WithLabelValues(operation, carrier).Observe(duration)
}

// RecordError records a carrier error metric.
func (m *Metrics) RecordError(carrier, errorType string) {
	m.CarrierErrors.WithLabelValues(carrier, errorType).Inc()
}

// RecordRateLookup records whether a rate answer came from the cache.
func (m *Metrics) RecordRateLookup(carrier string, fromCache bool) {
	result := "miss"
	if fromCache {
		result = "hit"
	}
	m.RateCacheLookups.WithLabelValues(carrier, result).Inc()
}

// RecordRefresh adds n refresh outcomes of one kind.
func (m *Metrics) RecordRefresh(outcome string, n int) {
	m.TrackingRefresh.WithLabelValues(outcome).Add(float64(n))
}
