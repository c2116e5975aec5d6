package telemetry_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/uspsbridge/internal/telemetry"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)

	m.RecordRequest("get_rates", "usps", "success", 0.12)
	m.RecordRequest("get_rates", "usps", "success", 0.08)
	m.RecordError("usps", "API_ERROR")
	m.RecordRateLookup("usps", true)
	m.RecordRateLookup("usps", false)
	m.RecordRefresh("succeeded", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("get_rates", "usps", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CarrierErrors.WithLabelValues("usps", "API_ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateCacheLookups.WithLabelValues("usps", "hit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TrackingRefresh.WithLabelValues("succeeded")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}
