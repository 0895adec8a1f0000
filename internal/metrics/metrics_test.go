package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheHits.WithLabelValues("institution").Inc()
	m.CacheMisses.WithLabelValues("institution").Add(2)
	m.IngestRows.Add(120)
	m.DatasetRecords.Set(118)
	m.HTTPRequests.WithLabelValues("/api/stats/{dimension}", "200").Inc()
	m.HTTPDuration.WithLabelValues("/api/stats/{dimension}").Observe(0.02)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("institution")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("institution")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.IngestRows))
	assert.Equal(t, 118.0, testutil.ToFloat64(m.DatasetRecords))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"training_stats_cache_hits_total",
		"training_stats_cache_misses_total",
		"training_stats_ingest_rows_total",
		"training_stats_dataset_records",
		"training_stats_http_requests_total",
		"training_stats_http_request_duration_seconds",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestNew_SeparateRegistries(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.RateLimited.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.RateLimited))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RateLimited))
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
