package monitoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/muni-enrich/internal/model"
)

func TestMetrics_Observers(t *testing.T) {
	m := NewMetrics()

	m.CacheResult("geocode", "hit")
	m.CacheResult("geocode", "hit")
	m.CacheResult("route", "miss")
	m.UpstreamResult("route", "ok")
	m.UpstreamResult("route", "retryable")
	m.EntityEmitted(model.StatusOK)

	assert.InDelta(t, 2, testutil.ToFloat64(m.CacheLookups.WithLabelValues("geocode", "hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheLookups.WithLabelValues("route", "miss")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("route", "retryable")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Entities.WithLabelValues("ok")), 0)

	snap := Collect(nil, m)
	assert.Equal(t, 2, snap.CacheHits)
	assert.Equal(t, 1, snap.CacheMisses)
	assert.Equal(t, 1, snap.UpstreamOK)
	assert.Equal(t, 1, snap.UpstreamFailed)
}

func TestNewMetrics_Independent(t *testing.T) {
	// Private registries: building twice must not panic.
	a := NewMetrics()
	b := NewMetrics()
	a.SetBreakerOpen(true)
	assert.InDelta(t, 1, testutil.ToFloat64(a.BreakerOpen), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(b.BreakerOpen), 0)
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.CacheResult("municipios", "hit")
	m.RunDuration.Set(12.5)

	path := filepath.Join(t.TempDir(), "muni.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `muni_enrich_cache_lookups_total{cache="municipios",result="hit"} 1`)
	assert.Contains(t, string(data), "muni_enrich_run_duration_seconds 12.5")
}

func TestMetrics_WriteTextfileBadPath(t *testing.T) {
	m := NewMetrics()
	err := m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "muni.prom"))
	require.Error(t, err)
}

func idx(v float64) *float64 { return &v }

func TestCollect_CountsRecords(t *testing.T) {
	records := []model.EnrichedRecord{
		{Status: model.StatusOK, Index: idx(0.7), Geo: &model.GeoPoint{}, Route: &model.Route{}},
		{Status: model.StatusPartial, Geo: &model.GeoPoint{}},
		{Status: model.StatusGeocodeFailed, Index: idx(0.6)},
		{Status: model.StatusOK, Index: idx(0.5), Geo: &model.GeoPoint{}, Route: &model.Route{}},
	}

	snap := Collect(records, nil)
	assert.Equal(t, 4, snap.Entities)
	assert.Equal(t, 2, snap.OK)
	assert.Equal(t, 1, snap.Partial)
	assert.Equal(t, 1, snap.GeocodeFailed)
	assert.Equal(t, 1, snap.IndexMissing)
	assert.Equal(t, 1, snap.RouteMissing)
	assert.InDelta(t, 0.25, snap.GeocodeFailRate, 1e-9)
	assert.InDelta(t, 0.25, snap.IndexMissingRate, 1e-9)
	assert.False(t, snap.CollectedAt.IsZero())

	snap.Log()
}
