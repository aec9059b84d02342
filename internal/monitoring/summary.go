package monitoring

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/muni-enrich/internal/model"
)

// RunSnapshot summarizes one run.
type RunSnapshot struct {
	RunID string `json:"run_id"`

	Entities      int `json:"entities"`
	OK            int `json:"ok"`
	Partial       int `json:"partial"`
	GeocodeFailed int `json:"geocode_failed"`
	IndexMissing  int `json:"index_missing"`
	RouteMissing  int `json:"route_missing"`

	GeocodeFailRate  float64 `json:"geocode_fail_rate"`
	IndexMissingRate float64 `json:"index_missing_rate"`

	CacheHits      int `json:"cache_hits"`
	CacheMisses    int `json:"cache_misses"`
	UpstreamOK     int `json:"upstream_ok"`
	UpstreamFailed int `json:"upstream_failed"`

	RouteSkipped bool   `json:"route_skipped"`
	Aborted      bool   `json:"aborted"`
	AbortCause   string `json:"abort_cause,omitempty"`
	LastEntity   string `json:"last_entity,omitempty"`

	Duration    time.Duration `json:"duration"`
	CollectedAt time.Time     `json:"collected_at"`
}

// Collect builds a snapshot from the emitted records and, when m is not nil,
// the run's cache and upstream counters.
func Collect(records []model.EnrichedRecord, m *Metrics) *RunSnapshot {
	snap := &RunSnapshot{
		Entities:    len(records),
		CollectedAt: time.Now().UTC(),
	}

	for _, r := range records {
		switch r.Status {
		case model.StatusOK:
			snap.OK++
		case model.StatusPartial:
			snap.Partial++
		case model.StatusGeocodeFailed:
			snap.GeocodeFailed++
		}
		if r.Index == nil {
			snap.IndexMissing++
		}
		if r.Geo != nil && r.Route == nil {
			snap.RouteMissing++
		}
	}

	if snap.Entities > 0 {
		snap.GeocodeFailRate = float64(snap.GeocodeFailed) / float64(snap.Entities)
		snap.IndexMissingRate = float64(snap.IndexMissing) / float64(snap.Entities)
	}

	if m != nil {
		snap.CacheHits = m.tally.cacheHits
		snap.CacheMisses = m.tally.cacheMisses
		snap.UpstreamOK = m.tally.upstreamOK
		snap.UpstreamFailed = m.tally.upstreamBad
	}
	return snap
}

// Log writes the snapshot as one structured info line.
func (s *RunSnapshot) Log() {
	zap.L().Info("run summary",
		zap.String("run_id", s.RunID),
		zap.Int("entities", s.Entities),
		zap.Int("ok", s.OK),
		zap.Int("partial", s.Partial),
		zap.Int("geocode_failed", s.GeocodeFailed),
		zap.Int("index_missing", s.IndexMissing),
		zap.Int("route_missing", s.RouteMissing),
		zap.Int("cache_hits", s.CacheHits),
		zap.Int("cache_misses", s.CacheMisses),
		zap.Int("upstream_ok", s.UpstreamOK),
		zap.Int("upstream_failed", s.UpstreamFailed),
		zap.Bool("route_skipped", s.RouteSkipped),
		zap.Bool("aborted", s.Aborted),
		zap.Duration("duration", s.Duration),
	)
}
