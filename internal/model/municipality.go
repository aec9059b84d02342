package model

// Entity is one municipality of the state being enriched.
type Entity struct {
	Name string `json:"municipio"`
	Code string `json:"codigo_ibge"` // 7-digit IBGE code
}

// IndexTable maps a normalized municipality name to its HDI-M value.
// A nil value is the explicit "missing" marker for a row whose cell could not be parsed.
type IndexTable map[string]*float64

// Lookup returns the index for a normalized name. ok is false when the name has no row
// or the row is marked missing.
func (t IndexTable) Lookup(key string) (value float64, ok bool) {
	v, found := t[key]
	if !found || v == nil {
		return 0, false
	}
	return *v, true
}

// GeoPoint is a geocoded location.
type GeoPoint struct {
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	ResolvedQuery string   `json:"resolved_query"`
	FailedQueries []string `json:"failed_queries,omitempty"`
	DisplayName   string   `json:"display_name,omitempty"`
}

// Route is a driving route from the origin to one municipality.
type Route struct {
	DistanceKm         float64  `json:"distance_km"`
	DurationH          float64  `json:"duration_h"`
	OriginAddress      string   `json:"origin_address"`
	OriginCoords       GeoPoint `json:"origin_coords"`
	DestinationAddress string   `json:"destination_address"`
	DestinationCoords  GeoPoint `json:"destination_coords"`
}

// Stage is where an entity is in the enrichment loop. Entities not yet
// processed have no record; every record written out is StageEmitted.
type Stage string

const (
	StageDirectoryOK Stage = "directory_ok"
	StageIndexed     Stage = "indexed"
	StageGeocoded    Stage = "geocoded"
	StageRouted      Stage = "routed"
	StageEmitted     Stage = "emitted"
)

// EnrichedRecord is the consolidated output for one entity. Optional parts are nil
// when unavailable; Err carries the per-entity failure, if any.
type EnrichedRecord struct {
	Entity     Entity    `json:"entity"`
	Index      *float64  `json:"index,omitempty"`
	Geo        *GeoPoint `json:"geo,omitempty"`
	Origin     *GeoPoint `json:"origin,omitempty"` // set with Geo; the other end of GeodesicKm
	GeodesicKm *float64  `json:"geodesic_km,omitempty"`
	Route      *Route    `json:"route,omitempty"`
	Stage      Stage     `json:"stage"`
	Status     string    `json:"status"`
	Err        string    `json:"error,omitempty"`
}

// Record outcome statuses written to the output.
const (
	StatusOK            = "ok"
	StatusPartial       = "partial"
	StatusGeocodeFailed = "geocode_failed"
)
