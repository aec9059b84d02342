package geo

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// PointWKT renders a coordinate as a WKT point, longitude first: "POINT (lon lat)".
func PointWKT(lat, lon float64) (string, error) {
	s, err := wkt.Marshal(geom.NewPointFlat(geom.XY, []float64{lon, lat}))
	if err != nil {
		return "", eris.Wrap(err, "geo: encode WKT point")
	}
	return s, nil
}
