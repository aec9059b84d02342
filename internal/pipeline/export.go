package pipeline

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/muni-enrich/internal/geo"
	"github.com/sells-group/muni-enrich/internal/model"
)

// Columns is the fixed output header.
var Columns = []string{
	"municipio",
	"codigo_ibge",
	"idhm_2010",
	"dist_km_geodesica",
	"dist_km_rodoviaria",
	"duracao_h_rodoviaria",
	"origem_endereco",
	"origem_coord",
	"destino_endereco",
	"destino_coord",
	"status",
	"erro",
}

// WriteCSV writes records to path, replacing any existing file.
func WriteCSV(path string, records []model.EnrichedRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	if err := ExportCSV(f, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "export: close file")
	}
	return nil
}

// ExportCSV writes the header and one row per record to w.
func ExportCSV(w io.Writer, records []model.EnrichedRecord) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, r := range records {
		row, err := buildRow(r)
		if err != nil {
			return eris.Wrapf(err, "export: row %s", r.Entity.Name)
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush")
	}
	return nil
}

// buildRow maps a record to its CSV cells. Missing values are empty cells.
// Coordinates come from the route when there is one, else from geocoding.
func buildRow(r model.EnrichedRecord) ([]string, error) {
	row := make([]string, len(Columns))
	row[0] = r.Entity.Name
	row[1] = r.Entity.Code
	if r.Index != nil {
		row[2] = strconv.FormatFloat(*r.Index, 'f', -1, 64)
	}
	if r.GeodesicKm != nil {
		row[3] = fixed(*r.GeodesicKm, 1)
	}

	origin, dest := r.Origin, r.Geo
	if rt := r.Route; rt != nil {
		row[4] = fixed(rt.DistanceKm, 1)
		row[5] = fixed(rt.DurationH, 2)
		row[6] = rt.OriginAddress
		row[8] = rt.DestinationAddress
		origin, dest = &rt.OriginCoords, &rt.DestinationCoords
	}

	var err error
	if row[7], err = pointCell(origin); err != nil {
		return nil, err
	}
	if row[9], err = pointCell(dest); err != nil {
		return nil, err
	}

	row[10] = r.Status
	row[11] = r.Err
	return row, nil
}

func pointCell(p *model.GeoPoint) (string, error) {
	if p == nil {
		return "", nil
	}
	return geo.PointWKT(p.Lat, p.Lon)
}

func fixed(v float64, places int) string {
	return strconv.FormatFloat(geo.Round(v, places), 'f', places, 64)
}
