package export

import (
	"fmt"
	"io"

	"github.com/UnknownOlympus/hexatlas/internal/features"
	"github.com/paulmach/orb/geojson"
)

// WriteGeoJSON writes one Polygon feature per row. Properties carry the key and
// every value column; nulls are JSON null.
func WriteGeoJSON(w io.Writer, t *features.Table) error {
	fc := geojson.NewFeatureCollection()
	columns := t.Columns()

	for _, row := range t.Rows() {
		f := geojson.NewFeature(row.Geometry)
		f.Properties[features.KeyColumn] = row.Cell.String()
		for _, c := range columns {
			if v := row.Get(c); v.Valid {
				f.Properties[c] = v.Float
			} else {
				f.Properties[c] = nil
			}
		}
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode feature collection: %w", err)
	}
	if _, err = w.Write(data); err != nil {
		return fmt.Errorf("failed to write feature collection: %w", err)
	}

	return nil
}
