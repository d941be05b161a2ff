package features

import (
	"fmt"

	"github.com/UnknownOlympus/hexatlas/internal/hexgrid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/geodesic"
)

// GeodesicDistance returns the WGS84 ellipsoidal distance between a and b in metres.
func GeodesicDistance(a, b orb.Point) float64 {
	var dist float64
	geodesic.WGS84.Inverse(a.Lat(), a.Lon(), b.Lat(), b.Lon(), &dist, nil, nil)

	return dist
}

// Centroid returns the area-weighted centroid of a cell polygon.
func Centroid(poly orb.Polygon) orb.Point {
	c, _ := planar.CentroidArea(poly)
	return c
}

// WithDistance appends DistanceColumn: the geodesic distance in metres from each
// cell's centroid to ref.
func WithDistance(t *Table, ref orb.Point) error {
	if !hexgrid.ValidPoint(ref) {
		return fmt.Errorf("%w: reference point (%v, %v)", hexgrid.ErrInvalidCoordinate, ref.Lon(), ref.Lat())
	}

	return t.AppendColumn(DistanceColumn, func(r Row) (Value, error) {
		return Known(GeodesicDistance(Centroid(r.Geometry), ref)), nil
	})
}
