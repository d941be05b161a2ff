package hexgrid

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// Common errors for geometry discretization.
var (
	ErrEmptyGeometry       = errors.New("geometry has no vertices")
	ErrInvalidCoordinate   = errors.New("coordinate is not a finite lon/lat pair")
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
)

// CellsTouched returns the set of cells that the vertices of g fall into.
//
// Only vertices are sampled: a long segment between two sparse vertices may
// cross cells that are not reported. A geometry without vertices yields an
// empty set together with ErrEmptyGeometry.
func (ix *Indexer) CellsTouched(g orb.Geometry) (CellSet, error) {
	var points []orb.Point

	switch geom := g.(type) {
	case orb.Point:
		points = []orb.Point{geom}
	case orb.MultiPoint:
		points = geom
	case orb.LineString:
		points = geom
	case orb.MultiLineString:
		for _, ls := range geom {
			points = append(points, ls...)
		}
	case nil:
		return CellSet{}, ErrEmptyGeometry
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}

	cells := make(CellSet, 1)
	if len(points) == 0 {
		return cells, ErrEmptyGeometry
	}

	for i, p := range points {
		if !ValidPoint(p) {
			return nil, fmt.Errorf("%w: vertex %d (%v, %v)", ErrInvalidCoordinate, i, p.Lon(), p.Lat())
		}
		cells.Add(ix.CellOf(p))
	}

	return cells, nil
}
