// Package hexgrid maps geographic points and geometries onto the H3 hexagonal grid.
package hexgrid

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/uber/h3-go/v3"
)

// Resolution bounds supported by H3.
const (
	MinResolution = 0
	MaxResolution = 15
)

// Common errors for the grid indexer.
var (
	ErrInvalidResolution = errors.New("h3 resolution out of range")
	ErrInvalidCell       = errors.New("invalid h3 cell identifier")
)

// CellID is the string form of an H3 index. It is stable across runs and is
// used as the grouping and join key of every feature table.
type CellID string

// String returns the raw H3 index string.
func (c CellID) String() string {
	return string(c)
}

// CellSet is an unordered set of cell identifiers.
type CellSet map[CellID]struct{}

// Add inserts c into the set.
func (s CellSet) Add(c CellID) {
	s[c] = struct{}{}
}

// Has reports whether c is in the set.
func (s CellSet) Has(c CellID) bool {
	_, ok := s[c]
	return ok
}

// Sorted returns the members in lexical order.
func (s CellSet) Sorted() []CellID {
	out := make([]CellID, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Indexer converts between points and cells at one fixed resolution.
// All tables merged together must come from indexers with the same resolution.
type Indexer struct {
	resolution int
}

// NewIndexer creates an indexer for the given H3 resolution.
func NewIndexer(resolution int) (*Indexer, error) {
	if resolution < MinResolution || resolution > MaxResolution {
		return nil, fmt.Errorf("%w: %d", ErrInvalidResolution, resolution)
	}

	return &Indexer{resolution: resolution}, nil
}

// Resolution returns the H3 resolution of the indexer.
func (ix *Indexer) Resolution() int {
	return ix.resolution
}

// CellOf returns the cell containing p. Results for non-finite or out-of-range
// coordinates are undefined; guard with ValidPoint.
func (ix *Indexer) CellOf(p orb.Point) CellID {
	idx := h3.FromGeo(h3.GeoCoord{Latitude: p.Lat(), Longitude: p.Lon()}, ix.resolution)
	return CellID(h3.ToString(idx))
}

// BoundaryOf returns the closed boundary polygon of c in lon/lat order.
func (ix *Indexer) BoundaryOf(c CellID) orb.Polygon {
	boundary := h3.ToGeoBoundary(h3.FromString(string(c)))

	ring := make(orb.Ring, 0, len(boundary)+1)
	for _, v := range boundary {
		ring = append(ring, orb.Point{v.Longitude, v.Latitude})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}

	return orb.Polygon{ring}
}

// CenterOf returns the H3 centre point of c.
func (ix *Indexer) CenterOf(c CellID) orb.Point {
	g := h3.ToGeo(h3.FromString(string(c)))
	return orb.Point{g.Longitude, g.Latitude}
}

// ParseCellID validates s as an H3 index at the indexer's resolution.
func (ix *Indexer) ParseCellID(s string) (CellID, error) {
	idx := h3.FromString(s)
	if idx == 0 || !h3.IsValid(idx) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCell, s)
	}
	if res := h3.Resolution(idx); res != ix.resolution {
		return "", fmt.Errorf("%w: %q has resolution %d, want %d", ErrInvalidCell, s, res, ix.resolution)
	}

	return CellID(h3.ToString(idx)), nil
}

// ValidPoint reports whether p is a finite lon/lat coordinate.
func ValidPoint(p orb.Point) bool {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return false
	}

	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
