// Package dataset loads the bike path layer that anchors every feature table.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Errors returned while loading a dataset.
var (
	ErrUnsupportedFormat   = errors.New("unsupported dataset format")
	ErrUnsupportedGeometry = errors.New("unsupported dataset geometry")
)

// LoadBikePaths reads path geometries from a GeoJSON (.geojson, .json) or
// ESRI shapefile (.shp). Coordinates are taken as EPSG:4326 lon/lat.
// Features without geometry are skipped.
func LoadBikePaths(path string) ([]orb.Geometry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return loadGeoJSON(path)
	case ".shp":
		return loadShapefile(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func loadGeoJSON(path string) ([]orb.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode GeoJSON dataset: %w", err)
	}

	geoms := make([]orb.Geometry, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		switch g := f.Geometry.(type) {
		case orb.LineString, orb.MultiLineString, orb.Point, orb.MultiPoint:
			geoms = append(geoms, g)
		default:
			return nil, fmt.Errorf("feature %d: %w: %s", i, ErrUnsupportedGeometry, g.GeoJSONType())
		}
	}

	return geoms, nil
}

func loadShapefile(path string) ([]orb.Geometry, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile: %w", err)
	}
	defer func() { _ = reader.Close() }()

	var geoms []orb.Geometry
	for reader.Next() {
		n, shape := reader.Shape()
		if shape == nil {
			continue
		}
		switch s := shape.(type) {
		case *shp.PolyLine:
			geoms = append(geoms, polyLineToOrb(s.Parts, s.Points))
		case *shp.Point:
			geoms = append(geoms, orb.Point{s.X, s.Y})
		case *shp.MultiPoint:
			mp := make(orb.MultiPoint, 0, len(s.Points))
			for _, p := range s.Points {
				mp = append(mp, orb.Point{p.X, p.Y})
			}
			geoms = append(geoms, mp)
		default:
			return nil, fmt.Errorf("shape %d: %w: %T", n, ErrUnsupportedGeometry, shape)
		}
	}
	if err = reader.Err(); err != nil {
		return nil, fmt.Errorf("failed to read shapefile: %w", err)
	}

	return geoms, nil
}

// polyLineToOrb splits the flat point list at the part offsets.
func polyLineToOrb(parts []int32, points []shp.Point) orb.Geometry {
	mls := make(orb.MultiLineString, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		ls := make(orb.LineString, 0, end-start)
		for _, p := range points[start:end] {
			ls = append(ls, orb.Point{p.X, p.Y})
		}
		mls = append(mls, ls)
	}
	if len(mls) == 1 {
		return mls[0]
	}

	return mls
}

// ClipToBoundary keeps the geometries with at least one vertex inside
// boundary. Discretization is vertex based, so a path whose vertices all lie
// outside would only contribute cells outside the city.
func ClipToBoundary(geoms []orb.Geometry, boundary orb.Ring) []orb.Geometry {
	poly := orb.Polygon{boundary}
	bound := boundary.Bound()

	kept := make([]orb.Geometry, 0, len(geoms))
	for _, g := range geoms {
		if g == nil || !g.Bound().Intersects(bound) {
			continue
		}
		if anyVertexInside(g, poly) {
			kept = append(kept, g)
		}
	}

	return kept
}

func anyVertexInside(g orb.Geometry, poly orb.Polygon) bool {
	switch v := g.(type) {
	case orb.Point:
		return planar.PolygonContains(poly, v)
	case orb.MultiPoint:
		for _, p := range v {
			if planar.PolygonContains(poly, p) {
				return true
			}
		}
	case orb.LineString:
		for _, p := range v {
			if planar.PolygonContains(poly, p) {
				return true
			}
		}
	case orb.MultiLineString:
		for _, ls := range v {
			if anyVertexInside(ls, poly) {
				return true
			}
		}
	}

	return false
}
