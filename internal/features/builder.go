package features

import (
	"fmt"

	"github.com/UnknownOlympus/hexatlas/internal/hexgrid"
	"github.com/paulmach/orb"
)

// Inputs holds everything one city's feature table is built from. All
// geometries must be in lon/lat (EPSG:4326).
type Inputs struct {
	BikePaths         []orb.Geometry
	GreenAreas        []orb.Point
	Buildings         []orb.Point
	RecreationalAreas []orb.Point
	Population        PopulationSampler
	Reference         orb.Point
}

// Builder assembles the city feature table in a fixed order: bike paths are
// the anchor; green areas, buildings, population, recreational areas and
// distance to the reference point are added onto it in that sequence.
type Builder struct {
	idx  *hexgrid.Indexer
	fill FillPolicy
}

// NewBuilder creates a Builder. fill decides what cells without observations
// in a merged source receive.
func NewBuilder(idx *hexgrid.Indexer, fill FillPolicy) *Builder {
	return &Builder{idx: idx, fill: fill}
}

// Build runs the aggregation and joins.
func (b *Builder) Build(in Inputs) (*Table, error) {
	table, err := AggregateGeometries(b.idx, BikePathsColumn, in.BikePaths)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate bike paths: %w", err)
	}

	if table, err = b.mergePoints(table, GreenAreasColumn, in.GreenAreas); err != nil {
		return nil, err
	}
	if table, err = b.mergePoints(table, BuildingsColumn, in.Buildings); err != nil {
		return nil, err
	}

	if in.Population != nil {
		if err = WithPopulation(table, in.Population); err != nil {
			return nil, fmt.Errorf("failed to sample population: %w", err)
		}
	}

	if table, err = b.mergePoints(table, RecreationalAreasColumn, in.RecreationalAreas); err != nil {
		return nil, err
	}

	if err = WithDistance(table, in.Reference); err != nil {
		return nil, fmt.Errorf("failed to compute distance to centre: %w", err)
	}

	return table, nil
}

func (b *Builder) mergePoints(base *Table, column string, points []orb.Point) (*Table, error) {
	feature, err := AggregatePoints(b.idx, column, points)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", column, err)
	}

	merged, err := Merge(base, feature, []string{column}, b.fill)
	if err != nil {
		return nil, fmt.Errorf("failed to merge %s: %w", column, err)
	}

	return merged, nil
}
