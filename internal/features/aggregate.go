package features

import (
	"fmt"

	"github.com/UnknownOlympus/hexatlas/internal/hexgrid"
	"github.com/paulmach/orb"
)

// Aggregate tallies cell memberships into a presence-count table.
//
// Each entry of cellSets is the set of cells one entity touches. An entity that
// touches N cells adds 1 to each of them; counts are not normalised. The result
// has one row per distinct cell and always declares column, so an empty input
// yields a zero-row table that can still be merged.
func Aggregate(idx *hexgrid.Indexer, column string, cellSets []hexgrid.CellSet) (*Table, error) {
	table, err := NewTable(idx.Resolution(), column)
	if err != nil {
		return nil, err
	}

	counts := make(map[hexgrid.CellID]int)
	var order []hexgrid.CellID
	for _, set := range cellSets {
		for _, cell := range set.Sorted() {
			if _, seen := counts[cell]; !seen {
				order = append(order, cell)
			}
			counts[cell]++
		}
	}

	for _, cell := range order {
		values := map[string]Value{column: Known(float64(counts[cell]))}
		if err = table.Insert(cell, values); err != nil {
			return nil, err
		}
	}

	return table, nil
}

// AggregateGeometries discretizes each geometry and aggregates the result.
// A degenerate or invalid geometry is an input error, reported with its position.
func AggregateGeometries(idx *hexgrid.Indexer, column string, geoms []orb.Geometry) (*Table, error) {
	sets := make([]hexgrid.CellSet, 0, len(geoms))
	for i, g := range geoms {
		cells, err := idx.CellsTouched(g)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		sets = append(sets, cells)
	}

	return Aggregate(idx, column, sets)
}

// AggregatePoints is AggregateGeometries for point observations.
func AggregatePoints(idx *hexgrid.Indexer, column string, points []orb.Point) (*Table, error) {
	geoms := make([]orb.Geometry, len(points))
	for i, p := range points {
		geoms[i] = p
	}

	return AggregateGeometries(idx, column, geoms)
}
