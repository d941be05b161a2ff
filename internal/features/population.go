package features

import (
	"github.com/paulmach/orb"
)

// PopulationSampler estimates the population inside a polygon.
type PopulationSampler interface {
	Sample(poly orb.Polygon) (float64, error)
}

// WithPopulation appends PopulationColumn by sampling every existing row's cell
// polygon. It does not add rows.
func WithPopulation(t *Table, sampler PopulationSampler) error {
	return t.AppendColumn(PopulationColumn, func(r Row) (Value, error) {
		v, err := sampler.Sample(r.Geometry)
		if err != nil {
			return Value{}, err
		}

		return Known(v), nil
	})
}
