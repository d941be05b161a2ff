package geocoding

import (
	"context"

	"github.com/UnknownOlympus/hexatlas/internal/models"
	"github.com/paulmach/orb"
)

// Provider is an interface that defines a method for geocoding an address.
// The Geocode method takes a context and an address string as input,
// and returns the corresponding coordinates and an error if any occurs.
type Provider interface {
	Geocode(ctx context.Context, address string) (*models.Coordinates, error)
}

// BoundaryProvider looks up the outline of a named place.
// A place that resolves to nothing is an error, never an empty ring.
type BoundaryProvider interface {
	Boundary(ctx context.Context, place string) (orb.Ring, error)
}
