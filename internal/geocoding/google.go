package geocoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/UnknownOlympus/hexatlas/internal/models"
	"googlemaps.github.io/maps"
)

// GoogleProvider geocodes reference centres with the Google Maps Geocoding API.
// It has no outline support and therefore only implements Provider.
type GoogleProvider struct {
	client GoogleAPIClient // client is the Google Maps API client
	region string          // region is a ccTLD bias such as "nl" or "pl"
	log    *slog.Logger
}

// GoogleAPIClient is the subset of *maps.Client used by GoogleProvider.
type GoogleAPIClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// ErrEmptyResponse is returned when the Google Maps API responds with an empty result.
var ErrEmptyResponse = errors.New("get empty response from Google Maps API")

// NewGoogleProvider wraps a Google Maps client. region may be empty.
func NewGoogleProvider(client GoogleAPIClient, region string, log *slog.Logger) *GoogleProvider {
	return &GoogleProvider{client: client, region: region, log: log}
}

// Geocode returns the location of the best match for address. Partial matches
// are accepted but logged, since a query such as "Amsterdam centrum" often
// resolves to the district rather than an exact address.
func (gp *GoogleProvider) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	gp.log.DebugContext(ctx, "Geocoding using Google Maps", "address", address, "region", gp.region)

	req := maps.GeocodingRequest{Address: address, Region: gp.region}
	geocodeResponse, err := gp.client.Geocode(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to geocode address: %w", err)
	}

	if len(geocodeResponse) == 0 {
		return nil, ErrEmptyResponse
	}
	best := geocodeResponse[0]
	if best.PartialMatch {
		gp.log.InfoContext(ctx, "Google returned a partial match",
			"address", address,
			"match", best.FormattedAddress)
	}
	loc := best.Geometry.Location

	return &models.Coordinates{Longitude: loc.Lng, Latitude: loc.Lat}, nil
}
