package geocoding

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"
)

// ProviderType represents the type of geocoding provider.
type ProviderType string

const (
	// ProviderTypeGoogle represents Google Maps geocoding provider.
	ProviderTypeGoogle ProviderType = "google"
	// ProviderTypeNominatim represents OpenStreetMap Nominatim geocoding provider.
	ProviderTypeNominatim ProviderType = "nominatim"
)

// ProviderConfig holds configuration for creating a geocoding provider.
type ProviderConfig struct {
	Type      ProviderType // Type of provider to create
	APIKey    string       // API key (used by Google provider)
	RateLimit float64      // Requests per second; 0 keeps the provider default
	Region    string       // Region bias (Google)
	UserAgent string       // User-Agent (Nominatim)
	Language  string       // Accept-Language (Nominatim)
	BaseURL   string       // Self-hosted endpoint (Nominatim)
	Logger    *slog.Logger // Logger for the provider
}

// NewProvider creates the point geocoder used to resolve reference centres.
//
// Supported provider types:
// - "google": Google Maps Geocoding API (requires API key)
// - "nominatim": OpenStreetMap Nominatim API (free, no API key required)
func NewProvider(config ProviderConfig) (Provider, error) {
	switch config.Type {
	case ProviderTypeGoogle:
		return newGoogleProvider(config)
	case ProviderTypeNominatim:
		return NewBoundaryProvider(config), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}

// NewProviders creates the point geocoder and the outline lookup of a run.
// With the Nominatim type both roles share one provider, and with it one rate
// limiter, so a boundary lookup followed by a centre lookup still honours the
// per-second limit.
func NewProviders(config ProviderConfig) (Provider, BoundaryProvider, error) {
	boundaries := NewBoundaryProvider(config)
	if config.Type == ProviderTypeNominatim {
		return boundaries, boundaries, nil
	}

	centres, err := NewProvider(config)
	if err != nil {
		return nil, nil, err
	}

	return centres, boundaries, nil
}

// NewBoundaryProvider creates the outline lookup. Only Nominatim returns
// polygons, so it is used whatever point geocoder is configured.
func NewBoundaryProvider(config ProviderConfig) *NominatimProvider {
	opts := []NominatimOption{
		WithUserAgent(config.UserAgent),
		WithLanguage(config.Language),
		WithBaseURL(config.BaseURL),
	}
	if config.Type == ProviderTypeNominatim && config.RateLimit > 0 {
		opts = append(opts, WithRateLimit(rate.NewLimiter(rate.Limit(config.RateLimit), 1)))
	}

	return NewNominatimProvider(config.Logger, opts...)
}

// newGoogleProvider creates a Google Maps geocoding provider.
func newGoogleProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("API key is required for Google provider")
	}

	clientOpts := []maps.ClientOption{
		maps.WithAPIKey(config.APIKey),
	}
	if config.RateLimit >= 1 {
		clientOpts = append(clientOpts, maps.WithRateLimit(int(config.RateLimit)))
	}

	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}

	return NewGoogleProvider(client, config.Region, config.Logger), nil
}
