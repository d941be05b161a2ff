package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/UnknownOlympus/hexatlas/internal/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/time/rate"
)

// NominatimBaseURL is the public Nominatim search endpoint.
const NominatimBaseURL = "https://nominatim.openstreetmap.org/search"

// DefaultUserAgent identifies hexatlas to OpenStreetMap services.
const DefaultUserAgent = "hexatlas/1.0 (https://github.com/UnknownOlympus/hexatlas)"

// NominatimProvider implements Provider and BoundaryProvider using OpenStreetMap's Nominatim API.
// This is a free geocoding service with usage limits (1 request/second for fair use).
type NominatimProvider struct {
	client  HTTPClient    // HTTP client for making requests
	baseURL string        // Base URL for the Nominatim API
	log     *slog.Logger  // Logger for logging operations
	limiter *rate.Limiter // Keeps requests within the fair use policy
	// userAgent is required by Nominatim usage policy
	userAgent string
	language  string
}

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// nominatimResponse represents the JSON response from Nominatim API.
type nominatimResponse struct {
	Lat         string          `json:"lat"`          // Latitude as string
	Lon         string          `json:"lon"`          // Longitude as string
	DisplayName string          `json:"display_name"` // Human readable match
	GeoJSON     json.RawMessage `json:"geojson"`      // Outline, only with polygon_geojson=1
}

// Common errors for Nominatim provider.
var (
	ErrNominatimEmptyResponse = errors.New("nominatim API returned empty response")
	ErrNominatimInvalidCoords = errors.New("nominatim API returned invalid coordinates")
	ErrNominatimNoPolygon     = errors.New("nominatim result has no polygon outline")
)

// NominatimOption customises a NominatimProvider.
type NominatimOption func(*NominatimProvider)

// WithUserAgent overrides the User-Agent header. It must identify the application.
func WithUserAgent(ua string) NominatimOption {
	return func(np *NominatimProvider) {
		if ua != "" {
			np.userAgent = ua
		}
	}
}

// WithLanguage sets the preferred result language (Accept-Language).
func WithLanguage(lang string) NominatimOption {
	return func(np *NominatimProvider) {
		if lang != "" {
			np.language = lang
		}
	}
}

// WithRateLimit replaces the default one request per second limiter.
func WithRateLimit(limiter *rate.Limiter) NominatimOption {
	return func(np *NominatimProvider) {
		np.limiter = limiter
	}
}

// WithBaseURL points the provider at a self-hosted Nominatim.
func WithBaseURL(u string) NominatimOption {
	return func(np *NominatimProvider) {
		if u != "" {
			np.baseURL = u
		}
	}
}

// NewNominatimProvider creates a new Nominatim geocoding provider.
// Uses the public Nominatim API endpoint by default.
func NewNominatimProvider(log *slog.Logger, opts ...NominatimOption) *NominatimProvider {
	const timeout = 30
	return NewNominatimProviderWithClient(&http.Client{Timeout: timeout * time.Second}, log, opts...)
}

// NewNominatimProviderWithClient creates a Nominatim provider with a custom HTTP client.
// Useful for testing with mocked HTTP clients.
func NewNominatimProviderWithClient(client HTTPClient, log *slog.Logger, opts ...NominatimOption) *NominatimProvider {
	np := &NominatimProvider{
		client:    client,
		baseURL:   NominatimBaseURL,
		log:       log,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		userAgent: DefaultUserAgent,
		language:  "en",
	}
	for _, opt := range opts {
		opt(np)
	}

	return np
}

// Geocode converts an address to geographic coordinates using the Nominatim API.
//
// Uses a progressive fallback strategy: the full query first, then the query
// with trailing comma separated components removed, then the first component.
// "Amsterdam, Centrum, Dam" falls back to "Amsterdam, Centrum" and "Amsterdam".
func (np *NominatimProvider) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	np.log.DebugContext(ctx, "Geocoding using Nominatim", "address", address)

	addressVariations := np.generateAddressFallbacks(address)

	for idx, addrVariation := range addressVariations {
		coords, err := np.geocodeSingleAddress(ctx, addrVariation)
		if err == nil {
			if idx > 0 {
				np.log.InfoContext(ctx, "Geocoded using fallback address",
					"original", address,
					"fallback", addrVariation,
					"fallback_level", idx)
			}
			return coords, nil
		}

		// Anything but an empty result is final (API error, invalid coords, ...)
		if !errors.Is(err, ErrNominatimEmptyResponse) {
			return nil, err
		}

		np.log.DebugContext(ctx, "Address variation returned no results, trying fallback",
			"variation", addrVariation,
			"fallback_level", idx)
	}

	np.log.WarnContext(ctx, "All address fallbacks exhausted",
		"address", address,
		"variations_tried", len(addressVariations))
	return nil, ErrNominatimEmptyResponse
}

// Boundary returns the outer ring of the place's outline. For a multipolygon
// the first polygon is used. There is no fallback: a boundary for a broader
// place would silently change the analysed area.
func (np *NominatimProvider) Boundary(ctx context.Context, place string) (orb.Ring, error) {
	np.log.DebugContext(ctx, "Looking up boundary using Nominatim", "place", place)

	query := url.Values{}
	query.Set("polygon_geojson", "1")
	results, err := np.search(ctx, place, query)
	if err != nil {
		return nil, err
	}

	if len(results[0].GeoJSON) == 0 || string(results[0].GeoJSON) == "null" {
		return nil, fmt.Errorf("%w: %s", ErrNominatimNoPolygon, place)
	}
	geometry, err := geojson.UnmarshalGeometry(results[0].GeoJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nominatim outline: %w", err)
	}

	var ring orb.Ring
	switch g := geometry.Geometry().(type) {
	case orb.Polygon:
		if len(g) > 0 {
			ring = g[0]
		}
	case orb.MultiPolygon:
		if len(g) > 0 && len(g[0]) > 0 {
			ring = g[0][0]
		}
	default:
		return nil, fmt.Errorf("%w: %s is a %s", ErrNominatimNoPolygon, place, g.GeoJSONType())
	}
	if len(ring) < 4 {
		return nil, fmt.Errorf("%w: %s outline has %d points", ErrNominatimNoPolygon, place, len(ring))
	}

	np.log.InfoContext(ctx, "Boundary found",
		"place", place,
		"match", results[0].DisplayName,
		"points", len(ring))

	return ring, nil
}

// generateAddressFallbacks creates a list of progressively simpler address variations.
func (np *NominatimProvider) generateAddressFallbacks(address string) []string {
	if address == "" {
		return []string{""}
	}

	seen := make(map[string]bool)
	variations := []string{}

	addVariation := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			variations = append(variations, v)
		}
	}

	addVariation(address)

	parts := strings.Split(address, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if len(parts) > 1 {
		addVariation(strings.Join(parts[:len(parts)-1], ", "))

		const lenComponents = 2
		if len(parts) > lenComponents {
			addVariation(strings.Join(parts[:len(parts)-2], ", "))
		}

		addVariation(parts[0])
	}

	return variations
}

// geocodeSingleAddress performs a single geocoding request without fallback logic.
func (np *NominatimProvider) geocodeSingleAddress(ctx context.Context, address string) (*models.Coordinates, error) {
	results, err := np.search(ctx, address, url.Values{})
	if err != nil {
		return nil, err
	}

	np.log.DebugContext(ctx, "Nominatim found result", "lat", results[0].Lat, "lon", results[0].Lon)

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid latitude: %s", ErrNominatimInvalidCoords, results[0].Lat)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid longitude: %s", ErrNominatimInvalidCoords, results[0].Lon)
	}

	return &models.Coordinates{
		Latitude:  lat,
		Longitude: lon,
	}, nil
}

// search runs one /search request and returns at least one result.
func (np *NominatimProvider) search(ctx context.Context, q string, extra url.Values) ([]nominatimResponse, error) {
	if err := np.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait aborted: %w", err)
	}

	reqURL, err := url.Parse(np.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	query := reqURL.Query()
	query.Set("q", q)
	query.Set("format", "json")
	query.Set("limit", "1")
	for k, v := range extra {
		query[k] = v
	}
	reqURL.RawQuery = query.Encode()

	np.log.DebugContext(ctx, "Nominatim request URL", "url", reqURL.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set required headers per Nominatim usage policy
	req.Header.Set("User-Agent", np.userAgent)
	req.Header.Set("Accept-Language", np.language)

	resp, err := np.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute geocoding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		np.log.ErrorContext(ctx, "Nominatim API error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("nominatim API returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var results []nominatimResponse
	if err = json.Unmarshal(body, &results); err != nil {
		np.log.ErrorContext(ctx, "Failed to parse Nominatim response", "error", err)
		return nil, fmt.Errorf("failed to decode nominatim response: %w", err)
	}

	if len(results) == 0 {
		return nil, ErrNominatimEmptyResponse
	}

	return results, nil
}
