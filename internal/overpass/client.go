// Package overpass fetches point observations from the OpenStreetMap Overpass API.
package overpass

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
	"golang.org/x/time/rate"
)

// DefaultURL is the main public Overpass instance.
const DefaultURL = "https://overpass-api.de/api/interpreter"

// Common errors for the Overpass client.
var (
	ErrUnknownCategory = errors.New("unknown point of interest category")
	ErrInvalidBoundary = errors.New("boundary ring needs at least three distinct points")
	ErrStatus          = errors.New("overpass API returned an error status")
	ErrRemark          = errors.New("overpass API reported a runtime error")
)

// HTTPClient defines the interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// element is one node, way or relation. Ways and relations carry their centre
// when the query ends with "out center".
type element struct {
	Type   string   `json:"type"`
	ID     int64    `json:"id"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center"`
}

type response struct {
	Elements []element `json:"elements"`
	Remark   string    `json:"remark"`
}

// selectors lists the OSM tag filters for each category. Each entry is
// combined with the boundary polygon filter.
var selectors = map[models.Category][]string{
	models.CategoryGreenSpace: {
		`nwr["leisure"="park"]`,
		`nwr["leisure"="garden"]`,
		`nwr["landuse"~"^(grass|forest|meadow|recreation_ground|village_green)$"]`,
		`nwr["natural"="wood"]`,
	},
	models.CategoryBuilding: {
		`way["building"]`,
		`relation["building"]`,
	},
	models.CategoryRecreational: {
		`nwr["leisure"="sports_centre"]`,
		`nwr["shop"]`,
		`nwr["amenity"="school"]`,
	},
}

// Client runs Overpass QL queries. It is safe for concurrent use; requests are
// throttled by a shared limiter.
type Client struct {
	client  HTTPClient
	baseURL string
	timeout time.Duration // server-side query timeout
	limiter *rate.Limiter
	log     *slog.Logger
}

// Config configures a Client.
type Config struct {
	URL       string
	RateLimit float64       // requests per second, 0 means unlimited
	Timeout   time.Duration // server-side timeout, also bounds the HTTP request
	Logger    *slog.Logger
}

// NewClient creates a client with its own HTTP client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	const grace = 30 * time.Second

	return NewClientWithHTTP(&http.Client{Timeout: timeout + grace}, cfg)
}

// NewClientWithHTTP creates a client with the given HTTP client.
func NewClientWithHTTP(client HTTPClient, cfg Config) *Client {
	c := &Client{
		client:  client,
		baseURL: cfg.URL,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Inf, 0),
		log:     cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultURL
	}
	if c.timeout <= 0 {
		c.timeout = 3 * time.Minute
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return c
}

// FetchPoints returns one point per OSM element of category inside boundary.
// Nodes contribute their position, ways and relations their centre. An area
// without matches yields an empty slice and no error.
func (c *Client) FetchPoints(ctx context.Context, boundary orb.Ring, category models.Category) ([]orb.Point, error) {
	query, err := c.BuildQuery(boundary, category)
	if err != nil {
		return nil, err
	}

	if err = c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait aborted: %w", err)
	}

	c.log.DebugContext(ctx, "Querying Overpass", "category", category, "bytes", len(query))

	form := url.Values{}
	form.Set("data", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute overpass request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.ErrorContext(ctx, "Overpass API error", "status", resp.StatusCode, "category", category)
		return nil, fmt.Errorf("%w: status %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload response
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode overpass response: %w", err)
	}
	// Overpass answers 200 with a remark when the query times out or runs out of memory.
	if strings.Contains(payload.Remark, "error") {
		return nil, fmt.Errorf("%w: %s", ErrRemark, payload.Remark)
	}

	points := make([]orb.Point, 0, len(payload.Elements))
	for _, el := range payload.Elements {
		switch {
		case el.Lat != nil && el.Lon != nil:
			points = append(points, orb.Point{*el.Lon, *el.Lat})
		case el.Center != nil:
			points = append(points, orb.Point{el.Center.Lon, el.Center.Lat})
		default:
			c.log.DebugContext(ctx, "Skipping element without position", "type", el.Type, "id", el.ID)
		}
	}

	c.log.InfoContext(ctx, "Overpass points fetched", "category", category, "points", len(points))

	return points, nil
}

// BuildQuery renders the Overpass QL query for category inside boundary.
func (c *Client) BuildQuery(boundary orb.Ring, category models.Category) (string, error) {
	sels, ok := selectors[category]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	poly, err := polyFilter(boundary)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n(\n", int(c.timeout.Seconds()))
	for _, s := range sels {
		fmt.Fprintf(&b, "  %s(poly:%q);\n", s, poly)
	}
	b.WriteString(");\nout center;\n")

	return b.String(), nil
}

// polyFilter renders a ring as the "lat lon lat lon ..." string used by the
// poly filter. The closing point is dropped.
func polyFilter(ring orb.Ring) (string, error) {
	pts := ring
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	const minPoints = 3
	if len(pts) < minPoints {
		return "", fmt.Errorf("%w: got %d", ErrInvalidBoundary, len(pts))
	}

	parts := make([]string, 0, 2*len(pts))
	for _, p := range pts {
		parts = append(parts,
			strconv.FormatFloat(p.Lat(), 'f', 7, 64),
			strconv.FormatFloat(p.Lon(), 'f', 7, 64))
	}

	return strings.Join(parts, " "), nil
}
