// Package config loads hexatlas settings from an optional YAML file, a .env
// file and HEXATLAS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/UnknownOlympus/hexatlas/internal/export"
	"github.com/UnknownOlympus/hexatlas/internal/features"
	"github.com/UnknownOlympus/hexatlas/internal/geocoding"
	"github.com/UnknownOlympus/hexatlas/internal/hexgrid"
	"github.com/UnknownOlympus/hexatlas/internal/models"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrUnknownCity is returned by City for a name that is not configured.
var ErrUnknownCity = errors.New("city is not configured")

// Config holds the configuration settings for a hexatlas run.
//
// Fields:
// - Env: The current environment (local, development, production).
// - DataDir: Directory that relative city input paths are resolved against.
// - OutputDir: Directory receiving exported tables.
// - Resolution: H3 resolution shared by every table of the run.
// - FillPolicy: Value for anchor cells missing from a feature (null or zero).
// - ClipToBoundary: Drop bike paths without a vertex inside the city boundary.
// - ExportFormats: Formats written per city (csv, geojson, xlsx).
// - MetricsFile: Optional node exporter textfile written after a run.
// - Workers: Cities processed at once.
type Config struct {
	Env            string              `mapstructure:"env"`
	DataDir        string              `mapstructure:"data_dir"`
	OutputDir      string              `mapstructure:"output_dir"`
	Resolution     int                 `mapstructure:"resolution"`
	FillPolicy     features.FillPolicy `mapstructure:"fill_policy"`
	ClipToBoundary bool                `mapstructure:"clip_to_boundary"`
	ExportFormats  []export.Format     `mapstructure:"export_formats"`
	MetricsFile    string              `mapstructure:"metrics_file"`
	Workers        int                 `mapstructure:"workers"`
	Geocoder       GeocoderConfig      `mapstructure:"geocoder"`
	Overpass       OverpassConfig      `mapstructure:"overpass"`
	Model          ModelConfig         `mapstructure:"model"`
	Database       PostgresConfig      `mapstructure:"database"`
	Cities         []CityConfig        `mapstructure:"cities"`
}

// GeocoderConfig selects the point geocoder used for reference centres.
// Boundaries always come from Nominatim.
type GeocoderConfig struct {
	Provider  string  `mapstructure:"provider"`   // google or nominatim
	APIKey    string  `mapstructure:"api_key"`    // required for google
	Region    string  `mapstructure:"region"`     // ccTLD bias for google
	UserAgent string  `mapstructure:"user_agent"` // sent to Nominatim
	Language  string  `mapstructure:"language"`
	BaseURL   string  `mapstructure:"base_url"`   // self-hosted Nominatim
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second
}

// OverpassConfig configures the points of interest source.
type OverpassConfig struct {
	URL       string        `mapstructure:"url"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ModelConfig points at the regression model used by predictions.
type ModelConfig struct {
	Path            string `mapstructure:"path"`
	ZeroFillMissing bool   `mapstructure:"zero_fill_missing"`
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
// Persistence is disabled while Host is empty.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`     // Host is the database server address.
	Port     string `mapstructure:"port"`     // Port is the database server port.
	User     string `mapstructure:"user"`     // User is the database user.
	Password string `mapstructure:"password"` // Password is the database user's password.
	Name     string `mapstructure:"name"`     // Name is the name of the database.
}

// Enabled reports whether feature tables should be stored.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// CityConfig describes the inputs of one city.
type CityConfig struct {
	Name        string `mapstructure:"name"`
	DataFile    string `mapstructure:"data_file"`
	RasterFile  string `mapstructure:"raster_file"`
	CenterQuery string `mapstructure:"center_query"`
}

// Resolve returns the city with relative paths joined onto dataDir.
func (c CityConfig) Resolve(dataDir string) models.City {
	return models.City{
		Name:        c.Name,
		DataFile:    resolvePath(dataDir, c.DataFile),
		RasterFile:  resolvePath(dataDir, c.RasterFile),
		CenterQuery: c.CenterQuery,
	}
}

func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(dir, path)
}

// defaultCities is used when no city is configured.
var defaultCities = []CityConfig{{
	Name:        "Amsterdam",
	DataFile:    "amsterdam_bike_paths.geojson",
	RasterFile:  "amsterdam_population.asc",
	CenterQuery: "Amsterdam centrum",
}}

// Load reads the configuration. path names a YAML file; when empty,
// hexatlas.yaml in the working directory is used if present. Environment
// variables override file values, e.g. HEXATLAS_DATABASE_HOST for database.host.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hexatlas")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("HEXATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so that AutomaticEnv can bind it on Unmarshal.
	v.SetDefault("env", "production")
	v.SetDefault("data_dir", "data")
	v.SetDefault("output_dir", "results")
	v.SetDefault("resolution", 7)
	v.SetDefault("fill_policy", string(features.FillNull))
	v.SetDefault("clip_to_boundary", false)
	v.SetDefault("export_formats", []string{string(export.FormatCSV), string(export.FormatGeoJSON)})
	v.SetDefault("metrics_file", "")
	v.SetDefault("workers", 1)
	v.SetDefault("geocoder.provider", string(geocoding.ProviderTypeNominatim))
	v.SetDefault("geocoder.api_key", "")
	v.SetDefault("geocoder.region", "")
	v.SetDefault("geocoder.user_agent", geocoding.DefaultUserAgent)
	v.SetDefault("geocoder.language", "en")
	v.SetDefault("geocoder.base_url", "")
	v.SetDefault("geocoder.rate_limit", 1.0)
	v.SetDefault("overpass.url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.rate_limit", 0.5)
	v.SetDefault("overpass.timeout", 3*time.Minute)
	v.SetDefault("model.path", "models/model.json")
	v.SetDefault("model.zero_fill_missing", false)
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "hexatlas")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(cfg.Cities) == 0 {
		cfg.Cities = append([]CityConfig(nil), defaultCities...)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads the configuration and panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err.Error())
	}

	return cfg
}

func (c *Config) validate() error {
	if c.Resolution < hexgrid.MinResolution || c.Resolution > hexgrid.MaxResolution {
		return fmt.Errorf("invalid resolution %d: %w", c.Resolution, hexgrid.ErrInvalidResolution)
	}

	if c.Workers < 1 {
		return fmt.Errorf("invalid workers %d: must be at least 1", c.Workers)
	}

	fill, err := features.ParseFillPolicy(string(c.FillPolicy))
	if err != nil {
		return fmt.Errorf("invalid fill_policy: %w", err)
	}
	c.FillPolicy = fill

	for i, f := range c.ExportFormats {
		parsed, perr := export.ParseFormat(string(f))
		if perr != nil {
			return fmt.Errorf("invalid export_formats: %w", perr)
		}
		c.ExportFormats[i] = parsed
	}

	switch geocoding.ProviderType(c.Geocoder.Provider) {
	case geocoding.ProviderTypeNominatim:
	case geocoding.ProviderTypeGoogle:
		if c.Geocoder.APIKey == "" {
			return errors.New("geocoder.api_key is required for the google provider")
		}
	default:
		return fmt.Errorf("unsupported geocoder provider: %q", c.Geocoder.Provider)
	}

	seen := make(map[string]bool, len(c.Cities))
	for i, city := range c.Cities {
		if city.Name == "" || city.DataFile == "" {
			return fmt.Errorf("city %d: name and data_file are required", i)
		}
		key := strings.ToLower(city.Name)
		if seen[key] {
			return fmt.Errorf("city %q is configured twice", city.Name)
		}
		seen[key] = true
	}

	return nil
}

// City returns the configured city named name, ignoring case.
func (c *Config) City(name string) (CityConfig, error) {
	for _, city := range c.Cities {
		if strings.EqualFold(city.Name, name) {
			return city, nil
		}
	}

	return CityConfig{}, fmt.Errorf("%w: %s", ErrUnknownCity, name)
}

// GeocodingProvider returns the factory settings for the geocoders.
func (c *Config) GeocodingProvider() geocoding.ProviderConfig {
	return geocoding.ProviderConfig{
		Type:      geocoding.ProviderType(c.Geocoder.Provider),
		APIKey:    c.Geocoder.APIKey,
		RateLimit: c.Geocoder.RateLimit,
		Region:    c.Geocoder.Region,
		UserAgent: c.Geocoder.UserAgent,
		Language:  c.Geocoder.Language,
		BaseURL:   c.Geocoder.BaseURL,
	}
}
