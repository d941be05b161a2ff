package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnknownOlympus/hexatlas/internal/config"
	"github.com/UnknownOlympus/hexatlas/internal/export"
	"github.com/UnknownOlympus/hexatlas/internal/features"
	"github.com/UnknownOlympus/hexatlas/internal/geocoding"
	"github.com/UnknownOlympus/hexatlas/internal/metrics"
	"github.com/UnknownOlympus/hexatlas/internal/modelling"
	"github.com/UnknownOlympus/hexatlas/internal/models"
	"github.com/UnknownOlympus/hexatlas/internal/overpass"
	"github.com/UnknownOlympus/hexatlas/internal/repository"
	"github.com/UnknownOlympus/hexatlas/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var (
	runCities      []string
	runPredict     bool
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build, store and export the feature table of each configured city",
	Long: `Looks up each city's boundary, fetches points of interest from Overpass,
loads the bike path dataset and population raster, builds the H3 feature table
and writes it in the configured export formats. With a database configured the
table also replaces the city's stored table.

Examples:
  # All configured cities
  hexatlas run

  # One city, adding model predictions to the exports
  hexatlas run --city Amsterdam --predict`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cities, err := selectCities(cfg, runCities)
		if err != nil {
			return err
		}

		var model *modelling.Model
		if runPredict {
			if model, err = modelling.LoadFile(cfg.Model.Path); err != nil {
				return err
			}
			logger.InfoContext(ctx, "Model loaded", "path", cfg.Model.Path, "features", model.Features)
		}

		// Create a separate registry for metrics with exemplar
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		appMetrics := metrics.NewMetrics(reg)

		var (
			pool *pgxpool.Pool
			repo repository.Interface
		)
		if cfg.Database.Enabled() {
			pool, err = repository.NewDatabase(ctx,
				cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name)
			if err != nil {
				return fmt.Errorf("failed to connect to DB: %w", err)
			}
			defer pool.Close()

			pg := repository.NewRepository(pool, logger)
			if err = pg.EnsureSchema(ctx); err != nil {
				return err
			}
			repo = pg
		}

		if runMetricsAddr != "" {
			var db pinger
			if pool != nil {
				db = pool
			}
			server := newMonitoringServer(ctx, logger, reg, db, runMetricsAddr)
			go startMonitoringServer(ctx, logger, server)
			defer shutdownServer(server)
		}

		pipeline, err := newPipeline(appMetrics, repo)
		if err != nil {
			return err
		}

		runErr := pipeline.Run(ctx, cities, exportHandler(model))

		if cfg.MetricsFile != "" {
			if err = metrics.WriteTextfile(cfg.MetricsFile, reg); err != nil {
				logger.ErrorContext(ctx, "Failed to write metrics file", "path", cfg.MetricsFile, "error", err)
			}
		}

		return runErr
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runCities, "city", nil, "process only the named cities (repeatable)")
	runCmd.Flags().BoolVar(&runPredict, "predict", false, "add model predictions from model.path to the exports")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address during the run")
	rootCmd.AddCommand(runCmd)
}

// newPipeline wires the geocoders, the Overpass client and the repository
// into a pipeline.
func newPipeline(appMetrics *metrics.Metrics, repo repository.Interface) (*service.Pipeline, error) {
	providerConfig := cfg.GeocodingProvider()
	providerConfig.Logger = logger

	centres, boundaries, err := geocoding.NewProviders(providerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create geocoding provider: %w", err)
	}

	points := overpass.NewClient(overpass.Config{
		URL:       cfg.Overpass.URL,
		RateLimit: cfg.Overpass.RateLimit,
		Timeout:   cfg.Overpass.Timeout,
		Logger:    logger,
	})

	return service.NewPipeline(logger, boundaries, centres, points, repo, appMetrics, service.Options{
		Resolution:     cfg.Resolution,
		Fill:           cfg.FillPolicy,
		ClipToBoundary: cfg.ClipToBoundary,
		Workers:        cfg.Workers,
	})
}

// exportHandler writes each table in the configured formats, after adding
// predictions when model is not nil.
func exportHandler(model *modelling.Model) service.Handler {
	return func(ctx context.Context, city models.City, table *features.Table) error {
		if model != nil {
			predicted, err := model.Predict(table)
			if err != nil {
				return fmt.Errorf("failed to predict for %s: %w", city.Name, err)
			}
			table = predicted
		}

		paths, err := export.WriteFiles(cfg.OutputDir, city.Name, cfg.ExportFormats, table)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "Feature table exported", "city", city.Name, "files", paths)

		return nil
	}
}

// selectCities resolves the requested city names, or every configured city
// when names is empty.
func selectCities(c *config.Config, names []string) ([]models.City, error) {
	if len(names) == 0 {
		cities := make([]models.City, 0, len(c.Cities))
		for _, city := range c.Cities {
			cities = append(cities, city.Resolve(c.DataDir))
		}
		return cities, nil
	}

	cities := make([]models.City, 0, len(names))
	var errs []error
	for _, name := range names {
		city, err := c.City(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cities = append(cities, city.Resolve(c.DataDir))
	}

	return cities, errors.Join(errs...)
}

func shutdownServer(server interface{ Shutdown(context.Context) error }) {
	const timeout = 5 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to stop monitoring server", "error", err)
	}
}
