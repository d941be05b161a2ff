// Package service runs the per-city pipeline: boundary lookup, concurrent
// input fetching, feature table building and storage.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/UnknownOlympus/hexatlas/internal/dataset"
	"github.com/UnknownOlympus/hexatlas/internal/features"
	"github.com/UnknownOlympus/hexatlas/internal/geocoding"
	"github.com/UnknownOlympus/hexatlas/internal/hexgrid"
	"github.com/UnknownOlympus/hexatlas/internal/metrics"
	"github.com/UnknownOlympus/hexatlas/internal/models"
	"github.com/UnknownOlympus/hexatlas/internal/raster"
	"github.com/UnknownOlympus/hexatlas/internal/repository"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// Failure kinds of a city run. Returned errors wrap both the kind and the cause.
var (
	ErrGeocoding = errors.New("geocoding failed")
	ErrFetch     = errors.New("points of interest fetch failed")
	ErrRaster    = errors.New("population raster failed")
	ErrDataset   = errors.New("bike path dataset failed")
	ErrStorage   = errors.New("feature table storage failed")
)

// PointFetcher returns the points of one category inside a boundary.
type PointFetcher interface {
	FetchPoints(ctx context.Context, boundary orb.Ring, category models.Category) ([]orb.Point, error)
}

// Options tune how tables are built.
type Options struct {
	Resolution     int
	Fill           features.FillPolicy
	ClipToBoundary bool
	Workers        int // cities processed at once by Run
}

// Handler receives each successfully built table.
type Handler func(ctx context.Context, city models.City, table *features.Table) error

// Pipeline builds city feature tables.
type Pipeline struct {
	log        *slog.Logger
	boundaries geocoding.BoundaryProvider
	centres    geocoding.Provider
	points     PointFetcher
	repo       repository.Interface // nil disables storage
	metrics    *metrics.Metrics
	idx        *hexgrid.Indexer
	opts       Options

	loadBikePaths func(path string) ([]orb.Geometry, error)
	openRaster    func(path string) (raster.Sampler, error)
}

// NewPipeline creates a Pipeline. repo may be nil.
func NewPipeline(
	log *slog.Logger,
	boundaries geocoding.BoundaryProvider,
	centres geocoding.Provider,
	points PointFetcher,
	repo repository.Interface,
	metrics *metrics.Metrics,
	opts Options,
) (*Pipeline, error) {
	idx, err := hexgrid.NewIndexer(opts.Resolution)
	if err != nil {
		return nil, err
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	return &Pipeline{
		log:           log,
		boundaries:    boundaries,
		centres:       centres,
		points:        points,
		repo:          repo,
		metrics:       metrics,
		idx:           idx,
		opts:          opts,
		loadBikePaths: dataset.LoadBikePaths,
		openRaster: func(path string) (raster.Sampler, error) {
			return raster.Open(path)
		},
	}, nil
}

// Indexer returns the grid indexer shared by every table of the pipeline.
func (p *Pipeline) Indexer() *hexgrid.Indexer {
	return p.idx
}

// Run processes cities with up to Options.Workers at a time. A failing city
// does not stop the others; the failures are returned joined.
func (p *Pipeline) Run(ctx context.Context, cities []models.City, handle Handler) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(p.opts.Workers)

	p.log.InfoContext(ctx, "Starting city runs", "cities", len(cities), "num_workers", p.opts.Workers)

	for _, city := range cities {
		g.Go(func() error {
			err := p.runOne(ctx, city, handle)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", city.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	p.log.InfoContext(ctx, "City runs finished", "cities", len(cities), "failed", len(errs))

	return errors.Join(errs...)
}

func (p *Pipeline) runOne(ctx context.Context, city models.City, handle Handler) error {
	table, err := p.RunCity(ctx, city)
	if err != nil {
		p.metrics.CityRuns.WithLabelValues("failure").Inc()
		p.log.ErrorContext(ctx, "City run failed", "city", city.Name, "error", err)
		return err
	}
	if handle != nil {
		if err = handle(ctx, city, table); err != nil {
			p.metrics.CityRuns.WithLabelValues("failure").Inc()
			p.log.ErrorContext(ctx, "Failed to handle feature table", "city", city.Name, "error", err)
			return err
		}
	}
	p.metrics.CityRuns.WithLabelValues("success").Inc()

	return nil
}

// cityInputs collects the concurrently fetched inputs of one run.
type cityInputs struct {
	reference  orb.Point
	green      []orb.Point
	buildings  []orb.Point
	recreation []orb.Point
	bikePaths  []orb.Geometry
	population features.PopulationSampler
}

// RunCity builds the feature table of city. The boundary is looked up first so
// that an unknown place fails before any other request is made.
func (p *Pipeline) RunCity(ctx context.Context, city models.City) (*features.Table, error) {
	p.log.InfoContext(ctx, "Processing city", "city", city.Name, "resolution", p.idx.Resolution())

	start := time.Now()
	boundary, err := p.boundaries.Boundary(ctx, city.Name)
	p.observe("boundary", start)
	if err != nil {
		p.metrics.ExternalErrors.WithLabelValues("geocoding").Inc()
		return nil, fmt.Errorf("%w: boundary of %s: %w", ErrGeocoding, city.Name, err)
	}

	in, err := p.fetch(ctx, city, boundary)
	if err != nil {
		return nil, err
	}

	if p.opts.ClipToBoundary {
		before := len(in.bikePaths)
		in.bikePaths = dataset.ClipToBoundary(in.bikePaths, boundary)
		p.log.DebugContext(ctx, "Bike paths clipped to boundary", "city", city.Name,
			"before", before, "after", len(in.bikePaths))
	}

	start = time.Now()
	table, err := features.NewBuilder(p.idx, p.opts.Fill).Build(features.Inputs{
		BikePaths:         in.bikePaths,
		GreenAreas:        in.green,
		Buildings:         in.buildings,
		RecreationalAreas: in.recreation,
		Population:        in.population,
		Reference:         in.reference,
	})
	p.observe("build", start)
	if err != nil {
		return nil, fmt.Errorf("failed to build feature table for %s: %w", city.Name, err)
	}

	p.metrics.CellsProduced.WithLabelValues(city.Name).Set(float64(table.Len()))
	p.log.InfoContext(ctx, "Feature table built", "city", city.Name, "cells", table.Len())

	if p.repo != nil {
		start = time.Now()
		err = p.repo.SaveFeatureTable(ctx, city.Name, table)
		p.observe("store", start)
		if err != nil {
			p.metrics.ExternalErrors.WithLabelValues("storage").Inc()
			return nil, fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}

	return table, nil
}

// fetch runs the reference centre lookup, the three point fetches, the
// dataset load and the raster open concurrently. The first failure cancels
// the others.
func (p *Pipeline) fetch(ctx context.Context, city models.City, boundary orb.Ring) (*cityInputs, error) {
	start := time.Now()
	defer p.observe("fetch", start)

	var in cityInputs
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		query := city.CenterQuery
		if query == "" {
			query = city.Name
		}
		coords, err := p.centres.Geocode(gctx, query)
		if err != nil {
			p.countError("geocoding", err)
			return fmt.Errorf("%w: centre %q: %w", ErrGeocoding, query, err)
		}
		in.reference = coords.Point()
		return nil
	})

	targets := map[models.Category]*[]orb.Point{
		models.CategoryGreenSpace:   &in.green,
		models.CategoryBuilding:     &in.buildings,
		models.CategoryRecreational: &in.recreation,
	}
	for _, category := range models.Categories() {
		dst := targets[category]
		g.Go(func() error {
			pts, err := p.points.FetchPoints(gctx, boundary, category)
			if err != nil {
				p.countError("fetch", err)
				return fmt.Errorf("%w: %s: %w", ErrFetch, category, err)
			}
			p.metrics.FetchedPoints.WithLabelValues(string(category)).Add(float64(len(pts)))
			*dst = pts
			return nil
		})
	}

	g.Go(func() error {
		geoms, err := p.loadBikePaths(city.DataFile)
		if err != nil {
			p.countError("dataset", err)
			return fmt.Errorf("%w: %w", ErrDataset, err)
		}
		in.bikePaths = geoms
		return nil
	})

	if city.RasterFile != "" {
		g.Go(func() error {
			sampler, err := p.openRaster(city.RasterFile)
			if err != nil {
				p.countError("raster", err)
				return fmt.Errorf("%w: %w", ErrRaster, err)
			}
			in.population = rasterSampler{sampler}
			return nil
		})
	} else {
		p.log.WarnContext(ctx, "No population raster configured, skipping population", "city", city.Name)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &in, nil
}

// countError records a failed external call. Calls aborted because a sibling
// fetch already failed are not counted.
func (p *Pipeline) countError(kind string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	p.metrics.ExternalErrors.WithLabelValues(kind).Inc()
}

func (p *Pipeline) observe(stage string, start time.Time) {
	p.metrics.StageSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// rasterSampler tags sampling failures with ErrRaster.
type rasterSampler struct {
	raster.Sampler
}

func (s rasterSampler) Sample(poly orb.Polygon) (float64, error) {
	v, err := s.Sampler.Sample(poly)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRaster, err)
	}

	return v, nil
}
