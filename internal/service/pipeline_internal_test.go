package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/Flaque/filet"
	"github.com/UnknownOlympus/hexatlas/internal/features"
	"github.com/UnknownOlympus/hexatlas/internal/metrics"
	"github.com/UnknownOlympus/hexatlas/internal/models"
	"github.com/UnknownOlympus/hexatlas/internal/raster"
	"github.com/UnknownOlympus/hexatlas/test/mocks"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	boundary = orb.Ring{{4.72, 52.27}, {5.07, 52.27}, {5.07, 52.43}, {4.72, 52.43}, {4.72, 52.27}}
	dam      = orb.Point{4.8932, 52.3731}
	zuidas   = orb.Point{4.8730, 52.3389}
	centrum  = &models.Coordinates{Longitude: 4.8945, Latitude: 52.3667}
	city     = models.City{
		Name:        "Amsterdam",
		DataFile:    "amsterdam_bike_paths.geojson",
		RasterFile:  "amsterdam_population.asc",
		CenterQuery: "Amsterdam centrum",
	}
)

type constSampler float64

func (c constSampler) Sample(orb.Polygon) (float64, error) {
	return float64(c), nil
}

type failingSampler struct{}

func (failingSampler) Sample(orb.Polygon) (float64, error) {
	return 0, assert.AnError
}

type fixture struct {
	boundaries *mocks.BoundaryProvider
	centres    *mocks.Provider
	points     *mocks.PointFetcher
	repo       *mocks.Interface
	metrics    *metrics.Metrics
	pipeline   *Pipeline
}

func newFixture(t *testing.T, opts Options, withRepo bool) *fixture {
	t.Helper()
	f := &fixture{
		boundaries: mocks.NewBoundaryProvider(t),
		centres:    mocks.NewProvider(t),
		points:     mocks.NewPointFetcher(t),
		metrics:    metrics.NewMetrics(prometheus.NewRegistry()),
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var err error
	if withRepo {
		f.repo = mocks.NewInterface(t)
		f.pipeline, err = NewPipeline(logger, f.boundaries, f.centres, f.points, f.repo, f.metrics, opts)
	} else {
		f.pipeline, err = NewPipeline(logger, f.boundaries, f.centres, f.points, nil, f.metrics, opts)
	}
	require.NoError(t, err)

	f.pipeline.loadBikePaths = func(string) ([]orb.Geometry, error) {
		return []orb.Geometry{
			orb.LineString{dam, {4.8950, 52.3740}},
			orb.LineString{zuidas, dam},
			orb.LineString{{6.5, 53.2}, {6.6, 53.3}}, // Groningen, outside the boundary
		}, nil
	}
	f.pipeline.openRaster = func(string) (raster.Sampler, error) {
		return constSampler(250), nil
	}

	return f
}

func (f *fixture) expectFetches(green, buildings, recreation []orb.Point) {
	f.points.On("FetchPoints", mock.Anything, boundary, models.CategoryGreenSpace).Return(green, nil).Once()
	f.points.On("FetchPoints", mock.Anything, boundary, models.CategoryBuilding).Return(buildings, nil).Once()
	f.points.On("FetchPoints", mock.Anything, boundary, models.CategoryRecreational).Return(recreation, nil).Once()
}

func TestNewPipeline_InvalidResolution(t *testing.T) {
	_, err := NewPipeline(slog.Default(), nil, nil, nil, nil, nil, Options{Resolution: 16})

	require.Error(t, err)
}

func TestRunCity(t *testing.T) {
	ctx := t.Context()

	t.Run("successful run with storage", func(t *testing.T) {
		f := newFixture(t, Options{Resolution: 7, Fill: features.FillNull}, true)
		idx := f.pipeline.Indexer()

		f.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
		f.centres.On("Geocode", mock.Anything, "Amsterdam centrum").Return(centrum, nil).Once()
		f.expectFetches([]orb.Point{dam, dam}, []orb.Point{zuidas}, nil)
		f.repo.On("SaveFeatureTable", ctx, "Amsterdam", mock.AnythingOfType("*features.Table")).Return(nil).Once()

		table, err := f.pipeline.RunCity(ctx, city)

		require.NoError(t, err)
		assert.Equal(t, []string{
			features.BikePathsColumn,
			features.GreenAreasColumn,
			features.BuildingsColumn,
			features.PopulationColumn,
			features.RecreationalAreasColumn,
			features.DistanceColumn,
		}, table.Columns())

		damRow, ok := table.Row(idx.CellOf(dam))
		require.True(t, ok)
		assert.Equal(t, features.Known(2), damRow.Get(features.GreenAreasColumn))
		assert.Equal(t, features.Known(250), damRow.Get(features.PopulationColumn))
		assert.False(t, damRow.Get(features.RecreationalAreasColumn).Valid)

		zuidasRow, ok := table.Row(idx.CellOf(zuidas))
		require.True(t, ok)
		assert.Equal(t, features.Known(1), zuidasRow.Get(features.BuildingsColumn))
		assert.False(t, zuidasRow.Get(features.GreenAreasColumn).Valid)

		assert.InDelta(t, float64(table.Len()),
			testutil.ToFloat64(f.metrics.CellsProduced.WithLabelValues("Amsterdam")), 0)
		assert.InDelta(t, 2.0, testutil.ToFloat64(f.metrics.FetchedPoints.WithLabelValues("green_space")), 0)
	})

	t.Run("clip and zero fill", func(t *testing.T) {
		f := newFixture(t, Options{Resolution: 7, Fill: features.FillZero, ClipToBoundary: true}, false)
		idx := f.pipeline.Indexer()

		f.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
		f.centres.On("Geocode", mock.Anything, "Amsterdam centrum").Return(centrum, nil).Once()
		f.expectFetches(nil, nil, nil)

		table, err := f.pipeline.RunCity(ctx, city)

		require.NoError(t, err)
		_, groningen := table.Row(idx.CellOf(orb.Point{6.5, 53.2}))
		assert.False(t, groningen, "paths outside the boundary are dropped")
		greens, err := table.Column(features.GreenAreasColumn)
		require.NoError(t, err)
		for _, v := range greens {
			assert.Equal(t, features.Known(0), v)
		}
	})

	t.Run("no raster skips population", func(t *testing.T) {
		f := newFixture(t, Options{Resolution: 7}, false)
		noRaster := city
		noRaster.RasterFile = ""
		noRaster.CenterQuery = ""

		f.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
		f.centres.On("Geocode", mock.Anything, "Amsterdam").Return(centrum, nil).Once()
		f.expectFetches(nil, nil, nil)

		table, err := f.pipeline.RunCity(ctx, noRaster)

		require.NoError(t, err)
		assert.False(t, table.HasColumn(features.PopulationColumn))
	})

	t.Run("boundary failure stops the run", func(t *testing.T) {
		f := newFixture(t, Options{Resolution: 7}, false)

		f.boundaries.On("Boundary", ctx, "Amsterdam").Return(nil, assert.AnError).Once()

		_, err := f.pipeline.RunCity(ctx, city)

		require.ErrorIs(t, err, ErrGeocoding)
		require.ErrorIs(t, err, assert.AnError)
		f.points.AssertNotCalled(t, "FetchPoints", mock.Anything, mock.Anything, mock.Anything)
		assert.InDelta(t, 1.0, testutil.ToFloat64(f.metrics.ExternalErrors.WithLabelValues("geocoding")), 0)
	})

	t.Run("fetch failure", func(t *testing.T) {
		f := newFixture(t, Options{Resolution: 7}, false)

		f.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
		f.centres.On("Geocode", mock.Anything, "Amsterdam centrum").Return(centrum, nil).Maybe()
		f.points.On("FetchPoints", mock.Anything, boundary, models.CategoryGreenSpace).Return(nil, assert.AnError).Once()
		f.points.On("FetchPoints", mock.Anything, boundary, models.CategoryBuilding).Return(nil, nil).Maybe()
		f.points.On("FetchPoints", mock.Anything, boundary, models.CategoryRecreational).Return(nil, nil).Maybe()

		_, err := f.pipeline.RunCity(ctx, city)

		require.ErrorIs(t, err, ErrFetch)
		require.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "green_space")
	})

	t.Run("centre failure", func(t *testing.T) {
		f := newFixture(t, Options{Resolution: 7}, false)

		f.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
		f.centres.On("Geocode", mock.Anything, "Amsterdam centrum").Return(nil, assert.AnError).Once()
		f.points.On("FetchPoints", mock.Anything, boundary, mock.Anything).Return(nil, nil).Maybe()

		_, err := f.pipeline.RunCity(ctx, city)

		require.ErrorIs(t, err, ErrGeocoding)
	})

	t.Run("dataset failure", func(t *testing.T) {
		f := newFixture(t, Options{Resolution: 7}, false)
		f.pipeline.loadBikePaths = func(string) ([]orb.Geometry, error) {
			return nil, assert.AnError
		}

		f.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
		f.centres.On("Geocode", mock.Anything, mock.Anything).Return(centrum, nil).Maybe()
		f.points.On("FetchPoints", mock.Anything, boundary, mock.Anything).Return(nil, nil).Maybe()

		_, err := f.pipeline.RunCity(ctx, city)

		require.ErrorIs(t, err, ErrDataset)
		require.ErrorIs(t, err, assert.AnError)
	})

	t.Run("cancelled siblings are not counted as errors", func(t *testing.T) {
		f := newFixture(t, Options{Resolution: 7}, false)
		f.pipeline.loadBikePaths = func(string) ([]orb.Geometry, error) {
			return nil, assert.AnError
		}
		untilCancelled := func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}

		f.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
		f.centres.On("Geocode", mock.Anything, "Amsterdam centrum").
			Run(untilCancelled).Return(nil, context.Canceled).Once()
		f.points.On("FetchPoints", mock.Anything, boundary, mock.Anything).
			Run(untilCancelled).Return(nil, context.Canceled).Times(3)

		_, err := f.pipeline.RunCity(ctx, city)

		require.ErrorIs(t, err, ErrDataset)
		assert.InDelta(t, 1.0, testutil.ToFloat64(f.metrics.ExternalErrors.WithLabelValues("dataset")), 0)
		assert.InDelta(t, 0.0, testutil.ToFloat64(f.metrics.ExternalErrors.WithLabelValues("geocoding")), 0)
		assert.InDelta(t, 0.0, testutil.ToFloat64(f.metrics.ExternalErrors.WithLabelValues("fetch")), 0)
	})

	t.Run("raster open failure", func(t *testing.T) {
		f := newFixture(t, Options{Resolution: 7}, false)
		f.pipeline.openRaster = func(string) (raster.Sampler, error) {
			return nil, assert.AnError
		}

		f.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
		f.centres.On("Geocode", mock.Anything, mock.Anything).Return(centrum, nil).Maybe()
		f.points.On("FetchPoints", mock.Anything, boundary, mock.Anything).Return(nil, nil).Maybe()

		_, err := f.pipeline.RunCity(ctx, city)

		require.ErrorIs(t, err, ErrRaster)
	})

	t.Run("raster sample failure", func(t *testing.T) {
		f := newFixture(t, Options{Resolution: 7}, false)
		f.pipeline.openRaster = func(string) (raster.Sampler, error) {
			return failingSampler{}, nil
		}

		f.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
		f.centres.On("Geocode", mock.Anything, "Amsterdam centrum").Return(centrum, nil).Once()
		f.expectFetches(nil, nil, nil)

		_, err := f.pipeline.RunCity(ctx, city)

		require.ErrorIs(t, err, ErrRaster)
		require.ErrorIs(t, err, assert.AnError)
	})

	t.Run("storage failure", func(t *testing.T) {
		f := newFixture(t, Options{Resolution: 7}, true)

		f.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
		f.centres.On("Geocode", mock.Anything, "Amsterdam centrum").Return(centrum, nil).Once()
		f.expectFetches(nil, nil, nil)
		f.repo.On("SaveFeatureTable", ctx, "Amsterdam", mock.Anything).Return(assert.AnError).Once()

		_, err := f.pipeline.RunCity(ctx, city)

		require.ErrorIs(t, err, ErrStorage)
	})
}

func TestRun(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, Options{Resolution: 7, Workers: 2}, false)
	utrecht := models.City{Name: "Utrecht", DataFile: "utrecht.geojson"}

	f.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
	f.boundaries.On("Boundary", ctx, "Utrecht").Return(nil, assert.AnError).Once()
	f.centres.On("Geocode", mock.Anything, "Amsterdam centrum").Return(centrum, nil).Once()
	f.expectFetches(nil, nil, nil)

	var handled []string
	err := f.pipeline.Run(ctx, []models.City{city, utrecht},
		func(_ context.Context, c models.City, table *features.Table) error {
			handled = append(handled, c.Name)
			assert.Positive(t, table.Len())
			return nil
		})

	require.Error(t, err)
	require.ErrorIs(t, err, ErrGeocoding)
	assert.Contains(t, err.Error(), "Utrecht")
	assert.Equal(t, []string{"Amsterdam"}, handled)
	assert.InDelta(t, 1.0, testutil.ToFloat64(f.metrics.CityRuns.WithLabelValues("success")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(f.metrics.CityRuns.WithLabelValues("failure")), 0)

	t.Run("handler failure counts as failed run", func(t *testing.T) {
		g := newFixture(t, Options{Resolution: 7}, false)
		g.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
		g.centres.On("Geocode", mock.Anything, "Amsterdam centrum").Return(centrum, nil).Once()
		g.expectFetches(nil, nil, nil)

		err := g.pipeline.Run(ctx, []models.City{city}, func(context.Context, models.City, *features.Table) error {
			return errors.New("disk full")
		})

		require.ErrorContains(t, err, "disk full")
	})
}

func TestRunCity_FileInputs(t *testing.T) {
	defer filet.CleanUp(t)
	dir := filet.TmpDir(t, "")
	paths := filepath.Join(dir, "paths.geojson")
	filet.File(t, paths, `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[4.8932,52.3731],[4.8730,52.3389]]}}
	]}`)
	grid := filepath.Join(dir, "population.asc")
	filet.File(t, grid, "ncols 2\nnrows 2\nxllcorner 4.7\nyllcorner 52.2\ncellsize 0.2\n10 20\n30 40\n")

	ctx := t.Context()
	f := newFixture(t, Options{Resolution: 7}, false)
	p, err := NewPipeline(slog.Default(), f.boundaries, f.centres, f.points, nil, f.metrics, Options{Resolution: 7})
	require.NoError(t, err)

	f.boundaries.On("Boundary", ctx, "Amsterdam").Return(boundary, nil).Once()
	f.centres.On("Geocode", mock.Anything, "Amsterdam centrum").Return(centrum, nil).Once()
	f.expectFetches(nil, nil, nil)

	table, err := p.RunCity(ctx, models.City{
		Name: "Amsterdam", DataFile: paths, RasterFile: grid, CenterQuery: "Amsterdam centrum",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	pop, err := table.Column(features.PopulationColumn)
	require.NoError(t, err)
	assert.Len(t, pop, 2)
}
