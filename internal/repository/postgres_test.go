package repository_test

import (
	"log/slog"
	"regexp"
	"testing"

	"github.com/UnknownOlympus/hexatlas/internal/features"
	"github.com/UnknownOlympus/hexatlas/internal/hexgrid"
	"github.com/UnknownOlympus/hexatlas/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

const upsertTableQuery = `
		INSERT INTO feature_tables (city, resolution, columns, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (city) DO UPDATE SET
			resolution = EXCLUDED.resolution,
			columns = EXCLUDED.columns,
			updated_at = EXCLUDED.updated_at;
	`

const selectCellsQuery = `
		SELECT h3_index, vals
		FROM feature_cells
		WHERE city = $1
		ORDER BY position ASC;
	`

var (
	cellColumns = []string{"city", "position", "h3_index", "vals", "geom"}
	dam         = orb.Point{4.8932, 52.3731}
	zuidas      = orb.Point{4.8730, 52.3389}
)

func sampleTable(t *testing.T) (*features.Table, *hexgrid.Indexer) {
	t.Helper()
	idx, err := hexgrid.NewIndexer(7)
	require.NoError(t, err)
	table, err := features.NewTable(7, features.BikePathsColumn, features.GreenAreasColumn)
	require.NoError(t, err)

	for _, p := range []orb.Point{dam, zuidas} {
		cell := idx.CellOf(p)
		require.NoError(t, table.Insert(cell, map[string]features.Value{
			features.BikePathsColumn: features.Known(3),
		}))
	}

	return table, idx
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, slog.Default())

		mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS postgis").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS feature_tables").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS feature_cells").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))

		require.NoError(t, repo.EnsureSchema(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, slog.Default())

		mock.ExpectExec("CREATE EXTENSION").WillReturnError(assert.AnError)

		err = repo.EnsureSchema(ctx)

		require.ErrorIs(t, err, assert.AnError)
		require.ErrorContains(t, err, "failed to apply schema")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSaveFeatureTable(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	columns := []string{features.BikePathsColumn, features.GreenAreasColumn}

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, slog.Default())
		table, _ := sampleTable(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(upsertTableQuery)).
			WithArgs("Amsterdam", 7, columns).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("DELETE FROM feature_cells").
			WithArgs("Amsterdam").
			WillReturnResult(pgxmock.NewResult("DELETE", 5))
		mock.ExpectCopyFrom(pgx.Identifier{"feature_cells"}, cellColumns).WillReturnResult(2)
		mock.ExpectCommit()

		require.NoError(t, repo.SaveFeatureTable(ctx, "Amsterdam", table))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - begin", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, slog.Default())
		table, _ := sampleTable(t)

		mock.ExpectBegin().WillReturnError(assert.AnError)

		err = repo.SaveFeatureTable(ctx, "Amsterdam", table)

		require.ErrorIs(t, err, assert.AnError)
		require.ErrorContains(t, err, "failed to begin transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - copy rolls back", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, slog.Default())
		table, _ := sampleTable(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(upsertTableQuery)).
			WithArgs("Amsterdam", 7, columns).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("DELETE FROM feature_cells").
			WithArgs("Amsterdam").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"feature_cells"}, cellColumns).WillReturnError(assert.AnError)
		mock.ExpectRollback()

		err = repo.SaveFeatureTable(ctx, "Amsterdam", table)

		require.ErrorIs(t, err, assert.AnError)
		require.ErrorContains(t, err, "failed to copy feature cells")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoadFeatureTable(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, slog.Default())
		idx, err := hexgrid.NewIndexer(7)
		require.NoError(t, err)
		damCell, zuidasCell := idx.CellOf(dam), idx.CellOf(zuidas)

		mock.ExpectQuery("SELECT resolution, columns FROM feature_tables").
			WithArgs("Amsterdam").
			WillReturnRows(pgxmock.NewRows([]string{"resolution", "columns"}).
				AddRow(7, []string{features.BikePathsColumn, features.GreenAreasColumn}))
		mock.ExpectQuery(regexp.QuoteMeta(selectCellsQuery)).
			WithArgs("Amsterdam").
			WillReturnRows(pgxmock.NewRows([]string{"h3_index", "vals"}).
				AddRow(damCell.String(), []byte(`{"bike_paths_count":4,"green_areas_count":null}`)).
				AddRow(zuidasCell.String(), []byte(`{"bike_paths_count":1,"green_areas_count":2}`)))

		table, err := repo.LoadFeatureTable(ctx, "Amsterdam", idx)

		require.NoError(t, err)
		assert.Equal(t, []hexgrid.CellID{damCell, zuidasCell}, table.Cells())
		row, ok := table.Row(damCell)
		require.True(t, ok)
		assert.Equal(t, features.Known(4), row.Get(features.BikePathsColumn))
		assert.False(t, row.Get(features.GreenAreasColumn).Valid)
		assert.Equal(t, idx.BoundaryOf(damCell), row.Geometry)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - not found", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, slog.Default())
		idx, err := hexgrid.NewIndexer(7)
		require.NoError(t, err)

		mock.ExpectQuery("SELECT resolution, columns FROM feature_tables").
			WithArgs("Utrecht").
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.LoadFeatureTable(ctx, "Utrecht", idx)

		require.ErrorIs(t, err, repository.ErrTableNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - resolution mismatch", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, slog.Default())
		idx, err := hexgrid.NewIndexer(8)
		require.NoError(t, err)

		mock.ExpectQuery("SELECT resolution, columns FROM feature_tables").
			WithArgs("Amsterdam").
			WillReturnRows(pgxmock.NewRows([]string{"resolution", "columns"}).
				AddRow(7, []string{features.BikePathsColumn}))

		_, err = repo.LoadFeatureTable(ctx, "Amsterdam", idx)

		require.ErrorIs(t, err, repository.ErrResolutionMismatch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - rows error", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, slog.Default())
		idx, err := hexgrid.NewIndexer(7)
		require.NoError(t, err)

		mock.ExpectQuery("SELECT resolution, columns FROM feature_tables").
			WithArgs("Amsterdam").
			WillReturnRows(pgxmock.NewRows([]string{"resolution", "columns"}).
				AddRow(7, []string{features.BikePathsColumn}))
		mock.ExpectQuery(regexp.QuoteMeta(selectCellsQuery)).
			WithArgs("Amsterdam").
			WillReturnRows(pgxmock.NewRows([]string{"h3_index", "vals"}).
				AddRow(idx.CellOf(dam).String(), []byte(`{"bike_paths_count":4}`)).
				RowError(1, assert.AnError))

		_, err = repo.LoadFeatureTable(ctx, "Amsterdam", idx)

		require.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEncodePolygon(t *testing.T) {
	idx, err := hexgrid.NewIndexer(7)
	require.NoError(t, err)
	poly := idx.BoundaryOf(idx.CellOf(dam))

	data, err := repository.EncodePolygon(poly)
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	decoded, ok := g.(*geom.Polygon)
	require.True(t, ok)
	assert.Equal(t, repository.SRID, decoded.SRID())
	assert.Equal(t, len(poly[0]), decoded.LinearRing(0).NumCoords())
	first := decoded.LinearRing(0).Coord(0)
	assert.InDelta(t, poly[0][0].Lon(), first.X(), 1e-12)
	assert.InDelta(t, poly[0][0].Lat(), first.Y(), 1e-12)
}
