package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/UnknownOlympus/hexatlas/internal/features"
	"github.com/UnknownOlympus/hexatlas/internal/hexgrid"
	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID of every stored geometry.
const SRID = 4326

// ErrTableNotFound is returned when no table is stored for a city.
var ErrTableNotFound = errors.New("no feature table stored for city")

// ErrResolutionMismatch is returned when a stored table is loaded at another resolution.
var ErrResolutionMismatch = errors.New("stored table has a different resolution")

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis;`,
	`
		CREATE TABLE IF NOT EXISTS feature_tables (
			city       TEXT PRIMARY KEY,
			resolution SMALLINT NOT NULL,
			columns    TEXT[] NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`,
	`
		CREATE TABLE IF NOT EXISTS feature_cells (
			city     TEXT NOT NULL REFERENCES feature_tables (city) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			h3_index TEXT NOT NULL,
			vals     JSONB NOT NULL,
			geom     geometry(Polygon, 4326) NOT NULL,
			PRIMARY KEY (city, h3_index)
		);
	`,
	`CREATE INDEX IF NOT EXISTS idx_feature_cells_geom ON feature_cells USING gist (geom);`,
}

const upsertTableQuery = `
		INSERT INTO feature_tables (city, resolution, columns, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (city) DO UPDATE SET
			resolution = EXCLUDED.resolution,
			columns = EXCLUDED.columns,
			updated_at = EXCLUDED.updated_at;
	`

const deleteCellsQuery = `DELETE FROM feature_cells WHERE city = $1;`

const selectTableQuery = `SELECT resolution, columns FROM feature_tables WHERE city = $1;`

const selectCellsQuery = `
		SELECT h3_index, vals
		FROM feature_cells
		WHERE city = $1
		ORDER BY position ASC;
	`

var cellColumns = []string{"city", "position", "h3_index", "vals", "geom"}

// EnsureSchema creates the PostGIS extension and the feature tables if needed.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return nil
}

// SaveFeatureTable replaces the stored table of city with table in one
// transaction. Cell polygons are written as EWKB so the rows can be queried
// spatially; null values are stored as JSON null.
func (r *Repository) SaveFeatureTable(ctx context.Context, city string, table *features.Table) (err error) {
	rows := make([][]any, 0, table.Len())
	for i, row := range table.Rows() {
		vals, encErr := encodeValues(row, table.Columns())
		if encErr != nil {
			return fmt.Errorf("failed to encode values of cell %s: %w", row.Cell, encErr)
		}
		poly, encErr := EncodePolygon(row.Geometry)
		if encErr != nil {
			return fmt.Errorf("failed to encode geometry of cell %s: %w", row.Cell, encErr)
		}
		rows = append(rows, []any{city, i, row.Cell.String(), vals, poly})
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, upsertTableQuery, city, table.Resolution(), table.Columns()); err != nil {
		return fmt.Errorf("failed to upsert feature table: %w", err)
	}
	if _, err = tx.Exec(ctx, deleteCellsQuery, city); err != nil {
		return fmt.Errorf("failed to delete previous cells: %w", err)
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"feature_cells"}, cellColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy feature cells: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit feature table: %w", err)
	}

	r.log.DebugContext(ctx, "Feature table stored", "city", city, "cells", n)

	return nil
}

// LoadFeatureTable reads the stored table of city. Polygons are regenerated
// from the cell identifiers with idx, whose resolution must match the stored one.
func (r *Repository) LoadFeatureTable(ctx context.Context, city string, idx *hexgrid.Indexer) (*features.Table, error) {
	var (
		resolution int
		columns    []string
	)
	err := r.db.QueryRow(ctx, selectTableQuery, city).Scan(&resolution, &columns)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, city)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query feature table: %w", err)
	}
	if resolution != idx.Resolution() {
		return nil, fmt.Errorf("%w: stored %d, requested %d", ErrResolutionMismatch, resolution, idx.Resolution())
	}

	table, err := features.NewTable(resolution, columns...)
	if err != nil {
		return nil, fmt.Errorf("failed to create feature table: %w", err)
	}

	rows, err := r.db.Query(ctx, selectCellsQuery, city)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature cells: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			raw  string
			vals []byte
		)
		if errScan := rows.Scan(&raw, &vals); errScan != nil {
			return nil, fmt.Errorf("failed to scan feature cell: %w", errScan)
		}
		cell, errParse := idx.ParseCellID(raw)
		if errParse != nil {
			return nil, fmt.Errorf("failed to parse stored cell: %w", errParse)
		}
		values, errDecode := decodeValues(vals)
		if errDecode != nil {
			return nil, fmt.Errorf("failed to decode values of cell %s: %w", cell, errDecode)
		}
		if errInsert := table.Insert(cell, values); errInsert != nil {
			return nil, fmt.Errorf("failed to insert cell %s: %w", cell, errInsert)
		}
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return table, nil
}

func encodeValues(row features.Row, columns []string) ([]byte, error) {
	doc := make(map[string]*float64, len(columns))
	for _, c := range columns {
		if v := row.Get(c); v.Valid {
			f := v.Float
			doc[c] = &f
		} else {
			doc[c] = nil
		}
	}

	return json.Marshal(doc)
}

func decodeValues(data []byte) (map[string]features.Value, error) {
	var doc map[string]*float64
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	values := make(map[string]features.Value, len(doc))
	for c, f := range doc {
		if f == nil {
			values[c] = features.Value{}
			continue
		}
		values[c] = features.Known(*f)
	}

	return values, nil
}

// EncodePolygon converts a polygon to little-endian EWKB with SRID 4326.
func EncodePolygon(p orb.Polygon) ([]byte, error) {
	var (
		flat []float64
		ends []int
	)
	for _, ring := range p {
		for _, pt := range ring {
			flat = append(flat, pt.Lon(), pt.Lat())
		}
		ends = append(ends, len(flat))
	}

	g := geom.NewPolygonFlat(geom.XY, flat, ends).SetSRID(SRID)

	return ewkb.Marshal(g, ewkb.NDR)
}
