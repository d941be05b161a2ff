// Package features builds per-cell feature tables: presence counts aggregated
// onto the hexagonal grid, left-joined onto an anchor table, plus derived
// per-cell columns such as population and distance to a reference point.
package features

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/UnknownOlympus/hexatlas/internal/hexgrid"
	"github.com/paulmach/orb"
)

// Column names used by the city pipeline.
const (
	KeyColumn               = "h3_index"
	GeometryColumn          = "geometry"
	BikePathsColumn         = "bike_paths_count"
	GreenAreasColumn        = "green_areas_count"
	BuildingsColumn         = "buildings_count"
	PopulationColumn        = "population"
	RecreationalAreasColumn = "recreational_areas_count"
	DistanceColumn          = "distance_to_centrum"
	PredictionColumn        = "prediction"
)

// Common errors for feature tables.
var (
	ErrUnknownColumn      = errors.New("column not present in table")
	ErrDuplicateColumn    = errors.New("column already present in table")
	ErrReservedColumn     = errors.New("column name is reserved")
	ErrResolutionMismatch = errors.New("tables were indexed at different resolutions")
	ErrLengthMismatch     = errors.New("value count does not match row count")
)

// Value is a nullable measurement. The zero Value is null.
type Value struct {
	Float float64
	Valid bool
}

// Known wraps f as a non-null value.
func Known(f float64) Value {
	return Value{Float: f, Valid: true}
}

// Value implements driver.Valuer so nulls reach the database as NULL.
func (v Value) Value() (driver.Value, error) {
	if !v.Valid {
		return nil, nil
	}

	return v.Float, nil
}

// String renders the value, using an empty string for null.
func (v Value) String() string {
	if !v.Valid {
		return ""
	}

	return strconv.FormatFloat(v.Float, 'f', -1, 64)
}

// Row is one cell record. Geometry is the boundary of Cell and is set by the table.
type Row struct {
	Cell     hexgrid.CellID
	Values   map[string]Value
	Geometry orb.Polygon
}

// Get returns the value of column, null when absent.
func (r Row) Get(column string) Value {
	return r.Values[column]
}

// Table is a set of cell records keyed by cell identifier. Row order is the
// order in which cells were first inserted and carries no meaning.
type Table struct {
	idx     *hexgrid.Indexer
	columns []string
	rows    []Row
	index   map[hexgrid.CellID]int
}

// NewTable creates an empty table for cells at the given resolution.
func NewTable(resolution int, columns ...string) (*Table, error) {
	idx, err := hexgrid.NewIndexer(resolution)
	if err != nil {
		return nil, err
	}
	t := &Table{
		idx:   idx,
		index: make(map[hexgrid.CellID]int),
	}
	for _, c := range columns {
		if err := t.declare(c); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func (t *Table) declare(column string) error {
	if column == KeyColumn || column == GeometryColumn || column == "" {
		return fmt.Errorf("%w: %q", ErrReservedColumn, column)
	}
	if t.HasColumn(column) {
		return fmt.Errorf("%w: %s", ErrDuplicateColumn, column)
	}
	t.columns = append(t.columns, column)

	return nil
}

// Resolution returns the H3 resolution of the table's cells.
func (t *Table) Resolution() int {
	return t.idx.Resolution()
}

// Columns returns the declared value columns in declaration order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)

	return out
}

// HasColumn reports whether column is declared.
func (t *Table) HasColumn(column string) bool {
	for _, c := range t.columns {
		if c == column {
			return true
		}
	}

	return false
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Rows returns the rows in insertion order. The slice is shared; do not modify it.
func (t *Table) Rows() []Row {
	return t.rows
}

// Row returns the record for cell.
func (t *Table) Row(cell hexgrid.CellID) (Row, bool) {
	i, ok := t.index[cell]
	if !ok {
		return Row{}, false
	}

	return t.rows[i], true
}

// Cells returns the row keys in row order.
func (t *Table) Cells() []hexgrid.CellID {
	out := make([]hexgrid.CellID, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Cell
	}

	return out
}

// Insert adds a row for cell with the cell's boundary as geometry. cell must be
// a valid index at the table's resolution and values must only reference
// declared columns. Inserting a cell twice fails.
func (t *Table) Insert(cell hexgrid.CellID, values map[string]Value) error {
	cell, err := t.idx.ParseCellID(string(cell))
	if err != nil {
		return err
	}
	if _, exists := t.index[cell]; exists {
		return fmt.Errorf("duplicate cell %s", cell)
	}
	row := Row{Cell: cell, Geometry: t.idx.BoundaryOf(cell), Values: make(map[string]Value, len(t.columns))}
	for c, v := range values {
		if !t.HasColumn(c) {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, c)
		}
		row.Values[c] = v
	}
	t.index[cell] = len(t.rows)
	t.rows = append(t.rows, row)

	return nil
}

// AppendColumn declares column and fills it row by row with fn.
// If fn fails for any row the table is left unchanged.
func (t *Table) AppendColumn(column string, fn func(Row) (Value, error)) error {
	if t.HasColumn(column) {
		return fmt.Errorf("%w: %s", ErrDuplicateColumn, column)
	}

	values := make([]Value, len(t.rows))
	for i, r := range t.rows {
		v, err := fn(r)
		if err != nil {
			return fmt.Errorf("failed to compute %s for cell %s: %w", column, r.Cell, err)
		}
		values[i] = v
	}

	return t.SetColumn(column, values)
}

// SetColumn declares column with one value per row, in row order.
func (t *Table) SetColumn(column string, values []Value) error {
	if len(values) != len(t.rows) {
		return fmt.Errorf("%w: %d values for %d rows", ErrLengthMismatch, len(values), len(t.rows))
	}
	if err := t.declare(column); err != nil {
		return err
	}
	for i := range t.rows {
		t.rows[i].Values[column] = values[i]
	}

	return nil
}

// DropColumn removes column and its values from every row.
func (t *Table) DropColumn(column string) error {
	i := slices.Index(t.columns, column)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	t.columns = slices.Delete(t.columns, i, i+1)
	for _, r := range t.rows {
		delete(r.Values, column)
	}

	return nil
}

// Column returns the values of column in row order.
func (t *Table) Column(column string) ([]Value, error) {
	if !t.HasColumn(column) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	out := make([]Value, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Values[column]
	}

	return out, nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		idx:     t.idx,
		columns: t.Columns(),
		rows:    make([]Row, len(t.rows)),
		index:   make(map[hexgrid.CellID]int, len(t.index)),
	}
	for i, r := range t.rows {
		values := make(map[string]Value, len(r.Values))
		for k, v := range r.Values {
			values[k] = v
		}
		out.rows[i] = Row{Cell: r.Cell, Geometry: r.Geometry, Values: values}
		out.index[r.Cell] = i
	}

	return out
}
