package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/UnknownOlympus/hexatlas/internal/features"
	"github.com/UnknownOlympus/hexatlas/internal/hexgrid"
	"github.com/paulmach/orb/encoding/wkt"
)

// ErrMissingKey is returned when a CSV file has no h3_index column.
var ErrMissingKey = errors.New("csv header has no " + features.KeyColumn + " column")

// WriteCSV writes the key column, the value columns in declaration order and
// the cell polygon as WKT. Nulls are written as empty fields.
func WriteCSV(w io.Writer, t *features.Table) error {
	cw := csv.NewWriter(w)

	columns := t.Columns()
	header := make([]string, 0, len(columns)+2)
	header = append(header, features.KeyColumn)
	header = append(header, columns...)
	header = append(header, features.GeometryColumn)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(header))
	for _, row := range t.Rows() {
		record[0] = row.Cell.String()
		for i, c := range columns {
			record[i+1] = row.Get(c).String()
		}
		record[len(record)-1] = wkt.MarshalString(row.Geometry)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %s: %w", row.Cell, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	return nil
}

// ReadCSV loads a table written by WriteCSV. The geometry column is ignored and
// polygons are regenerated from the cell identifiers, which must be at idx's
// resolution. Every other column is parsed as a number; empty fields are null.
func ReadCSV(r io.Reader, idx *hexgrid.Indexer) (*features.Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	keyPos := -1
	positions := make(map[int]string)
	var columns []string
	for i, name := range header {
		switch name {
		case features.KeyColumn:
			keyPos = i
		case features.GeometryColumn:
		default:
			positions[i] = name
			columns = append(columns, name)
		}
	}
	if keyPos < 0 {
		return nil, ErrMissingKey
	}

	table, err := features.NewTable(idx.Resolution(), columns...)
	if err != nil {
		return nil, err
	}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}

		cell, err := idx.ParseCellID(record[keyPos])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		values := make(map[string]features.Value, len(positions))
		for pos, name := range positions {
			if record[pos] == "" {
				values[name] = features.Value{}
				continue
			}
			f, perr := strconv.ParseFloat(record[pos], 64)
			if perr != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, name, perr)
			}
			values[name] = features.Known(f)
		}
		if err = table.Insert(cell, values); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}

	return table, nil
}
