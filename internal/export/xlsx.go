package export

import (
	"fmt"
	"io"

	"github.com/UnknownOlympus/hexatlas/internal/features"
	"github.com/tealeg/xlsx/v2"
)

// SheetName is the worksheet holding the feature table.
const SheetName = "features"

// WriteXLSX writes the key and value columns to a single worksheet. Geometry
// is left out; null values are empty cells.
func WriteXLSX(w io.Writer, t *features.Table) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(SheetName)
	if err != nil {
		return fmt.Errorf("failed to add sheet: %w", err)
	}

	columns := t.Columns()
	header := sheet.AddRow()
	header.AddCell().SetString(features.KeyColumn)
	for _, c := range columns {
		header.AddCell().SetString(c)
	}

	for _, r := range t.Rows() {
		row := sheet.AddRow()
		row.AddCell().SetString(r.Cell.String())
		for _, c := range columns {
			cell := row.AddCell()
			if v := r.Get(c); v.Valid {
				cell.SetFloat(v.Float)
			}
		}
	}

	if err = file.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	return nil
}
