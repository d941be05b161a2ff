// Package export writes feature tables to files and reads CSV exports back.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/UnknownOlympus/hexatlas/internal/features"
)

// Format is an output file format.
type Format string

// Supported formats.
const (
	FormatCSV     Format = "csv"
	FormatGeoJSON Format = "geojson"
	FormatXLSX    Format = "xlsx"
)

// ErrUnknownFormat is returned for a format name that is not supported.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatGeoJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

func (f Format) write(w io.Writer, t *features.Table) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, t)
	case FormatGeoJSON:
		return WriteGeoJSON(w, t)
	case FormatXLSX:
		return WriteXLSX(w, t)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}

// FileName returns the file name used for a city's table in format f,
// e.g. "den_haag_features.geojson".
func FileName(city string, f Format) string {
	base := strings.ToLower(strings.Join(strings.Fields(city), "_"))

	return fmt.Sprintf("%s_features.%s", base, f)
}

// WriteFiles writes t once per format into dir and returns the written paths.
func WriteFiles(dir, city string, formats []Format, t *features.Table) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := make([]string, 0, len(formats))
	for _, f := range formats {
		path := filepath.Join(dir, FileName(city, f))
		if err := WriteFile(path, f, t); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}

	return paths, nil
}

// WriteFile writes t to path in format f, replacing any existing file.
func WriteFile(path string, f Format, t *features.Table) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	if err = f.write(file, t); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
