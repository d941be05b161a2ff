// Package raster samples gridded population data inside cell polygons.
package raster

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Sampler returns the population inside a polygon.
type Sampler interface {
	Sample(poly orb.Polygon) (float64, error)
}

// Common errors for raster reading and sampling.
var (
	ErrInvalidHeader = errors.New("invalid raster header")
	ErrInvalidData   = errors.New("invalid raster data")
	ErrEmptyPolygon  = errors.New("polygon has no exterior ring")
)

// Grid is a north-up raster in lon/lat with square pixels.
type Grid struct {
	cols, rows int
	originX    float64 // west edge
	originY    float64 // north edge
	cellSize   float64
	noData     float64
	hasNoData  bool
	data       []float64 // row-major, top row first
}

// NewGrid builds a grid from its top-left corner, pixel size and row-major values.
// noData may be nil when the raster has no nodata marker.
func NewGrid(cols, rows int, originX, originY, cellSize float64, noData *float64, data []float64) (*Grid, error) {
	if cols <= 0 || rows <= 0 || cellSize <= 0 {
		return nil, fmt.Errorf("%w: %dx%d cells of size %v", ErrInvalidHeader, cols, rows, cellSize)
	}
	if len(data) != cols*rows {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrInvalidData, len(data), cols*rows)
	}

	g := &Grid{
		cols:     cols,
		rows:     rows,
		originX:  originX,
		originY:  originY,
		cellSize: cellSize,
		data:     data,
	}
	if noData != nil {
		g.noData, g.hasNoData = *noData, true
	}

	return g, nil
}

// Open reads an ESRI ASCII grid (.asc) file.
func Open(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster: %w", err)
	}
	defer f.Close()

	g, err := ReadASCII(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read raster %s: %w", path, err)
	}

	return g, nil
}

// ReadASCII parses an ESRI ASCII grid.
//
// The header carries ncols, nrows, xllcorner|xllcenter, yllcorner|yllcenter,
// cellsize and an optional NODATA_value, followed by nrows lines of values
// from north to south.
func ReadASCII(r io.Reader) (*Grid, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	scanner.Split(bufio.ScanWords)

	header := make(map[string]float64, 6)
	var pending string
	for scanner.Scan() {
		tok := scanner.Text()
		key := strings.ToLower(tok)
		if !isHeaderKey(key) {
			pending = tok
			break
		}
		if !scanner.Scan() {
			return nil, fmt.Errorf("%w: missing value for %s", ErrInvalidHeader, tok)
		}
		v, err := strconv.ParseFloat(scanner.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidHeader, tok, err)
		}
		header[key] = v
	}

	for _, k := range []string{"ncols", "nrows", "cellsize"} {
		if _, ok := header[k]; !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidHeader, k)
		}
	}
	cols, err := dimension(header, "ncols")
	if err != nil {
		return nil, err
	}
	rows, err := dimension(header, "nrows")
	if err != nil {
		return nil, err
	}
	if cols*rows > maxCells {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d cells", ErrInvalidHeader, cols, rows, maxCells)
	}
	cell := header["cellsize"]

	var west, south float64
	switch {
	case hasKey(header, "xllcorner"):
		west = header["xllcorner"]
	case hasKey(header, "xllcenter"):
		west = header["xllcenter"] - cell/2
	default:
		return nil, fmt.Errorf("%w: missing xllcorner", ErrInvalidHeader)
	}
	switch {
	case hasKey(header, "yllcorner"):
		south = header["yllcorner"]
	case hasKey(header, "yllcenter"):
		south = header["yllcenter"] - cell/2
	default:
		return nil, fmt.Errorf("%w: missing yllcorner", ErrInvalidHeader)
	}

	want := cols * rows
	data := make([]float64, 0, min(want, preallocCells))
	parse := func(tok string) error {
		if len(data) == want {
			return fmt.Errorf("%w: more than %d values", ErrInvalidData, want)
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("%w: value %d: %w", ErrInvalidData, len(data), err)
		}
		data = append(data, v)
		return nil
	}
	if pending != "" {
		if err := parse(pending); err != nil {
			return nil, err
		}
	}
	for scanner.Scan() {
		if err := parse(scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan raster: %w", err)
	}

	var noData *float64
	if v, ok := header["nodata_value"]; ok {
		noData = &v
	}

	return NewGrid(cols, rows, west, south+float64(rows)*cell, cell, noData, data)
}

// Size limits for ASCII grids. maxCells bounds ncols*nrows; preallocCells
// caps the up-front allocation so a header alone cannot claim the memory.
const (
	maxCells      = 1 << 28
	preallocCells = 1 << 20
)

// dimension returns header[key] as a positive whole number of cells.
func dimension(header map[string]float64, key string) (int, error) {
	v := header[key]
	if v != math.Trunc(v) || v < 1 || v > maxCells {
		return 0, fmt.Errorf("%w: %s must be a whole number between 1 and %d, got %v", ErrInvalidHeader, key, maxCells, v)
	}

	return int(v), nil
}

func isHeaderKey(key string) bool {
	switch key {
	case "ncols", "nrows", "xllcorner", "xllcenter", "yllcorner", "yllcenter", "cellsize", "nodata_value":
		return true
	}

	return false
}

func hasKey(m map[string]float64, k string) bool {
	_, ok := m[k]
	return ok
}

// Bound returns the extent of the grid.
func (g *Grid) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{g.originX, g.originY - float64(g.rows)*g.cellSize},
		Max: orb.Point{g.originX + float64(g.cols)*g.cellSize, g.originY},
	}
}

// Sample sums the pixels whose centre falls inside poly. Nodata and NaN pixels
// are excluded rather than counted as zero; a polygon with no valid pixel
// (outside the raster or entirely nodata) yields 0.
func (g *Grid) Sample(poly orb.Polygon) (float64, error) {
	if len(poly) == 0 || len(poly[0]) == 0 {
		return 0, ErrEmptyPolygon
	}

	b := poly.Bound()
	c0 := clamp(int(math.Floor((b.Min.X()-g.originX)/g.cellSize)), 0, g.cols-1)
	c1 := clamp(int(math.Ceil((b.Max.X()-g.originX)/g.cellSize)), 0, g.cols-1)
	r0 := clamp(int(math.Floor((g.originY-b.Max.Y())/g.cellSize)), 0, g.rows-1)
	r1 := clamp(int(math.Ceil((g.originY-b.Min.Y())/g.cellSize)), 0, g.rows-1)

	var sum float64
	for r := r0; r <= r1; r++ {
		y := g.originY - (float64(r)+0.5)*g.cellSize
		for c := c0; c <= c1; c++ {
			v := g.data[r*g.cols+c]
			if math.IsNaN(v) || (g.hasNoData && v == g.noData) {
				continue
			}
			x := g.originX + (float64(c)+0.5)*g.cellSize
			if planar.PolygonContains(poly, orb.Point{x, y}) {
				sum += v
			}
		}
	}

	return sum, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}
