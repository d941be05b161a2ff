package models

// City describes one pipeline run: where its bike path data and population
// raster live, and how to find its reference centre.
type City struct {
	Name        string // Name is the place name sent to the boundary lookup.
	DataFile    string // DataFile is the bike path dataset (GeoJSON or shapefile).
	RasterFile  string // RasterFile is the population raster; empty skips population.
	CenterQuery string // CenterQuery is geocoded to the reference centre point.
}
