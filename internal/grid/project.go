// internal/grid/project.go - WGS84 to grid CRS extent projection
package grid

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// LonLatToMerc returns the spherical mercator (x, y) in meters.
func LonLatToMerc(lon, lat float64) (float64, float64) {
	p := project.WGS84.ToMercator(orb.Point{lon, lat})
	return p[0], p[1]
}

// ExtentWGS84ToMerc projects a WGS84 extent to spherical mercator.
func ExtentWGS84ToMerc(e Extent) Extent {
	minX, minY := LonLatToMerc(e.MinX, e.MinY)
	maxX, maxY := LonLatToMerc(e.MaxX, e.MaxY)
	return Extent{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// ClampLonLat limits coordinates to the mercator-safe latitude range.
func ClampLonLat(lon, lat float64) (float64, float64) {
	lon = math.Max(-180.0, math.Min(180.0, lon))
	lat = math.Max(-85.0511287798066, math.Min(85.0511287798066, lat))
	return lon, lat
}
