// internal/grid/grid.go - Tile grid algebra for arbitrary coordinate reference systems
package grid

import (
	"fmt"
	"math"
)

// Extent is a geographic bounding box in grid units.
type Extent struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// ExtentInt holds inclusive min and max tile cell numbers.
type ExtentInt struct {
	MinX uint32
	MinY uint32
	MaxX uint32
	MaxY uint32
}

// Origin is the corner of the grid extent where tile (0,0) sits.
type Origin string

const (
	OriginTopLeft    Origin = "TopLeft"
	OriginBottomLeft Origin = "BottomLeft"
)

// Unit is the ground unit of the grid CRS.
type Unit string

const (
	UnitMeters  Unit = "m"
	UnitDegrees Unit = "dd"
	UnitFeet    Unit = "ft"
)

const (
	// metersPerDegree is the equatorial circumference of the WGS84
	// spheroid divided by 360.
	metersPerDegree = 6378137.0 * 2.0 * math.Pi / 360.0
	// pixelScreenWidth is the standardized rendering pixel size (OGC
	// Symbology Encoding).
	pixelScreenWidth = 0.00028
)

// Grid is a CRS-bound tiling scheme with one resolution per zoom level.
// Immutable after construction.
type Grid struct {
	// Width and Height of an individual tile, in pixels.
	Width  uint16
	Height uint16
	// Extent covered by the grid in ground units. (MinX,MinY) is the
	// grid origin point; (MaxX,MaxY) determines the tile count per level.
	Extent Extent
	// SRID is the spatial reference system identifier (PostGIS SRID).
	SRID int
	// Units of the grid CRS.
	Units Unit
	// Resolutions in units per pixel, ordered from largest to smallest.
	// The index in the list is the zoom level.
	Resolutions []float64
	Origin      Origin

	levelMax []cellIndex
}

type cellIndex struct {
	maxX uint32
	maxY uint32
}

// New builds a grid and precomputes the per-level cell limits.
// Resolutions must be strictly decreasing.
func New(width, height uint16, extent Extent, srid int, units Unit, resolutions []float64, origin Origin) (*Grid, error) {
	if len(resolutions) == 0 {
		return nil, fmt.Errorf("grid requires at least one resolution")
	}
	for i := 1; i < len(resolutions); i++ {
		if resolutions[i] >= resolutions[i-1] {
			return nil, fmt.Errorf("grid resolutions must be strictly decreasing (index %d)", i)
		}
	}
	if extent.MinX > extent.MaxX || extent.MinY > extent.MaxY {
		return nil, fmt.Errorf("invalid grid extent %+v", extent)
	}
	g := &Grid{
		Width:       width,
		Height:      height,
		Extent:      extent,
		SRID:        srid,
		Units:       units,
		Resolutions: resolutions,
		Origin:      origin,
	}
	g.levelMax = make([]cellIndex, g.Levels())
	for z := 0; z < g.Levels(); z++ {
		maxX, maxY := g.levelLimit(uint8(z))
		g.levelMax[z] = cellIndex{maxX: maxX, maxY: maxY}
	}
	return g, nil
}

// WGS84 is the global geodetic grid (EPSG:4326) with two root tiles.
func WGS84() *Grid {
	g, _ := New(256, 256,
		Extent{MinX: -180.0, MinY: -90.0, MaxX: 180.0, MaxY: 90.0},
		4326, UnitDegrees,
		[]float64{
			0.703125000000000,
			0.351562500000000,
			0.175781250000000,
			8.78906250000000e-2,
			4.39453125000000e-2,
			2.19726562500000e-2,
			1.09863281250000e-2,
			5.49316406250000e-3,
			2.74658203125000e-3,
			1.37329101562500e-3,
			6.86645507812500e-4,
			3.43322753906250e-4,
			1.71661376953125e-4,
			8.58306884765625e-5,
			4.29153442382812e-5,
			2.14576721191406e-5,
			1.07288360595703e-5,
			5.36441802978516e-6,
		},
		OriginBottomLeft)
	return g
}

// WebMercator is the Google Maps compatible spherical mercator grid
// (EPSG:3857).
func WebMercator() *Grid {
	g, _ := New(256, 256,
		Extent{
			MinX: -20037508.3427892480,
			MinY: -20037508.3427892480,
			MaxX: 20037508.3427892480,
			MaxY: 20037508.3427892480,
		},
		3857, UnitMeters,
		[]float64{
			156543.0339280410,
			78271.5169640205,
			39135.75848201025,
			19567.879241005125,
			9783.939620502562,
			4891.969810251281,
			2445.9849051256406,
			1222.9924525628203,
			611.4962262814101,
			305.7481131407051,
			152.87405657035254,
			76.43702828517627,
			38.218514142588134,
			19.109257071294067,
			9.554628535647034,
			4.777314267823517,
			2.3886571339117584,
			1.1943285669558792,
			0.5971642834779396,
			0.2985821417389698,
			0.1492910708694849,
			0.07464553543474245,
			0.037322767717371225,
		},
		OriginBottomLeft)
	return g
}

// Levels returns the number of defined zoom levels.
func (g *Grid) Levels() int {
	return len(g.Resolutions)
}

// MaxZoom returns the highest defined zoom level.
func (g *Grid) MaxZoom() uint8 {
	return uint8(g.Levels() - 1)
}

// ValidZoom reports whether z has a defined resolution.
func (g *Grid) ValidZoom(z uint8) bool {
	return int(z) < g.Levels()
}

// Resolution returns grid units per pixel at zoom z.
func (g *Grid) Resolution(z uint8) float64 {
	return g.Resolutions[z]
}

// PixelWidth returns the pixel width in meters at zoom z.
func (g *Grid) PixelWidth(z uint8) float64 {
	switch g.Units {
	case UnitDegrees:
		return g.Resolutions[z] * metersPerDegree
	case UnitFeet:
		return g.Resolutions[z] * 0.3048
	default:
		return g.Resolutions[z]
	}
}

// ScaleDenominator returns the OGC SLD map scale at zoom z, based on the
// standardized 0.28mm rendering pixel.
func (g *Grid) ScaleDenominator(z uint8) float64 {
	return g.PixelWidth(z) / pixelScreenWidth
}

// levelLimit computes (maxx, maxy) cell counts of one grid level.
func (g *Grid) levelLimit(z uint8) (uint32, uint32) {
	res := g.Resolutions[z]
	unitWidth := float64(g.Width) * res
	unitHeight := float64(g.Height) * res
	maxX := uint32(math.Ceil((g.Extent.MaxX - g.Extent.MinX - 0.01*unitWidth) / unitWidth))
	maxY := uint32(math.Ceil((g.Extent.MaxY - g.Extent.MinY - 0.01*unitHeight) / unitHeight))
	return maxX, maxY
}

// LevelLimit returns the number of tile columns and rows at zoom z.
func (g *Grid) LevelLimit(z uint8) (maxX, maxY uint32) {
	lm := g.levelMax[z]
	return lm.maxX, lm.maxY
}

// TileExtent returns the extent of tile (x, y, z) in the grid's native
// row addressing: TMS for bottom-left origin grids, top-down rows for
// top-left origin grids.
// Extents touching the world boundary are clamped to the grid extent.
func (g *Grid) TileExtent(x, y uint32, z uint8) Extent {
	res := g.Resolutions[z]
	tileSX := float64(g.Width)
	tileSY := float64(g.Height)
	var ext Extent
	switch g.Origin {
	case OriginTopLeft:
		ext = Extent{
			MinX: g.Extent.MinX + res*float64(x)*tileSX,
			MinY: g.Extent.MaxY - res*float64(y+1)*tileSY,
			MaxX: g.Extent.MinX + res*float64(x+1)*tileSX,
			MaxY: g.Extent.MaxY - res*float64(y)*tileSY,
		}
	default: // BottomLeft
		ext = Extent{
			MinX: g.Extent.MinX + res*float64(x)*tileSX,
			MinY: g.Extent.MinY + res*float64(y)*tileSY,
			MaxX: g.Extent.MinX + res*float64(x+1)*tileSX,
			MaxY: g.Extent.MinY + res*float64(y+1)*tileSY,
		}
	}
	if ext.MaxX > g.Extent.MaxX {
		ext.MaxX = g.Extent.MaxX
	}
	if ext.MaxY > g.Extent.MaxY {
		ext.MaxY = g.Extent.MaxY
	}
	return ext
}

// FlipY converts a row number between XYZ and TMS addressing at zoom z.
// Grids with a top-left origin are addressed natively and need no flip.
func (g *Grid) FlipY(y uint32, z uint8) uint32 {
	if g.Origin == OriginTopLeft {
		return y
	}
	maxY := g.levelMax[z].maxY
	if y+1 > maxY {
		return 0
	}
	return maxY - y - 1
}

// TileExtentXYZ returns the extent of tile (x, y, z) in XYZ addressing.
func (g *Grid) TileExtentXYZ(x, y uint32, z uint8) Extent {
	return g.TileExtent(x, g.FlipY(y, z), z)
}

// TileLimits returns the inclusive cell range covering extent at zoom z,
// in the grid's native row addressing (TMS for bottom-left origin grids).
// tolerance expands the range by whole tiles on each side.
func (g *Grid) TileLimits(extent Extent, z uint8, tolerance int32) ExtentInt {
	const epsilon = 0.0000001
	res := g.Resolutions[z]
	unitWidth := float64(g.Width) * res
	unitHeight := float64(g.Height) * res
	lm := g.levelMax[z]

	// The max bound from Ceil is exclusive; subtract one for an
	// inclusive cell index so that a tile extent maps back to itself.
	minX := int32(math.Floor((extent.MinX-g.Extent.MinX)/unitWidth+epsilon)) - tolerance
	maxX := int32(math.Ceil((extent.MaxX-g.Extent.MinX)/unitWidth-epsilon)) - 1 + tolerance
	var minY, maxY int32
	switch g.Origin {
	case OriginTopLeft:
		minY = int32(math.Floor((g.Extent.MaxY-extent.MaxY)/unitHeight+epsilon)) - tolerance
		maxY = int32(math.Ceil((g.Extent.MaxY-extent.MinY)/unitHeight-epsilon)) - 1 + tolerance
	default:
		minY = int32(math.Floor((extent.MinY-g.Extent.MinY)/unitHeight+epsilon)) - tolerance
		maxY = int32(math.Ceil((extent.MaxY-g.Extent.MinY)/unitHeight-epsilon)) - 1 + tolerance
	}

	clamp := func(v, max int32) int32 {
		if v < 0 {
			return 0
		}
		if v > max {
			return max
		}
		return v
	}
	minX = clamp(minX, int32(lm.maxX)-1)
	maxX = clamp(maxX, int32(lm.maxX)-1)
	minY = clamp(minY, int32(lm.maxY)-1)
	maxY = clamp(maxY, int32(lm.maxY)-1)
	if maxX < minX {
		maxX = minX
	}
	if maxY < minY {
		maxY = minY
	}
	return ExtentInt{
		MinX: uint32(minX),
		MinY: uint32(minY),
		MaxX: uint32(maxX),
		MaxY: uint32(maxY),
	}
}

// Contains reports whether tile column x and TMS row y exist at zoom z.
func (g *Grid) Contains(x, y uint32, z uint8) bool {
	if !g.ValidZoom(z) {
		return false
	}
	lm := g.levelMax[z]
	return x < lm.maxX && y < lm.maxY
}

// Intersects reports whether two extents overlap.
func (e Extent) Intersects(o Extent) bool {
	return e.MinX <= o.MaxX && e.MaxX >= o.MinX && e.MinY <= o.MaxY && e.MaxY >= o.MinY
}

// Buffered returns the extent expanded by d grid units on every side.
func (e Extent) Buffered(d float64) Extent {
	return Extent{MinX: e.MinX - d, MinY: e.MinY - d, MaxX: e.MaxX + d, MaxY: e.MaxY + d}
}
