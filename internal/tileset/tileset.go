// internal/tileset/tileset.go - Tileset and layer models
package tileset

import (
	"sort"

	"github.com/tilecraft/tilecraft/internal/grid"
)

// WorldExtent is the WGS84 fallback for tilesets without a configured
// extent.
var WorldExtent = grid.Extent{MinX: -180.0, MinY: -90.0, MaxX: 180.0, MaxY: 90.0}

// LayerQuery is one query variant with its own zoom bounds. Variants
// without bounds inherit the layer bounds.
type LayerQuery struct {
	MinZoom *uint8
	MaxZoom *uint8
	SQL     string
}

// Layer is one named stream of features sharing a schema.
type Layer struct {
	Name          string
	Datasource    string
	TableName     string
	GeometryField string
	GeometryType  string
	// SRID of the source geometries (0 when unknown)
	SRID     int
	FidField string
	// Queries are the explicit query variants, in configuration order.
	Queries []LayerQuery
	// TileSize is the MVT pixel extent (0 means the default 4096).
	TileSize   uint32
	BufferSize uint32
	Simplify   bool
	// ToleranceDefault overrides the pixel-width based default.
	ToleranceDefault *float64
	// ToleranceByZoom wins over ToleranceDefault for listed levels.
	ToleranceByZoom map[uint8]float64
	MakeValid       bool
	QueryLimit      uint32
	NoTransform     bool
	ShiftLongitude  bool
	MinZoomCfg      *uint8
	MaxZoomCfg      *uint8
	Style           string
}

func (q *LayerQuery) minzoom() uint8 {
	if q.MinZoom != nil {
		return *q.MinZoom
	}
	return 0
}

func (q *LayerQuery) maxzoom(def uint8) uint8 {
	if q.MaxZoom != nil {
		return *q.MaxZoom
	}
	return def
}

// MinZoom is the smallest zoom any query variant covers.
func (l *Layer) MinZoom() uint8 {
	if l.MinZoomCfg != nil {
		return *l.MinZoomCfg
	}
	min := uint8(0)
	for i, q := range l.Queries {
		if i == 0 || q.minzoom() < min {
			min = q.minzoom()
		}
	}
	return min
}

// MaxZoom is the largest zoom any query variant covers. def applies
// to variants and layers without explicit bounds.
func (l *Layer) MaxZoom(def uint8) uint8 {
	if l.MaxZoomCfg != nil {
		return *l.MaxZoomCfg
	}
	max := def
	for i, q := range l.Queries {
		if i == 0 || q.maxzoom(def) > max {
			max = q.maxzoom(def)
		}
	}
	return max
}

// InZoomRange reports whether the layer produces features at z.
func (l *Layer) InZoomRange(z, gridMax uint8) bool {
	return z >= l.MinZoom() && z <= l.MaxZoom(gridMax)
}

// Query returns the SQL of the variant covering zoom level z, or ""
// when the layer has no explicit query there. The last matching
// variant after a stable sort by minzoom wins.
func (l *Layer) Query(z, gridMax uint8) string {
	type cand struct {
		min uint8
		max uint8
		sql string
	}
	cands := make([]cand, 0, len(l.Queries))
	for _, q := range l.Queries {
		cands = append(cands, cand{min: q.minzoom(), max: q.maxzoom(gridMax), sql: q.SQL})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].min < cands[j].min })
	for i := len(cands) - 1; i >= 0; i-- {
		if z >= cands[i].min && z <= cands[i].max {
			return cands[i].sql
		}
	}
	return ""
}

// Tolerance returns the simplification tolerance at z in grid units.
// pixelWidth is the grid resolution at z; the default is half a pixel.
func (l *Layer) Tolerance(z uint8, pixelWidth float64) float64 {
	if t, ok := l.ToleranceByZoom[z]; ok {
		return t
	}
	if l.ToleranceDefault != nil {
		return *l.ToleranceDefault
	}
	return pixelWidth / 2.0
}

// Extent returns the MVT pixel extent of the layer.
func (l *Layer) Extent() uint32 {
	if l.TileSize == 0 {
		return 4096
	}
	return l.TileSize
}

// Tileset is a named collection of layers producing one tile payload.
type Tileset struct {
	Name        string
	Attribution string
	// ExtentWGS84 is the pre-computed bounding extent, nil for world.
	ExtentWGS84 *grid.Extent
	Center      *[2]float64
	StartZoom   *uint8
	Layers      []*Layer
}

// Extent returns the tileset extent, falling back to the whole world.
func (t *Tileset) Extent() grid.Extent {
	if t.ExtentWGS84 != nil {
		return *t.ExtentWGS84
	}
	return WorldExtent
}

// GetCenter returns the configured or derived view center.
func (t *Tileset) GetCenter() (float64, float64) {
	if t.Center != nil {
		return t.Center[0], t.Center[1]
	}
	ext := t.Extent()
	return ext.MaxX - (ext.MaxX-ext.MinX)/2.0, ext.MaxY - (ext.MaxY-ext.MinY)/2.0
}

// GetStartZoom returns the configured or default start zoom.
func (t *Tileset) GetStartZoom() uint8 {
	if t.StartZoom != nil {
		return *t.StartZoom
	}
	return 2
}

// MinZoom is the union minimum over all layers, bounded by the grid.
func (t *Tileset) MinZoom() uint8 {
	min := uint8(255)
	for _, l := range t.Layers {
		if l.MinZoom() < min {
			min = l.MinZoom()
		}
	}
	if min == 255 {
		return 0
	}
	return min
}

// MaxZoom is the union maximum over all layers, bounded by the grid.
func (t *Tileset) MaxZoom(gridMax uint8) uint8 {
	max := uint8(0)
	for _, l := range t.Layers {
		if mz := l.MaxZoom(gridMax); mz > max {
			max = mz
		}
	}
	if max > gridMax {
		return gridMax
	}
	return max
}

// InZoomRange reports whether z is served for this tileset.
func (t *Tileset) InZoomRange(z, gridMax uint8) bool {
	return z >= t.MinZoom() && z <= t.MaxZoom(gridMax)
}

// LayersForZoom returns the layers producing features at z, in
// configuration order.
func (t *Tileset) LayersForZoom(z, gridMax uint8) []*Layer {
	var out []*Layer
	for _, l := range t.Layers {
		if l.InZoomRange(z, gridMax) {
			out = append(out, l)
		}
	}
	return out
}
