// internal/geom/pipeline.go - Per-feature geometry processing for one tile
package geom

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/simplify"

	"github.com/tilecraft/tilecraft/internal/grid"
)

// Pipeline clips and simplifies feature geometries for one tile build.
// Geometries are expected in grid CRS coordinates; reprojection happens
// in the datasource query.
type Pipeline struct {
	clipBound orb.Bound
	simplify  bool
	tolerance float64
}

// New creates a pipeline for a tile extent. buffer is the clip overflow
// in grid units. tolerance is the Douglas-Peucker distance in grid
// units; it is ignored unless simplifyGeom is set.
func New(tileExtent grid.Extent, buffer float64, simplifyGeom bool, tolerance float64) *Pipeline {
	buffered := tileExtent.Buffered(buffer)
	return &Pipeline{
		clipBound: orb.Bound{
			Min: orb.Point{buffered.MinX, buffered.MinY},
			Max: orb.Point{buffered.MaxX, buffered.MaxY},
		},
		simplify:  simplifyGeom,
		tolerance: tolerance,
	}
}

// Process runs the envelope reject, clip and simplify stages. It
// returns nil when the feature is dropped.
func (p *Pipeline) Process(g orb.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}
	if !p.clipBound.Intersects(g.Bound()) {
		return nil
	}
	g = clip.Geometry(p.clipBound, g)
	if g == nil || isEmpty(g) {
		return nil
	}
	if p.simplify && p.tolerance > 0 {
		g = simplify.DouglasPeucker(p.tolerance).Simplify(g)
		if g == nil || isEmpty(g) {
			return nil
		}
	}
	return g
}

// isEmpty reports whether a geometry degenerated below its minimum
// vertex count.
func isEmpty(g orb.Geometry) bool {
	switch geom := g.(type) {
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(geom) == 0
	case orb.LineString:
		return len(geom) < 2
	case orb.MultiLineString:
		for _, ls := range geom {
			if len(ls) >= 2 {
				return false
			}
		}
		return true
	case orb.Ring:
		return len(geom) < 4
	case orb.Polygon:
		return len(geom) == 0 || len(geom[0]) < 4
	case orb.MultiPolygon:
		for _, pg := range geom {
			if len(pg) > 0 && len(pg[0]) >= 4 {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, sub := range geom {
			if !isEmpty(sub) {
				return false
			}
		}
		return true
	}
	return false
}
