// pkg/mvt/screen.go - Map grid CRS coordinates to tile-local integer pixels
package mvt

import (
	"math"

	"github.com/paulmach/orb"
)

// Bounds is the tile extent in grid CRS units.
type Bounds struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// transform maps a grid CRS coordinate to tile pixels. Y is inverted:
// tile-local coordinates run top-down.
type transform struct {
	bounds Bounds
	extent uint32
}

func (t transform) point(p orb.Point) point {
	xSpan := t.bounds.MaxX - t.bounds.MinX
	ySpan := t.bounds.MaxY - t.bounds.MinY
	return point{
		x: int32(math.Round((p[0] - t.bounds.MinX) * float64(t.extent) / xSpan)),
		y: int32(math.Round((t.bounds.MaxY - p[1]) * float64(t.extent) / ySpan)),
	}
}

// path converts a coordinate sequence, collapsing repeated consecutive
// integer points.
func (t transform) path(ps []orb.Point) []point {
	out := make([]point, 0, len(ps))
	for _, p := range ps {
		sp := t.point(p)
		if n := len(out); n > 0 && out[n-1] == sp {
			continue
		}
		out = append(out, sp)
	}
	return out
}

// ring converts a ring and guarantees explicit closure.
func (t transform) ring(r orb.Ring) []point {
	pts := t.path(r)
	if len(pts) > 1 && pts[0] != pts[len(pts)-1] {
		pts = append(pts, pts[0])
	}
	return pts
}

// signedArea is the surveyor's formula over tile pixel coordinates
// (y down). Positive means clockwise on screen, the MVT exterior
// winding.
func signedArea(pts []point) int64 {
	var sum int64
	for i := 0; i < len(pts)-1; i++ {
		sum += int64(pts[i].x)*int64(pts[i+1].y) - int64(pts[i+1].x)*int64(pts[i].y)
	}
	return sum
}

// orientRing enforces exterior (positive area) or interior winding.
func orientRing(pts []point, exterior bool) []point {
	area := signedArea(pts)
	if (exterior && area < 0) || (!exterior && area > 0) {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}
	return pts
}

// polygon converts polygon rings, normalizes winding and drops
// rings degenerated below 4 vertices.
func (t transform) polygon(pg orb.Polygon) [][]point {
	rings := make([][]point, 0, len(pg))
	for i, r := range pg {
		pts := t.ring(r)
		if len(pts) < 4 {
			if i == 0 {
				return nil // degenerate outer ring drops the polygon
			}
			continue
		}
		rings = append(rings, orientRing(pts, i == 0))
	}
	return rings
}

// line drops lines degenerated below 2 vertices.
func (t transform) line(ls orb.LineString) []point {
	pts := t.path(ls)
	if len(pts) < 2 {
		return nil
	}
	return pts
}
