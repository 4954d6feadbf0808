// pkg/mvt/geom.go - MVT command stream emission
package mvt

// Command integers as described in section 4.3.1 of the specification.
const (
	cmdMoveTo    uint32 = 1
	cmdLineTo    uint32 = 2
	cmdClosePath uint32 = 7
)

// commandInteger packs a command id and repeat count.
func commandInteger(id, count uint32) uint32 {
	return (id & 0x7) | (count << 3)
}

// parameterInteger zig-zag encodes a delta parameter.
func parameterInteger(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

// decodeParameter reverses parameterInteger. Used by tests.
func decodeParameter(p uint32) int32 {
	return int32(p>>1) ^ -int32(p&1)
}

// point is a tile-local integer pixel coordinate.
type point struct {
	x int32
	y int32
}

// commandSeq builds the geometry command stream of one feature. The
// cursor starts at (0,0) per feature and carries over between paths.
type commandSeq struct {
	cmds   []uint32
	cursor point
}

func (s *commandSeq) push(v uint32) {
	s.cmds = append(s.cmds, v)
}

func (s *commandSeq) moveTo(pts []point) {
	s.push(commandInteger(cmdMoveTo, uint32(len(pts))))
	for _, p := range pts {
		s.push(parameterInteger(p.x - s.cursor.x))
		s.push(parameterInteger(p.y - s.cursor.y))
		s.cursor = p
	}
}

func (s *commandSeq) lineTo(pts []point) {
	if len(pts) == 0 {
		return
	}
	s.push(commandInteger(cmdLineTo, uint32(len(pts))))
	for _, p := range pts {
		s.push(parameterInteger(p.x - s.cursor.x))
		s.push(parameterInteger(p.y - s.cursor.y))
		s.cursor = p
	}
}

func (s *commandSeq) closePath() {
	s.push(commandInteger(cmdClosePath, 1))
}

// encodePoints emits one MoveTo covering all points of a (multi)point.
func (s *commandSeq) encodePoints(pts []point) {
	s.moveTo(pts)
}

// encodeLine emits MoveTo(1) + LineTo(n-1) for one path.
func (s *commandSeq) encodeLine(pts []point) {
	if len(pts) < 2 {
		return
	}
	s.moveTo(pts[:1])
	s.lineTo(pts[1:])
}

// encodeRing emits MoveTo(1) + LineTo(n-2) + ClosePath. The ring is
// expected closed; the closing vertex is not re-emitted.
func (s *commandSeq) encodeRing(pts []point) {
	if len(pts) < 4 {
		return
	}
	s.moveTo(pts[:1])
	s.lineTo(pts[1 : len(pts)-1])
	s.closePath()
}
