// pkg/mvt/encoder.go - Mapbox Vector Tile encoding
package mvt

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"math"

	"github.com/gogo/protobuf/proto"
	"github.com/paulmach/orb"

	"github.com/tilecraft/tilecraft/pkg/mvt/vectortile"
)

// DefaultExtent is the tile pixel coordinate range used when a layer
// does not configure its own.
const DefaultExtent = 4096

// Attribute is one feature attribute. Order is preserved from the
// datasource.
type Attribute struct {
	Key   string
	Value interface{}
}

// Feature is a geometry with optional id and ordered attributes, ready
// for encoding. Geometry coordinates are in grid CRS units.
type Feature struct {
	ID         *uint64
	Geometry   orb.Geometry
	Attributes []Attribute
}

// Encoder assembles one vector tile from per-layer feature streams.
type Encoder struct {
	bounds Bounds
	tile   *vectortile.Tile
}

// NewEncoder creates a tile encoder for the given tile bounds in grid
// CRS units.
func NewEncoder(bounds Bounds) *Encoder {
	return &Encoder{
		bounds: bounds,
		tile:   &vectortile.Tile{},
	}
}

// LayerEncoder accumulates the features of one named layer,
// deduplicating attribute keys and values.
type LayerEncoder struct {
	layer    *vectortile.Tile_Layer
	trans    transform
	keyIndex map[string]uint32
	valIndex map[valueKey]uint32
}

// NewLayer starts a layer with the given name and pixel extent.
// Pass extent 0 for the default 4096.
func (e *Encoder) NewLayer(name string, extent uint32) *LayerEncoder {
	if extent == 0 {
		extent = DefaultExtent
	}
	version := uint32(2)
	l := &vectortile.Tile_Layer{
		Version: &version,
		Name:    &name,
		Extent:  &extent,
	}
	return &LayerEncoder{
		layer:    l,
		trans:    transform{bounds: e.bounds, extent: extent},
		keyIndex: make(map[string]uint32),
		valIndex: make(map[valueKey]uint32),
	}
}

// AddLayer appends a finished layer to the tile. Layers without
// features are elided.
func (e *Encoder) AddLayer(l *LayerEncoder) {
	if len(l.layer.Features) == 0 {
		return
	}
	e.tile.Layers = append(e.tile.Layers, l.layer)
}

// Empty reports whether no layer produced features.
func (e *Encoder) Empty() bool {
	return len(e.tile.Layers) == 0
}

// Marshal serializes the tile message. Encoding the same feature
// sequence twice yields byte-identical output.
func (e *Encoder) Marshal() ([]byte, error) {
	if e.Empty() {
		return nil, nil
	}
	return proto.Marshal(e.tile)
}

// MarshalGzip serializes and gzip-compresses the tile message.
func (e *Encoder) MarshalGzip() ([]byte, error) {
	data, err := e.Marshal()
	if err != nil || data == nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FeatureCount returns the number of encoded features in the layer.
func (l *LayerEncoder) FeatureCount() int {
	return len(l.layer.Features)
}

// AddFeature transforms, encodes and appends one feature. Features
// whose geometry collapses to nothing on the pixel grid are skipped
// silently; unsupported geometry types return an error.
func (l *LayerEncoder) AddFeature(f *Feature) error {
	geomType, cmds, err := l.encodeGeometry(f.Geometry)
	if err != nil {
		return err
	}
	if len(cmds) == 0 {
		return nil
	}
	mf := &vectortile.Tile_Feature{
		Type:     geomType.Enum(),
		Geometry: cmds,
	}
	if f.ID != nil {
		id := *f.ID
		mf.Id = &id
	}
	for _, attr := range f.Attributes {
		val, key, ok := l.mvtValue(attr.Value)
		if !ok {
			continue // unsupported attribute type
		}
		mf.Tags = append(mf.Tags, l.keyIdx(attr.Key), l.valIdx(key, val))
	}
	l.layer.Features = append(l.layer.Features, mf)
	return nil
}

func (l *LayerEncoder) encodeGeometry(g orb.Geometry) (vectortile.Tile_GeomType, []uint32, error) {
	seq := &commandSeq{}
	switch geom := g.(type) {
	case orb.Point:
		seq.encodePoints([]point{l.trans.point(geom)})
		return vectortile.Tile_POINT, seq.cmds, nil
	case orb.MultiPoint:
		pts := make([]point, len(geom))
		for i, p := range geom {
			pts[i] = l.trans.point(p)
		}
		if len(pts) == 0 {
			return vectortile.Tile_POINT, nil, nil
		}
		seq.encodePoints(pts)
		return vectortile.Tile_POINT, seq.cmds, nil
	case orb.LineString:
		seq.encodeLine(l.trans.line(geom))
		return vectortile.Tile_LINESTRING, seq.cmds, nil
	case orb.MultiLineString:
		for _, ls := range geom {
			seq.encodeLine(l.trans.line(ls))
		}
		return vectortile.Tile_LINESTRING, seq.cmds, nil
	case orb.Polygon:
		for _, ring := range l.trans.polygon(geom) {
			seq.encodeRing(ring)
		}
		return vectortile.Tile_POLYGON, seq.cmds, nil
	case orb.MultiPolygon:
		for _, pg := range geom {
			for _, ring := range l.trans.polygon(pg) {
				seq.encodeRing(ring)
			}
		}
		return vectortile.Tile_POLYGON, seq.cmds, nil
	default:
		return vectortile.Tile_UNKNOWN, nil, fmt.Errorf("unsupported geometry type %T", g)
	}
}

// valueKey identifies a tagged scalar for structural deduplication.
// Numeric values use their bit pattern so equal values of the same
// source type collide.
type valueKey struct {
	kind uint8
	str  string
	bits uint64
}

const (
	kindString uint8 = iota
	kindFloat
	kindDouble
	kindInt
	kindUint
	kindBool
)

func (l *LayerEncoder) mvtValue(v interface{}) (*vectortile.Tile_Value, valueKey, bool) {
	mv := &vectortile.Tile_Value{}
	switch val := v.(type) {
	case string:
		mv.StringValue = &val
		return mv, valueKey{kind: kindString, str: val}, true
	case float32:
		mv.FloatValue = &val
		return mv, valueKey{kind: kindFloat, bits: uint64(math.Float32bits(val))}, true
	case float64:
		mv.DoubleValue = &val
		return mv, valueKey{kind: kindDouble, bits: math.Float64bits(val)}, true
	case int:
		i := int64(val)
		mv.IntValue = &i
		return mv, valueKey{kind: kindInt, bits: uint64(i)}, true
	case int16:
		i := int64(val)
		mv.IntValue = &i
		return mv, valueKey{kind: kindInt, bits: uint64(i)}, true
	case int32:
		i := int64(val)
		mv.IntValue = &i
		return mv, valueKey{kind: kindInt, bits: uint64(i)}, true
	case int64:
		mv.IntValue = &val
		return mv, valueKey{kind: kindInt, bits: uint64(val)}, true
	case uint64:
		mv.UintValue = &val
		return mv, valueKey{kind: kindUint, bits: val}, true
	case bool:
		mv.BoolValue = &val
		bits := uint64(0)
		if val {
			bits = 1
		}
		return mv, valueKey{kind: kindBool, bits: bits}, true
	default:
		return nil, valueKey{}, false
	}
}

func (l *LayerEncoder) keyIdx(key string) uint32 {
	if idx, ok := l.keyIndex[key]; ok {
		return idx
	}
	idx := uint32(len(l.layer.Keys))
	l.layer.Keys = append(l.layer.Keys, key)
	l.keyIndex[key] = idx
	return idx
}

func (l *LayerEncoder) valIdx(key valueKey, val *vectortile.Tile_Value) uint32 {
	if idx, ok := l.valIndex[key]; ok {
		return idx
	}
	idx := uint32(len(l.layer.Values))
	l.layer.Values = append(l.layer.Values, val)
	l.valIndex[key] = idx
	return idx
}
