// pkg/mvt/encoder_test.go - Unit tests for tile encoding
package mvt

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/paulmach/orb"

	"github.com/tilecraft/tilecraft/pkg/mvt/vectortile"
)

var testBounds = Bounds{MinX: 958826.08, MinY: 5987771.04, MaxX: 978393.96, MaxY: 6007338.92}

func TestScreenTransform(t *testing.T) {
	tr := transform{bounds: testBounds, extent: 4096}
	sp := tr.point(orb.Point{960000.0, 6002729.0})
	if (sp != point{x: 246, y: 965}) {
		t.Errorf("screen point = %+v, want {246 965}", sp)
	}
}

func TestScreenTransformCollapsesPoints(t *testing.T) {
	tr := transform{bounds: Bounds{MinX: 0, MinY: 0, MaxX: 4096, MaxY: 4096}, extent: 4096}
	pts := tr.path([]orb.Point{{0, 0}, {0.1, 0.1}, {10, 10}})
	if len(pts) != 2 {
		t.Errorf("Repeated integer points not collapsed: %v", pts)
	}
}

func TestEncodePointFeature(t *testing.T) {
	enc := NewEncoder(Bounds{MinX: 0, MinY: 0, MaxX: 4096, MaxY: 4096})
	layer := enc.NewLayer("points", 4096)
	err := layer.AddFeature(&Feature{
		Geometry:   orb.Point{25, 4096 - 17},
		Attributes: []Attribute{{Key: "name", Value: "Bern"}},
	})
	if err != nil {
		t.Fatalf("AddFeature: %v", err)
	}
	enc.AddLayer(layer)

	ml := enc.tile.Layers[0]
	if ml.GetVersion() != 2 {
		t.Errorf("layer version = %d, want 2", ml.GetVersion())
	}
	f := ml.Features[0]
	if f.GetType() != vectortile.Tile_POINT {
		t.Errorf("geometry type = %v, want POINT", f.GetType())
	}
	want := []uint32{9, 50, 34}
	if len(f.Geometry) != 3 || f.Geometry[0] != want[0] || f.Geometry[1] != want[1] || f.Geometry[2] != want[2] {
		t.Errorf("geometry = %v, want %v", f.Geometry, want)
	}
}

func TestTagDeduplication(t *testing.T) {
	enc := NewEncoder(Bounds{MinX: 0, MinY: 0, MaxX: 4096, MaxY: 4096})
	layer := enc.NewLayer("cities", 0)
	for i, name := range []string{"x", "y"} {
		err := layer.AddFeature(&Feature{
			Geometry: orb.Point{float64(i), 0},
			Attributes: []Attribute{
				{Key: "name", Value: name},
				{Key: "pop", Value: int64(100)},
			},
		})
		if err != nil {
			t.Fatalf("AddFeature: %v", err)
		}
	}
	if got := len(layer.layer.Keys); got != 2 {
		t.Errorf("keys = %v, want [name pop]", layer.layer.Keys)
	}
	// "x", "y" and the shared 100
	if got := len(layer.layer.Values); got != 3 {
		t.Errorf("values length = %d, want 3", got)
	}
	// Second feature references the same value index for pop
	f0, f1 := layer.layer.Features[0], layer.layer.Features[1]
	if f0.Tags[3] != f1.Tags[3] {
		t.Errorf("shared value not deduplicated: %v vs %v", f0.Tags, f1.Tags)
	}
}

func TestValueKindsDoNotCollide(t *testing.T) {
	enc := NewEncoder(Bounds{MinX: 0, MinY: 0, MaxX: 4096, MaxY: 4096})
	layer := enc.NewLayer("t", 0)
	err := layer.AddFeature(&Feature{
		Geometry: orb.Point{0, 0},
		Attributes: []Attribute{
			{Key: "a", Value: int64(1)},
			{Key: "b", Value: float64(1)},
			{Key: "c", Value: int64(1)},
		},
	})
	if err != nil {
		t.Fatalf("AddFeature: %v", err)
	}
	if got := len(layer.layer.Values); got != 2 {
		t.Errorf("values length = %d, want 2 (int 1 and double 1.0 kept apart, int 1 shared)", got)
	}
}

func TestFeatureID(t *testing.T) {
	enc := NewEncoder(Bounds{MinX: 0, MinY: 0, MaxX: 4096, MaxY: 4096})
	layer := enc.NewLayer("t", 0)
	id := uint64(42)
	if err := layer.AddFeature(&Feature{ID: &id, Geometry: orb.Point{1, 1}}); err != nil {
		t.Fatalf("AddFeature: %v", err)
	}
	if layer.layer.Features[0].GetId() != 42 {
		t.Errorf("feature id = %d, want 42", layer.layer.Features[0].GetId())
	}
}

func TestEmptyLayerElision(t *testing.T) {
	enc := NewEncoder(testBounds)
	layer := enc.NewLayer("empty", 0)
	enc.AddLayer(layer)
	if !enc.Empty() {
		t.Error("Layer without features must be elided")
	}
	data, err := enc.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if data != nil {
		t.Errorf("Empty tile must marshal to no payload, got %d bytes", len(data))
	}
}

func TestEncoderDeterminism(t *testing.T) {
	build := func() []byte {
		enc := NewEncoder(testBounds)
		layer := enc.NewLayer("l", 0)
		for i := 0; i < 10; i++ {
			layer.AddFeature(&Feature{
				Geometry: orb.LineString{
					{testBounds.MinX + float64(i*100), testBounds.MinY + 50},
					{testBounds.MinX + float64(i*100) + 500, testBounds.MinY + 700},
				},
				Attributes: []Attribute{{Key: "i", Value: int64(i)}},
			})
		}
		enc.AddLayer(layer)
		data, err := enc.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return data
	}
	if !bytes.Equal(build(), build()) {
		t.Error("Encoding the same feature sequence twice must be byte-identical")
	}
}

func TestMarshalGzip(t *testing.T) {
	enc := NewEncoder(testBounds)
	layer := enc.NewLayer("l", 0)
	layer.AddFeature(&Feature{Geometry: orb.Point{testBounds.MinX + 10, testBounds.MinY + 10}})
	enc.AddLayer(layer)

	plain, err := enc.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	packed, err := enc.MarshalGzip()
	if err != nil {
		t.Fatalf("MarshalGzip: %v", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	unpacked, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(plain, unpacked) {
		t.Error("gzip round-trip mismatch")
	}
}

func TestGeometryCollectionUnsupported(t *testing.T) {
	enc := NewEncoder(testBounds)
	layer := enc.NewLayer("l", 0)
	err := layer.AddFeature(&Feature{Geometry: orb.Collection{orb.Point{0, 0}}})
	if err == nil {
		t.Error("Expected error for geometry collection")
	}
	if layer.FeatureCount() != 0 {
		t.Error("Unsupported geometry must not be added")
	}
}

func TestPolygonWinding(t *testing.T) {
	enc := NewEncoder(Bounds{MinX: 0, MinY: 0, MaxX: 4096, MaxY: 4096})
	layer := enc.NewLayer("pg", 4096)
	// Counter-clockwise in CRS space (y up) has negative area on the
	// y-down pixel grid; the encoder reverses it to the positive
	// exterior winding, and the clockwise inner ring to negative.
	outer := orb.Ring{{0, 0}, {1000, 0}, {1000, 1000}, {0, 1000}, {0, 0}}
	inner := orb.Ring{{200, 200}, {200, 800}, {800, 800}, {800, 200}, {200, 200}}
	if err := layer.AddFeature(&Feature{Geometry: orb.Polygon{outer, inner}}); err != nil {
		t.Fatalf("AddFeature: %v", err)
	}
	f := layer.layer.Features[0]
	if f.GetType() != vectortile.Tile_POLYGON {
		t.Fatalf("geometry type = %v, want POLYGON", f.GetType())
	}
	rings := decodeRings(f.Geometry)
	if len(rings) != 2 {
		t.Fatalf("expected 2 rings, got %d", len(rings))
	}
	if signedArea(rings[0]) <= 0 {
		t.Error("exterior ring must have positive area in pixel space")
	}
	if signedArea(rings[1]) >= 0 {
		t.Error("interior ring must have negative area in pixel space")
	}
}

// decodeRings walks a polygon command stream back into closed rings.
func decodeRings(cmds []uint32) [][]point {
	var rings [][]point
	var cur point
	var ring []point
	i := 0
	for i < len(cmds) {
		cmd := cmds[i] & 0x7
		count := cmds[i] >> 3
		i++
		switch cmd {
		case cmdMoveTo, cmdLineTo:
			for n := uint32(0); n < count; n++ {
				cur.x += decodeParameter(cmds[i])
				cur.y += decodeParameter(cmds[i+1])
				i += 2
				ring = append(ring, cur)
			}
		case cmdClosePath:
			ring = append(ring, ring[0])
			rings = append(rings, ring)
			ring = nil
		}
	}
	return rings
}
