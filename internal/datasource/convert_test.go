// internal/datasource/convert_test.go - Unit tests for value conversion and fid handling
package datasource

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/tilecraft/tilecraft/internal/tileset"
	"github.com/tilecraft/tilecraft/pkg/mvt"
)

func TestAttrValue(t *testing.T) {
	tests := []struct {
		in     interface{}
		want   interface{}
		wantOK bool
	}{
		{"hello", "hello", true},
		{[]byte("raw"), "raw", true},
		{int64(7), int64(7), true},
		{3.5, 3.5, true},
		{true, true, true},
		{nil, nil, false},
		{struct{}{}, nil, false},
	}
	for _, tt := range tests {
		got, ok := attrValue(tt.in)
		if ok != tt.wantOK {
			t.Errorf("attrValue(%v) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("attrValue(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func feature(attrs ...mvt.Attribute) *mvt.Feature {
	return &mvt.Feature{Geometry: orb.Point{0, 0}, Attributes: attrs}
}

func TestExtractFid(t *testing.T) {
	layer := &tileset.Layer{FidField: "osm_id"}

	f := feature(
		mvt.Attribute{Key: "osm_id", Value: int64(42)},
		mvt.Attribute{Key: "name", Value: "x"},
	)
	extractFid(layer, f)
	if f.ID == nil || *f.ID != 42 {
		t.Fatalf("fid not extracted: %v", f.ID)
	}
	if len(f.Attributes) != 1 || f.Attributes[0].Key != "name" {
		t.Errorf("fid attribute must be removed from tags: %v", f.Attributes)
	}
}

func TestExtractFidNegative(t *testing.T) {
	layer := &tileset.Layer{FidField: "osm_id"}
	f := feature(mvt.Attribute{Key: "osm_id", Value: int64(-5)})
	extractFid(layer, f)
	if f.ID != nil {
		t.Error("negative fid must be omitted, not coerced")
	}
	if len(f.Attributes) != 1 {
		t.Error("attribute must stay in tags when the id was not emitted")
	}
}

func TestExtractFidWrongType(t *testing.T) {
	layer := &tileset.Layer{FidField: "osm_id"}
	f := feature(mvt.Attribute{Key: "osm_id", Value: "not-a-number"})
	extractFid(layer, f)
	if f.ID != nil {
		t.Error("non-integer fid must be omitted")
	}
}

func TestExtractFidUnset(t *testing.T) {
	f := feature(mvt.Attribute{Key: "id", Value: int64(1)})
	extractFid(&tileset.Layer{}, f)
	if f.ID != nil {
		t.Error("fid must not be emitted without fid_field")
	}
}

func TestDecodeGpkgGeometry(t *testing.T) {
	// GP header (no envelope) + WKB point (1.0, 2.0) little-endian
	blob := []byte{
		'G', 'P', 0x00, 0x01, 0xE6, 0x10, 0x00, 0x00,
		0x01, 0x01, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF0, 0x3F,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x40,
	}
	geom, err := decodeGpkgGeometry(blob)
	if err != nil {
		t.Fatalf("decodeGpkgGeometry: %v", err)
	}
	pt, ok := geom.(orb.Point)
	if !ok {
		t.Fatalf("expected point, got %T", geom)
	}
	if pt[0] != 1.0 || pt[1] != 2.0 {
		t.Errorf("point = %v, want (1, 2)", pt)
	}
}

func TestDecodeGpkgGeometryRejectsGarbage(t *testing.T) {
	if _, err := decodeGpkgGeometry([]byte{0x01, 0x02}); err == nil {
		t.Error("expected error for non-gpkg blob")
	}
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry([]Config{
		{Name: "pg", Type: "postgis", URL: "postgresql://localhost/test"},
		{Name: "files", Type: "gdal", Path: "/tmp/test.gpkg", Default: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ds, err := r.Get("pg")
	if err != nil {
		t.Fatalf("Get(pg): %v", err)
	}
	if _, ok := ds.(*PostGIS); !ok {
		t.Errorf("expected PostGIS, got %T", ds)
	}
	def, err := r.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if _, ok := def.(*GeoPackage); !ok {
		t.Errorf("default must be the gdal source, got %T", def)
	}
	if _, err := r.Get("missing"); err == nil {
		t.Error("expected error for unknown datasource")
	}
}

func TestRegistryRejectsEmpty(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Error("expected error for empty datasource list")
	}
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	if _, err := NewRegistry([]Config{{Type: "oracle"}}); err == nil {
		t.Error("expected error for unknown type")
	}
}
