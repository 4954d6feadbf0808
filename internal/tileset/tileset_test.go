// internal/tileset/tileset_test.go - Unit tests for the tileset model
package tileset

import "testing"

func z(v uint8) *uint8 { return &v }

func TestQueryVariantSelection(t *testing.T) {
	layer := &Layer{
		Name: "roads",
		Queries: []LayerQuery{
			{SQL: "SELECT all_roads"},
			{MinZoom: z(10), SQL: "SELECT major_roads"},
			{MinZoom: z(14), MaxZoom: z(20), SQL: "SELECT detailed_roads"},
		},
	}
	tests := []struct {
		zoom uint8
		want string
	}{
		{0, "SELECT all_roads"},
		{9, "SELECT all_roads"},
		{10, "SELECT major_roads"},
		{13, "SELECT major_roads"},
		{14, "SELECT detailed_roads"},
		{20, "SELECT detailed_roads"},
		{21, "SELECT major_roads"},
	}
	for _, tt := range tests {
		if got := layer.Query(tt.zoom, 22); got != tt.want {
			t.Errorf("Query(%d) = %q, want %q", tt.zoom, got, tt.want)
		}
	}
}

func TestLayerZoomBounds(t *testing.T) {
	layer := &Layer{
		Queries: []LayerQuery{
			{MinZoom: z(5), MaxZoom: z(10)},
			{MinZoom: z(11), MaxZoom: z(14)},
		},
	}
	if got := layer.MinZoom(); got != 5 {
		t.Errorf("MinZoom = %d, want 5", got)
	}
	if got := layer.MaxZoom(22); got != 14 {
		t.Errorf("MaxZoom = %d, want 14", got)
	}
	if layer.InZoomRange(4, 22) {
		t.Error("zoom 4 outside layer range")
	}
	if !layer.InZoomRange(12, 22) {
		t.Error("zoom 12 inside layer range")
	}
}

func TestLayerSkippedWithoutVariant(t *testing.T) {
	layer := &Layer{
		MinZoomCfg: z(0),
		MaxZoomCfg: z(22),
		Queries: []LayerQuery{
			{MinZoom: z(10), MaxZoom: z(14), SQL: "SELECT x"},
		},
	}
	if got := layer.Query(5, 22); got != "" {
		t.Errorf("Expected no variant at zoom 5, got %q", got)
	}
}

func TestTolerance(t *testing.T) {
	tol := 2.5
	layer := &Layer{
		ToleranceDefault: &tol,
		ToleranceByZoom:  map[uint8]float64{10: 0.5},
	}
	if got := layer.Tolerance(10, 100.0); got != 0.5 {
		t.Errorf("zoom-keyed tolerance = %f, want 0.5", got)
	}
	if got := layer.Tolerance(5, 100.0); got != 2.5 {
		t.Errorf("scalar tolerance = %f, want 2.5", got)
	}
	plain := &Layer{}
	if got := plain.Tolerance(5, 100.0); got != 50.0 {
		t.Errorf("default tolerance = %f, want pixel_width/2", got)
	}
}

func TestTilesetZoomRange(t *testing.T) {
	ts := &Tileset{
		Name: "osm",
		Layers: []*Layer{
			{Queries: []LayerQuery{{MinZoom: z(2), MaxZoom: z(10)}}},
			{Queries: []LayerQuery{{MinZoom: z(8), MaxZoom: z(18)}}},
		},
	}
	if got := ts.MinZoom(); got != 2 {
		t.Errorf("MinZoom = %d, want 2", got)
	}
	if got := ts.MaxZoom(22); got != 18 {
		t.Errorf("MaxZoom = %d, want 18", got)
	}
	// grid range caps the tileset range
	if got := ts.MaxZoom(14); got != 14 {
		t.Errorf("MaxZoom capped = %d, want 14", got)
	}
}

func TestLayersForZoom(t *testing.T) {
	ts := &Tileset{
		Layers: []*Layer{
			{Name: "a", Queries: []LayerQuery{{MinZoom: z(0), MaxZoom: z(5)}}},
			{Name: "b", Queries: []LayerQuery{{MinZoom: z(4), MaxZoom: z(10)}}},
		},
	}
	got := ts.LayersForZoom(4, 22)
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Errorf("LayersForZoom(4) order/content wrong: %v", got)
	}
	got = ts.LayersForZoom(8, 22)
	if len(got) != 1 || got[0].Name != "b" {
		t.Errorf("LayersForZoom(8) = %v, want [b]", got)
	}
}

func TestLayerExtent(t *testing.T) {
	if got := (&Layer{}).Extent(); got != 4096 {
		t.Errorf("default extent = %d, want 4096", got)
	}
	if got := (&Layer{TileSize: 512}).Extent(); got != 512 {
		t.Errorf("configured extent = %d, want 512", got)
	}
}
