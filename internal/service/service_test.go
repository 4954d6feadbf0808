// internal/service/service_test.go - Unit tests for the tile assembly coordinator
package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/gogo/protobuf/proto"
	"github.com/paulmach/orb"

	"github.com/tilecraft/tilecraft/internal/cache"
	"github.com/tilecraft/tilecraft/internal/datasource"
	"github.com/tilecraft/tilecraft/internal/datasource/dstest"
	"github.com/tilecraft/tilecraft/internal/grid"
	"github.com/tilecraft/tilecraft/internal/tileset"
	"github.com/tilecraft/tilecraft/pkg/mvt"
	"github.com/tilecraft/tilecraft/pkg/mvt/vectortile"
)

func zp(v uint8) *uint8 { return &v }

// newTestService builds a web mercator service over an in-memory
// datasource and a temp-dir file cache.
func newTestService(t *testing.T, mem *dstest.Memory) *Service {
	t.Helper()
	ts := &tileset.Tileset{
		Name: "ne_10m_populated_places",
		Layers: []*tileset.Layer{
			{
				Name:         "ne_10m_populated_places",
				GeometryType: "POINT",
				Queries:      []tileset.LayerQuery{{MinZoom: zp(0), MaxZoom: zp(22)}},
			},
		},
	}
	return &Service{
		Grid:        grid.WebMercator(),
		Tilesets:    []*tileset.Tileset{ts},
		Datasources: datasource.NewStaticRegistry(map[string]datasource.Datasource{"mem": mem}, "mem"),
		Cache:       cache.NewFileCache(t.TempDir(), ""),
	}
}

func decodeTile(t *testing.T, data []byte) *vectortile.Tile {
	t.Helper()
	tile := &vectortile.Tile{}
	if err := proto.Unmarshal(data, tile); err != nil {
		t.Fatalf("decoding tile: %v", err)
	}
	return tile
}

func TestBuildTileRootWebMercator(t *testing.T) {
	mem := dstest.NewMemory()
	// Three cities in mercator meters, all inside the z0 world tile
	for i, pt := range []orb.Point{{949398.0, 6002729.0}, {-8237642.3, 4970241.3}, {16135141.8, -4552563.5}} {
		mem.Features["ne_10m_populated_places"] = append(mem.Features["ne_10m_populated_places"],
			&mvt.Feature{
				Geometry:   pt,
				Attributes: []mvt.Attribute{{Key: "name", Value: "city"}, {Key: "rank", Value: int64(i)}},
			})
	}
	svc := newTestService(t, mem)

	data, err := svc.BuildTile(context.Background(), svc.Tilesets[0], 0, 0, 0)
	if err != nil {
		t.Fatalf("BuildTile: %v", err)
	}
	if data == nil {
		t.Fatal("expected non-empty root tile")
	}

	tile := decodeTile(t, data)
	if len(tile.Layers) != 1 {
		t.Fatalf("expected 1 layer, got %d", len(tile.Layers))
	}
	layer := tile.Layers[0]
	if layer.GetName() != "ne_10m_populated_places" {
		t.Errorf("layer name = %q", layer.GetName())
	}
	if len(layer.Features) != 3 {
		t.Errorf("feature count = %d, want 3", len(layer.Features))
	}
	for _, f := range layer.Features {
		if f.GetType() != vectortile.Tile_POINT {
			t.Errorf("geometry type = %v, want POINT", f.GetType())
		}
	}
	// First command of a point feature is MoveTo with count 1
	first := layer.Features[0].Geometry[0]
	if first&0x7 != 1 || first>>3 != 1 {
		t.Errorf("first command = %d, want MoveTo(1)", first)
	}
}

func TestBuildTileEmpty(t *testing.T) {
	svc := newTestService(t, dstest.NewMemory())
	data, err := svc.BuildTile(context.Background(), svc.Tilesets[0], 0, 0, 0)
	if err != nil {
		t.Fatalf("BuildTile: %v", err)
	}
	if data != nil {
		t.Errorf("empty tile must have no payload, got %d bytes", len(data))
	}
}

func TestTileCachedEmptyNotWritten(t *testing.T) {
	svc := newTestService(t, dstest.NewMemory())
	data, err := svc.TileCached(context.Background(), svc.Tilesets[0], 0, 0, 0)
	if err != nil {
		t.Fatalf("TileCached: %v", err)
	}
	if data != nil {
		t.Error("empty tile must yield nil")
	}
	if svc.Cache.Exists(cache.TilePath("ne_10m_populated_places", 0, 0, 0, false)) {
		t.Error("empty tile must not be cached")
	}
}

func TestTileCachedRoundTrip(t *testing.T) {
	mem := dstest.NewMemory()
	mem.Features["ne_10m_populated_places"] = []*mvt.Feature{
		{Geometry: orb.Point{949398.0, 6002729.0}},
	}
	svc := newTestService(t, mem)
	ts := svc.Tilesets[0]

	first, err := svc.TileCached(context.Background(), ts, 0, 0, 0)
	if err != nil {
		t.Fatalf("TileCached: %v", err)
	}
	if first == nil {
		t.Fatal("expected tile payload")
	}
	if !svc.Cache.Exists(cache.TilePath(ts.Name, 0, 0, 0, false)) {
		t.Fatal("tile must be cached after build")
	}

	queries := mem.Queried["ne_10m_populated_places"]
	second, err := svc.TileCached(context.Background(), ts, 0, 0, 0)
	if err != nil {
		t.Fatalf("TileCached (cached): %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("cached tile must be byte-identical")
	}
	if mem.Queried["ne_10m_populated_places"] != queries {
		t.Error("cache hit must not query the datasource")
	}

	// The cached payload is gzip-compressed MVT
	plain, err := GunzipBytes(first)
	if err != nil {
		t.Fatalf("GunzipBytes: %v", err)
	}
	tile := decodeTile(t, plain)
	if len(tile.Layers) != 1 {
		t.Errorf("expected 1 layer in cached tile, got %d", len(tile.Layers))
	}
}

func TestLayerSkippedOutsideZoom(t *testing.T) {
	mem := dstest.NewMemory()
	mem.Features["ne_10m_populated_places"] = []*mvt.Feature{
		{Geometry: orb.Point{0, 0}},
	}
	svc := newTestService(t, mem)
	svc.Tilesets[0].Layers[0].Queries = []tileset.LayerQuery{{MinZoom: zp(5), MaxZoom: zp(10)}}

	data, err := svc.BuildTile(context.Background(), svc.Tilesets[0], 0, 0, 0)
	if err != nil {
		t.Fatalf("BuildTile: %v", err)
	}
	if data != nil {
		t.Error("layer outside its zoom range must be skipped")
	}
	if mem.Queried["ne_10m_populated_places"] != 0 {
		t.Error("skipped layer must not be queried")
	}
}

func TestBuildTileDeterministic(t *testing.T) {
	mem := dstest.NewMemory()
	mem.Features["ne_10m_populated_places"] = []*mvt.Feature{
		{Geometry: orb.Point{949398.0, 6002729.0},
			Attributes: []mvt.Attribute{{Key: "name", Value: "Zurich"}}},
		{Geometry: orb.Point{-8237642.3, 4970241.3},
			Attributes: []mvt.Attribute{{Key: "name", Value: "New York"}}},
	}
	svc := newTestService(t, mem)

	a, err := svc.BuildTile(context.Background(), svc.Tilesets[0], 0, 0, 0)
	if err != nil {
		t.Fatalf("BuildTile: %v", err)
	}
	b, err := svc.BuildTile(context.Background(), svc.Tilesets[0], 0, 0, 0)
	if err != nil {
		t.Fatalf("BuildTile: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("tile encoding must be deterministic")
	}
}

func TestExtentToGridMercator(t *testing.T) {
	svc := newTestService(t, dstest.NewMemory())
	got, err := svc.ExtentToGrid(grid.Extent{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90})
	if err != nil {
		t.Fatalf("ExtentToGrid: %v", err)
	}
	world := svc.Grid.Extent
	if got.MinX > world.MinX+1 || got.MaxX < world.MaxX-1 {
		t.Errorf("world extent projects to %+v", got)
	}
}

func TestTileJSON(t *testing.T) {
	mem := dstest.NewMemory()
	mem.Features["ne_10m_populated_places"] = []*mvt.Feature{
		{Geometry: orb.Point{0, 0}, Attributes: []mvt.Attribute{{Key: "name", Value: "x"}}},
	}
	svc := newTestService(t, mem)

	doc, err := svc.TileJSON("http://localhost:6767", svc.Tilesets[0])
	if err != nil {
		t.Fatalf("TileJSON: %v", err)
	}
	if doc["tilejson"] != "2.2.0" {
		t.Errorf("tilejson version = %v", doc["tilejson"])
	}
	if doc["scheme"] != "xyz" {
		t.Errorf("scheme = %v", doc["scheme"])
	}
	tiles := doc["tiles"].([]string)
	if tiles[0] != "http://localhost:6767/ne_10m_populated_places/{z}/{x}/{y}.pbf" {
		t.Errorf("tiles url = %q", tiles[0])
	}
	layers := doc["vector_layers"].([]map[string]interface{})
	if len(layers) != 1 {
		t.Fatalf("vector_layers = %v", layers)
	}
	fields := layers[0]["fields"].(map[string]string)
	if _, ok := fields["name"]; !ok {
		t.Errorf("fields missing name: %v", fields)
	}
}

func TestStyleJSONDefaultPaint(t *testing.T) {
	svc := newTestService(t, dstest.NewMemory())
	doc, err := svc.StyleJSON("http://localhost:6767", svc.Tilesets[0])
	if err != nil {
		t.Fatalf("StyleJSON: %v", err)
	}
	layers := doc["layers"].([]interface{})
	if len(layers) != 2 {
		t.Fatalf("expected background + 1 layer, got %d", len(layers))
	}
	style := layers[1].(map[string]interface{})
	if style["type"] != "circle" {
		t.Errorf("point layer paint type = %v, want circle", style["type"])
	}
	if style["source-layer"] != "ne_10m_populated_places" {
		t.Errorf("source-layer = %v", style["source-layer"])
	}
}
