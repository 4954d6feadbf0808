// internal/service/config_test.go - Unit tests for service construction
package service

import (
	"testing"

	"github.com/tilecraft/tilecraft/internal/cache"
	"github.com/tilecraft/tilecraft/internal/config"
	"github.com/tilecraft/tilecraft/internal/grid"
)

func TestFromConfigPredefinedGrid(t *testing.T) {
	cfg := &config.Config{
		Datasources: []config.DatasourceConfig{
			{Type: "postgis", URL: "postgresql://localhost/db"},
		},
		Grid: config.GridConfig{Predefined: "wgs84"},
		Tilesets: []config.TilesetConfig{
			{Name: "t", Layers: []config.LayerConfig{
				{Name: "l", TableName: "tbl", GeometryField: "geom"},
			}},
		},
	}
	svc, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if svc.Grid.SRID != 4326 {
		t.Errorf("grid SRID = %d, want 4326", svc.Grid.SRID)
	}
	if _, ok := svc.Cache.(*cache.NullCache); !ok {
		t.Errorf("cache without config must be the null backend, got %T", svc.Cache)
	}
}

func TestFromConfigUserGrid(t *testing.T) {
	cfg := &config.Config{
		Datasources: []config.DatasourceConfig{
			{Type: "postgis", URL: "postgresql://localhost/db"},
		},
		Grid: config.GridConfig{User: &config.UserGridConfig{
			Extent:      []float64{2420000.0, 1030000.0, 2900000.0, 1350000.0},
			SRID:        2056,
			Units:       "m",
			Resolutions: []float64{4000.0, 2000.0, 1000.0, 500.0},
			Origin:      "TopLeft",
		}},
		Tilesets: []config.TilesetConfig{
			{Name: "t", Layers: []config.LayerConfig{
				{Name: "l", TableName: "tbl", GeometryField: "geom"},
			}},
		},
	}
	svc, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if svc.Grid.SRID != 2056 {
		t.Errorf("grid SRID = %d", svc.Grid.SRID)
	}
	if svc.Grid.Origin != grid.OriginTopLeft {
		t.Errorf("origin = %v", svc.Grid.Origin)
	}
	if svc.Grid.MaxZoom() != 3 {
		t.Errorf("maxzoom = %d, want 3", svc.Grid.MaxZoom())
	}
}

func TestFromConfigToleranceMap(t *testing.T) {
	tol := 1.5
	cfg := &config.Config{
		Datasources: []config.DatasourceConfig{
			{Type: "postgis", URL: "postgresql://localhost/db"},
		},
		Tilesets: []config.TilesetConfig{
			{Name: "t", Layers: []config.LayerConfig{
				{
					Name: "l", TableName: "tbl", GeometryField: "geom",
					Tolerance:    &tol,
					ToleranceMap: map[string]float64{"10": 0.5},
				},
			}},
		},
	}
	svc, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	layer := svc.Tilesets[0].Layers[0]
	if got := layer.Tolerance(10, 100); got != 0.5 {
		t.Errorf("tolerance(10) = %f", got)
	}
	if got := layer.Tolerance(5, 100); got != 1.5 {
		t.Errorf("tolerance(5) = %f", got)
	}
}

func TestFromConfigRejectsBadToleranceKey(t *testing.T) {
	cfg := &config.Config{
		Datasources: []config.DatasourceConfig{
			{Type: "postgis", URL: "postgresql://localhost/db"},
		},
		Tilesets: []config.TilesetConfig{
			{Name: "t", Layers: []config.LayerConfig{
				{Name: "l", TableName: "tbl", GeometryField: "geom",
					ToleranceMap: map[string]float64{"high": 0.5}},
			}},
		},
	}
	if _, err := FromConfig(cfg); err == nil {
		t.Error("expected error for non-numeric tolerance zoom key")
	}
}
