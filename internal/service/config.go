// internal/service/config.go - Service construction from configuration
package service

import (
	"fmt"
	"strconv"

	"github.com/tilecraft/tilecraft/internal"
	"github.com/tilecraft/tilecraft/internal/cache"
	"github.com/tilecraft/tilecraft/internal/config"
	"github.com/tilecraft/tilecraft/internal/datasource"
	"github.com/tilecraft/tilecraft/internal/grid"
	"github.com/tilecraft/tilecraft/internal/tileset"
)

// FromConfig assembles an unconnected service from a validated
// configuration.
func FromConfig(cfg *config.Config) (*Service, error) {
	g, err := buildGrid(&cfg.Grid)
	if err != nil {
		return nil, err
	}

	dsCfgs := make([]datasource.Config, len(cfg.Datasources))
	for i, d := range cfg.Datasources {
		dsCfgs[i] = datasource.Config{
			Name:              d.Name,
			Type:              d.Type,
			URL:               d.URL,
			Path:              d.Path,
			Default:           d.Default,
			PoolSize:          d.PoolSize,
			ConnectionTimeout: d.ConnectionTimeout,
		}
	}
	registry, err := datasource.NewRegistry(dsCfgs)
	if err != nil {
		return nil, err
	}

	tilesets := make([]*tileset.Tileset, len(cfg.Tilesets))
	for i := range cfg.Tilesets {
		ts, err := buildTileset(&cfg.Tilesets[i])
		if err != nil {
			return nil, err
		}
		tilesets[i] = ts
	}

	c, err := buildCache(&cfg.Cache)
	if err != nil {
		return nil, err
	}

	return &Service{
		Grid:        g,
		Tilesets:    tilesets,
		Datasources: registry,
		Cache:       c,
	}, nil
}

func buildGrid(cfg *config.GridConfig) (*grid.Grid, error) {
	if cfg.User != nil {
		u := cfg.User
		width, height := u.Width, u.Height
		if width == 0 {
			width = 256
		}
		if height == 0 {
			height = 256
		}
		origin := grid.OriginBottomLeft
		if u.Origin == string(grid.OriginTopLeft) {
			origin = grid.OriginTopLeft
		}
		return grid.New(width, height,
			grid.Extent{MinX: u.Extent[0], MinY: u.Extent[1], MaxX: u.Extent[2], MaxY: u.Extent[3]},
			u.SRID, grid.Unit(u.Units), u.Resolutions, origin)
	}
	switch cfg.Predefined {
	case "wgs84":
		return grid.WGS84(), nil
	case "web_mercator", "":
		return grid.WebMercator(), nil
	default:
		return nil, internal.NewError(internal.ErrorCodeConfig,
			fmt.Sprintf("unknown predefined grid %q", cfg.Predefined), nil)
	}
}

func buildTileset(cfg *config.TilesetConfig) (*tileset.Tileset, error) {
	ts := &tileset.Tileset{
		Name:        cfg.Name,
		Attribution: cfg.Attribution,
		StartZoom:   cfg.StartZoom,
	}
	if len(cfg.Extent) == 4 {
		ts.ExtentWGS84 = &grid.Extent{
			MinX: cfg.Extent[0], MinY: cfg.Extent[1],
			MaxX: cfg.Extent[2], MaxY: cfg.Extent[3],
		}
	}
	if len(cfg.Center) == 2 {
		ts.Center = &[2]float64{cfg.Center[0], cfg.Center[1]}
	}
	for i := range cfg.Layers {
		layer, err := buildLayer(&cfg.Layers[i])
		if err != nil {
			return nil, err
		}
		ts.Layers = append(ts.Layers, layer)
	}
	return ts, nil
}

func buildLayer(cfg *config.LayerConfig) (*tileset.Layer, error) {
	layer := &tileset.Layer{
		Name:             cfg.Name,
		Datasource:       cfg.Datasource,
		TableName:        cfg.TableName,
		GeometryField:    cfg.GeometryField,
		GeometryType:     cfg.GeometryType,
		SRID:             cfg.SRID,
		FidField:         cfg.FidField,
		TileSize:         cfg.TileSize,
		BufferSize:       cfg.BufferSize,
		Simplify:         cfg.Simplify,
		ToleranceDefault: cfg.Tolerance,
		MakeValid:        cfg.MakeValid,
		QueryLimit:       cfg.QueryLimit,
		NoTransform:      cfg.NoTransform,
		ShiftLongitude:   cfg.ShiftLon,
		MinZoomCfg:       cfg.MinZoom,
		MaxZoomCfg:       cfg.MaxZoom,
		Style:            cfg.Style,
	}
	if len(cfg.ToleranceMap) > 0 {
		layer.ToleranceByZoom = make(map[uint8]float64, len(cfg.ToleranceMap))
		for k, v := range cfg.ToleranceMap {
			z, err := strconv.ParseUint(k, 10, 8)
			if err != nil {
				return nil, internal.NewError(internal.ErrorCodeConfig,
					fmt.Sprintf("layer %q: invalid tolerance zoom key %q", cfg.Name, k), err)
			}
			layer.ToleranceByZoom[uint8(z)] = v
		}
	}
	for _, q := range cfg.Queries {
		layer.Queries = append(layer.Queries, tileset.LayerQuery{
			MinZoom: q.MinZoom,
			MaxZoom: q.MaxZoom,
			SQL:     q.SQL,
		})
	}
	return layer, nil
}

func buildCache(cfg *config.CacheConfig) (cache.Cache, error) {
	switch {
	case cfg.File != nil:
		return cache.NewFileCache(cfg.File.Base, cfg.File.BaseURL), nil
	case cfg.S3 != nil:
		return cache.NewS3Cache(cache.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			BaseURL:   cfg.S3.BaseURL,
		})
	default:
		return cache.NewNullCache(""), nil
	}
}
