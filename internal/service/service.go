// internal/service/service.go - Tile assembly coordinator
package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/tilecraft/tilecraft/internal"
	"github.com/tilecraft/tilecraft/internal/cache"
	"github.com/tilecraft/tilecraft/internal/datasource"
	"github.com/tilecraft/tilecraft/internal/geom"
	"github.com/tilecraft/tilecraft/internal/grid"
	"github.com/tilecraft/tilecraft/internal/tileset"
	"github.com/tilecraft/tilecraft/pkg/mvt"
)

// Service owns the tile production pipeline: grid, tilesets,
// datasources and cache. Immutable after Connect; safe for concurrent
// tile builds.
type Service struct {
	Grid        *grid.Grid
	Tilesets    []*tileset.Tileset
	Datasources *datasource.Registry
	Cache       cache.Cache

	// encodeWarned latches the once-per-layer encoding warnings.
	encodeWarned sync.Map
}

// Connect opens all datasources and prepares the per-layer queries.
func (s *Service) Connect() error {
	if err := s.Datasources.Connect(); err != nil {
		return err
	}
	for _, ts := range s.Tilesets {
		for _, layer := range ts.Layers {
			ds, err := s.Datasources.Get(layer.Datasource)
			if err != nil {
				return err
			}
			if err := ds.PrepareQueries(ts.Name, layer, s.Grid.SRID, s.Grid.MaxZoom()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases the datasource pools.
func (s *Service) Close() {
	s.Datasources.Close()
}

// TilesetByName resolves a tileset, or nil when unknown.
func (s *Service) TilesetByName(name string) *tileset.Tileset {
	for _, ts := range s.Tilesets {
		if ts.Name == name {
			return ts
		}
	}
	return nil
}

// BuildTile synthesizes the tile (x, y, z) of a tileset in XYZ
// addressing and returns the uncompressed MVT payload. Empty tiles
// yield a nil payload.
func (s *Service) BuildTile(ctx context.Context, ts *tileset.Tileset, x, y uint32, z uint8) ([]byte, error) {
	extent := s.Grid.TileExtentXYZ(x, y, z)
	log.Debugf("MVT tile request %s/%d/%d/%d %+v", ts.Name, z, x, y, extent)

	res := s.Grid.Resolution(z)
	qc := datasource.QueryContext{
		Zoom:             z,
		PixelWidth:       res,
		ScaleDenominator: s.Grid.ScaleDenominator(z),
	}

	enc := mvt.NewEncoder(mvt.Bounds{
		MinX: extent.MinX, MinY: extent.MinY,
		MaxX: extent.MaxX, MaxY: extent.MaxY,
	})
	for _, layer := range ts.LayersForZoom(z, s.Grid.MaxZoom()) {
		if err := s.buildLayer(ctx, enc, ts, layer, extent, qc); err != nil {
			if appErr, ok := err.(*internal.Error); ok && appErr.Retryable() {
				return nil, err
			}
			// Layer-level problems never fail the whole tile
			log.Errorf("Layer %q failed for tile %s/%d/%d/%d: %v", layer.Name, ts.Name, z, x, y, err)
		}
	}
	return enc.Marshal()
}

func (s *Service) buildLayer(ctx context.Context, enc *mvt.Encoder, ts *tileset.Tileset, layer *tileset.Layer, extent grid.Extent, qc datasource.QueryContext) error {
	ds, err := s.Datasources.Get(layer.Datasource)
	if err != nil {
		return err
	}

	buffer := float64(layer.BufferSize) * qc.PixelWidth
	pipeline := geom.New(extent, buffer, layer.Simplify, layer.Tolerance(qc.Zoom, qc.PixelWidth))
	lenc := enc.NewLayer(layer.Name, layer.Extent())

	_, err = ds.QueryFeatures(ctx, ts.Name, layer, extent, qc, func(f *mvt.Feature) {
		f.Geometry = pipeline.Process(f.Geometry)
		if f.Geometry == nil {
			return
		}
		if encErr := lenc.AddFeature(f); encErr != nil {
			if _, loaded := s.encodeWarned.LoadOrStore(layer.Name, true); !loaded {
				log.Warnf("Layer %q: dropping features: %v", layer.Name, encErr)
			}
		}
	})
	if err != nil {
		return err
	}
	enc.AddLayer(lenc)
	return nil
}

// TileCached fetches a tile from the cache or builds and publishes it.
// The returned payload is gzip-compressed; empty tiles yield nil and
// are never cached.
func (s *Service) TileCached(ctx context.Context, ts *tileset.Tileset, x, y uint32, z uint8) ([]byte, error) {
	path := cache.TilePath(ts.Name, x, y, z, false)
	if data, ok := s.Cache.Get(path); ok {
		return data, nil
	}

	data, err := s.BuildTile(ctx, ts, x, y, z)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	packed, err := gzipBytes(data)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeEncoding, "compressing tile", err)
	}
	// Cache write failures are non-fatal for serving
	if err := s.Cache.Put(path, packed); err != nil {
		log.Warnf("Cache write failed for %s: %v", path, err)
	}
	return packed, nil
}

// SeedTile builds and caches one tile for the seeder. It reports
// whether a non-empty tile was written.
func (s *Service) SeedTile(ctx context.Context, ts *tileset.Tileset, x, y uint32, z uint8) (bool, error) {
	data, err := s.BuildTile(ctx, ts, x, y, z)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	packed, err := gzipBytes(data)
	if err != nil {
		return false, internal.NewError(internal.ErrorCodeEncoding, "compressing tile", err)
	}
	path := cache.TilePath(ts.Name, x, y, z, false)
	if err := s.Cache.Put(path, packed); err != nil {
		// Fatal for this tile in seed mode
		return false, internal.NewError(internal.ErrorCodeCache, fmt.Sprintf("writing %s", path), err)
	}
	return true, nil
}

// ExtentToGrid projects a WGS84 extent into the grid CRS. Mercator
// and geodetic grids project locally; other grids go through the
// default datasource.
func (s *Service) ExtentToGrid(extent grid.Extent) (grid.Extent, error) {
	switch s.Grid.SRID {
	case 4326:
		return extent, nil
	case 3857:
		minX, minY := grid.ClampLonLat(extent.MinX, extent.MinY)
		maxX, maxY := grid.ClampLonLat(extent.MaxX, extent.MaxY)
		return grid.ExtentWGS84ToMerc(grid.Extent{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}), nil
	}
	ds, err := s.Datasources.Default()
	if err != nil {
		return grid.Extent{}, err
	}
	projected, err := ds.ExtentFromWGS84(extent, s.Grid.SRID)
	if err != nil {
		return grid.Extent{}, err
	}
	if projected == nil {
		return grid.Extent{}, internal.NewError(internal.ErrorCodeDatasource,
			fmt.Sprintf("cannot project extent to SRID %d", s.Grid.SRID), nil)
	}
	return *projected, nil
}

func gzipBytes(data []byte) ([]byte, error) {
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

// GunzipBytes decompresses a cached tile for clients without gzip
// support.
func GunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
