// internal/service/tilejson.go - TileJSON, style and service metadata documents
package service

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/tilecraft/tilecraft/internal/tileset"
)

// TileJSON returns the TileJSON 2.2.0 document of a tileset.
func (s *Service) TileJSON(baseURL string, ts *tileset.Tileset) (map[string]interface{}, error) {
	ext := ts.Extent()
	cx, cy := ts.GetCenter()
	doc := map[string]interface{}{
		"tilejson":    "2.2.0",
		"id":          ts.Name,
		"name":        ts.Name,
		"description": ts.Name,
		"attribution": ts.Attribution,
		"format":      "pbf",
		"version":     "2.0.0",
		"scheme":      "xyz",
		"tiles":       []string{fmt.Sprintf("%s/%s/{z}/{x}/{y}.pbf", baseURL, ts.Name)},
		"bounds":      []float64{ext.MinX, ext.MinY, ext.MaxX, ext.MaxY},
		"center":      []float64{cx, cy, float64(ts.GetStartZoom())},
		"minzoom":     ts.MinZoom(),
		"maxzoom":     ts.MaxZoom(s.Grid.MaxZoom()),
		"srid":        s.Grid.SRID,
		"basename":    ts.Name,
	}
	doc["vector_layers"] = s.vectorLayers(ts)
	return doc, nil
}

// vectorLayers builds the TileJSON MVT vector layer extension.
func (s *Service) vectorLayers(ts *tileset.Tileset) []map[string]interface{} {
	layers := make([]map[string]interface{}, 0, len(ts.Layers))
	for _, layer := range ts.Layers {
		fields := map[string]string{}
		if ds, err := s.Datasources.Get(layer.Datasource); err == nil {
			names, err := ds.DescribeLayer(layer)
			if err != nil {
				log.Warnf("Layer %q: field detection failed: %v", layer.Name, err)
			}
			for _, n := range names {
				fields[n] = ""
			}
		}
		layers = append(layers, map[string]interface{}{
			"id":          layer.Name,
			"description": "",
			"minzoom":     layer.MinZoom(),
			"maxzoom":     layer.MaxZoom(s.Grid.MaxZoom()),
			"fields":      fields,
		})
	}
	return layers
}

// StyleJSON returns the configured layer styles assembled into a
// Mapbox GL style document, or a generated debug style.
func (s *Service) StyleJSON(baseURL string, ts *tileset.Tileset) (map[string]interface{}, error) {
	layers := []interface{}{
		map[string]interface{}{
			"id":   "background_",
			"type": "background",
			"paint": map[string]interface{}{
				"background-color": "rgba(255, 255, 255, 1)",
			},
		},
	}
	for _, layer := range ts.Layers {
		layerStyle := map[string]interface{}{}
		if layer.Style != "" {
			if err := json.Unmarshal([]byte(layer.Style), &layerStyle); err != nil {
				log.Warnf("Layer %q: invalid inline style: %v", layer.Name, err)
				layerStyle = map[string]interface{}{}
			}
		}
		layerStyle["id"] = layer.Name
		layerStyle["source"] = ts.Name
		layerStyle["source-layer"] = layer.Name
		if _, ok := layerStyle["type"]; !ok {
			layerStyle["type"] = defaultPaintType(layer.GeometryType)
		}
		layers = append(layers, layerStyle)
	}

	return map[string]interface{}{
		"version": 8,
		"name":    ts.Name,
		"metadata": map[string]interface{}{
			"mapbox:autocomposite": false,
			"mapbox:type":          "template",
		},
		"glyphs": fmt.Sprintf("%s/fonts/{fontstack}/{range}.pbf", baseURL),
		"sources": map[string]interface{}{
			ts.Name: map[string]interface{}{
				"url":  fmt.Sprintf("%s/%s.json", baseURL, ts.Name),
				"type": "vector",
			},
		},
		"layers": layers,
	}, nil
}

func defaultPaintType(geometryType string) string {
	switch geometryType {
	case "POINT", "MULTIPOINT":
		return "circle"
	case "POLYGON", "MULTIPOLYGON":
		return "fill"
	default:
		return "line"
	}
}

// ServiceMetadata lists the tilesets for the backend web application.
func (s *Service) ServiceMetadata() (map[string]interface{}, error) {
	infos := make([]map[string]interface{}, 0, len(s.Tilesets))
	for _, ts := range s.Tilesets {
		ext := ts.Extent()
		layerInfos := make([]map[string]interface{}, 0, len(ts.Layers))
		supported := false
		for _, layer := range ts.Layers {
			layerInfos = append(layerInfos, map[string]interface{}{
				"name":          layer.Name,
				"geometry_type": layer.GeometryType,
			})
			switch layer.GeometryType {
			case "POINT", "LINESTRING", "POLYGON":
				supported = true
			}
		}
		infos = append(infos, map[string]interface{}{
			"name":      ts.Name,
			"tilejson":  fmt.Sprintf("%s.json", ts.Name),
			"tileurl":   fmt.Sprintf("/%s/{z}/{x}/{y}.pbf", ts.Name),
			"bounds":    []float64{ext.MinX, ext.MinY, ext.MaxX, ext.MaxY},
			"layers":    layerInfos,
			"supported": supported,
		})
	}
	return map[string]interface{}{"tilesets": infos}, nil
}

// MBTilesMetadata returns the metadata.json document written next to
// seeded tiles.
func (s *Service) MBTilesMetadata(ts *tileset.Tileset) (map[string]interface{}, error) {
	doc, err := s.TileJSON(s.Cache.BaseURL(), ts)
	if err != nil {
		return nil, err
	}
	inner, err := json.Marshal(map[string]interface{}{
		"vector_layers": doc["vector_layers"],
	})
	if err != nil {
		return nil, err
	}
	doc["json"] = string(inner)
	delete(doc, "vector_layers")
	return doc, nil
}

// WriteCacheMetadata stores tilejson, style and metadata documents in
// the cache before seeding.
func (s *Service) WriteCacheMetadata() error {
	log.Info(s.Cache.Info())
	for _, ts := range s.Tilesets {
		docs := []struct {
			path string
			gen  func() (map[string]interface{}, error)
		}{
			{fmt.Sprintf("%s.json", ts.Name), func() (map[string]interface{}, error) { return s.TileJSON(s.Cache.BaseURL(), ts) }},
			{fmt.Sprintf("%s.style.json", ts.Name), func() (map[string]interface{}, error) { return s.StyleJSON(s.Cache.BaseURL(), ts) }},
			{fmt.Sprintf("%s/metadata.json", ts.Name), func() (map[string]interface{}, error) { return s.MBTilesMetadata(ts) }},
		}
		for _, d := range docs {
			doc, err := d.gen()
			if err != nil {
				return err
			}
			data, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			if err := s.Cache.Put(d.path, data); err != nil {
				log.Warnf("Cache write failed for %s: %v", d.path, err)
			}
		}
	}
	return nil
}
