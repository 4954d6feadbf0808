// internal/datasource/dstest/dstest.go - In-memory datasource for tests
package dstest

import (
	"context"

	"github.com/tilecraft/tilecraft/internal/datasource"
	"github.com/tilecraft/tilecraft/internal/grid"
	"github.com/tilecraft/tilecraft/internal/tileset"
	"github.com/tilecraft/tilecraft/pkg/mvt"
)

// Memory serves canned features per layer name, honoring the bbox
// prefilter and query limit like a real adapter.
type Memory struct {
	// Features by layer name, in grid CRS coordinates.
	Features map[string][]*mvt.Feature
	// Err, when set, fails every query.
	Err error
	// Queried counts the executed queries per layer.
	Queried map[string]int
}

// NewMemory creates an empty in-memory datasource.
func NewMemory() *Memory {
	return &Memory{
		Features: make(map[string][]*mvt.Feature),
		Queried:  make(map[string]int),
	}
}

func (m *Memory) Connect() error { return nil }
func (m *Memory) Close() error   { return nil }

func (m *Memory) PrepareQueries(string, *tileset.Layer, int, uint8) error { return nil }

func (m *Memory) QueryFeatures(ctx context.Context, tilesetName string, layer *tileset.Layer, extent grid.Extent, qc datasource.QueryContext, read datasource.ReadFunc) (uint64, error) {
	m.Queried[layer.Name]++
	if m.Err != nil {
		return 0, m.Err
	}
	buffered := extent.Buffered(float64(layer.BufferSize) * qc.PixelWidth)
	var count uint64
	for _, f := range m.Features[layer.Name] {
		if layer.QueryLimit > 0 && count == uint64(layer.QueryLimit) {
			break
		}
		b := f.Geometry.Bound()
		fb := grid.Extent{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
		if !fb.Intersects(buffered) {
			continue
		}
		// Hand out copies so pipelines do not mutate the fixtures
		clone := &mvt.Feature{
			ID:         f.ID,
			Geometry:   f.Geometry,
			Attributes: append([]mvt.Attribute(nil), f.Attributes...),
		}
		read(clone)
		count++
	}
	return count, nil
}

func (m *Memory) DescribeLayer(layer *tileset.Layer) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	for _, f := range m.Features[layer.Name] {
		for _, a := range f.Attributes {
			if !seen[a.Key] {
				seen[a.Key] = true
				names = append(names, a.Key)
			}
		}
	}
	return names, nil
}

func (m *Memory) DetectLayers() ([]*tileset.Layer, error) {
	var layers []*tileset.Layer
	for name := range m.Features {
		layers = append(layers, &tileset.Layer{Name: name})
	}
	return layers, nil
}

func (m *Memory) DetectExtent(*tileset.Layer) (*grid.Extent, error) { return nil, nil }

func (m *Memory) ExtentFromWGS84(extent grid.Extent, destSRID int) (*grid.Extent, error) {
	if destSRID == 3857 {
		e := grid.ExtentWGS84ToMerc(extent)
		return &e, nil
	}
	return &extent, nil
}
