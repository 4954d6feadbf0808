// internal/datasource/datasource.go - Datasource capability set and factory
package datasource

import (
	"context"
	"fmt"

	"github.com/tilecraft/tilecraft/internal"
	"github.com/tilecraft/tilecraft/internal/grid"
	"github.com/tilecraft/tilecraft/internal/tileset"
	"github.com/tilecraft/tilecraft/pkg/mvt"
)

// QueryContext carries the per-tile runtime values substituted into
// layer queries.
type QueryContext struct {
	Zoom             uint8
	PixelWidth       float64
	ScaleDenominator float64
}

// ReadFunc consumes one feature from a running query. Feature order is
// preserved from the query.
type ReadFunc func(f *mvt.Feature)

// Datasource is the capability set shared by all geometry sources.
type Datasource interface {
	// Connect opens the underlying connection pool.
	Connect() error
	// PrepareQueries builds and validates the per-zoom feature queries
	// of one layer. Called once at startup.
	PrepareQueries(tilesetName string, layer *tileset.Layer, gridSRID int, gridMaxZoom uint8) error
	// QueryFeatures streams the features of one layer intersecting the
	// tile extent (grid CRS) into read. It returns the feature count.
	QueryFeatures(ctx context.Context, tilesetName string, layer *tileset.Layer, extent grid.Extent, qc QueryContext, read ReadFunc) (uint64, error)
	// DescribeLayer returns the attribute column names of a layer.
	DescribeLayer(layer *tileset.Layer) ([]string, error)
	// DetectLayers discovers layer definitions from source metadata.
	DetectLayers() ([]*tileset.Layer, error)
	// DetectExtent returns the WGS84 extent of a layer, or nil when it
	// cannot be determined.
	DetectExtent(layer *tileset.Layer) (*grid.Extent, error)
	// ExtentFromWGS84 projects a WGS84 extent into destSRID.
	ExtentFromWGS84(extent grid.Extent, destSRID int) (*grid.Extent, error)
	Close() error
}

// Config selects and parameterizes one datasource.
type Config struct {
	Name              string
	Type              string // "postgis" or "gdal" (file formats)
	URL               string
	Path              string
	Default           bool
	PoolSize          int
	ConnectionTimeout int // milliseconds
}

// New creates a datasource from its configuration.
func New(cfg Config) (Datasource, error) {
	switch cfg.Type {
	case "postgis":
		return NewPostGIS(cfg), nil
	case "gdal":
		return NewGeoPackage(cfg), nil
	default:
		return nil, internal.NewError(internal.ErrorCodeConfig,
			fmt.Sprintf("unknown datasource type %q", cfg.Type), nil)
	}
}

// Registry holds the named datasources of one service instance.
type Registry struct {
	byName      map[string]Datasource
	defaultName string
}

// NewRegistry builds the datasource registry from configuration.
func NewRegistry(cfgs []Config) (*Registry, error) {
	r := &Registry{byName: make(map[string]Datasource)}
	for _, cfg := range cfgs {
		ds, err := New(cfg)
		if err != nil {
			return nil, err
		}
		name := cfg.Name
		if name == "" {
			name = "default"
		}
		if _, dup := r.byName[name]; dup {
			return nil, internal.NewError(internal.ErrorCodeConfig,
				fmt.Sprintf("duplicate datasource name %q", name), nil)
		}
		r.byName[name] = ds
		if cfg.Default || r.defaultName == "" {
			r.defaultName = name
		}
	}
	if len(r.byName) == 0 {
		return nil, internal.NewError(internal.ErrorCodeConfig, "no datasource configured", nil)
	}
	return r, nil
}

// NewStaticRegistry wraps already-constructed datasources, keyed by
// name. defaultName selects the default.
func NewStaticRegistry(sources map[string]Datasource, defaultName string) *Registry {
	return &Registry{byName: sources, defaultName: defaultName}
}

// Get resolves a layer's datasource; an empty name yields the default.
func (r *Registry) Get(name string) (Datasource, error) {
	if name == "" {
		name = r.defaultName
	}
	ds, ok := r.byName[name]
	if !ok {
		return nil, internal.NewError(internal.ErrorCodeConfig,
			fmt.Sprintf("datasource %q not found", name), nil)
	}
	return ds, nil
}

// Default returns the default datasource.
func (r *Registry) Default() (Datasource, error) {
	return r.Get("")
}

// Connect opens all registered datasources.
func (r *Registry) Connect() error {
	for name, ds := range r.byName {
		if err := ds.Connect(); err != nil {
			return internal.NewError(internal.ErrorCodeDatasource,
				fmt.Sprintf("connecting datasource %q", name), err)
		}
	}
	return nil
}

// Close closes all registered datasources.
func (r *Registry) Close() {
	for _, ds := range r.byName {
		ds.Close()
	}
}
