// internal/datasource/gpkg.go - GeoPackage datasource adapter
package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	log "github.com/sirupsen/logrus"

	"github.com/tilecraft/tilecraft/internal"
	"github.com/tilecraft/tilecraft/internal/grid"
	"github.com/tilecraft/tilecraft/internal/tileset"
	"github.com/tilecraft/tilecraft/pkg/mvt"
)

// GeoPackage serves features from an OGC GeoPackage file. The rtree
// spatial index is used for the bbox prefilter when present, with a
// linear scan fallback.
type GeoPackage struct {
	cfg     Config
	db      *sqlx.DB
	timeout time.Duration
	indexed map[string]bool
}

// NewGeoPackage creates an unconnected GeoPackage datasource.
func NewGeoPackage(cfg Config) *GeoPackage {
	timeout := defaultConnTimeout
	if cfg.ConnectionTimeout > 0 {
		timeout = time.Duration(cfg.ConnectionTimeout) * time.Millisecond
	}
	return &GeoPackage{
		cfg:     cfg,
		timeout: timeout,
		indexed: make(map[string]bool),
	}
}

// Connect opens the file read-only.
func (g *GeoPackage) Connect() error {
	path := g.cfg.Path
	if path == "" {
		path = g.cfg.URL
	}
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return internal.NewError(internal.ErrorCodeDatasource, "opening geopackage", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return internal.NewError(internal.ErrorCodeDatasource, "reading geopackage", err)
	}
	g.db = db
	return nil
}

// Close closes the file handle.
func (g *GeoPackage) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

// PrepareQueries checks layer definitions and detects spatial indexes.
func (g *GeoPackage) PrepareQueries(tilesetName string, layer *tileset.Layer, gridSRID int, gridMaxZoom uint8) error {
	if layer.TableName == "" {
		return internal.NewError(internal.ErrorCodeConfig,
			fmt.Sprintf("layer %q: table_name undefined for geopackage layer", layer.Name), nil)
	}
	if layer.GeometryField == "" {
		return internal.NewError(internal.ErrorCodeConfig,
			fmt.Sprintf("layer %q: geometry_field undefined", layer.Name), nil)
	}
	if layer.SRID != 0 && layer.SRID != gridSRID {
		log.Warnf("Layer %q: geopackage source SRID %d differs from grid SRID %d; serving unprojected",
			layer.Name, layer.SRID, gridSRID)
	}

	var count int
	err := g.db.Get(&count,
		"SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?",
		g.rtreeName(layer))
	if err != nil {
		return internal.NewError(internal.ErrorCodeDatasource,
			fmt.Sprintf("layer %q: checking spatial index", layer.Name), err)
	}
	g.indexed[layer.Name] = count > 0
	if count == 0 {
		log.Warnf("Layer %q: no rtree index %q, falling back to linear scan",
			layer.Name, g.rtreeName(layer))
	}
	return nil
}

func (g *GeoPackage) rtreeName(layer *tileset.Layer) string {
	return fmt.Sprintf("rtree_%s_%s", strings.Trim(layer.TableName, `"`), layer.GeometryField)
}

// QueryFeatures streams the features intersecting the buffered tile
// extent into read.
func (g *GeoPackage) QueryFeatures(ctx context.Context, tilesetName string, layer *tileset.Layer, extent grid.Extent, qc QueryContext, read ReadFunc) (uint64, error) {
	buffered := extent.Buffered(float64(layer.BufferSize) * qc.PixelWidth)

	var query string
	if g.indexed[layer.Name] {
		query = fmt.Sprintf(
			"SELECT * FROM %s WHERE rowid IN (SELECT id FROM %s WHERE minx <= ? AND maxx >= ? AND miny <= ? AND maxy >= ?)",
			layer.TableName, g.rtreeName(layer))
	} else {
		query = fmt.Sprintf("SELECT * FROM %s", layer.TableName)
	}
	if layer.QueryLimit > 0 {
		query += fmt.Sprintf(" LIMIT %d", layer.QueryLimit)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var rows *sqlx.Rows
	var err error
	if g.indexed[layer.Name] {
		rows, err = g.db.QueryxContext(ctx, query,
			buffered.MaxX, buffered.MinX, buffered.MaxY, buffered.MinY)
	} else {
		rows, err = g.db.QueryxContext(ctx, query)
	}
	if err != nil {
		if ctx.Err() != nil {
			return 0, internal.NewTransientError(internal.ErrorCodeTimeout,
				fmt.Sprintf("layer %q: query cancelled", layer.Name), err)
		}
		return 0, internal.NewError(internal.ErrorCodeDatasource,
			fmt.Sprintf("layer %q: query failed", layer.Name), err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return 0, internal.NewError(internal.ErrorCodeDatasource,
			fmt.Sprintf("layer %q: reading result columns", layer.Name), err)
	}

	var count uint64
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return count, internal.NewError(internal.ErrorCodeDatasource,
				fmt.Sprintf("layer %q: scanning row", layer.Name), err)
		}
		f, err := g.rowToFeature(layer, names, values)
		if err != nil {
			log.Warnf("Layer %q: skipping feature: %v", layer.Name, err)
			continue
		}
		// Unindexed scans have no SQL prefilter; filter by envelope here
		if !g.indexed[layer.Name] {
			b := f.Geometry.Bound()
			fb := grid.Extent{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
			if !fb.Intersects(buffered) {
				continue
			}
		}
		read(f)
		count++
	}
	if err := rows.Err(); err != nil {
		return count, internal.NewError(internal.ErrorCodeDatasource,
			fmt.Sprintf("layer %q: row iteration failed", layer.Name), err)
	}
	if layer.QueryLimit > 0 && count == uint64(layer.QueryLimit) {
		log.Infof("Features of layer %q limited to %d (query_limit reached at zoom %d)",
			layer.Name, count, qc.Zoom)
	}
	return count, nil
}

func (g *GeoPackage) rowToFeature(layer *tileset.Layer, names []string, values []interface{}) (*mvt.Feature, error) {
	f := &mvt.Feature{}
	for i, name := range names {
		if name == layer.GeometryField {
			raw, ok := values[i].([]byte)
			if !ok {
				return nil, fmt.Errorf("geometry column %q is not a blob", name)
			}
			geom, err := decodeGpkgGeometry(raw)
			if err != nil {
				return nil, err
			}
			f.Geometry = geom
			continue
		}
		val, ok := attrValue(values[i])
		if !ok {
			continue
		}
		f.Attributes = append(f.Attributes, mvt.Attribute{Key: name, Value: val})
	}
	if f.Geometry == nil {
		return nil, fmt.Errorf("row without geometry")
	}
	extractFid(layer, f)
	return f, nil
}

// decodeGpkgGeometry strips the GeoPackage binary header and decodes
// the contained WKB. Z and M coordinates are dropped by the decoder.
func decodeGpkgGeometry(raw []byte) (orb.Geometry, error) {
	if len(raw) < 8 || raw[0] != 'G' || raw[1] != 'P' {
		return nil, fmt.Errorf("not a geopackage geometry blob")
	}
	flags := raw[3]
	envelopeSizes := []int{0, 32, 48, 48, 64}
	envCode := int(flags >> 1 & 0x7)
	if envCode >= len(envelopeSizes) {
		return nil, fmt.Errorf("invalid geopackage envelope indicator %d", envCode)
	}
	offset := 8 + envelopeSizes[envCode]
	if len(raw) < offset {
		return nil, fmt.Errorf("truncated geopackage geometry blob")
	}
	return wkb.Unmarshal(raw[offset:])
}

// DescribeLayer returns the attribute column names of the layer table.
func (g *GeoPackage) DescribeLayer(layer *tileset.Layer) ([]string, error) {
	rows, err := g.db.Queryx(fmt.Sprintf("SELECT * FROM %s LIMIT 0", layer.TableName))
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeDatasource,
			fmt.Sprintf("layer %q: column detection failed", layer.Name), err)
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if n != layer.GeometryField {
			out = append(out, n)
		}
	}
	return out, nil
}

// DetectLayers discovers feature layers from gpkg_contents.
func (g *GeoPackage) DetectLayers() ([]*tileset.Layer, error) {
	rows, err := g.db.Queryx(`
		SELECT c.table_name, g.column_name, g.geometry_type_name, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'`)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeDatasource, "reading gpkg_contents", err)
	}
	defer rows.Close()

	var layers []*tileset.Layer
	for rows.Next() {
		var table, geomCol, geomType string
		var srid int
		if err := rows.Scan(&table, &geomCol, &geomType, &srid); err != nil {
			return nil, err
		}
		layers = append(layers, &tileset.Layer{
			Name:          table,
			TableName:     table,
			GeometryField: geomCol,
			GeometryType:  geomType,
			SRID:          srid,
		})
	}
	return layers, rows.Err()
}

// DetectExtent reads the layer extent recorded in gpkg_contents.
// GeoPackage extents are stored in the layer SRS; only 4326 sources
// report one.
func (g *GeoPackage) DetectExtent(layer *tileset.Layer) (*grid.Extent, error) {
	var minX, minY, maxX, maxY sql.NullFloat64
	var srid int
	err := g.db.QueryRowx(`
		SELECT c.min_x, c.min_y, c.max_x, c.max_y, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.table_name = ?`, strings.Trim(layer.TableName, `"`)).
		Scan(&minX, &minY, &maxX, &maxY, &srid)
	if err != nil {
		return nil, nil
	}
	if !minX.Valid || srid != 4326 {
		return nil, nil
	}
	return &grid.Extent{
		MinX: minX.Float64, MinY: minY.Float64,
		MaxX: maxX.Float64, MaxY: maxY.Float64,
	}, nil
}

// ExtentFromWGS84 is unsupported for file sources without a
// reprojection engine; mercator grids use the built-in projection.
func (g *GeoPackage) ExtentFromWGS84(extent grid.Extent, destSRID int) (*grid.Extent, error) {
	if destSRID == 3857 {
		e := grid.ExtentWGS84ToMerc(extent)
		return &e, nil
	}
	if destSRID == 4326 {
		return &extent, nil
	}
	return nil, internal.NewError(internal.ErrorCodeDatasource,
		fmt.Sprintf("cannot project extent to SRID %d without a spatial database", destSRID), nil)
}
