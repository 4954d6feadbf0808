// internal/datasource/postgis.go - PostGIS datasource adapter
package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/paulmach/orb/encoding/wkb"
	log "github.com/sirupsen/logrus"

	"github.com/tilecraft/tilecraft/internal"
	"github.com/tilecraft/tilecraft/internal/grid"
	"github.com/tilecraft/tilecraft/internal/tileset"
	"github.com/tilecraft/tilecraft/pkg/mvt"
)

const defaultPoolSize = 8
const defaultConnTimeout = 30 * time.Second

// PostGIS serves features from a PostGIS database. Queries are
// prepared per layer and zoom level at startup; the instance is
// read-only afterwards and safe for concurrent use.
type PostGIS struct {
	cfg     Config
	db      *sqlx.DB
	timeout time.Duration
	// tileset -> layer -> zoom
	queries map[string]map[string]map[uint8]*sqlQuery
	columns map[string][]column
}

// NewPostGIS creates an unconnected PostGIS datasource.
func NewPostGIS(cfg Config) *PostGIS {
	timeout := defaultConnTimeout
	if cfg.ConnectionTimeout > 0 {
		timeout = time.Duration(cfg.ConnectionTimeout) * time.Millisecond
	}
	return &PostGIS{
		cfg:     cfg,
		timeout: timeout,
		queries: make(map[string]map[string]map[uint8]*sqlQuery),
		columns: make(map[string][]column),
	}
}

// Connect opens the connection pool.
func (p *PostGIS) Connect() error {
	log.Debugf("Connecting to %s", p.cfg.URL)
	db, err := sqlx.Open("postgres", p.cfg.URL)
	if err != nil {
		return internal.NewError(internal.ErrorCodeDatasource, "opening postgres connection", err)
	}
	poolSize := p.cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return internal.NewTransientError(internal.ErrorCodeDatasource, "postgres ping failed", err)
	}
	p.db = db
	return nil
}

// Close closes the connection pool.
func (p *PostGIS) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// detectColumns inspects the columns of a layer query and returns the
// attribute columns with their cast types. The geometry column and
// unconvertible columns are filtered out.
func (p *PostGIS) detectColumns(layer *tileset.Layer, userSQL string) ([]column, error) {
	query := userSQL
	if query == "" {
		table := layer.TableName
		if table == "" {
			table = layer.Name
		}
		query = fmt.Sprintf("SELECT * FROM %s", table)
	}
	query = fmt.Sprintf("SELECT * FROM (%s) AS _q LIMIT 0", validSQLForParams(query))

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	rows, err := p.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeDatasource,
			fmt.Sprintf("layer %q: column detection failed", layer.Name), err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeDatasource,
			fmt.Sprintf("layer %q: reading column types", layer.Name), err)
	}
	var cols []column
	for _, ct := range types {
		name := ct.Name()
		if name == layer.GeometryField {
			continue
		}
		cast := castForType(ct.DatabaseTypeName())
		if cast == "-" {
			log.Warnf("Layer %q: omitting column %q of unsupported type %s",
				layer.Name, name, ct.DatabaseTypeName())
			continue
		}
		if cast != "" {
			log.Warnf("Layer %q: converting column %q of type %s to %s",
				layer.Name, name, ct.DatabaseTypeName(), cast)
		}
		cols = append(cols, column{name: name, cast: cast})
	}
	return cols, nil
}

// PrepareQueries builds the per-zoom feature queries of one layer.
func (p *PostGIS) PrepareQueries(tilesetName string, layer *tileset.Layer, gridSRID int, gridMaxZoom uint8) error {
	if layer.GeometryField == "" {
		return internal.NewError(internal.ErrorCodeConfig,
			fmt.Sprintf("layer %q: geometry_field undefined", layer.Name), nil)
	}
	if len(layer.Queries) == 0 && layer.TableName == "" {
		return internal.NewError(internal.ErrorCodeConfig,
			fmt.Sprintf("layer %q: neither table_name nor query defined", layer.Name), nil)
	}

	cols, err := p.detectColumns(layer, layer.Query(layer.MaxZoom(gridMaxZoom), gridMaxZoom))
	if err != nil {
		return err
	}
	p.columns[layer.Name] = cols

	byZoom := make(map[uint8]*sqlQuery)
	for z := layer.MinZoom(); z <= layer.MaxZoom(gridMaxZoom); z++ {
		userSQL := layer.Query(z, gridMaxZoom)
		if userSQL == "" && len(layer.Queries) > 0 && layer.TableName == "" {
			continue // no variant covers this zoom
		}
		q := buildQuery(layer, gridSRID, userSQL, cols)
		if q == nil {
			continue
		}
		log.Debugf("Query for layer %q at z%d: %s", layer.Name, z, q.sql)
		byZoom[z] = q
	}
	if p.queries[tilesetName] == nil {
		p.queries[tilesetName] = make(map[string]map[uint8]*sqlQuery)
	}
	p.queries[tilesetName][layer.Name] = byZoom
	return nil
}

// QueryFeatures executes the prepared query for one tile and streams
// the decoded features into read.
func (p *PostGIS) QueryFeatures(ctx context.Context, tilesetName string, layer *tileset.Layer, extent grid.Extent, qc QueryContext, read ReadFunc) (uint64, error) {
	byLayer, ok := p.queries[tilesetName]
	if !ok {
		return 0, internal.NewError(internal.ErrorCodeDatasource,
			fmt.Sprintf("tileset %q: queries not prepared", tilesetName), nil)
	}
	q, ok := byLayer[layer.Name][qc.Zoom]
	if !ok {
		return 0, nil // layer skipped at this zoom
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := q.bindValues(extent.MinX, extent.MinY, extent.MaxX, extent.MaxY, qc)
	rows, err := p.db.QueryxContext(ctx, q.sql, args...)
	if err != nil {
		return 0, p.queryError(ctx, layer, q, err)
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
			return count, p.queryError(ctx, layer, q, err)
		}
		f, err := p.rowToFeature(layer, names, values)
		if err != nil {
			log.Warnf("Layer %q: skipping feature: %v", layer.Name, err)
			continue
		}
		read(f)
		count++
	}
	if err := rows.Err(); err != nil {
		return count, p.queryError(ctx, layer, q, err)
	}
	if layer.QueryLimit > 0 && count == uint64(layer.QueryLimit) {
		log.Infof("Features of layer %q limited to %d (query_limit reached at zoom %d)",
			layer.Name, count, qc.Zoom)
	}
	return count, nil
}

func (p *PostGIS) queryError(ctx context.Context, layer *tileset.Layer, q *sqlQuery, err error) error {
	if ctx.Err() != nil {
		return internal.NewTransientError(internal.ErrorCodeTimeout,
			fmt.Sprintf("layer %q: query cancelled", layer.Name), err)
	}
	log.Errorf("Layer %q: %v", layer.Name, err)
	log.Errorf("Query: %s", q.sql)
	return internal.NewError(internal.ErrorCodeDatasource,
		fmt.Sprintf("layer %q: query failed", layer.Name), err)
}

// rowToFeature decodes one result row into a feature. The geometry
// column holds WKB; remaining columns become ordered attributes.
func (p *PostGIS) rowToFeature(layer *tileset.Layer, names []string, values []interface{}) (*mvt.Feature, error) {
	f := &mvt.Feature{}
	for i, name := range names {
		if name == layer.GeometryField {
			raw, ok := values[i].([]byte)
			if !ok {
				return nil, fmt.Errorf("geometry column %q is not binary", name)
			}
			geom, err := wkb.Unmarshal(raw)
			if err != nil {
				return nil, fmt.Errorf("decoding geometry: %w", err)
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

// DescribeLayer returns the attribute column names detected for the
// layer at prepare time.
func (p *PostGIS) DescribeLayer(layer *tileset.Layer) ([]string, error) {
	cols, ok := p.columns[layer.Name]
	if !ok {
		detected, err := p.detectColumns(layer, layer.Query(22, 22))
		if err != nil {
			return nil, err
		}
		cols = detected
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names, nil
}

// DetectLayers discovers layers from the geometry_columns view.
func (p *PostGIS) DetectLayers() ([]*tileset.Layer, error) {
	log.Info("Detecting layers from geometry_columns")
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	rows, err := p.db.QueryxContext(ctx,
		"SELECT f_table_schema, f_table_name, f_geometry_column, srid, type FROM geometry_columns ORDER BY f_table_schema, f_table_name DESC")
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeDatasource, "reading geometry_columns", err)
	}
	defer rows.Close()

	var layers []*tileset.Layer
	for rows.Next() {
		var schema, table, geomCol, geomType string
		var srid int
		if err := rows.Scan(&schema, &table, &geomCol, &srid, &geomType); err != nil {
			return nil, internal.NewError(internal.ErrorCodeDatasource, "scanning geometry_columns", err)
		}
		layer := &tileset.Layer{
			Name:          table,
			GeometryField: geomCol,
			GeometryType:  geomType,
			SRID:          srid,
		}
		if schema != "public" {
			layer.TableName = fmt.Sprintf("%q.%q", schema, table)
		} else {
			layer.TableName = quoteIdent(table)
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

// DetectExtent returns the layer extent in WGS84.
func (p *PostGIS) DetectExtent(layer *tileset.Layer) (*grid.Extent, error) {
	if len(layer.Queries) > 0 || layer.SRID <= 0 {
		log.Infof("Couldn't detect extent of layer %q (custom queries or unknown SRID)", layer.Name)
		return nil, nil
	}
	sql := fmt.Sprintf(
		"SELECT ST_AsBinary(ST_Transform(ST_SetSRID(ST_Extent(%s),%d),4326)) AS extent FROM %s",
		quoteIdent(layer.GeometryField), layer.SRID, layer.TableName)
	return p.extentQuery(sql)
}

// ExtentFromWGS84 projects a WGS84 extent into destSRID.
func (p *PostGIS) ExtentFromWGS84(extent grid.Extent, destSRID int) (*grid.Extent, error) {
	sql := fmt.Sprintf(
		"SELECT ST_AsBinary(ST_Transform(ST_MakeEnvelope(%f, %f, %f, %f, 4326), %d)) AS extent",
		extent.MinX, extent.MinY, extent.MaxX, extent.MaxY, destSRID)
	return p.extentQuery(sql)
}

// extentQuery runs a query returning one WKB polygon and converts it
// to an extent.
func (p *PostGIS) extentQuery(sql string) (*grid.Extent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	var raw []byte
	if err := p.db.GetContext(ctx, &raw, sql); err != nil {
		return nil, internal.NewError(internal.ErrorCodeDatasource, "extent query failed", err)
	}
	if raw == nil {
		return nil, nil
	}
	geom, err := wkb.Unmarshal(raw)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeDatasource, "decoding extent geometry", err)
	}
	b := geom.Bound()
	return &grid.Extent{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}, nil
}
