// internal/datasource/sql.go - Feature query construction for PostGIS layers
package datasource

import (
	"fmt"
	"strings"

	"github.com/tilecraft/tilecraft/internal/tileset"
)

// Runtime tokens recognized in layer query templates. They are
// rewritten into numbered bind parameters at query-plan build time so
// prepared statements stay reusable.
const (
	tokenBbox             = "!bbox!"
	tokenZoom             = "!zoom!"
	tokenPixelWidth       = "!pixel_width!"
	tokenScaleDenominator = "!scale_denominator!"
)

// queryParam identifies one bound runtime value.
type queryParam int

const (
	paramBbox queryParam = iota
	paramZoom
	paramPixelWidth
	paramScaleDenominator
)

// sqlQuery is a rewritten feature query with its parameter order.
type sqlQuery struct {
	sql    string
	params []queryParam
}

// bindValues resolves the parameter list for one tile request.
// The bbox expands to four values (minx, miny, maxx, maxy).
func (q *sqlQuery) bindValues(minx, miny, maxx, maxy float64, qc QueryContext) []interface{} {
	args := make([]interface{}, 0, len(q.params)+3)
	for _, p := range q.params {
		switch p {
		case paramBbox:
			args = append(args, minx, miny, maxx, maxy)
		case paramZoom:
			args = append(args, int(qc.Zoom))
		case paramPixelWidth:
			args = append(args, qc.PixelWidth)
		case paramScaleDenominator:
			args = append(args, qc.ScaleDenominator)
		}
	}
	return args
}

// replaceParams rewrites the runtime tokens into $n placeholders.
// bboxExpr is the replacement for !bbox! and consumes $1..$4.
func (q *sqlQuery) replaceParams(bboxExpr string) {
	numVars := 0
	if strings.Contains(q.sql, tokenBbox) {
		q.params = append(q.params, paramBbox)
		numVars += 4
		q.sql = strings.ReplaceAll(q.sql, tokenBbox, bboxExpr)
	}
	for _, tok := range []struct {
		token string
		param queryParam
		cast  string
	}{
		{tokenZoom, paramZoom, ""},
		{tokenPixelWidth, paramPixelWidth, "FLOAT8"},
		{tokenScaleDenominator, paramScaleDenominator, "FLOAT8"},
	} {
		if strings.Contains(q.sql, tok.token) {
			q.params = append(q.params, tok.param)
			numVars++
			placeholder := fmt.Sprintf("$%d", numVars)
			if tok.cast != "" {
				placeholder += "::" + tok.cast
			}
			q.sql = strings.ReplaceAll(q.sql, tok.token, placeholder)
		}
	}
}

// validSQLForParams substitutes harmless constants for the runtime
// tokens so a template can be prepared for column detection.
func validSQLForParams(sql string) string {
	r := strings.NewReplacer(
		tokenBbox, "ST_MakeEnvelope(0,0,0,0,3857)",
		tokenZoom, "0",
		tokenPixelWidth, "0",
		tokenScaleDenominator, "0",
	)
	return r.Replace(sql)
}

// buildGeomExpr builds the geometry selection expression. The
// geometry leaves the database two-dimensional, valid (when
// requested) and in grid CRS; clipping and simplification run
// in-process afterwards.
func buildGeomExpr(layer *tileset.Layer, gridSRID int) string {
	geomName := layer.GeometryField
	expr := geomName

	switch strings.ToUpper(layer.GeometryType) {
	case "CURVEPOLYGON", "COMPOUNDCURVE":
		expr = fmt.Sprintf("ST_CurveToLine(%s)", expr)
	}

	if layer.MakeValid {
		expr = fmt.Sprintf("ST_MakeValid(%s)", expr)
	}

	expr = fmt.Sprintf("ST_Force2D(%s)", expr)

	layerSRID := layer.SRID
	if layerSRID <= 0 {
		expr = fmt.Sprintf("ST_SetSRID(%s,%d)", expr, gridSRID)
	} else if layerSRID != gridSRID {
		if layer.NoTransform {
			expr = fmt.Sprintf("ST_SetSRID(%s,%d)", expr, gridSRID)
		} else {
			expr = fmt.Sprintf("ST_Transform(%s,%d)", expr, gridSRID)
		}
	}

	return fmt.Sprintf("ST_AsBinary(%s) AS %s", expr, quoteIdent(geomName))
}

// buildBboxExpr builds the !bbox! replacement. The envelope is
// expanded by the layer buffer scaled with !pixel_width! and
// transformed into the layer SRID when it differs from the grid.
func buildBboxExpr(layer *tileset.Layer, gridSRID int) string {
	layerSRID := layer.SRID
	if layerSRID == 0 {
		layerSRID = gridSRID
	}
	envSRID := gridSRID
	if layerSRID <= 0 || layer.NoTransform {
		envSRID = layerSRID
	}

	expr := fmt.Sprintf("ST_MakeEnvelope($1,$2,$3,$4,%d)", envSRID)
	if layer.BufferSize != 0 {
		pfact := float64(layer.BufferSize) * 256.0 / float64(layer.Extent())
		expr = fmt.Sprintf(
			"ST_MakeEnvelope($1-%[1]g*!pixel_width!,$2-%[1]g*!pixel_width!,$3+%[1]g*!pixel_width!,$4+%[1]g*!pixel_width!,%[2]d)",
			pfact, envSRID)
	}
	if layerSRID > 0 && layerSRID != envSRID && !layer.NoTransform {
		expr = fmt.Sprintf("ST_Transform(%s,%d)", expr, layerSRID)
	}
	if layer.ShiftLongitude {
		expr = fmt.Sprintf("ST_Shift_Longitude(%s)", expr)
	}
	return expr
}

// buildQuery assembles the feature query for one layer and zoom level.
// columns are the detected attribute columns with their cast types.
func buildQuery(layer *tileset.Layer, gridSRID int, userSQL string, columns []column) *sqlQuery {
	geomExpr := buildGeomExpr(layer, gridSRID)
	selectList := buildSelectList(geomExpr, columns)
	intersectClause := fmt.Sprintf(" WHERE %s && !bbox!", quoteIdent(layer.GeometryField))

	var sql string
	if userSQL != "" {
		sql = fmt.Sprintf("SELECT %s FROM (%s) AS _q", selectList, userSQL)
		if !strings.Contains(userSQL, tokenBbox) {
			sql += intersectClause
		}
	} else {
		if layer.TableName == "" {
			return nil
		}
		sql = fmt.Sprintf("SELECT %s FROM %s", selectList, layer.TableName)
		sql += intersectClause
	}

	if layer.QueryLimit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", layer.QueryLimit)
	}

	q := &sqlQuery{sql: sql}
	q.replaceParams(buildBboxExpr(layer, gridSRID))
	return q
}

// column is a detected attribute column with an optional cast.
type column struct {
	name string
	cast string
}

func buildSelectList(geomExpr string, columns []column) string {
	cols := make([]string, 0, len(columns)+1)
	cols = append(cols, geomExpr)
	for _, c := range columns {
		// Quote column names to guarantee validity; they may carry colons
		if c.cast == "" {
			cols = append(cols, quoteIdent(c.name))
		} else {
			cols = append(cols, fmt.Sprintf("%s::%s", quoteIdent(c.name), c.cast))
		}
	}
	return strings.Join(cols, ",")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// castForType maps a PostgreSQL type name to the cast needed for
// automatic conversion. Empty means native support, "-" means the
// column is omitted from attributes.
func castForType(dbType string) string {
	switch strings.ToUpper(dbType) {
	case "VARCHAR", "TEXT", "CHAR", "BPCHAR", "NAME",
		"FLOAT4", "FLOAT8", "INT2", "INT4", "INT8", "BOOL":
		return ""
	case "NUMERIC":
		return "FLOAT8"
	case "GEOMETRY", "GEOGRAPHY":
		return ""
	default:
		return "-"
	}
}
