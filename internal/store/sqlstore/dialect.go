package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wfs-server/internal/query"
)

// Dialect renders the database specific parts of a statement.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	// GeomFromWKB turns a WKB parameter into a geometry value.
	GeomFromWKB(param string, srid int) string
	// GeomToWKB selects a geometry as WKB bytes.
	GeomToWKB(expr string) string
	Transform(expr string, from, to int) string
	Spatial(op query.Op, lhs, rhs, distance string) (string, error)
	Function(name string, args []string) (string, error)
}

var spatialFuncs = map[query.Op]string{
	query.OpIntersects: "ST_Intersects",
	query.OpDisjoint:   "ST_Disjoint",
	query.OpContains:   "ST_Contains",
	query.OpWithin:     "ST_Within",
	query.OpTouches:    "ST_Touches",
	query.OpCrosses:    "ST_Crosses",
	query.OpOverlaps:   "ST_Overlaps",
	query.OpEquals:     "ST_Equals",
}

func spatial(op query.Op, lhs, rhs, distance string) (string, error) {
	switch op {
	case query.OpDWithin:
		return fmt.Sprintf("ST_DWithin(%s, %s, %s)", lhs, rhs, distance), nil
	case query.OpBeyond:
		return fmt.Sprintf("NOT ST_DWithin(%s, %s, %s)", lhs, rhs, distance), nil
	}
	fn, ok := spatialFuncs[op]
	if !ok {
		return "", fmt.Errorf("sqlstore: no spatial function for %s", op)
	}
	return fmt.Sprintf("%s(%s, %s)", fn, lhs, rhs), nil
}

// arity of the functions both dialects share
var functionArity = map[string]int{
	"strConcat": 2, "strToLowerCase": 1, "strToUpperCase": 1, "strTrim": 1,
	"strLength": 1, "strSubstring": 3, "abs": 1, "ceil": 1, "floor": 1,
	"round": 1, "sqrt": 1, "area": 1, "length": 1, "h3Cell": 2,
}

func commonFunction(name string, a []string) (string, error) {
	n, ok := functionArity[name]
	if !ok {
		return "", fmt.Errorf("sqlstore: function %s is not implemented", name)
	}
	if len(a) != n {
		return "", fmt.Errorf("sqlstore: %s takes %d arguments, got %d", name, n, len(a))
	}
	switch name {
	case "strConcat":
		return fmt.Sprintf("(%s || %s)", a[0], a[1]), nil
	case "strToLowerCase":
		return "LOWER(" + a[0] + ")", nil
	case "strToUpperCase":
		return "UPPER(" + a[0] + ")", nil
	case "strTrim":
		return "TRIM(" + a[0] + ")", nil
	case "strLength":
		return "LENGTH(" + a[0] + ")", nil
	case "strSubstring":
		begin, end := "CAST("+a[1]+" AS INTEGER)", "CAST("+a[2]+" AS INTEGER)"
		return fmt.Sprintf("SUBSTRING(%s, %s + 1, GREATEST(%s - %s, 0))", a[0], begin, end, begin), nil
	case "abs", "ceil", "floor", "round", "sqrt":
		return fmt.Sprintf("%s(%s)", strings.ToUpper(name), a[0]), nil
	case "area":
		return "ST_Area(" + a[0] + ")", nil
	case "length":
		return "ST_Length(" + a[0] + ")", nil
	}
	return "", nil
}

// PostGIS targets PostgreSQL with the postgis and h3-pg extensions.
type PostGIS struct{}

func (PostGIS) Name() string             { return "postgis" }
func (PostGIS) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (PostGIS) GeomFromWKB(param string, srid int) string {
	return fmt.Sprintf("ST_GeomFromWKB(%s, %d)", param, srid)
}

func (PostGIS) GeomToWKB(expr string) string { return "ST_AsBinary(" + expr + ")" }

func (PostGIS) Transform(expr string, _, to int) string {
	return fmt.Sprintf("ST_Transform(%s, %d)", expr, to)
}

func (PostGIS) Spatial(op query.Op, lhs, rhs, distance string) (string, error) {
	return spatial(op, lhs, rhs, distance)
}

func (PostGIS) Function(name string, a []string) (string, error) {
	if name == "h3Cell" && len(a) == 2 {
		return fmt.Sprintf("CAST(h3_lat_lng_to_cell(ST_Centroid(%s), CAST(%s AS INTEGER)) AS TEXT)", a[0], a[1]), nil
	}
	return commonFunction(name, a)
}

// DuckDB targets DuckDB with the spatial and h3 extensions loaded.
// Geometries carry no SRID there, so transforms name both systems.
type DuckDB struct{}

func (DuckDB) Name() string             { return "duckdb" }
func (DuckDB) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (DuckDB) GeomFromWKB(param string, _ int) string {
	return "ST_GeomFromWKB(" + param + ")"
}

func (DuckDB) GeomToWKB(expr string) string { return "ST_AsWKB(" + expr + ")" }

func (DuckDB) Transform(expr string, from, to int) string {
	return fmt.Sprintf("ST_Transform(%s, 'EPSG:%d', 'EPSG:%d', always_xy := true)", expr, from, to)
}

func (DuckDB) Spatial(op query.Op, lhs, rhs, distance string) (string, error) {
	return spatial(op, lhs, rhs, distance)
}

func (DuckDB) Function(name string, a []string) (string, error) {
	if name == "h3Cell" && len(a) == 2 {
		c := "ST_Centroid(" + a[0] + ")"
		return fmt.Sprintf("h3_h3_to_string(h3_latlng_to_cell(ST_Y(%s), ST_X(%s), CAST(%s AS INTEGER)))", c, c, a[1]), nil
	}
	return commonFunction(name, a)
}
