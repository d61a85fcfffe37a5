package fes

import (
	"fmt"
	"strings"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/query"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
	"github.com/mohammed-shakir/wfs-server/internal/xpath"
)

// Target is the feature type a filter is compiled against.
type Target interface {
	TypeName() string
	Schema() *schema.ComplexType
	Resolve(xpath string, ns map[string]string) (*xpath.Match, error)
	// GeometryElement is the default geometry used by a BBOX without reference.
	GeometryElement() *schema.Element
}

// Compiler turns a filter tree into predicates on a query.Builder.
type Compiler struct {
	Target    Target
	Functions *Functions
	// TypeNames are the type names the query was issued for. A resource id
	// naming another type is rejected when this is set.
	TypeNames []string
}

func NewCompiler(t Target, fns *Functions) *Compiler {
	if fns == nil {
		fns = DefaultFunctions()
	}
	return &Compiler{Target: t, Functions: fns}
}

// Compile adds the filter and sort order to b and returns the finished query.
func (c *Compiler) Compile(b *query.Builder, f *Filter, sort *SortBy) (*query.Query, error) {
	root := query.CompileResult{Predicate: query.Everything{}}
	if f != nil && f.Predicate != nil {
		var err error
		if root, err = c.CompileFilter(b, f); err != nil {
			return nil, err
		}
	}
	if sort != nil {
		if err := c.CompileSortBy(b, sort); err != nil {
			return nil, err
		}
	}
	q, err := b.Finalize(root)
	if err != nil {
		return nil, ows.Internal(err)
	}
	return q, nil
}

// CompileFilter compiles the root predicate.
func (c *Compiler) CompileFilter(b *query.Builder, f *Filter) (query.CompileResult, error) {
	return c.compileOperator(b, f.Predicate)
}

func (c *Compiler) compileOperator(b *query.Builder, op Operator) (query.CompileResult, error) {
	switch o := op.(type) {
	case *BinaryComparison:
		return c.compileComparison(b, o)
	case *PropertyIsLike:
		return c.compileLike(b, o)
	case *PropertyIsNil:
		return c.compileNull(b, o.Expr, "PropertyIsNil")
	case *PropertyIsNull:
		return c.compileNull(b, o.Expr, "PropertyIsNull")
	case *PropertyIsBetween:
		return c.compileBetween(b, o)
	case *BinaryLogic:
		return c.compileLogic(b, o)
	case *Not:
		inner, err := c.compileOperator(b, o.Operand)
		if err != nil {
			return query.CompileResult{}, err
		}
		inner = inner.Merged()
		return query.CompileResult{Predicate: query.NotOf(inner.Predicate)}, nil
	case *BinarySpatial:
		return c.compileSpatial(b, o)
	case *DistanceOperator:
		return c.compileDistance(b, o)
	case *IDOperator:
		return c.compileIDs(o)
	}
	return query.CompileResult{}, ows.Internal(fmt.Errorf("fes: unhandled operator %T", op))
}

// operand is a compiled expression side. Literals stay raw until the type
// of the other side is known.
type operand struct {
	expr    query.Expr
	typ     schema.XsdType
	match   *xpath.Match
	name    string
	pending []query.Predicate
	literal *Literal
}

func (o operand) isString() bool {
	return o.typ == schema.TypeString || o.typ == schema.TypeAny
}

func (c *Compiler) compileOperand(b *query.Builder, e Expression) (operand, error) {
	switch x := e.(type) {
	case *ValueReference:
		m, err := c.Target.Resolve(x.XPath, x.NS)
		if err != nil {
			return operand{}, err
		}
		op := operand{
			expr:  query.Field{Path: m.BackendPath},
			typ:   elementType(m.Child),
			match: m,
			name:  x.XPath,
		}
		if m.ExtraFilter != nil {
			op.pending = append(op.pending, m.ExtraFilter)
		}
		return op, nil
	case *Function:
		return c.compileFunction(b, x)
	case *Literal:
		return operand{literal: x}, nil
	}
	return operand{}, ows.Internal(fmt.Errorf("fes: unhandled expression %T", e))
}

func elementType(el *schema.Element) schema.XsdType {
	if el.Type == schema.TypeID && el.Source != nil {
		return schema.KindOf(el.Source.Kind)
	}
	return el.Type
}

func (c *Compiler) compileFunction(b *query.Builder, fn *Function) (operand, error) {
	def, ok := c.Functions.Lookup(fn.Name)
	if !ok {
		return operand{}, ows.InvalidParameter("filter", "Unsupported function: %s.", fn.Name)
	}
	if len(fn.Args) != len(def.Args) {
		return operand{}, ows.TypeError("filter", "Function %s() takes %d arguments, %d given.", def.Name, len(def.Args), len(fn.Args))
	}
	out := operand{typ: def.Returns, name: def.Name + "()"}
	args := make([]query.Expr, len(fn.Args))
	for i, a := range fn.Args {
		arg, err := c.compileOperand(b, a)
		if err != nil {
			return operand{}, err
		}
		out.pending = append(out.pending, arg.pending...)
		want := def.Args[i]
		if arg.literal != nil {
			if arg.literal.Geometry != nil {
				return operand{}, ows.InvalidParameter("filter", "Function %s() does not accept a geometry literal.", def.Name)
			}
			v, err := schema.CoerceTo(want, arg.literal.Raw)
			if err != nil {
				return operand{}, ows.Parsing("filter", "Invalid filter query, value '%s' is not valid for argument %d of %s(): %v.", arg.literal.Raw, i+1, def.Name, err)
			}
			args[i] = query.Value{V: v}
			continue
		}
		if want.IsGeometry() != arg.typ.IsGeometry() {
			return operand{}, ows.ProcessingFailed("filter", "Argument %d of %s() expects %s, got %s.", i+1, def.Name, want, arg.typ)
		}
		args[i] = arg.expr
	}
	out.expr = query.Func{Name: def.Name, Args: args}
	return out, nil
}

// literalValue coerces lit to the type of the other operand.
func literalValue(lit *Literal, other operand) (query.Expr, error) {
	if lit.Geometry != nil {
		return nil, ows.InvalidParameter("filter", "A geometry can't be compared with '%s'.", other.name)
	}
	raw := lit.Raw
	if other.match != nil {
		el := other.match.Child
		if el.Type == schema.TypeID {
			raw = stripTypePrefix(raw)
		}
		v, err := el.Coerce(raw)
		if err != nil {
			return nil, ows.Parsing("filter", "Invalid filter query, value '%s' is not valid for property '%s': %v.", lit.Raw, other.name, err)
		}
		return query.Value{V: v}, nil
	}
	v, err := schema.CoerceTo(other.typ, raw)
	if err != nil {
		return nil, ows.Parsing("filter", "Invalid filter query, value '%s' is not valid for '%s': %v.", lit.Raw, other.name, err)
	}
	return query.Value{V: v}, nil
}

func stripTypePrefix(id string) string {
	if i := strings.LastIndexByte(id, '.'); i >= 0 {
		return id[i+1:]
	}
	return id
}

var compareOps = map[CompareOp]query.Op{
	EqualTo:              query.OpEqual,
	NotEqualTo:           query.OpNotEqual,
	LessThan:             query.OpLessThan,
	GreaterThan:          query.OpGreaterThan,
	LessThanOrEqualTo:    query.OpLessEqual,
	GreaterThanOrEqualTo: query.OpGreaterEqual,
}

// mirrored is used when the literal is written on the left side.
var mirrored = map[query.Op]query.Op{
	query.OpEqual:        query.OpEqual,
	query.OpNotEqual:     query.OpNotEqual,
	query.OpLessThan:     query.OpGreaterThan,
	query.OpGreaterThan:  query.OpLessThan,
	query.OpLessEqual:    query.OpGreaterEqual,
	query.OpGreaterEqual: query.OpLessEqual,
}

// lhsExpr annotates function results so stores can reuse them.
func lhsExpr(b *query.Builder, o operand) query.Expr {
	if _, isFunc := o.expr.(query.Func); isFunc {
		return b.Annotate(o.expr)
	}
	return o.expr
}

func (c *Compiler) markToMany(b *query.Builder, ops ...operand) {
	for _, o := range ops {
		if o.match != nil && o.match.IsToMany() {
			b.SetDistinct()
		}
	}
}

func (c *Compiler) compileComparison(b *query.Builder, o *BinaryComparison) (query.CompileResult, error) {
	lhs, err := c.compileOperand(b, o.Lhs)
	if err != nil {
		return query.CompileResult{}, err
	}
	rhs, err := c.compileOperand(b, o.Rhs)
	if err != nil {
		return query.CompileResult{}, err
	}
	op := compareOps[o.Op]
	if lhs.literal != nil && rhs.literal != nil {
		return query.CompileResult{}, ows.InvalidParameter(string(o.Op), "<fes:%s> needs a property or function operand.", o.Op)
	}
	if lhs.literal != nil {
		lhs, rhs = rhs, lhs
		op = mirrored[op]
	}
	if lhs.typ.IsGeometry() {
		return query.CompileResult{}, ows.ProcessingFailed(string(o.Op), "Operator %s is not supported for geometry property '%s'.", o.Op, lhs.name)
	}

	var rhsExpr query.Expr
	if rhs.literal != nil {
		if rhsExpr, err = literalValue(rhs.literal, lhs); err != nil {
			return query.CompileResult{}, err
		}
	} else {
		rhsExpr = lhsExpr(b, rhs)
	}

	c.markToMany(b, lhs, rhs)
	lookup := query.Lookup{
		Lhs:             lhsExpr(b, lhs),
		Op:              op,
		Rhs:             rhsExpr,
		CaseInsensitive: !o.MatchCase && lhs.isString(),
		Action:          query.MatchAction(o.MatchAction),
	}
	res := query.CompileResult{Predicate: lookup, Pending: append(lhs.pending, rhs.pending...)}
	return res.Merged(), nil
}

func (c *Compiler) compileLike(b *query.Builder, o *PropertyIsLike) (query.CompileResult, error) {
	lhs, err := c.compileOperand(b, o.Expr)
	if err != nil {
		return query.CompileResult{}, err
	}
	if lhs.literal != nil {
		return query.CompileResult{}, ows.InvalidParameter("PropertyIsLike", "<fes:PropertyIsLike> needs a property or function operand.")
	}
	if !lhs.isString() {
		return query.CompileResult{}, ows.ProcessingFailed("PropertyIsLike", "Operator PropertyIsLike is not supported for property '%s' of type %s.", lhs.name, lhs.typ)
	}
	pattern := LikePattern(o.Pattern.Raw, o.WildCard, o.SingleChar, o.EscapeChar)
	c.markToMany(b, lhs)
	lookup := query.Lookup{
		Lhs:             lhsExpr(b, lhs),
		Op:              query.OpLike,
		Rhs:             query.Value{V: pattern},
		CaseInsensitive: !o.MatchCase,
	}
	return query.CompileResult{Predicate: lookup, Pending: lhs.pending}.Merged(), nil
}

func (c *Compiler) compileNull(b *query.Builder, e Expression, tag string) (query.CompileResult, error) {
	lhs, err := c.compileOperand(b, e)
	if err != nil {
		return query.CompileResult{}, err
	}
	if lhs.literal != nil {
		return query.CompileResult{}, ows.InvalidParameter(tag, "<fes:%s> needs a property or function operand.", tag)
	}
	lookup := query.Lookup{Lhs: lhsExpr(b, lhs), Op: query.OpIsNull, Rhs: query.Value{V: true}}
	return query.CompileResult{Predicate: lookup, Pending: lhs.pending}.Merged(), nil
}

func (c *Compiler) compileBetween(b *query.Builder, o *PropertyIsBetween) (query.CompileResult, error) {
	lhs, err := c.compileOperand(b, o.Expr)
	if err != nil {
		return query.CompileResult{}, err
	}
	if lhs.literal != nil {
		return query.CompileResult{}, ows.InvalidParameter("PropertyIsBetween", "<fes:PropertyIsBetween> needs a property or function operand.")
	}
	bound := func(e Expression) (query.Expr, []query.Predicate, error) {
		side, err := c.compileOperand(b, e)
		if err != nil {
			return nil, nil, err
		}
		if side.literal != nil {
			v, err := literalValue(side.literal, lhs)
			return v, nil, err
		}
		return lhsExpr(b, side), side.pending, nil
	}
	lower, lp, err := bound(o.Lower)
	if err != nil {
		return query.CompileResult{}, err
	}
	upper, up, err := bound(o.Upper)
	if err != nil {
		return query.CompileResult{}, err
	}
	field := lhsExpr(b, lhs)
	c.markToMany(b, lhs)
	pred := query.AndOf(
		query.Lookup{Lhs: field, Op: query.OpGreaterEqual, Rhs: lower},
		query.Lookup{Lhs: field, Op: query.OpLessEqual, Rhs: upper},
	)
	pending := append(append(lhs.pending, lp...), up...)
	return query.CompileResult{Predicate: pred, Pending: pending}.Merged(), nil
}

func (c *Compiler) compileLogic(b *query.Builder, o *BinaryLogic) (query.CompileResult, error) {
	parts := make([]query.Predicate, 0, len(o.Operands))
	for _, child := range o.Operands {
		res, err := c.compileOperator(b, child)
		if err != nil {
			return query.CompileResult{}, err
		}
		parts = append(parts, res.Merged().Predicate)
	}
	if o.Op == Or {
		return query.CompileResult{Predicate: query.OrOf(parts...)}, nil
	}
	return query.CompileResult{Predicate: query.AndOf(parts...)}, nil
}

// geometryTarget resolves the property a spatial operator applies to.
func (c *Compiler) geometryTarget(ref *ValueReference, tag string) (operand, error) {
	if ref == nil {
		el := c.Target.GeometryElement()
		if el == nil {
			return operand{}, ows.InvalidParameter(tag, "Feature '%s' has no geometry field.", c.Target.TypeName())
		}
		return operand{expr: query.Field{Path: el.BackendPath()}, typ: el.Type, name: el.Name,
			match: &xpath.Match{Nodes: []*schema.Element{el}, Child: el, BackendPath: el.BackendPath(), XPath: el.Name}}, nil
	}
	m, err := c.Target.Resolve(ref.XPath, ref.NS)
	if err != nil {
		return operand{}, err
	}
	if !m.Child.IsGeometry() {
		return operand{}, ows.ProcessingFailed(tag, "Operator %s is not supported for non-geometry property '%s'.", tag, ref.XPath)
	}
	op := operand{expr: query.Field{Path: m.BackendPath}, typ: m.Child.Type, match: m, name: ref.XPath}
	if m.ExtraFilter != nil {
		op.pending = append(op.pending, m.ExtraFilter)
	}
	return op, nil
}

// storageGeometry brings the literal into the property's storage CRS.
func storageGeometry(lit *Literal, target operand) (query.GeometryValue, error) {
	srid := target.match.Child.SRID()
	if srid == 0 {
		srid = lit.Geometry.SRID
	}
	g, err := crs.ToStorage(lit.Geometry.OrientedGeometry, srid)
	if err != nil {
		return query.GeometryValue{}, ows.InvalidParameter("srsName", "Unable to use geometry in %s: %v.", lit.Geometry.CRS, err)
	}
	return query.GeometryValue{Geom: g.Geom, SRID: g.SRID}, nil
}

var spatialOps = map[SpatialOp]query.Op{
	// BBOX matches partial overlap as well
	BBOX:       query.OpIntersects,
	Equals:     query.OpEquals,
	Disjoint:   query.OpDisjoint,
	Touches:    query.OpTouches,
	Within:     query.OpWithin,
	Overlaps:   query.OpOverlaps,
	Crosses:    query.OpCrosses,
	Intersects: query.OpIntersects,
	Contains:   query.OpContains,
}

func (c *Compiler) compileSpatial(b *query.Builder, o *BinarySpatial) (query.CompileResult, error) {
	target, err := c.geometryTarget(o.Ref, string(o.Op))
	if err != nil {
		return query.CompileResult{}, err
	}
	gv, err := storageGeometry(o.Geometry, target)
	if err != nil {
		return query.CompileResult{}, err
	}
	c.markToMany(b, target)
	lookup := query.Lookup{Lhs: target.expr, Op: spatialOps[o.Op], Rhs: gv}
	return query.CompileResult{Predicate: lookup, Pending: target.pending}.Merged(), nil
}

const metersPerDegree = 111319.49

var unitsInMeters = map[string]float64{
	"m":                          1,
	"meter":                      1,
	"meters":                     1,
	"metre":                      1,
	"urn:ogc:def:uom:EPSG::9001": 1,
	"km":                         1000,
	"kilometer":                  1000,
	"kilometers":                 1000,
	"ft":                         0.3048,
	"foot":                       0.3048,
	"feet":                       0.3048,
	"urn:ogc:def:uom:EPSG::9002": 0.3048,
	"mi":                         1609.344,
	"mile":                       1609.344,
	"miles":                      1609.344,
	"nmi":                        1852,
}

var degreeUnits = map[string]bool{
	"deg":                        true,
	"degree":                     true,
	"degrees":                    true,
	"urn:ogc:def:uom:EPSG::9102": true,
}

// storageDistance converts a distance into the units of the storage CRS.
func storageDistance(d float64, units string, srid int) (float64, error) {
	u := strings.TrimSpace(units)
	geographic := crs.IsGeographic(srid)
	if u == "" {
		return d, nil
	}
	if degreeUnits[u] || degreeUnits[strings.ToLower(u)] {
		if geographic {
			return d, nil
		}
		return d * metersPerDegree, nil
	}
	factor, ok := unitsInMeters[u]
	if !ok {
		factor, ok = unitsInMeters[strings.ToLower(u)]
	}
	if !ok {
		return 0, ows.InvalidParameter("uom", "Unsupported distance unit '%s'.", units)
	}
	if geographic {
		return d * factor / metersPerDegree, nil
	}
	return d * factor, nil
}

func (c *Compiler) compileDistance(b *query.Builder, o *DistanceOperator) (query.CompileResult, error) {
	target, err := c.geometryTarget(o.Ref, string(o.Op))
	if err != nil {
		return query.CompileResult{}, err
	}
	gv, err := storageGeometry(o.Geometry, target)
	if err != nil {
		return query.CompileResult{}, err
	}
	dist, err := storageDistance(o.Distance, o.Units, gv.SRID)
	if err != nil {
		return query.CompileResult{}, err
	}
	op := query.OpDWithin
	if o.Op == Beyond {
		op = query.OpBeyond
	}
	c.markToMany(b, target)
	lookup := query.Lookup{Lhs: target.expr, Op: op, Rhs: gv, Distance: dist}
	return query.CompileResult{Predicate: lookup, Pending: target.pending}.Merged(), nil
}

// SplitResourceID splits "typeName.identifier".
func SplitResourceID(rid string) (typeName, id string, ok bool) {
	i := strings.LastIndexByte(rid, '.')
	if i <= 0 || i == len(rid)-1 {
		return "", "", false
	}
	return rid[:i], rid[i+1:], true
}

func (c *Compiler) compileIDs(o *IDOperator) (query.CompileResult, error) {
	root := c.Target.Schema()
	pk := root.GmlID()
	var values []any
	for _, rid := range o.IDs {
		typeName, id, ok := SplitResourceID(rid.RID)
		if !ok {
			return query.CompileResult{}, ows.InvalidParameter("resourceId", "Invalid resourceId '%s', expected 'typename.identifier'.", rid.RID)
		}
		if !sameTypeName(typeName, c.Target.TypeName()) {
			if len(c.TypeNames) > 0 && !containsTypeName(c.TypeNames, typeName) {
				return query.CompileResult{}, ows.InvalidParameter("resourceId",
					"The ResourceId type '%s' does not match the requested typeNames '%s'.", typeName, strings.Join(c.TypeNames, ","))
			}
			continue
		}
		v, err := pk.Coerce(id)
		if err != nil {
			// an identifier of the wrong type can't match any row
			continue
		}
		values = append(values, v)
	}
	field := query.Field{Path: pk.BackendPath()}
	switch len(values) {
	case 0:
		return query.CompileResult{Predicate: query.Nothing{}}, nil
	case 1:
		return query.CompileResult{Predicate: query.Lookup{Lhs: field, Op: query.OpEqual, Rhs: query.Value{V: values[0]}}}, nil
	}
	return query.CompileResult{Predicate: query.Lookup{Lhs: field, Op: query.OpIn, Rhs: query.Value{V: values}}}, nil
}

// sameTypeName compares ignoring a namespace prefix on either side.
func sameTypeName(a, b string) bool {
	_, la := schema.SplitQName(a)
	_, lb := schema.SplitQName(b)
	return la == lb
}

func containsTypeName(list []string, name string) bool {
	for _, n := range list {
		if sameTypeName(n, name) {
			return true
		}
	}
	return false
}

// CompileSortBy appends the sort properties to the builder's ordering.
func (c *Compiler) CompileSortBy(b *query.Builder, s *SortBy) error {
	for _, p := range s.Properties {
		if strings.Contains(p.Ref.XPath, "@") || strings.Contains(p.Ref.XPath, "[") {
			return ows.InvalidParameter("sortBy", "Sorting on attribute selectors is not supported: '%s'.", p.Ref.XPath)
		}
		m, err := c.Target.Resolve(p.Ref.XPath, p.Ref.NS)
		if err != nil {
			return ows.As(err).WithLocator("sortBy")
		}
		if m.Child.IsComplex() || m.Child.IsGeometry() {
			return ows.InvalidParameter("sortBy", "Property '%s' can't be used for sorting.", p.Ref.XPath)
		}
		b.AddOrdering(query.Order{Expr: query.Field{Path: m.BackendPath}, Desc: p.Desc})
	}
	return nil
}
