package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/pkg/errors"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/projection"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

var errToMany = errors.New("sqlstore: a to-many path can only be filtered on")

// Statement is one rendered SQL statement and its arguments.
type Statement struct {
	SQL  string
	Args []any

	outputs []output
}

// output describes how a selected column lands in the record.
type output struct {
	path     []string
	kind     datamodel.Kind
	elem     datamodel.Kind
	geometry bool
}

// state is shared by a statement and its subqueries.
type state struct {
	args []any
	seq  int
}

type builder struct {
	d       Dialect
	q       *query.Query
	st      *state
	model   *datamodel.Model
	root    string
	joins   []string
	aliases map[string]string
}

func newBuilder(d Dialect, q *query.Query, model *datamodel.Model, st *state) *builder {
	b := &builder{d: d, q: q, st: st, model: model, aliases: map[string]string{}}
	b.root = b.nextAlias("t")
	return b
}

// child starts a correlated subquery over model.
func (b *builder) child(model *datamodel.Model) *builder {
	return newBuilder(b.d, b.q, model, b.st)
}

func (b *builder) nextAlias(prefix string) string {
	a := prefix + strconv.Itoa(b.st.seq)
	b.st.seq++
	return a
}

func (b *builder) arg(v any) string {
	b.st.args = append(b.st.args, v)
	return b.d.Placeholder(len(b.st.args))
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func col(alias, column string) string { return alias + "." + quote(column) }

func (b *builder) from() string {
	return quote(b.model.Table) + " " + b.root + b.joinSQL()
}

func (b *builder) joinSQL() string {
	if len(b.joins) == 0 {
		return ""
	}
	return " " + strings.Join(b.joins, " ")
}

// aliasFor left-joins a to-one chain and returns the alias of its last table.
func (b *builder) aliasFor(chain []*datamodel.Field) string {
	alias := b.root
	key := ""
	for _, f := range chain {
		if key != "" {
			key += "."
		}
		key += f.Name
		if a, ok := b.aliases[key]; ok {
			alias = a
			continue
		}
		target := f.Rel.Target
		a := b.nextAlias("t")
		b.joins = append(b.joins, fmt.Sprintf("LEFT JOIN %s %s ON %s = %s",
			quote(target.Table), a, col(a, target.PK().Column), col(alias, f.Column)))
		b.aliases[key] = a
		alias = a
	}
	return alias
}

func firstToMany(fields []*datamodel.Field) int {
	for i, f := range fields {
		if f.IsToMany() {
			return i
		}
	}
	return -1
}

func (b *builder) column(fields []*datamodel.Field) (string, error) {
	if firstToMany(fields) >= 0 {
		return "", errToMany
	}
	last := fields[len(fields)-1]
	return col(b.aliasFor(fields[:len(fields)-1]), last.Column), nil
}

func (b *builder) expr(e query.Expr) (string, error) {
	switch x := e.(type) {
	case query.Field:
		fields, err := b.model.ResolvePath(x.Path)
		if err != nil {
			return "", err
		}
		return b.column(fields)
	case query.Value:
		return b.arg(x.V), nil
	case query.GeometryValue:
		data, err := wkb.Marshal(x.Geom)
		if err != nil {
			return "", errors.Wrap(err, "sqlstore: encode geometry")
		}
		return b.d.GeomFromWKB(b.arg(data), x.SRID), nil
	case query.AnnotationRef:
		if b.q == nil {
			return "", errors.Errorf("sqlstore: unknown annotation %q", x.Name)
		}
		a, ok := b.q.Annotation(x.Name)
		if !ok {
			return "", errors.Errorf("sqlstore: unknown annotation %q", x.Name)
		}
		s, err := b.expr(a.Expr)
		if err != nil {
			return "", err
		}
		return "(" + s + ")", nil
	case query.Func:
		if x.Name == projection.TransformFunc {
			return b.transform(x)
		}
		args := make([]string, len(x.Args))
		for i, a := range x.Args {
			s, err := b.expr(a)
			if err != nil {
				return "", err
			}
			args[i] = s
		}
		return b.d.Function(x.Name, args)
	}
	return "", errors.Errorf("sqlstore: unsupported expression %T", e)
}

func (b *builder) transform(fn query.Func) (string, error) {
	if len(fn.Args) != 2 {
		return "", errors.New("sqlstore: transform takes 2 arguments")
	}
	f, ok := fn.Args[0].(query.Field)
	if !ok {
		return "", errors.New("sqlstore: transform needs a field argument")
	}
	v, ok := fn.Args[1].(query.Value)
	if !ok {
		return "", errors.New("sqlstore: transform needs a literal SRID")
	}
	to, ok := toInt(v.V)
	if !ok {
		return "", errors.Errorf("sqlstore: bad SRID %v", v.V)
	}
	fields, err := b.model.ResolvePath(f.Path)
	if err != nil {
		return "", err
	}
	c, err := b.column(fields)
	if err != nil {
		return "", err
	}
	return b.d.Transform(c, fields[len(fields)-1].SRID, int(to)), nil
}

func (b *builder) where(p query.Predicate) (string, error) {
	switch x := p.(type) {
	case nil, query.Everything:
		return "TRUE", nil
	case query.Nothing:
		return "FALSE", nil
	case query.And:
		return b.join(x, " AND ", "TRUE")
	case query.Or:
		return b.join(x, " OR ", "FALSE")
	case query.Not:
		s, err := b.where(x.P)
		if err != nil {
			return "", err
		}
		// null comparisons count as false before negation
		return "NOT COALESCE(" + s + ", FALSE)", nil
	case query.Lookup:
		return b.lookup(x)
	case query.Exists:
		return b.exists(x)
	}
	return "", errors.Errorf("sqlstore: unsupported predicate %T", p)
}

func (b *builder) join(ps []query.Predicate, sep, empty string) (string, error) {
	if len(ps) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		s, err := b.where(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *builder) lookup(l query.Lookup) (string, error) {
	rhs, err := b.rhs(l)
	if err != nil {
		return "", err
	}
	if f, ok := l.Lhs.(query.Field); ok {
		fields, err := b.model.ResolvePath(f.Path)
		if err != nil {
			return "", err
		}
		if i := firstToMany(fields); i >= 0 {
			return b.toMany(fields, i, l, rhs)
		}
	}
	lhs, err := b.expr(l.Lhs)
	if err != nil {
		return "", err
	}
	return b.compare(lhs, l, rhs)
}

// rhs renders the right-hand side once, in the scope of the outer query.
func (b *builder) rhs(l query.Lookup) (string, error) {
	switch {
	case l.Rhs == nil || l.Op == query.OpIsNull:
		return "", nil
	case l.Op == query.OpIn:
		v, ok := l.Rhs.(query.Value)
		if !ok {
			return "", errors.New("sqlstore: IN needs a value list")
		}
		items, ok := v.V.([]any)
		if !ok {
			items = []any{v.V}
		}
		ps := make([]string, len(items))
		for i, item := range items {
			ps[i] = b.arg(item)
			if l.CaseInsensitive {
				ps[i] = "LOWER(" + ps[i] + ")"
			}
		}
		return strings.Join(ps, ", "), nil
	}
	return b.expr(l.Rhs)
}

var comparisonOps = map[query.Op]string{
	query.OpEqual:        "=",
	query.OpNotEqual:     "<>",
	query.OpLessThan:     "<",
	query.OpLessEqual:    "<=",
	query.OpGreaterThan:  ">",
	query.OpGreaterEqual: ">=",
}

func (b *builder) compare(lhs string, l query.Lookup, rhs string) (string, error) {
	switch {
	case l.Op == query.OpIsNull:
		if want, _ := lookupValue(l).(bool); want {
			return lhs + " IS NULL", nil
		}
		return lhs + " IS NOT NULL", nil
	case l.Op.IsSpatial():
		distance := ""
		if l.Op == query.OpDWithin || l.Op == query.OpBeyond {
			distance = b.arg(l.Distance)
		}
		return b.d.Spatial(l.Op, lhs, rhs, distance)
	case l.Op == query.OpIn:
		if rhs == "" {
			return "FALSE", nil
		}
		if l.CaseInsensitive {
			lhs = "LOWER(" + lhs + ")"
		}
		return lhs + " IN (" + rhs + ")", nil
	case l.Op == query.OpLike:
		op := "LIKE"
		if l.CaseInsensitive {
			op = "ILIKE"
		}
		return fmt.Sprintf("CAST(%s AS VARCHAR) %s %s ESCAPE '\\'", lhs, op, rhs), nil
	}
	op, ok := comparisonOps[l.Op]
	if !ok {
		return "", errors.Errorf("sqlstore: unsupported operator %s", l.Op)
	}
	if l.CaseInsensitive {
		return fmt.Sprintf("LOWER(%s) %s LOWER(%s)", lhs, op, rhs), nil
	}
	return lhs + " " + op + " " + rhs, nil
}

func lookupValue(l query.Lookup) any {
	if v, ok := l.Rhs.(query.Value); ok {
		return v.V
	}
	return nil
}

// toMany renders a lookup through a to-many relation as a correlated
// subquery. Any matches one related value, All requires related values that
// all match, One exactly one match.
func (b *builder) toMany(fields []*datamodel.Field, i int, l query.Lookup, rhs string) (string, error) {
	rel := fields[i]
	target := rel.Rel.Target
	sub := b.child(target)
	from, link, err := b.correlate(b.aliasFor(fields[:i]), rel, sub)
	if err != nil {
		return "", err
	}

	rest := fields[i+1:]
	leaf := func(inner query.Lookup) (string, error) {
		if j := firstToMany(rest); j >= 0 {
			return sub.toMany(rest, j, inner, rhs)
		}
		lhs := col(sub.root, target.PK().Column)
		if len(rest) > 0 {
			var err error
			if lhs, err = sub.column(rest); err != nil {
				return "", err
			}
		}
		return b.compare(lhs, inner, rhs)
	}
	subquery := func(what, cond string) string {
		where := link
		if cond != "" {
			where += " AND " + cond
		}
		return "SELECT " + what + " FROM " + from + sub.joinSQL() + " WHERE " + where
	}

	if l.Op == query.OpIsNull {
		present := l
		present.Rhs = query.Value{V: false}
		cond, err := leaf(present)
		if err != nil {
			return "", err
		}
		exists := "EXISTS (" + subquery("1", cond) + ")"
		if want, _ := lookupValue(l).(bool); want {
			return "NOT " + exists, nil
		}
		return exists, nil
	}

	cond, err := leaf(l)
	if err != nil {
		return "", err
	}
	switch l.Action {
	case query.MatchAll:
		return fmt.Sprintf("(EXISTS (%s) AND NOT EXISTS (%s))",
			subquery("1", ""), subquery("1", "NOT COALESCE("+cond+", FALSE)")), nil
	case query.MatchOne:
		return "(" + subquery("COUNT(*)", cond) + ") = 1", nil
	}
	return "EXISTS (" + subquery("1", cond) + ")", nil
}

// correlate returns the FROM clause of a subquery over the rows of a to-many
// relation and the condition tying them to the owner row.
func (b *builder) correlate(owner string, rel *datamodel.Field, sub *builder) (from, link string, err error) {
	target := rel.Rel.Target
	ownerKey := col(owner, rel.Model.PK().Column)
	switch rel.Kind {
	case datamodel.KindOneToMany:
		from = quote(target.Table) + " " + sub.root
		link = col(sub.root, rel.Rel.RemoteColumn) + " = " + ownerKey
	case datamodel.KindManyToMany:
		j := b.nextAlias("j")
		from = fmt.Sprintf("%s %s JOIN %s %s ON %s = %s",
			quote(rel.Rel.Through), j, quote(target.Table), sub.root,
			col(sub.root, target.PK().Column), col(j, rel.Rel.ThroughRemote))
		link = col(j, rel.Rel.ThroughLocal) + " = " + ownerKey
	default:
		return "", "", errors.Errorf("sqlstore: %s is not a to-many relation", rel)
	}
	return from, link, nil
}

// exists renders a predicate that must hold for one related row as a
// single correlated subquery.
func (b *builder) exists(x query.Exists) (string, error) {
	fields, err := b.model.ResolvePath(x.Path)
	if err != nil {
		return "", err
	}
	i := firstToMany(fields)
	if i < 0 || !fields[len(fields)-1].IsToMany() {
		return "", errors.Errorf("sqlstore: %q does not end in a to-many relation", x.Path)
	}
	rel := fields[i]
	sub := b.child(rel.Rel.Target)
	from, link, err := b.correlate(b.aliasFor(fields[:i]), rel, sub)
	if err != nil {
		return "", err
	}
	inner := x.Where
	if rest := fields[i+1:]; len(rest) > 0 {
		names := make([]string, len(rest))
		for k, f := range rest {
			names[k] = f.Name
		}
		inner = query.Exists{Path: strings.Join(names, "."), Where: x.Where}
	}
	cond, err := sub.where(inner)
	if err != nil {
		return "", err
	}
	return "EXISTS (SELECT 1 FROM " + from + sub.joinSQL() + " WHERE " + link + " AND " + cond + ")", nil
}

// selectList renders the output columns. Empty paths select every column of
// the model.
func (b *builder) selectList(paths []string, annotations []query.Annotation) (string, []output, error) {
	if len(paths) == 0 {
		for _, f := range b.model.Fields {
			if !f.IsToMany() {
				paths = append(paths, f.Name)
			}
		}
	}
	var cols []string
	var outs []output
	for _, p := range paths {
		fields, err := b.model.ResolvePath(p)
		if err != nil {
			return "", nil, err
		}
		if firstToMany(fields) >= 0 {
			continue
		}
		c, err := b.column(fields)
		if err != nil {
			return "", nil, err
		}
		last := fields[len(fields)-1]
		out := output{path: strings.Split(p, "."), kind: last.Kind, elem: last.ElemKind}
		switch {
		case last.IsRelation():
			out.kind = last.Rel.Target.PK().Kind
		case last.IsGeometry():
			out.geometry = true
			c = b.d.GeomToWKB(c)
		case last.Kind == datamodel.KindDecimal:
			c = "CAST(" + c + " AS DOUBLE PRECISION)"
		case last.Kind == datamodel.KindTime:
			c = "CAST(" + c + " AS VARCHAR)"
		}
		cols = append(cols, fmt.Sprintf("%s AS c%d", c, len(cols)))
		outs = append(outs, out)
	}
	for _, a := range annotations {
		c, err := b.expr(a.Expr)
		if err != nil {
			return "", nil, errors.Wrapf(err, "annotation %s", a.Name)
		}
		out := output{path: []string{a.Name}}
		if b.isGeometry(a.Expr) {
			out.geometry = true
			c = b.d.GeomToWKB(c)
		}
		cols = append(cols, fmt.Sprintf("%s AS c%d", c, len(cols)))
		outs = append(outs, out)
	}
	return strings.Join(cols, ", "), outs, nil
}

func (b *builder) isGeometry(e query.Expr) bool {
	switch x := e.(type) {
	case query.Func:
		return x.Name == projection.TransformFunc
	case query.Field:
		fields, err := b.model.ResolvePath(x.Path)
		return err == nil && fields[len(fields)-1].IsGeometry()
	case query.GeometryValue:
		return true
	}
	return false
}

// orderBy sorts nulls last ascending and first descending, then by primary key.
func (b *builder) orderBy(ordering []query.Order) (string, error) {
	parts := make([]string, 0, len(ordering)+1)
	for _, o := range ordering {
		s, err := b.expr(o.Expr)
		if err != nil {
			return "", err
		}
		if o.Desc {
			parts = append(parts, s+" DESC NULLS FIRST")
		} else {
			parts = append(parts, s+" ASC NULLS LAST")
		}
	}
	parts = append(parts, col(b.root, b.model.PK().Column)+" ASC")
	return strings.Join(parts, ", "), nil
}

// SelectStatement renders a page of q. Rows are unique by construction
// (to-one joins and EXISTS subqueries), so Distinct needs no keyword.
func SelectStatement(d Dialect, q *query.Query, page query.Page) (*Statement, error) {
	st := &state{}
	b := newBuilder(d, q, q.Model, st)
	where, err := b.where(q.Where)
	if err != nil {
		return nil, err
	}
	cols, outs, err := b.selectList(q.Only, q.Annotations)
	if err != nil {
		return nil, err
	}
	order, err := b.orderBy(q.Ordering)
	if err != nil {
		return nil, err
	}
	sql := "SELECT " + cols + " FROM " + b.from() + " WHERE " + where + " ORDER BY " + order
	if page.Limit >= 0 {
		sql += " LIMIT " + b.arg(page.Limit)
	}
	if page.Offset > 0 {
		sql += " OFFSET " + b.arg(page.Offset)
	}
	return &Statement{SQL: sql, Args: st.args, outputs: outs}, nil
}

// CountStatement renders the number of rows q selects.
func CountStatement(d Dialect, q *query.Query) (*Statement, error) {
	st := &state{}
	b := newBuilder(d, q, q.Model, st)
	where, err := b.where(q.Where)
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: "SELECT COUNT(*) FROM " + b.from() + " WHERE " + where, Args: st.args}, nil
}

// PrefetchStatement selects the rows of a to-many relation for the given
// owner keys. The first column is the owner key.
func PrefetchStatement(d Dialect, rel *datamodel.Field, fields []string, keys []any) (*Statement, error) {
	st := &state{}
	target := rel.Rel.Target
	b := newBuilder(d, nil, target, st)
	pk := col(b.root, target.PK().Column)

	var from, ownerKey, order string
	switch rel.Kind {
	case datamodel.KindOneToMany:
		ownerKey = col(b.root, rel.Rel.RemoteColumn)
		from = quote(target.Table) + " " + b.root
		order = pk
	case datamodel.KindManyToMany:
		j := b.nextAlias("j")
		ownerKey = col(j, rel.Rel.ThroughLocal)
		from = fmt.Sprintf("%s %s JOIN %s %s ON %s = %s",
			quote(rel.Rel.Through), j, quote(target.Table), b.root, pk, col(j, rel.Rel.ThroughRemote))
		order = ownerKey + ", " + pk
	default:
		return nil, errors.Errorf("sqlstore: %s is not a to-many relation", rel)
	}
	cols, outs, err := b.selectList(fields, nil)
	if err != nil {
		return nil, err
	}
	ps := make([]string, len(keys))
	for i, k := range keys {
		ps[i] = b.arg(k)
	}
	sql := "SELECT " + ownerKey + " AS owner_key, " + cols + " FROM " + from + b.joinSQL() +
		" WHERE " + ownerKey + " IN (" + strings.Join(ps, ", ") + ") ORDER BY " + order
	owner := output{kind: rel.Model.PK().Kind}
	return &Statement{SQL: sql, Args: st.args, outputs: append([]output{owner}, outs...)}, nil
}
