package query

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
)

// Annotation is a named computed expression. OutputOnly annotations exist for
// rendering and are stripped from count queries.
type Annotation struct {
	Name       string
	Expr       Expr
	OutputOnly bool
}

type Order struct {
	Expr Expr
	Desc bool
}

// PrefetchGroup loads one relation of the fetched rows in a separate step.
type PrefetchGroup struct {
	// Path is the relation's dotted path from the root model.
	Path string
	// Fields are paths relative to the related model.
	Fields []string
	// BackLink is the related model's field pointing back at the parent, set
	// for reverse foreign keys.
	BackLink string
}

// Query is the compiled, immutable query handle handed to a Store. Slicing
// and counting it never recompiles the filter.
type Query struct {
	Model       *datamodel.Model
	Where       Predicate
	Annotations []Annotation
	Ordering    []Order
	Distinct    bool
	Empty       bool

	// Only lists the field paths to load; empty loads every column.
	Only     []string
	Prefetch []PrefetchGroup
}

// ForCount drops everything a count does not need.
func (q *Query) ForCount() *Query {
	cp := &Query{
		Model:    q.Model,
		Where:    q.Where,
		Distinct: q.Distinct,
		Empty:    q.Empty,
	}
	for _, a := range q.Annotations {
		if !a.OutputOnly {
			cp.Annotations = append(cp.Annotations, a)
		}
	}
	return cp
}

// WithOutput returns a copy carrying the projection's field pruning and
// rendering annotations.
func (q *Query) WithOutput(only []string, prefetch []PrefetchGroup, annotations ...Annotation) *Query {
	cp := *q
	cp.Only = only
	cp.Prefetch = prefetch
	cp.Annotations = append(append([]Annotation(nil), q.Annotations...), annotations...)
	return &cp
}

func (q *Query) Annotation(name string) (Annotation, bool) {
	for _, a := range q.Annotations {
		if a.Name == name {
			return a, true
		}
	}
	return Annotation{}, false
}

// Fingerprint identifies the rows a query selects, ignoring ordering and
// output-only parts.
func (q *Query) Fingerprint() uint64 {
	var b strings.Builder
	b.WriteString(q.Model.Name)
	b.WriteString("|")
	if q.Where != nil {
		b.WriteString(q.Where.String())
	}
	anns := make([]string, 0, len(q.Annotations))
	for _, a := range q.Annotations {
		if !a.OutputOnly {
			anns = append(anns, a.Name+"="+a.Expr.String())
		}
	}
	sort.Strings(anns)
	b.WriteString("|")
	b.WriteString(strings.Join(anns, ";"))
	b.WriteString("|distinct=" + strconv.FormatBool(q.Distinct))
	b.WriteString("|empty=" + strconv.FormatBool(q.Empty))
	return xxhash.Sum64String(b.String())
}

func (q *Query) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s", q.Model.Name)
	if q.Where != nil {
		fmt.Fprintf(&b, " WHERE %s", q.Where)
	}
	for i, o := range q.Ordering {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(o.Expr.String())
		if o.Desc {
			b.WriteString(" DESC")
		}
	}
	return b.String()
}

// CompileResult is what compiling one filter node yields. Pending holds
// attribute-predicate filters that the enclosing comparison must merge.
type CompileResult struct {
	Predicate Predicate
	Pending   []Predicate
}

// Merged folds the pending filters into the predicate. A pending Exists
// absorbs the predicate when every field it reads lies under the same
// relation, so both conditions hold for one related row.
func (r CompileResult) Merged() CompileResult {
	if len(r.Pending) == 0 {
		return r
	}
	var pending []Predicate
	for _, p := range r.Pending {
		if and, ok := p.(And); ok {
			pending = append(pending, and...)
			continue
		}
		pending = append(pending, p)
	}
	// deepest relation first, so outer scopes wrap inner ones
	sort.SliceStable(pending, func(i, j int) bool {
		return existsDepth(pending[i]) > existsDepth(pending[j])
	})
	pred := r.Predicate
	for _, p := range pending {
		ex, ok := p.(Exists)
		if !ok {
			pred = AndOf(pred, p)
			continue
		}
		if inner, ok := rebase(pred, ex.Path); ok {
			pred = Exists{Path: ex.Path, Where: AndOf(ex.Where, inner)}
			continue
		}
		pred = AndOf(pred, ex)
	}
	return CompileResult{Predicate: pred}
}

func existsDepth(p Predicate) int {
	if ex, ok := p.(Exists); ok {
		return strings.Count(ex.Path, ".") + 1
	}
	return 0
}

// rebase rewrites p relative to the relation at prefix. It fails when p
// reads anything outside it.
func rebase(p Predicate, prefix string) (Predicate, bool) {
	switch x := p.(type) {
	case Everything, Nothing:
		return p, true
	case Lookup:
		if x.Action != "" && x.Action != MatchAny {
			return nil, false
		}
		lhs, ok := rebaseExpr(x.Lhs, prefix)
		if !ok {
			return nil, false
		}
		rhs, ok := rebaseExpr(x.Rhs, prefix)
		if !ok {
			return nil, false
		}
		x.Lhs, x.Rhs = lhs, rhs
		return x, true
	case And:
		out := make(And, len(x))
		for i, c := range x {
			r, ok := rebase(c, prefix)
			if !ok {
				return nil, false
			}
			out[i] = r
		}
		return out, true
	case Or:
		out := make(Or, len(x))
		for i, c := range x {
			r, ok := rebase(c, prefix)
			if !ok {
				return nil, false
			}
			out[i] = r
		}
		return out, true
	case Not:
		r, ok := rebase(x.P, prefix)
		if !ok {
			return nil, false
		}
		return Not{P: r}, true
	case Exists:
		rel, ok := strings.CutPrefix(x.Path, prefix+".")
		if !ok {
			return nil, false
		}
		return Exists{Path: rel, Where: x.Where}, true
	}
	return nil, false
}

func rebaseExpr(e Expr, prefix string) (Expr, bool) {
	switch x := e.(type) {
	case nil, Value, GeometryValue:
		return e, true
	case Field:
		rel, ok := strings.CutPrefix(x.Path, prefix+".")
		if !ok {
			return nil, false
		}
		return Field{Path: rel}, true
	case Func:
		args := make([]Expr, len(x.Args))
		for i, a := range x.Args {
			r, ok := rebaseExpr(a, prefix)
			if !ok {
				return nil, false
			}
			args[i] = r
		}
		return Func{Name: x.Name, Args: args}, true
	}
	return nil, false
}

// ErrPendingFilters means a compile step returned without merging the
// attribute filters it collected.
var ErrPendingFilters = errors.New("query: unmerged attribute filters left after compiling")

// Builder accumulates a query while a filter compiles. It is owned by one
// compile pass.
type Builder struct {
	model       *datamodel.Model
	where       []Predicate
	annotations []Annotation
	ordering    []Order
	distinct    bool
	empty       bool
	seq         int
}

func NewBuilder(model *datamodel.Model) *Builder {
	return &Builder{model: model}
}

func (b *Builder) Model() *datamodel.Model { return b.model }

func (b *Builder) AddWhere(p Predicate) {
	if p != nil {
		b.where = append(b.where, p)
	}
}

// Annotate registers expr under a generated alias and returns a reference.
func (b *Builder) Annotate(expr Expr) AnnotationRef {
	for _, a := range b.annotations {
		if a.Expr.String() == expr.String() {
			return AnnotationRef{Name: a.Name}
		}
	}
	b.seq++
	name := "a" + strconv.Itoa(b.seq)
	b.annotations = append(b.annotations, Annotation{Name: name, Expr: expr})
	return AnnotationRef{Name: name}
}

func (b *Builder) AddOrdering(o ...Order) { b.ordering = append(b.ordering, o...) }

func (b *Builder) SetDistinct() { b.distinct = true }

// SetEmpty short-circuits the query to return no rows.
func (b *Builder) SetEmpty() { b.empty = true }

// Finalize produces the query. root is the result of the top-level filter
// node; leftover pending filters are a compiler bug.
func (b *Builder) Finalize(root CompileResult) (*Query, error) {
	if len(root.Pending) > 0 {
		return nil, fmt.Errorf("%w: %d left", ErrPendingFilters, len(root.Pending))
	}
	where := AndOf(append(append([]Predicate(nil), b.where...), root.Predicate)...)
	q := &Query{
		Model:       b.model,
		Where:       where,
		Annotations: append([]Annotation(nil), b.annotations...),
		Ordering:    append([]Order(nil), b.ordering...),
		Distinct:    b.distinct,
		Empty:       b.empty,
	}
	if _, none := where.(Nothing); none {
		q.Empty = true
	}
	return q, nil
}
