package query

import (
	"strconv"
	"strings"
)

type Op string

const (
	OpEqual        Op = "eq"
	OpNotEqual     Op = "ne"
	OpLessThan     Op = "lt"
	OpLessEqual    Op = "lte"
	OpGreaterThan  Op = "gt"
	OpGreaterEqual Op = "gte"
	// OpLike takes a SQL LIKE pattern with '\' as escape character.
	OpLike   Op = "like"
	OpIsNull Op = "isnull"
	OpIn     Op = "in"

	OpIntersects Op = "intersects"
	OpDisjoint   Op = "disjoint"
	OpContains   Op = "contains"
	OpWithin     Op = "within"
	OpTouches    Op = "touches"
	OpCrosses    Op = "crosses"
	OpOverlaps   Op = "overlaps"
	OpEquals     Op = "equals"
	OpDWithin    Op = "dwithin"
	OpBeyond     Op = "beyond"
)

func (o Op) IsSpatial() bool {
	switch o {
	case OpIntersects, OpDisjoint, OpContains, OpWithin, OpTouches,
		OpCrosses, OpOverlaps, OpEquals, OpDWithin, OpBeyond:
		return true
	}
	return false
}

// MatchAction decides how a comparison treats multi-valued (to-many) operands.
type MatchAction string

const (
	MatchAny MatchAction = "Any"
	MatchAll MatchAction = "All"
	MatchOne MatchAction = "One"
)

// Predicate is a node of the boolean predicate tree.
type Predicate interface {
	isPredicate()
	String() string
}

// Lookup compares an expression with another.
type Lookup struct {
	Lhs Expr
	Op  Op
	Rhs Expr
	// CaseInsensitive applies to string equality and like.
	CaseInsensitive bool
	// Distance is used by dwithin/beyond, in storage CRS units.
	Distance float64
	Action   MatchAction
}

type And []Predicate

type Or []Predicate

type Not struct {
	P Predicate
}

// Exists holds when some row reached through the to-many relation Path
// satisfies Where. Field paths inside Where are relative to that row.
type Exists struct {
	Path  string
	Where Predicate
}

// Everything and Nothing are the constant predicates.
type Everything struct{}

type Nothing struct{}

func (Lookup) isPredicate()     {}
func (And) isPredicate()        {}
func (Or) isPredicate()         {}
func (Not) isPredicate()        {}
func (Exists) isPredicate()     {}
func (Everything) isPredicate() {}
func (Nothing) isPredicate()    {}

func (l Lookup) String() string {
	var b strings.Builder
	b.WriteString(l.Lhs.String())
	b.WriteString(" ")
	b.WriteString(string(l.Op))
	if l.CaseInsensitive {
		b.WriteString("/i")
	}
	if l.Action != "" && l.Action != MatchAny {
		b.WriteString("/" + string(l.Action))
	}
	if l.Rhs != nil {
		b.WriteString(" ")
		b.WriteString(l.Rhs.String())
	}
	if l.Op == OpDWithin || l.Op == OpBeyond {
		b.WriteString(" d=" + strconv.FormatFloat(l.Distance, 'g', -1, 64))
	}
	return b.String()
}

func (a And) String() string { return join("AND", a) }
func (o Or) String() string  { return join("OR", o) }
func (n Not) String() string { return "NOT(" + n.P.String() + ")" }

func (e Exists) String() string { return "EXISTS(" + e.Path + ": " + e.Where.String() + ")" }

func (Everything) String() string { return "TRUE" }
func (Nothing) String() string    { return "FALSE" }

func join(op string, ps []Predicate) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

// AndOf combines predicates, dropping Everything and collapsing on Nothing.
func AndOf(ps ...Predicate) Predicate {
	var out And
	for _, p := range ps {
		switch x := p.(type) {
		case nil, Everything:
			continue
		case Nothing:
			return Nothing{}
		case And:
			out = append(out, x...)
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return Everything{}
	case 1:
		return out[0]
	}
	return out
}

// OrOf combines predicates, dropping Nothing and collapsing on Everything.
func OrOf(ps ...Predicate) Predicate {
	var out Or
	for _, p := range ps {
		switch x := p.(type) {
		case nil, Nothing:
			continue
		case Everything:
			return Everything{}
		case Or:
			out = append(out, x...)
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return Nothing{}
	case 1:
		return out[0]
	}
	return out
}

func NotOf(p Predicate) Predicate {
	switch x := p.(type) {
	case Everything:
		return Nothing{}
	case Nothing:
		return Everything{}
	case Not:
		return x.P
	}
	return Not{P: p}
}

// Walk visits every lookup in the tree. It does not enter Exists, whose
// lookups use paths relative to another model.
func Walk(p Predicate, fn func(Lookup)) {
	switch x := p.(type) {
	case Lookup:
		fn(x)
	case And:
		for _, c := range x {
			Walk(c, fn)
		}
	case Or:
		for _, c := range x {
			Walk(c, fn)
		}
	case Not:
		Walk(x.P, fn)
	}
}
