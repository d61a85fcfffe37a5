// Package query is the backend-neutral compiled query: a predicate tree over
// dotted field paths plus annotations, ordering and field pruning. Stores
// execute it.
package query

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// Expr is a value expression.
type Expr interface {
	isExpr()
	String() string
}

// Field reads a dotted field path from the root model.
type Field struct {
	Path string
}

// Value is a literal already coerced to the field's type.
type Value struct {
	V any
}

// Func calls a registered function by name.
type Func struct {
	Name string
	Args []Expr
}

// GeometryValue is a literal geometry in the storage CRS, x/y order.
type GeometryValue struct {
	Geom orb.Geometry
	SRID int
}

// AnnotationRef points at a named annotation of the same query.
type AnnotationRef struct {
	Name string
}

func (Field) isExpr()         {}
func (Value) isExpr()         {}
func (Func) isExpr()          {}
func (GeometryValue) isExpr() {}
func (AnnotationRef) isExpr() {}

func (f Field) String() string { return "F(" + f.Path + ")" }

func (v Value) String() string {
	switch x := v.V.(type) {
	case string:
		return fmt.Sprintf("%q", x)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = Value{V: item}.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return fmt.Sprintf("%v", v.V)
}

func (f Func) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return f.Name + "(" + strings.Join(args, ",") + ")"
}

func (g GeometryValue) String() string {
	return fmt.Sprintf("SRID=%d;%s", g.SRID, wkt.MarshalString(g.Geom))
}

func (a AnnotationRef) String() string { return "A(" + a.Name + ")" }

// Fields lists the field paths an expression reads.
func Fields(e Expr) []string {
	switch x := e.(type) {
	case Field:
		return []string{x.Path}
	case Func:
		var out []string
		for _, a := range x.Args {
			out = append(out, Fields(a)...)
		}
		return out
	}
	return nil
}
