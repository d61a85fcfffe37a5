// Package fes holds the FES 2.0 filter grammar: a typed syntax tree, the
// XML parser that builds it and the compiler that turns it into a query.
package fes

import (
	"github.com/mohammed-shakir/wfs-server/internal/gml"
)

const Namespace = "http://www.opengis.net/fes/2.0"

// Expression is a value producing node.
type Expression interface {
	expression()
}

// Operator is a boolean filter node.
type Operator interface {
	operator()
}

// Literal is text or a GML geometry.
type Literal struct {
	Raw      string
	Geometry *gml.Geometry
}

// ValueReference is a property path with the prefixes in scope where it was written.
type ValueReference struct {
	XPath string
	NS    map[string]string
}

type Function struct {
	Name string
	Args []Expression
}

func (*Literal) expression()        {}
func (*ValueReference) expression() {}
func (*Function) expression()       {}

type CompareOp string

const (
	EqualTo              CompareOp = "PropertyIsEqualTo"
	NotEqualTo           CompareOp = "PropertyIsNotEqualTo"
	LessThan             CompareOp = "PropertyIsLessThan"
	GreaterThan          CompareOp = "PropertyIsGreaterThan"
	LessThanOrEqualTo    CompareOp = "PropertyIsLessThanOrEqualTo"
	GreaterThanOrEqualTo CompareOp = "PropertyIsGreaterThanOrEqualTo"
)

// BinaryComparison is one of the PropertyIs... comparisons.
type BinaryComparison struct {
	Op          CompareOp
	Lhs, Rhs    Expression
	MatchCase   bool
	MatchAction string
}

type PropertyIsLike struct {
	Expr       Expression
	Pattern    *Literal
	WildCard   string
	SingleChar string
	EscapeChar string
	MatchCase  bool
}

type PropertyIsNil struct {
	Expr      Expression
	NilReason string
}

type PropertyIsNull struct {
	Expr Expression
}

type PropertyIsBetween struct {
	Expr         Expression
	Lower, Upper Expression
}

type LogicOp string

const (
	And LogicOp = "And"
	Or  LogicOp = "Or"
)

type BinaryLogic struct {
	Op       LogicOp
	Operands []Operator
}

type Not struct {
	Operand Operator
}

type SpatialOp string

const (
	BBOX       SpatialOp = "BBOX"
	Equals     SpatialOp = "Equals"
	Disjoint   SpatialOp = "Disjoint"
	Touches    SpatialOp = "Touches"
	Within     SpatialOp = "Within"
	Overlaps   SpatialOp = "Overlaps"
	Crosses    SpatialOp = "Crosses"
	Intersects SpatialOp = "Intersects"
	Contains   SpatialOp = "Contains"
)

// BinarySpatial compares a geometry property with a geometry literal. Ref is
// nil for a BBOX on the default geometry.
type BinarySpatial struct {
	Op       SpatialOp
	Ref      *ValueReference
	Geometry *Literal
}

type DistanceOp string

const (
	DWithin DistanceOp = "DWithin"
	Beyond  DistanceOp = "Beyond"
)

type DistanceOperator struct {
	Op       DistanceOp
	Ref      *ValueReference
	Geometry *Literal
	Distance float64
	Units    string
}

// ResourceID is "typeName.identifier".
type ResourceID struct {
	RID string
}

// IDOperator is a set of resource identifiers.
type IDOperator struct {
	IDs []ResourceID
}

func (*BinaryComparison) operator()  {}
func (*PropertyIsLike) operator()    {}
func (*PropertyIsNil) operator()     {}
func (*PropertyIsNull) operator()    {}
func (*PropertyIsBetween) operator() {}
func (*BinaryLogic) operator()       {}
func (*Not) operator()               {}
func (*BinarySpatial) operator()     {}
func (*DistanceOperator) operator()  {}
func (*IDOperator) operator()        {}

// Filter is the root of a filter expression.
type Filter struct {
	Predicate Operator
}

type SortProperty struct {
	Ref  *ValueReference
	Desc bool
}

type SortBy struct {
	Properties []SortProperty
}
