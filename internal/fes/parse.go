package fes

import (
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/gml"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/xmltree"
)

type (
	operatorParser   func(p *Parser, n *xmltree.Node) (Operator, error)
	expressionParser func(p *Parser, n *xmltree.Node) (Expression, error)
)

// The tag registries are fixed at startup; each FES tag maps to exactly one
// constructor.
var (
	operatorTags   map[string]operatorParser
	expressionTags map[string]expressionParser
)

func init() {
	operatorTags = map[string]operatorParser{
		string(EqualTo):              comparison(EqualTo),
		string(NotEqualTo):           comparison(NotEqualTo),
		string(LessThan):             comparison(LessThan),
		string(GreaterThan):          comparison(GreaterThan),
		string(LessThanOrEqualTo):    comparison(LessThanOrEqualTo),
		string(GreaterThanOrEqualTo): comparison(GreaterThanOrEqualTo),
		"PropertyIsLike":             (*Parser).parseLike,
		"PropertyIsNil":              (*Parser).parseNil,
		"PropertyIsNull":             (*Parser).parseNull,
		"PropertyIsBetween":          (*Parser).parseBetween,
		string(And):                  logic(And),
		string(Or):                   logic(Or),
		"Not":                        (*Parser).parseNot,
		string(BBOX):                 (*Parser).parseBBOX,
		string(Equals):               spatial(Equals),
		string(Disjoint):             spatial(Disjoint),
		string(Touches):              spatial(Touches),
		string(Within):               spatial(Within),
		string(Overlaps):             spatial(Overlaps),
		string(Crosses):              spatial(Crosses),
		string(Intersects):           spatial(Intersects),
		string(Contains):             spatial(Contains),
		string(DWithin):              distance(DWithin),
		string(Beyond):               distance(Beyond),
	}
	expressionTags = map[string]expressionParser{
		"ValueReference": (*Parser).parseValueReference,
		"Literal":        (*Parser).parseLiteral,
		"Function":       (*Parser).parseFunction,
	}
}

const expressionTagList = "<fes:ValueReference>, <fes:Literal>, <fes:Function>"

// protocol namespaces that never hold feature properties
var protocolNamespaces = map[string]bool{
	Namespace:                        true,
	"http://www.opengis.net/wfs/2.0": true,
	"http://www.opengis.net/ogc":     true,
	"http://www.opengis.net/ows/1.1": true,
	gml.Namespace32:                  true,
	gml.Namespace311:                 true,
}

// Parser builds filter trees. DefaultCRS applies to geometries without srsName.
type Parser struct {
	DefaultCRS *crs.CRS
}

func isFES(n *xmltree.Node) bool {
	return n.Name.Space == Namespace || n.Name.Space == ""
}

func wrongChildCount(n *xmltree.Node, shape string) error {
	return ows.Parsing(n.Name.Local, "<%s> should have %s, got %d.", n.QName(), shape, len(n.Children))
}

// ParseFilter reads a <fes:Filter> element.
func (p *Parser) ParseFilter(n *xmltree.Node) (*Filter, error) {
	if !isFES(n) || n.Name.Local != "Filter" {
		return nil, ows.Parsing(n.Name.Local, "Expected <fes:Filter>, got <%s>.", n.QName())
	}
	if len(n.Children) == 0 {
		return nil, wrongChildCount(n, "one operator or <fes:ResourceId> child nodes")
	}
	if n.Children[0].Name.Local == "ResourceId" {
		ids := &IDOperator{}
		for _, c := range n.Children {
			if !isFES(c) || c.Name.Local != "ResourceId" {
				return nil, ows.Parsing("Filter", "<fes:ResourceId> can't be combined with <%s>.", c.QName())
			}
			rid, ok := c.Attr("rid")
			if !ok || strings.TrimSpace(rid) == "" {
				return nil, ows.MissingParameter("rid")
			}
			ids.IDs = append(ids.IDs, ResourceID{RID: strings.TrimSpace(rid)})
		}
		return &Filter{Predicate: ids}, nil
	}
	if len(n.Children) != 1 {
		return nil, wrongChildCount(n, "exactly 1 operator child node")
	}
	op, err := p.parseOperator(n.Children[0])
	if err != nil {
		return nil, err
	}
	return &Filter{Predicate: op}, nil
}

// ParseFilterText parses the FILTER parameter of a KVP request.
func (p *Parser) ParseFilterText(text string) (*Filter, error) {
	root, err := xmltree.Parse(strings.NewReader(text))
	if err != nil {
		return nil, ows.Parsing("filter", "Unable to parse FILTER argument: %v.", err)
	}
	return p.ParseFilter(root)
}

// ParseSortBy reads a <fes:SortBy> element.
func (p *Parser) ParseSortBy(n *xmltree.Node) (*SortBy, error) {
	if len(n.Children) == 0 {
		return nil, wrongChildCount(n, "at least 1 <fes:SortProperty> child node")
	}
	sb := &SortBy{}
	for _, c := range n.Children {
		if !isFES(c) || c.Name.Local != "SortProperty" {
			return nil, ows.Parsing("SortBy", "Unexpected <%s>, expected <fes:SortProperty>.", c.QName())
		}
		if len(c.Children) < 1 || len(c.Children) > 2 {
			return nil, wrongChildCount(c, "<fes:ValueReference> and an optional <fes:SortOrder>")
		}
		ref, err := p.parseValueReference(c.Children[0])
		if err != nil {
			return nil, err
		}
		prop := SortProperty{Ref: ref.(*ValueReference)}
		if len(c.Children) == 2 {
			order := c.Children[1]
			if order.Name.Local != "SortOrder" {
				return nil, ows.Parsing("SortProperty", "Unexpected <%s>, expected <fes:SortOrder>.", order.QName())
			}
			switch strings.ToUpper(order.Text) {
			case "ASC":
			case "DESC":
				prop.Desc = true
			default:
				return nil, ows.InvalidParameter("SortOrder", "Invalid sort order '%s', expected ASC or DESC.", order.Text)
			}
		}
		sb.Properties = append(sb.Properties, prop)
	}
	return sb, nil
}

func (p *Parser) parseOperator(n *xmltree.Node) (Operator, error) {
	if isFES(n) {
		if fn, ok := operatorTags[n.Name.Local]; ok {
			return fn(p, n)
		}
		if n.Name.Local == "ResourceId" {
			return nil, ows.Parsing("ResourceId", "<fes:ResourceId> is only allowed directly inside <fes:Filter>.")
		}
	}
	return nil, ows.Parsing(n.Name.Local, "Unsupported filter operator <%s>.", n.QName())
}

func (p *Parser) parseExpression(n *xmltree.Node) (Expression, error) {
	if isFES(n) {
		if fn, ok := expressionTags[n.Name.Local]; ok {
			return fn(p, n)
		}
	}
	if gml.IsGeometry(n) {
		g, err := gml.Parse(n, p.DefaultCRS)
		if err != nil {
			return nil, err
		}
		return &Literal{Geometry: g}, nil
	}
	return nil, ows.Parsing(n.Name.Local, "Unexpected <%s>, expected one of: %s.", n.QName(), expressionTagList)
}

func (p *Parser) parseValueReference(n *xmltree.Node) (Expression, error) {
	if !isFES(n) || n.Name.Local != "ValueReference" {
		return nil, ows.Parsing(n.Name.Local, "Unexpected <%s>, expected <fes:ValueReference>.", n.QName())
	}
	if len(n.Children) != 0 {
		return nil, wrongChildCount(n, "no child nodes")
	}
	if n.Text == "" {
		return nil, ows.Parsing("ValueReference", "Empty <fes:ValueReference>.")
	}
	ns := n.Aliases()
	if protocolNamespaces[ns[""]] {
		delete(ns, "")
	}
	return &ValueReference{XPath: n.Text, NS: ns}, nil
}

func (p *Parser) parseLiteral(n *xmltree.Node) (Expression, error) {
	switch len(n.Children) {
	case 0:
		return &Literal{Raw: n.Text}, nil
	case 1:
		if !gml.IsGeometry(n.Children[0]) {
			return nil, ows.Parsing("Literal", "Unsupported <%s> inside <fes:Literal>.", n.Children[0].QName())
		}
		g, err := gml.Parse(n.Children[0], p.DefaultCRS)
		if err != nil {
			return nil, err
		}
		return &Literal{Geometry: g}, nil
	}
	return nil, wrongChildCount(n, "text or a single GML geometry")
}

func (p *Parser) parseFunction(n *xmltree.Node) (Expression, error) {
	name, ok := n.Attr("name")
	if !ok || name == "" {
		return nil, ows.MissingParameter("name")
	}
	fn := &Function{Name: name}
	for _, c := range n.Children {
		arg, err := p.parseExpression(c)
		if err != nil {
			return nil, err
		}
		fn.Args = append(fn.Args, arg)
	}
	return fn, nil
}

func comparison(op CompareOp) operatorParser {
	return func(p *Parser, n *xmltree.Node) (Operator, error) {
		if len(n.Children) != 2 {
			return nil, wrongChildCount(n, "2 child nodes (two of "+expressionTagList+")")
		}
		lhs, err := p.parseExpression(n.Children[0])
		if err != nil {
			return nil, err
		}
		rhs, err := p.parseExpression(n.Children[1])
		if err != nil {
			return nil, err
		}
		action := "Any"
		if v, ok := n.Attr("matchAction"); ok {
			switch v {
			case "Any", "All", "One":
				action = v
			default:
				return nil, ows.InvalidParameter("matchAction", "Invalid matchAction '%s', expected Any, All or One.", v)
			}
		}
		return &BinaryComparison{
			Op:          op,
			Lhs:         lhs,
			Rhs:         rhs,
			MatchCase:   boolAttr(n, "matchCase", true),
			MatchAction: action,
		}, nil
	}
}

func boolAttr(n *xmltree.Node, name string, def bool) bool {
	v, ok := n.Attr(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (p *Parser) parseLike(n *xmltree.Node) (Operator, error) {
	if len(n.Children) != 2 {
		return nil, wrongChildCount(n, "2 child nodes (an expression and a <fes:Literal>)")
	}
	expr, err := p.parseExpression(n.Children[0])
	if err != nil {
		return nil, err
	}
	pat, err := p.parseExpression(n.Children[1])
	if err != nil {
		return nil, err
	}
	lit, ok := pat.(*Literal)
	if !ok || lit.Geometry != nil {
		return nil, ows.Parsing("PropertyIsLike", "<fes:PropertyIsLike> needs a text <fes:Literal> pattern.")
	}
	like := &PropertyIsLike{
		Expr:       expr,
		Pattern:    lit,
		WildCard:   "*",
		SingleChar: "?",
		EscapeChar: "\\",
		MatchCase:  boolAttr(n, "matchCase", true),
	}
	for attr, dst := range map[string]*string{"wildCard": &like.WildCard, "singleChar": &like.SingleChar, "escapeChar": &like.EscapeChar} {
		if v, ok := n.Attr(attr); ok {
			if len([]rune(v)) != 1 {
				return nil, ows.InvalidParameter(attr, "The %s attribute must be a single character.", attr)
			}
			*dst = v
		}
	}
	if like.WildCard == like.SingleChar || like.WildCard == like.EscapeChar || like.SingleChar == like.EscapeChar {
		return nil, ows.InvalidParameter("PropertyIsLike", "wildCard, singleChar and escapeChar must differ.")
	}
	return like, nil
}

func (p *Parser) parseNil(n *xmltree.Node) (Operator, error) {
	if len(n.Children) != 1 {
		return nil, wrongChildCount(n, "1 child node (one of "+expressionTagList+")")
	}
	expr, err := p.parseExpression(n.Children[0])
	if err != nil {
		return nil, err
	}
	reason, _ := n.Attr("nilReason")
	return &PropertyIsNil{Expr: expr, NilReason: reason}, nil
}

func (p *Parser) parseNull(n *xmltree.Node) (Operator, error) {
	if len(n.Children) != 1 {
		return nil, wrongChildCount(n, "1 child node (one of "+expressionTagList+")")
	}
	expr, err := p.parseExpression(n.Children[0])
	if err != nil {
		return nil, err
	}
	return &PropertyIsNull{Expr: expr}, nil
}

func (p *Parser) parseBetween(n *xmltree.Node) (Operator, error) {
	const shape = "3 child nodes (expression, <fes:LowerBoundary>, <fes:UpperBoundary>)"
	if len(n.Children) != 3 {
		return nil, wrongChildCount(n, shape)
	}
	expr, err := p.parseExpression(n.Children[0])
	if err != nil {
		return nil, err
	}
	bound := func(c *xmltree.Node, name string) (Expression, error) {
		if !isFES(c) || c.Name.Local != name {
			return nil, ows.Parsing("PropertyIsBetween", "<fes:PropertyIsBetween> should have %s, found <%s>.", shape, c.QName())
		}
		if len(c.Children) != 1 {
			return nil, wrongChildCount(c, "1 child node (one of "+expressionTagList+")")
		}
		return p.parseExpression(c.Children[0])
	}
	lower, err := bound(n.Children[1], "LowerBoundary")
	if err != nil {
		return nil, err
	}
	upper, err := bound(n.Children[2], "UpperBoundary")
	if err != nil {
		return nil, err
	}
	return &PropertyIsBetween{Expr: expr, Lower: lower, Upper: upper}, nil
}

func logic(op LogicOp) operatorParser {
	return func(p *Parser, n *xmltree.Node) (Operator, error) {
		if len(n.Children) < 2 {
			return nil, wrongChildCount(n, "at least 2 operator child nodes")
		}
		bl := &BinaryLogic{Op: op}
		for _, c := range n.Children {
			o, err := p.parseOperator(c)
			if err != nil {
				return nil, err
			}
			bl.Operands = append(bl.Operands, o)
		}
		return bl, nil
	}
}

func (p *Parser) parseNot(n *xmltree.Node) (Operator, error) {
	if len(n.Children) != 1 {
		return nil, wrongChildCount(n, "exactly 1 operator child node")
	}
	o, err := p.parseOperator(n.Children[0])
	if err != nil {
		return nil, err
	}
	return &Not{Operand: o}, nil
}

func (p *Parser) geometryOperand(n *xmltree.Node, owner string) (*Literal, error) {
	e, err := p.parseExpression(n)
	if err != nil {
		return nil, err
	}
	lit, ok := e.(*Literal)
	if !ok || lit.Geometry == nil {
		return nil, ows.Parsing(owner, "<fes:%s> needs a GML geometry operand, got <%s>.", owner, n.QName())
	}
	return lit, nil
}

func (p *Parser) refOperand(n *xmltree.Node, owner string) (*ValueReference, error) {
	e, err := p.parseExpression(n)
	if err != nil {
		return nil, err
	}
	ref, ok := e.(*ValueReference)
	if !ok {
		return nil, ows.Parsing(owner, "<fes:%s> needs a <fes:ValueReference> as first operand, got <%s>.", owner, n.QName())
	}
	return ref, nil
}

func (p *Parser) parseBBOX(n *xmltree.Node) (Operator, error) {
	op := &BinarySpatial{Op: BBOX}
	var err error
	switch len(n.Children) {
	case 1:
		op.Geometry, err = p.geometryOperand(n.Children[0], "BBOX")
	case 2:
		if op.Ref, err = p.refOperand(n.Children[0], "BBOX"); err != nil {
			return nil, err
		}
		op.Geometry, err = p.geometryOperand(n.Children[1], "BBOX")
	default:
		return nil, wrongChildCount(n, "1 or 2 child nodes (an optional <fes:ValueReference> and a <gml:Envelope>)")
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

func spatial(op SpatialOp) operatorParser {
	return func(p *Parser, n *xmltree.Node) (Operator, error) {
		if len(n.Children) != 2 {
			return nil, wrongChildCount(n, "2 child nodes (<fes:ValueReference> and a GML geometry)")
		}
		ref, err := p.refOperand(n.Children[0], string(op))
		if err != nil {
			return nil, err
		}
		geom, err := p.geometryOperand(n.Children[1], string(op))
		if err != nil {
			return nil, err
		}
		return &BinarySpatial{Op: op, Ref: ref, Geometry: geom}, nil
	}
}

func distance(op DistanceOp) operatorParser {
	return func(p *Parser, n *xmltree.Node) (Operator, error) {
		if len(n.Children) != 3 {
			return nil, wrongChildCount(n, "3 child nodes (<fes:ValueReference>, a GML geometry, <fes:Distance>)")
		}
		ref, err := p.refOperand(n.Children[0], string(op))
		if err != nil {
			return nil, err
		}
		geom, err := p.geometryOperand(n.Children[1], string(op))
		if err != nil {
			return nil, err
		}
		d := n.Children[2]
		if d.Name.Local != "Distance" {
			return nil, ows.Parsing(string(op), "Unexpected <%s>, expected <fes:Distance>.", d.QName())
		}
		value, err := strconv.ParseFloat(d.Text, 64)
		if err != nil || value < 0 {
			return nil, ows.Parsing("Distance", "Invalid distance '%s'.", d.Text)
		}
		uom, _ := d.Attr("uom")
		return &DistanceOperator{Op: op, Ref: ref, Geometry: geom, Distance: value, Units: uom}, nil
	}
}
