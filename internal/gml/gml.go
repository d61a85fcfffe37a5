// Package gml reads GML 3.x geometry literals used inside FES filters.
package gml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/xmltree"
)

const (
	Namespace32  = "http://www.opengis.net/gml/3.2"
	Namespace311 = "http://www.opengis.net/gml"
)

// IsGML reports whether n lives in one of the GML namespaces.
func IsGML(n *xmltree.Node) bool {
	return n.Name.Space == Namespace32 || n.Name.Space == Namespace311
}

// IsGeometry reports whether n is an element Parse accepts.
func IsGeometry(n *xmltree.Node) bool {
	if !IsGML(n) {
		return false
	}
	_, ok := readers[n.Name.Local]
	return ok
}

// Geometry is a parsed literal with the CRS it was expressed in.
type Geometry struct {
	crs.OrientedGeometry
	CRS *crs.CRS
}

type reader func(n *xmltree.Node, dim int) (orb.Geometry, error)

var readers map[string]reader

func init() {
	readers = map[string]reader{
		"Point":           readPoint,
		"LineString":      readLineString,
		"LinearRing":      readRingGeom,
		"Polygon":         readPolygon,
		"Envelope":        readEnvelope,
		"Box":             readEnvelope,
		"MultiPoint":      readMultiPoint,
		"MultiCurve":      readMultiLineString,
		"MultiLineString": readMultiLineString,
		"MultiSurface":    readMultiPolygon,
		"MultiPolygon":    readMultiPolygon,
		"MultiGeometry":   readCollection,
	}
}

// Parse reads a geometry element. The srsName attribute wins over
// defaultCRS; coordinates are taken in that CRS's axis order.
func Parse(n *xmltree.Node, defaultCRS *crs.CRS) (*Geometry, error) {
	if !IsGML(n) {
		return nil, ows.Parsing(n.QName(), "Element '%s' is not a GML geometry.", n.QName())
	}
	read, ok := readers[n.Name.Local]
	if !ok {
		return nil, ows.Parsing(n.QName(), "Unsupported GML geometry '%s'.", n.QName())
	}

	c := defaultCRS
	if srs, ok := n.Attr("srsName"); ok && srs != "" {
		parsed, err := crs.Parse(srs)
		if err != nil {
			return nil, ows.As(err).WithLocator("srsName")
		}
		c = parsed
	}
	if c == nil {
		c = crs.WGS84
	}

	dim := 2
	if v, ok := n.Attr("srsDimension"); ok {
		d, err := strconv.Atoi(v)
		if err != nil || d < 2 || d > 3 {
			return nil, ows.Parsing("srsDimension", "Invalid srsDimension '%s'.", v)
		}
		dim = d
	}

	g, err := read(n, dim)
	if err != nil {
		if _, isOWS := err.(*ows.Error); isOWS {
			return nil, err
		}
		return nil, ows.Parsing(n.QName(), "Invalid %s: %v.", n.QName(), err)
	}
	return &Geometry{
		OrientedGeometry: crs.OrientedGeometry{Geom: g, SRID: c.SRID, Axis: c.AxisOrder()},
		CRS:              c,
	}, nil
}

func readPoint(n *xmltree.Node, dim int) (orb.Geometry, error) {
	pts, err := coordsOf(n, dim)
	if err != nil {
		return nil, err
	}
	if len(pts) != 1 {
		return nil, fmt.Errorf("a point needs exactly one position, got %d", len(pts))
	}
	return pts[0], nil
}

func readLineString(n *xmltree.Node, dim int) (orb.Geometry, error) {
	pts, err := coordsOf(n, dim)
	if err != nil {
		return nil, err
	}
	if len(pts) < 2 {
		return nil, fmt.Errorf("a line string needs at least two positions")
	}
	return orb.LineString(pts), nil
}

func readRing(n *xmltree.Node, dim int) (orb.Ring, error) {
	ring := n
	if n.Name.Local != "LinearRing" {
		ring = n.Child("LinearRing")
		if ring == nil {
			return nil, fmt.Errorf("%s needs a LinearRing", n.Name.Local)
		}
	}
	pts, err := coordsOf(ring, dim)
	if err != nil {
		return nil, err
	}
	if len(pts) < 4 {
		return nil, fmt.Errorf("a linear ring needs at least four positions")
	}
	if pts[0] != pts[len(pts)-1] {
		return nil, fmt.Errorf("a linear ring must be closed")
	}
	return orb.Ring(pts), nil
}

func readRingGeom(n *xmltree.Node, dim int) (orb.Geometry, error) {
	return readRing(n, dim)
}

func readPolygon(n *xmltree.Node, dim int) (orb.Geometry, error) {
	ext := n.Child("exterior")
	if ext == nil {
		ext = n.Child("outerBoundaryIs")
	}
	if ext == nil {
		return nil, fmt.Errorf("a polygon needs an exterior ring")
	}
	shell, err := readRing(ext, dim)
	if err != nil {
		return nil, err
	}
	poly := orb.Polygon{shell}
	for _, c := range n.Children {
		if c.Name.Local != "interior" && c.Name.Local != "innerBoundaryIs" {
			continue
		}
		hole, err := readRing(c, dim)
		if err != nil {
			return nil, err
		}
		poly = append(poly, hole)
	}
	return poly, nil
}

func readEnvelope(n *xmltree.Node, dim int) (orb.Geometry, error) {
	if n.Name.Local == "Box" {
		pts, err := coordsOf(n, dim)
		if err != nil {
			return nil, err
		}
		if len(pts) != 2 {
			return nil, fmt.Errorf("a box needs two positions")
		}
		return orb.Bound{Min: pts[0], Max: pts[0]}.Extend(pts[1]), nil
	}
	lower, upper := n.Child("lowerCorner"), n.Child("upperCorner")
	if lower == nil || upper == nil {
		return nil, fmt.Errorf("an envelope needs lowerCorner and upperCorner")
	}
	lo, err := parsePositions(lower.Text, dim)
	if err != nil || len(lo) != 1 {
		return nil, fmt.Errorf("invalid lowerCorner %q", lower.Text)
	}
	hi, err := parsePositions(upper.Text, dim)
	if err != nil || len(hi) != 1 {
		return nil, fmt.Errorf("invalid upperCorner %q", upper.Text)
	}
	return orb.Bound{Min: lo[0], Max: lo[0]}.Extend(hi[0]), nil
}

// members collects children of the member elements, or of a plural
// "...Members" wrapper.
func members(n *xmltree.Node, single, plural string) []*xmltree.Node {
	var out []*xmltree.Node
	for _, c := range n.Children {
		switch c.Name.Local {
		case single:
			out = append(out, c.Children...)
		case plural:
			out = append(out, c.Children...)
		}
	}
	return out
}

func readMultiPoint(n *xmltree.Node, dim int) (orb.Geometry, error) {
	var mp orb.MultiPoint
	for _, m := range members(n, "pointMember", "pointMembers") {
		p, err := readPoint(m, dim)
		if err != nil {
			return nil, err
		}
		mp = append(mp, p.(orb.Point))
	}
	return mp, nil
}

func readMultiLineString(n *xmltree.Node, dim int) (orb.Geometry, error) {
	var mls orb.MultiLineString
	nodes := append(members(n, "curveMember", "curveMembers"), members(n, "lineStringMember", "lineStringMembers")...)
	for _, m := range nodes {
		ls, err := readLineString(m, dim)
		if err != nil {
			return nil, err
		}
		mls = append(mls, ls.(orb.LineString))
	}
	return mls, nil
}

func readMultiPolygon(n *xmltree.Node, dim int) (orb.Geometry, error) {
	var mp orb.MultiPolygon
	nodes := append(members(n, "surfaceMember", "surfaceMembers"), members(n, "polygonMember", "polygonMembers")...)
	for _, m := range nodes {
		p, err := readPolygon(m, dim)
		if err != nil {
			return nil, err
		}
		mp = append(mp, p.(orb.Polygon))
	}
	return mp, nil
}

func readCollection(n *xmltree.Node, dim int) (orb.Geometry, error) {
	var col orb.Collection
	for _, m := range members(n, "geometryMember", "geometryMembers") {
		read, ok := readers[m.Name.Local]
		if !ok {
			return nil, fmt.Errorf("unsupported member %s", m.Name.Local)
		}
		g, err := read(m, dim)
		if err != nil {
			return nil, err
		}
		col = append(col, g)
	}
	return col, nil
}

// coordsOf reads pos, posList or coordinates children.
func coordsOf(n *xmltree.Node, dim int) ([]orb.Point, error) {
	if d, ok := n.Attr("srsDimension"); ok {
		if v, err := strconv.Atoi(d); err == nil && v >= 2 {
			dim = v
		}
	}
	if pl := n.Child("posList"); pl != nil {
		if d, ok := pl.Attr("srsDimension"); ok {
			if v, err := strconv.Atoi(d); err == nil && v >= 2 {
				dim = v
			}
		}
		return parsePositions(pl.Text, dim)
	}
	if c := n.Child("coordinates"); c != nil {
		return parseCoordinates(c)
	}
	var out []orb.Point
	for _, p := range n.ChildrenNamed("pos") {
		pts, err := parsePositions(p.Text, dim)
		if err != nil {
			return nil, err
		}
		if len(pts) != 1 {
			return nil, fmt.Errorf("pos %q must hold one position", p.Text)
		}
		out = append(out, pts[0])
	}
	for _, p := range n.ChildrenNamed("pointProperty") {
		if len(p.Children) == 1 {
			pts, err := coordsOf(p.Children[0], dim)
			if err != nil {
				return nil, err
			}
			out = append(out, pts...)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no coordinates in %s", n.Name.Local)
	}
	return out, nil
}

// parsePositions reads whitespace separated numbers, dim per position.
func parsePositions(text string, dim int) ([]orb.Point, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || len(fields)%dim != 0 {
		return nil, fmt.Errorf("expected a multiple of %d numbers in %q", dim, text)
	}
	out := make([]orb.Point, 0, len(fields)/dim)
	for i := 0; i < len(fields); i += dim {
		x, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", fields[i])
		}
		y, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", fields[i+1])
		}
		out = append(out, orb.Point{x, y})
	}
	return out, nil
}

// parseCoordinates reads the GML 2 "x,y x,y" notation with its separators.
func parseCoordinates(n *xmltree.Node) ([]orb.Point, error) {
	cs, ts, decimal := ",", " ", "."
	if v, ok := n.Attr("cs"); ok && v != "" {
		cs = v
	}
	if v, ok := n.Attr("ts"); ok && v != "" {
		ts = v
	}
	if v, ok := n.Attr("decimal"); ok && v != "" {
		decimal = v
	}
	var tuples []string
	if strings.TrimSpace(ts) == "" {
		tuples = strings.Fields(n.Text)
	} else {
		tuples = strings.Split(n.Text, ts)
	}
	var out []orb.Point
	for _, tuple := range tuples {
		tuple = strings.TrimSpace(tuple)
		if tuple == "" {
			continue
		}
		parts := strings.Split(tuple, cs)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid coordinate tuple %q", tuple)
		}
		var p orb.Point
		for i := 0; i < 2; i++ {
			v := strings.TrimSpace(parts[i])
			if decimal != "." {
				v = strings.ReplaceAll(v, decimal, ".")
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", parts[i])
			}
			p[i] = f
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty coordinates")
	}
	return out, nil
}
