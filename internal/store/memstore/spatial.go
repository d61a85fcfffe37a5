package memstore

import (
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

// R-tree rectangles need a non-zero size
const epsilon = 1e-9

type entry struct {
	idx  int
	rect rtreego.Rect
}

func (e *entry) Bounds() rtreego.Rect { return e.rect }

func rectOf(b orb.Bound) (rtreego.Rect, error) {
	lengths := []float64{math.Max(b.Max[0]-b.Min[0], epsilon), math.Max(b.Max[1]-b.Min[1], epsilon)}
	return rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, lengths)
}

func buildTree(rows []datamodel.Record, field string) *rtreego.Rtree {
	tree := rtreego.NewTree(2, 25, 50)
	for i, r := range rows {
		g, ok := r[field].(orb.Geometry)
		if !ok || g == nil {
			continue
		}
		rect, err := rectOf(g.Bound())
		if err != nil {
			continue
		}
		tree.Insert(&entry{idx: i, rect: rect})
	}
	return tree
}

// indexable operators only match rows whose bounds touch the literal's bounds.
var indexable = map[query.Op]bool{
	query.OpIntersects: true,
	query.OpWithin:     true,
	query.OpContains:   true,
	query.OpEquals:     true,
	query.OpTouches:    true,
	query.OpOverlaps:   true,
	query.OpCrosses:    true,
	query.OpDWithin:    true,
}

// candidates narrows the scan with the R-tree when the predicate requires a
// spatial match on a root geometry field. Table order is preserved.
func (s *Store) candidates(t *table, where query.Predicate) []datamodel.Record {
	var conj []query.Predicate
	switch x := where.(type) {
	case query.And:
		conj = x
	case query.Lookup:
		conj = []query.Predicate{x}
	}
	for _, p := range conj {
		l, ok := p.(query.Lookup)
		if !ok || !indexable[l.Op] {
			continue
		}
		f, ok := l.Lhs.(query.Field)
		if !ok {
			continue
		}
		tree := t.trees[f.Path]
		gv, ok := l.Rhs.(query.GeometryValue)
		if tree == nil || !ok || gv.Geom == nil {
			continue
		}
		b := gv.Geom.Bound()
		if l.Op == query.OpDWithin {
			b = b.Pad(l.Distance)
		}
		rect, err := rectOf(b)
		if err != nil {
			continue
		}
		hits := tree.SearchIntersect(rect)
		idx := make([]int, 0, len(hits))
		for _, h := range hits {
			idx = append(idx, h.(*entry).idx)
		}
		sort.Ints(idx)
		out := make([]datamodel.Record, len(idx))
		for i, j := range idx {
			out[i] = t.rows[j]
		}
		return out
	}
	return t.rows
}

func spatialMatch(op query.Op, a, b orb.Geometry, distance float64) bool {
	switch op {
	case query.OpIntersects:
		return intersects(a, b)
	case query.OpDisjoint:
		return !intersects(a, b)
	case query.OpContains:
		return contains(a, b)
	case query.OpWithin:
		return contains(b, a)
	case query.OpEquals:
		return orb.Equal(a, b) || (contains(a, b) && contains(b, a))
	case query.OpTouches:
		return touches(a, b)
	case query.OpCrosses:
		return crosses(a, b)
	case query.OpOverlaps:
		return overlaps(a, b)
	case query.OpDWithin:
		return geomDistance(a, b) <= distance
	case query.OpBeyond:
		return geomDistance(a, b) > distance
	}
	return false
}

type segment [2]orb.Point

// shape is a geometry split into its points, line strings and polygons.
type shape struct {
	points []orb.Point
	lines  []orb.LineString
	polys  []orb.Polygon
}

func decompose(g orb.Geometry) shape {
	var s shape
	var add func(orb.Geometry)
	add = func(g orb.Geometry) {
		switch x := g.(type) {
		case orb.Point:
			s.points = append(s.points, x)
		case orb.MultiPoint:
			s.points = append(s.points, x...)
		case orb.LineString:
			s.lines = append(s.lines, x)
		case orb.MultiLineString:
			s.lines = append(s.lines, x...)
		case orb.Ring:
			s.polys = append(s.polys, orb.Polygon{x})
		case orb.Polygon:
			s.polys = append(s.polys, x)
		case orb.MultiPolygon:
			s.polys = append(s.polys, x...)
		case orb.Bound:
			s.polys = append(s.polys, x.ToPolygon())
		case orb.Collection:
			for _, c := range x {
				add(c)
			}
		}
	}
	add(g)
	return s
}

func (s shape) dim() int {
	switch {
	case len(s.polys) > 0:
		return 2
	case len(s.lines) > 0:
		return 1
	}
	return 0
}

func (s shape) vertices() []orb.Point {
	out := append([]orb.Point(nil), s.points...)
	for _, l := range s.lines {
		out = append(out, l...)
	}
	for _, p := range s.polys {
		for _, r := range p {
			out = append(out, r...)
		}
	}
	return out
}

func (s shape) edges() []segment {
	var out []segment
	addLine := func(pts []orb.Point) {
		for i := 1; i < len(pts); i++ {
			out = append(out, segment{pts[i-1], pts[i]})
		}
	}
	for _, l := range s.lines {
		addLine(l)
	}
	for _, p := range s.polys {
		for _, r := range p {
			addLine(r)
		}
	}
	return out
}

// midpoints sample the interior of line and boundary segments.
func (s shape) midpoints() []orb.Point {
	var out []orb.Point
	for _, e := range s.edges() {
		out = append(out, orb.Point{(e[0][0] + e[1][0]) / 2, (e[0][1] + e[1][1]) / 2})
	}
	return out
}

// covers reports whether p lies in s, boundary included.
func (s shape) covers(p orb.Point) bool {
	for _, q := range s.points {
		if q.Equal(p) {
			return true
		}
	}
	for _, e := range s.edges() {
		if onSegment(p, e) {
			return true
		}
	}
	for _, poly := range s.polys {
		if planar.PolygonContains(poly, p) {
			return true
		}
	}
	return false
}

// interior reports whether p lies in the interior of s.
func (s shape) interior(p orb.Point) bool {
	switch s.dim() {
	case 2:
		for _, poly := range s.polys {
			if planar.PolygonContains(poly, p) && !onBoundary(poly, p) {
				return true
			}
		}
		return false
	case 1:
		for _, l := range s.lines {
			if len(l) == 0 {
				continue
			}
			for i := 1; i < len(l); i++ {
				if onSegment(p, segment{l[i-1], l[i]}) && !p.Equal(l[0]) && !p.Equal(l[len(l)-1]) {
					return true
				}
			}
		}
		return false
	}
	return s.covers(p)
}

func onBoundary(poly orb.Polygon, p orb.Point) bool {
	for _, r := range poly {
		for i := 1; i < len(r); i++ {
			if onSegment(p, segment{r[i-1], r[i]}) {
				return true
			}
		}
	}
	return false
}

func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(p orb.Point, s segment) bool {
	if math.Abs(orientation(s[0], s[1], p)) > epsilon {
		return false
	}
	return p[0] >= math.Min(s[0][0], s[1][0])-epsilon && p[0] <= math.Max(s[0][0], s[1][0])+epsilon &&
		p[1] >= math.Min(s[0][1], s[1][1])-epsilon && p[1] <= math.Max(s[0][1], s[1][1])+epsilon
}

func segmentsIntersect(a, b segment) bool {
	d1 := orientation(b[0], b[1], a[0])
	d2 := orientation(b[0], b[1], a[1])
	d3 := orientation(a[0], a[1], b[0])
	d4 := orientation(a[0], a[1], b[1])
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return onSegment(a[0], b) || onSegment(a[1], b) || onSegment(b[0], a) || onSegment(b[1], a)
}

// properlyCross is true when two segments meet in one point interior to both.
func properlyCross(a, b segment) bool {
	d1 := orientation(b[0], b[1], a[0])
	d2 := orientation(b[0], b[1], a[1])
	d3 := orientation(a[0], a[1], b[0])
	d4 := orientation(a[0], a[1], b[1])
	return ((d1 > epsilon && d2 < -epsilon) || (d1 < -epsilon && d2 > epsilon)) &&
		((d3 > epsilon && d4 < -epsilon) || (d3 < -epsilon && d4 > epsilon))
}

func anyEdgeCrossing(a, b shape, proper bool) bool {
	eb := b.edges()
	for _, x := range a.edges() {
		for _, y := range eb {
			if (proper && properlyCross(x, y)) || (!proper && segmentsIntersect(x, y)) {
				return true
			}
		}
	}
	return false
}

func intersects(a, b orb.Geometry) bool {
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}
	sa, sb := decompose(a), decompose(b)
	for _, p := range sa.vertices() {
		if sb.covers(p) {
			return true
		}
	}
	for _, p := range sb.vertices() {
		if sa.covers(p) {
			return true
		}
	}
	return anyEdgeCrossing(sa, sb, false)
}

// contains: every part of b lies in a and b reaches a's interior.
func contains(a, b orb.Geometry) bool {
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}
	sa, sb := decompose(a), decompose(b)
	if sb.dim() > sa.dim() {
		return false
	}
	for _, p := range sb.vertices() {
		if !sa.covers(p) {
			return false
		}
	}
	for _, p := range sb.midpoints() {
		if !sa.covers(p) {
			return false
		}
	}
	if sa.dim() == 2 && anyEdgeCrossing(sb, sa, true) {
		return false
	}
	if sa.dim() == 2 && sb.dim() == 2 {
		// an area bounded inside a shares its interior
		return true
	}
	for _, p := range append(sb.vertices(), sb.midpoints()...) {
		if sa.interior(p) {
			return true
		}
	}
	return false
}

func interiorsMeet(sa, sb shape) bool {
	meets := func(from, into shape) bool {
		for _, p := range append(from.vertices(), from.midpoints()...) {
			if into.interior(p) && (into.dim() == 2 || from.interior(p)) {
				return true
			}
		}
		return false
	}
	return meets(sa, sb) || meets(sb, sa) || anyEdgeCrossing(sa, sb, true)
}

func touches(a, b orb.Geometry) bool {
	if !intersects(a, b) {
		return false
	}
	sa, sb := decompose(a), decompose(b)
	if sa.dim() == 0 && sb.dim() == 0 {
		return false
	}
	return !interiorsMeet(sa, sb)
}

func crosses(a, b orb.Geometry) bool {
	if !intersects(a, b) {
		return false
	}
	sa, sb := decompose(a), decompose(b)
	switch {
	case sa.dim() == 1 && sb.dim() == 1:
		return anyEdgeCrossing(sa, sb, true)
	case sa.dim() < sb.dim():
		return partlyInside(sa, sb)
	case sa.dim() > sb.dim():
		return partlyInside(sb, sa)
	}
	return false
}

// partlyInside reports whether low has points both inside high's interior
// and outside high.
func partlyInside(low, high shape) bool {
	in, out := false, false
	for _, p := range append(low.vertices(), low.midpoints()...) {
		if high.interior(p) {
			in = true
		} else if !high.covers(p) {
			out = true
		}
	}
	return in && out
}

func overlaps(a, b orb.Geometry) bool {
	sa, sb := decompose(a), decompose(b)
	if sa.dim() != sb.dim() || !intersects(a, b) {
		return false
	}
	if contains(a, b) || contains(b, a) {
		return false
	}
	return interiorsMeet(sa, sb)
}

func geomDistance(a, b orb.Geometry) float64 {
	if intersects(a, b) {
		return 0
	}
	sa, sb := decompose(a), decompose(b)
	d := math.Inf(1)
	for _, p := range sa.vertices() {
		d = math.Min(d, distanceTo(sb, p))
	}
	for _, p := range sb.vertices() {
		d = math.Min(d, distanceTo(sa, p))
	}
	return d
}

func distanceTo(s shape, p orb.Point) float64 {
	d := math.Inf(1)
	for _, q := range s.points {
		d = math.Min(d, planar.Distance(p, q))
	}
	for _, e := range s.edges() {
		d = math.Min(d, planar.DistanceFromSegment(e[0], e[1], p))
	}
	return d
}
