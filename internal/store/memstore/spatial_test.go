package memstore

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

var (
	square = orb.Polygon{{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}}}
	inner  = orb.Polygon{{{1, 1}, {2, 1}, {2, 2}, {1, 2}, {1, 1}}}
	beside = orb.Polygon{{{4, 0}, {6, 0}, {6, 4}, {4, 4}, {4, 0}}}
	shift  = orb.Polygon{{{2, 2}, {6, 2}, {6, 6}, {2, 6}, {2, 2}}}
	far    = orb.Polygon{{{10, 10}, {11, 10}, {11, 11}, {10, 11}, {10, 10}}}
	across = orb.LineString{{-1, 2}, {5, 2}}
	edge   = orb.LineString{{0, 0}, {4, 0}}
)

func TestSpatialMatch(t *testing.T) {
	cases := []struct {
		name string
		op   query.Op
		a, b orb.Geometry
		want bool
	}{
		{"point in polygon intersects", query.OpIntersects, orb.Point{1, 1}, square, true},
		{"far polygons", query.OpIntersects, square, far, false},
		{"far polygons disjoint", query.OpDisjoint, square, far, true},
		{"contains inner", query.OpContains, square, inner, true},
		{"inner within", query.OpWithin, inner, square, true},
		{"shifted not contained", query.OpContains, square, shift, false},
		{"boundary point not within", query.OpWithin, orb.Point{0, 2}, square, false},
		{"shared edge touches", query.OpTouches, square, beside, true},
		{"nested does not touch", query.OpTouches, square, inner, false},
		{"line touching edge", query.OpTouches, edge, square, true},
		{"line crosses polygon", query.OpCrosses, across, square, true},
		{"line inside does not cross", query.OpCrosses, orb.LineString{{1, 1}, {2, 2}}, square, false},
		{"crossing lines", query.OpCrosses, orb.LineString{{0, 0}, {2, 2}}, orb.LineString{{0, 2}, {2, 0}}, true},
		{"partial overlap", query.OpOverlaps, square, shift, true},
		{"nested does not overlap", query.OpOverlaps, square, inner, false},
		{"equal rings", query.OpEquals, square, orb.Polygon{{{0, 0}, {0, 4}, {4, 4}, {4, 0}, {0, 0}}}, true},
		{"bound as polygon", query.OpContains, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{4, 4}}, orb.Point{2, 2}, true},
	}
	for _, tc := range cases {
		if got := spatialMatch(tc.op, tc.a, tc.b, 0); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestSpatialMatch_Distance(t *testing.T) {
	p := orb.Point{7, 2}
	if !spatialMatch(query.OpDWithin, p, square, 3) {
		t.Fatal("point 3 units from the square should be within 3")
	}
	if spatialMatch(query.OpDWithin, p, square, 2.5) {
		t.Fatal("point should not be within 2.5")
	}
	if !spatialMatch(query.OpBeyond, p, square, 2.5) {
		t.Fatal("point should be beyond 2.5")
	}
	if d := geomDistance(orb.Point{2, 2}, square); d != 0 {
		t.Fatalf("inside distance=%v", d)
	}
}

func TestCandidates_UsesTree(t *testing.T) {
	m, err := datamodel.NewModel("poi", "",
		&datamodel.Field{Name: "id", Kind: datamodel.KindInteger, PrimaryKey: true},
		&datamodel.Field{Name: "geom", Kind: datamodel.KindGeometry, SRID: 4326},
	)
	if err != nil {
		t.Fatal(err)
	}
	reg := datamodel.NewRegistry()
	if err := reg.Add(m); err != nil {
		t.Fatal(err)
	}
	if err := reg.Link(); err != nil {
		t.Fatal(err)
	}
	s := New(reg)
	var rows []datamodel.Record
	for i := 0; i < 100; i++ {
		rows = append(rows, datamodel.Record{"id": i, "geom": orb.Point{float64(i), float64(i)}})
	}
	if err := s.Insert("poi", rows...); err != nil {
		t.Fatal(err)
	}

	box := orb.Bound{Min: orb.Point{9.5, 9.5}, Max: orb.Point{12.5, 12.5}}
	where := query.Lookup{Lhs: query.Field{Path: "geom"}, Op: query.OpIntersects, Rhs: query.GeometryValue{Geom: box.ToPolygon(), SRID: 4326}}
	got := s.candidates(s.tables["poi"], where)
	if len(got) != 3 || got[0]["id"] != int64(10) || got[2]["id"] != int64(12) {
		t.Fatalf("candidates=%v", got)
	}

	or := query.Or{where, query.Everything{}}
	if got := s.candidates(s.tables["poi"], or); len(got) != 100 {
		t.Fatalf("disjunction must scan the table, got %d", len(got))
	}

	near := query.Lookup{Lhs: query.Field{Path: "geom"}, Op: query.OpDWithin, Distance: 1.5,
		Rhs: query.GeometryValue{Geom: orb.Point{50, 50}, SRID: 4326}}
	if got := s.candidates(s.tables["poi"], near); len(got) != 3 {
		t.Fatalf("padded search returned %d rows", len(got))
	}
}
