package h3mapper

import (
	"sort"
	"testing"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"
)

func TestCellFor_Point(t *testing.T) {
	want, err := h3.LatLngToCell(h3.LatLng{Lat: 59.3293, Lng: 18.0686}, 8)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	got, err := CellFor(orb.Point{18.0686, 59.3293}, 8)
	if err != nil {
		t.Fatal(err)
	}
	if got != want.String() {
		t.Fatalf("cell=%s want %s", got, want)
	}
}

func TestCellFor_InvalidRes(t *testing.T) {
	if _, err := CellFor(orb.Point{18, 59}, 16); err == nil {
		t.Fatal("expected an error for resolution 16")
	}
}

func TestCellsForBound_SortedUnique(t *testing.T) {
	cells, err := CellsForBound(orb.Bound{Min: orb.Point{17.95, 59.30}, Max: orb.Point{18.15, 59.40}}, 8)
	if err != nil {
		t.Fatalf("CellsForBound: %v", err)
	}
	if len(cells) == 0 {
		t.Fatal("expected cells for bbox")
	}
	if !sort.StringsAreSorted(cells) {
		t.Fatal("cells must be sorted")
	}
	for i := 1; i < len(cells); i++ {
		if cells[i] == cells[i-1] {
			t.Fatal("cells must be de-duplicated")
		}
	}
}

func TestCellsForPolygon_SubsetOfBound(t *testing.T) {
	b := orb.Bound{Min: orb.Point{17.95, 59.30}, Max: orb.Point{18.15, 59.40}}
	poly := orb.Polygon{{{18.00, 59.32}, {18.12, 59.32}, {18.12, 59.38}, {18.00, 59.38}, {18.00, 59.32}}}

	inner, err := CellsForPolygon(poly, 9)
	if err != nil {
		t.Fatal(err)
	}
	outer, err := CellsForBound(b, 9)
	if err != nil {
		t.Fatal(err)
	}
	set := map[string]bool{}
	for _, c := range outer {
		set[c] = true
	}
	for _, c := range inner {
		if !set[c] {
			t.Fatalf("cell %s outside the enclosing bound", c)
		}
	}
	if _, err := CellsForPolygon(orb.LineString{{0, 0}, {1, 1}}, 9); err == nil {
		t.Fatal("expected an error for a line")
	}
}
