package memstore_test

import (
	"context"
	"math"
	"testing"

	"github.com/paulmach/orb"

	h3mapper "github.com/mohammed-shakir/wfs-server/internal/mapper/h3"
	"github.com/mohammed-shakir/wfs-server/internal/projection"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

func annotate(t *testing.T, name string, expr query.Expr) []any {
	t.Helper()
	s, cat := newStore(t)
	q := &query.Query{
		Model:       restaurants(t, cat),
		Only:        []string{"id"},
		Annotations: []query.Annotation{{Name: name, Expr: expr}},
	}
	cur, err := s.Fetch(context.Background(), q, query.Page{Limit: -1})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	rows, _ := query.Drain(cur)
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[name]
	}
	return out
}

func TestFunctions_String(t *testing.T) {
	got := annotate(t, "a1", query.Func{Name: "strToUpperCase", Args: []query.Expr{query.Field{Path: "name"}}})
	if got[1] != "PIZZA PLAZA" {
		t.Fatalf("upper=%v", got[1])
	}
	got = annotate(t, "a1", query.Func{Name: "strSubstring", Args: []query.Expr{
		query.Field{Path: "name"}, query.Value{V: int64(0)}, query.Value{V: int64(4)},
	}})
	if got[0] != "Café" {
		t.Fatalf("substring=%v", got[0])
	}
	got = annotate(t, "a1", query.Func{Name: "strLength", Args: []query.Expr{query.Field{Path: "name"}}})
	if got[0] != int64(9) {
		t.Fatalf("length counts runes, got %v", got[0])
	}
}

func TestFunctions_NullPropagates(t *testing.T) {
	got := annotate(t, "a1", query.Func{Name: "strConcat", Args: []query.Expr{
		query.Field{Path: "city.name"}, query.Value{V: "!"},
	}})
	if got[0] != "Amsterdam!" || got[3] != nil {
		t.Fatalf("concat=%v", got)
	}
}

func TestFunctions_PerValueOverToMany(t *testing.T) {
	got := annotate(t, "a1", query.Func{Name: "strLength", Args: []query.Expr{query.Field{Path: "tags.name"}}})
	lens, ok := got[0].([]any)
	if !ok || len(lens) != 2 || lens[0] != int64(5) {
		t.Fatalf("per-tag lengths=%v", got[0])
	}
}

func TestFunctions_FilterOnFunction(t *testing.T) {
	s, cat := newStore(t)
	q := &query.Query{
		Model: restaurants(t, cat),
		Where: query.Lookup{
			Lhs: query.Func{Name: "floor", Args: []query.Expr{query.Field{Path: "rating"}}},
			Op:  query.OpEqual,
			Rhs: query.Value{V: int64(4)},
		},
	}
	if ids := fetchIDs(t, s, q); !sameIDs(ids, 1, 3) {
		t.Fatalf("ids=%v", ids)
	}
}

func TestFunctions_H3Cell(t *testing.T) {
	got := annotate(t, "a1", query.Func{Name: "h3Cell", Args: []query.Expr{query.Field{Path: "location"}, query.Value{V: int64(7)}}})
	want, err := h3mapper.CellFor(orb.Point{4.9041, 52.3676}, 7)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != want {
		t.Fatalf("cell=%v want %v", got[0], want)
	}
	if got[1] == got[0] {
		t.Fatalf("Amsterdam and Rotterdam share cell %v", got[0])
	}
}

func TestFunctions_Unknown(t *testing.T) {
	s, cat := newStore(t)
	q := &query.Query{
		Model: restaurants(t, cat),
		Where: query.Lookup{Lhs: query.Func{Name: "nope"}, Op: query.OpEqual, Rhs: query.Value{V: 1}},
	}
	if _, err := s.Fetch(context.Background(), q, query.Page{Limit: -1}); err == nil {
		t.Fatal("unknown function evaluated")
	}
}

func TestTransformAnnotation(t *testing.T) {
	got := annotate(t, "_as_location", query.Func{Name: projection.TransformFunc, Args: []query.Expr{
		query.Field{Path: "location"}, query.Value{V: int64(3857)},
	}})
	p, ok := got[0].(orb.Point)
	if !ok {
		t.Fatalf("transformed=%T", got[0])
	}
	if math.Abs(p[0]-545923) > 5 {
		t.Fatalf("x=%v", p[0])
	}
}

func TestRegisterFunction(t *testing.T) {
	s, cat := newStore(t)
	s.RegisterFunction("double", func(a []any) (any, error) {
		f, _ := a[0].(float64)
		return f * 2, nil
	})
	q := &query.Query{
		Model: restaurants(t, cat),
		Where: query.Lookup{
			Lhs: query.Func{Name: "double", Args: []query.Expr{query.Field{Path: "rating"}}},
			Op:  query.OpGreaterEqual,
			Rhs: query.Value{V: 8.0},
		},
	}
	if ids := fetchIDs(t, s, q); !sameIDs(ids, 1, 3) {
		t.Fatalf("ids=%v", ids)
	}
}
