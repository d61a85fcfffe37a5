package memstore_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/feature"
	"github.com/mohammed-shakir/wfs-server/internal/feature/featuretest"
	"github.com/mohammed-shakir/wfs-server/internal/fes"
	"github.com/mohammed-shakir/wfs-server/internal/projection"
	"github.com/mohammed-shakir/wfs-server/internal/query"
	"github.com/mohammed-shakir/wfs-server/internal/results"
	"github.com/mohammed-shakir/wfs-server/internal/store/memstore"
	"github.com/mohammed-shakir/wfs-server/internal/xmltree"
)

func newStore(t *testing.T) (*memstore.Store, *feature.Catalog) {
	t.Helper()
	cat := featuretest.Catalog(t)
	s := memstore.New(cat.Models)
	featuretest.Seed(t, s)
	return s, cat
}

func restaurants(t *testing.T, cat *feature.Catalog) *datamodel.Model {
	t.Helper()
	m, ok := cat.Models.Get("restaurant")
	if !ok {
		t.Fatal("restaurant model missing")
	}
	return m
}

func fetchIDs(t *testing.T, s *memstore.Store, q *query.Query) []int64 {
	t.Helper()
	cur, err := s.Fetch(context.Background(), q, query.Page{Limit: -1})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	rows, err := query.Drain(cur)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r["id"].(int64))
	}
	return ids
}

func sameIDs(got []int64, want ...int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestFetch_FilterAndOrder(t *testing.T) {
	s, cat := newStore(t)
	q := &query.Query{
		Model:    restaurants(t, cat),
		Where:    query.Lookup{Lhs: query.Field{Path: "rating"}, Op: query.OpGreaterThan, Rhs: query.Value{V: 3.0}},
		Ordering: []query.Order{{Expr: query.Field{Path: "rating"}, Desc: true}},
	}
	if ids := fetchIDs(t, s, q); !sameIDs(ids, 1, 3) {
		t.Fatalf("ids=%v", ids)
	}
}

func TestFetch_NullsSortLast(t *testing.T) {
	s, cat := newStore(t)
	q := &query.Query{
		Model:    restaurants(t, cat),
		Ordering: []query.Order{{Expr: query.Field{Path: "city.name"}}},
	}
	if ids := fetchIDs(t, s, q); !sameIDs(ids, 1, 3, 2, 4) {
		t.Fatalf("ascending ids=%v", ids)
	}
	q.Ordering[0].Desc = true
	if ids := fetchIDs(t, s, q); !sameIDs(ids, 4, 2, 1, 3) {
		t.Fatalf("descending ids=%v", ids)
	}
}

func TestFetch_ToOneNested(t *testing.T) {
	s, cat := newStore(t)
	q := &query.Query{Model: restaurants(t, cat), Only: []string{"id", "city.name"}}
	cur, err := s.Fetch(context.Background(), q, query.Page{Limit: -1})
	if err != nil {
		t.Fatal(err)
	}
	rows, _ := query.Drain(cur)
	city, ok := rows[0]["city"].(datamodel.Record)
	if !ok || city["name"] != "Amsterdam" {
		t.Fatalf("city=%v", rows[0]["city"])
	}
	if _, leaked := rows[0]["rating"]; leaked {
		t.Fatal("unrequested field in output")
	}
	if rows[3]["city"] != nil {
		t.Fatalf("restaurant without city got %v", rows[3]["city"])
	}
}

func TestFetch_Paging(t *testing.T) {
	s, cat := newStore(t)
	q := &query.Query{Model: restaurants(t, cat)}
	cur, err := s.Fetch(context.Background(), q, query.Page{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	rows, _ := query.Drain(cur)
	if len(rows) != 2 || rows[0]["id"] != int64(2) {
		t.Fatalf("rows=%v", rows)
	}
	cur, _ = s.Fetch(context.Background(), q, query.Page{Offset: 10, Limit: 2})
	if rows, _ := query.Drain(cur); len(rows) != 0 {
		t.Fatalf("page past the end returned %d rows", len(rows))
	}
}

func TestLookup_ToManyMatchAction(t *testing.T) {
	s, cat := newStore(t)
	m := restaurants(t, cat)
	l := query.Lookup{Lhs: query.Field{Path: "tags.name"}, Op: query.OpEqual, Rhs: query.Value{V: "fast food"}}

	if ids := fetchIDs(t, s, &query.Query{Model: m, Where: l}); !sameIDs(ids, 1, 2) {
		t.Fatalf("any: %v", ids)
	}
	l.Action = query.MatchAll
	if ids := fetchIDs(t, s, &query.Query{Model: m, Where: l}); !sameIDs(ids, 2) {
		t.Fatalf("all: %v", ids)
	}
	l.Action = query.MatchOne
	if ids := fetchIDs(t, s, &query.Query{Model: m, Where: l}); !sameIDs(ids, 1, 2) {
		t.Fatalf("one: %v", ids)
	}
}

func TestLookup_ReverseForeignKey(t *testing.T) {
	s, cat := newStore(t)
	q := &query.Query{
		Model: restaurants(t, cat),
		Where: query.Lookup{Lhs: query.Field{Path: "opening_hours.weekday"}, Op: query.OpEqual, Rhs: query.Value{V: int64(5)}},
	}
	if ids := fetchIDs(t, s, q); !sameIDs(ids, 2) {
		t.Fatalf("ids=%v", ids)
	}
}

func TestLookup_LikeAndNull(t *testing.T) {
	s, cat := newStore(t)
	m := restaurants(t, cat)
	like := query.Lookup{Lhs: query.Field{Path: "name"}, Op: query.OpLike, Rhs: query.Value{V: "%bar"}, CaseInsensitive: true}
	if ids := fetchIDs(t, s, &query.Query{Model: m, Where: like}); !sameIDs(ids, 3) {
		t.Fatalf("like: %v", ids)
	}
	like.CaseInsensitive = false
	if ids := fetchIDs(t, s, &query.Query{Model: m, Where: like}); len(ids) != 0 {
		t.Fatalf("case-sensitive like: %v", ids)
	}

	null := query.Lookup{Lhs: query.Field{Path: "city"}, Op: query.OpIsNull, Rhs: query.Value{V: true}}
	if ids := fetchIDs(t, s, &query.Query{Model: m, Where: null}); !sameIDs(ids, 4) {
		t.Fatalf("isnull: %v", ids)
	}
	notNull := query.Not{P: null}
	if ids := fetchIDs(t, s, &query.Query{Model: m, Where: notNull}); !sameIDs(ids, 1, 2, 3) {
		t.Fatalf("not isnull: %v", ids)
	}
}

func TestLookup_NullNeverCompares(t *testing.T) {
	s, cat := newStore(t)
	q := &query.Query{
		Model: restaurants(t, cat),
		Where: query.Lookup{Lhs: query.Field{Path: "city.region"}, Op: query.OpNotEqual, Rhs: query.Value{V: "Noord-Holland"}},
	}
	if ids := fetchIDs(t, s, q); len(ids) != 0 {
		t.Fatalf("null region matched: %v", ids)
	}
}

func TestInsert_Normalizes(t *testing.T) {
	s, cat := newStore(t)
	q := &query.Query{
		Model: restaurants(t, cat),
		Where: query.Lookup{
			Lhs: query.Field{Path: "created"},
			Op:  query.OpLessThan,
			Rhs: query.Value{V: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
	if ids := fetchIDs(t, s, q); !sameIDs(ids, 1, 3) {
		t.Fatalf("date filter: %v", ids)
	}
}

func TestInsert_Errors(t *testing.T) {
	s, _ := newStore(t)
	if err := s.Insert("city", datamodel.Record{"id": 1, "name": "again"}); err == nil {
		t.Fatal("duplicate key accepted")
	}
	if err := s.Insert("city", datamodel.Record{"name": "no key"}); err == nil {
		t.Fatal("missing key accepted")
	}
	if err := s.Insert("city", datamodel.Record{"id": 1.5, "name": "x"}); err == nil {
		t.Fatal("fractional integer accepted")
	}
	if err := s.Insert("planet", datamodel.Record{"id": 1}); err == nil {
		t.Fatal("unknown model accepted")
	}
}

func TestPrefetch(t *testing.T) {
	s, cat := newStore(t)
	q := &query.Query{Model: restaurants(t, cat), Only: []string{"id"}}
	cur, _ := s.Fetch(context.Background(), q, query.Page{Limit: -1})
	rows, _ := query.Drain(cur)

	ctx := context.Background()
	if err := s.Prefetch(ctx, q, query.PrefetchGroup{Path: "tags", Fields: []string{"id", "name"}}, rows); err != nil {
		t.Fatal(err)
	}
	if err := s.Prefetch(ctx, q, query.PrefetchGroup{Path: "opening_hours", Fields: []string{"id", "weekday"}}, rows); err != nil {
		t.Fatal(err)
	}
	tags := rows[0]["tags"].([]datamodel.Record)
	if len(tags) != 2 || tags[1]["name"] != "fast food" {
		t.Fatalf("tags=%v", tags)
	}
	hours := rows[0]["opening_hours"].([]datamodel.Record)
	if len(hours) != 2 || hours[0]["weekday"] != int64(1) {
		t.Fatalf("hours=%v", hours)
	}
	if got := rows[3]["tags"].([]datamodel.Record); len(got) != 0 {
		t.Fatalf("restaurant 4 tags=%v", got)
	}
	if st := s.Stats(); st.Prefetches != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestCount_Canceled(t *testing.T) {
	s, cat := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Count(ctx, &query.Query{Model: restaurants(t, cat)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}

func TestCollection_LastPageSkipsCount(t *testing.T) {
	s, cat := newStore(t)
	q := &query.Query{Model: restaurants(t, cat)}
	ctx := context.Background()

	first := results.New(s, q, 0, 2)
	if n, err := first.NumberMatched(ctx); err != nil || n != 4 {
		t.Fatalf("first page matched=%d err=%v", n, err)
	}
	if st := s.Stats(); st.Counts != 1 {
		t.Fatalf("first page should count, stats=%+v", st)
	}

	s.ResetStats()
	last := results.New(s, q, 2, 2)
	if n, err := last.NumberMatched(ctx); err != nil || n != 4 {
		t.Fatalf("last page matched=%d err=%v", n, err)
	}
	if st := s.Stats(); st.Counts != 0 || st.Fetches != 1 {
		t.Fatalf("last page should not count, stats=%+v", st)
	}

	s.ResetStats()
	past := results.New(s, q, 10, 2)
	if n, err := past.NumberMatched(ctx); err != nil || n != 4 {
		t.Fatalf("page past the end matched=%d err=%v", n, err)
	}
}

func TestCollection_StreamsFullProjection(t *testing.T) {
	s, cat := newStore(t)
	ft := featuretest.Type(t, cat, "restaurant")
	p := projection.Full(ft.Schema(), crs.WGS84)
	q := p.Apply(&query.Query{Model: restaurants(t, cat)})

	c := results.New(s, q, 0, -1, results.WithChunkSize(3))
	var got []datamodel.Record
	err := c.Each(context.Background(), func(r datamodel.Record) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("streamed %d rows", len(got))
	}
	for _, r := range got {
		if _, ok := r["tags"].([]datamodel.Record); !ok {
			t.Fatalf("row %v was not prefetched", r["id"])
		}
	}
	if st := s.Stats(); st.Prefetches != 4 {
		t.Fatalf("two chunks with two groups expected, stats=%+v", st)
	}
}

func TestFilter_CompiledFromXML(t *testing.T) {
	s, cat := newStore(t)
	ft := featuretest.Type(t, cat, "restaurant")
	root, err := xmltree.Parse(strings.NewReader(`<fes:Filter xmlns:fes="http://www.opengis.net/fes/2.0" xmlns:app="http://example.org/gisserver">
		<fes:And>
			<fes:PropertyIsEqualTo><fes:ValueReference>app:city/app:name</fes:ValueReference><fes:Literal>Amsterdam</fes:Literal></fes:PropertyIsEqualTo>
			<fes:PropertyIsGreaterThan><fes:ValueReference>app:rating</fes:ValueReference><fes:Literal>4.2</fes:Literal></fes:PropertyIsGreaterThan>
		</fes:And>
	</fes:Filter>`))
	if err != nil {
		t.Fatal(err)
	}
	f, err := (&fes.Parser{}).ParseFilter(root)
	if err != nil {
		t.Fatal(err)
	}
	q, err := fes.NewCompiler(ft, nil).Compile(query.NewBuilder(restaurants(t, cat)), f, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ids := fetchIDs(t, s, q); !sameIDs(ids, 1) {
		t.Fatalf("ids=%v", ids)
	}
}

func TestFilter_AttributePredicateSameRelatedRow(t *testing.T) {
	s, cat := newStore(t)
	ft := featuretest.Type(t, cat, "restaurant")
	compile := func(tagID string) *query.Query {
		t.Helper()
		root, err := xmltree.Parse(strings.NewReader(`<fes:Filter xmlns:fes="http://www.opengis.net/fes/2.0" xmlns:app="http://example.org/gisserver" xmlns:gml="http://www.opengis.net/gml/3.2">
			<fes:PropertyIsEqualTo>
				<fes:ValueReference>app:tags[@gml:id='` + tagID + `']/app:name</fes:ValueReference>
				<fes:Literal>fast food</fes:Literal>
			</fes:PropertyIsEqualTo>
		</fes:Filter>`))
		if err != nil {
			t.Fatal(err)
		}
		f, err := (&fes.Parser{}).ParseFilter(root)
		if err != nil {
			t.Fatal(err)
		}
		q, err := fes.NewCompiler(ft, nil).Compile(query.NewBuilder(restaurants(t, cat)), f, nil)
		if err != nil {
			t.Fatal(err)
		}
		return q
	}

	// restaurant 1 has tag 1 (vegan) and tag 2 (fast food), but tag 1 is not fast food
	if ids := fetchIDs(t, s, compile("1")); len(ids) != 0 {
		t.Fatalf("tag 1 is not named fast food, ids=%v", ids)
	}
	if ids := fetchIDs(t, s, compile("tag.2")); !sameIDs(ids, 1, 2) {
		t.Fatalf("ids=%v", ids)
	}
}

func TestEmptyQuery(t *testing.T) {
	s, cat := newStore(t)
	q := &query.Query{Model: restaurants(t, cat), Where: query.Nothing{}, Empty: true}
	if ids := fetchIDs(t, s, q); len(ids) != 0 {
		t.Fatalf("ids=%v", ids)
	}
}

func TestLoadGeoJSON(t *testing.T) {
	cat := featuretest.Catalog(t)
	s := memstore.New(cat.Models)
	data := `{"type":"FeatureCollection","features":[
		{"type":"Feature","id":7,"geometry":{"type":"Point","coordinates":[4.9,52.37]},
		 "properties":{"name":"Loaded","rating":3.5,"is_open":true,"created":"2024-02-29","tags":[]}}
	]}`
	if err := s.LoadGeoJSON("restaurant", strings.NewReader(data)); err != nil {
		t.Fatal(err)
	}
	cur, err := s.Fetch(context.Background(), &query.Query{Model: restaurants(t, cat)}, query.Page{Limit: -1})
	if err != nil {
		t.Fatal(err)
	}
	rows, _ := query.Drain(cur)
	if len(rows) != 1 || rows[0]["id"] != int64(7) {
		t.Fatalf("rows=%v", rows)
	}
	if _, ok := rows[0]["location"].(orb.Point); !ok {
		t.Fatalf("location=%T", rows[0]["location"])
	}
	if created, ok := rows[0]["created"].(time.Time); !ok || created.Day() != 29 {
		t.Fatalf("created=%v", rows[0]["created"])
	}
}
