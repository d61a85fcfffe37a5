package results

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

type fakeStore struct {
	rows       []datamodel.Record
	fetches    int
	counts     int
	prefetches int
	lastCount  *query.Query
	failAfter  int
}

func (s *fakeStore) Fetch(_ context.Context, _ *query.Query, p query.Page) (query.Cursor, error) {
	s.fetches++
	rows := s.rows
	if p.Offset >= len(rows) {
		rows = nil
	} else {
		rows = rows[p.Offset:]
	}
	if p.Limit >= 0 && len(rows) > p.Limit {
		rows = rows[:p.Limit]
	}
	if s.failAfter > 0 {
		return &failingCursor{SliceCursor: query.NewSliceCursor(rows), left: s.failAfter}, nil
	}
	return query.NewSliceCursor(rows), nil
}

func (s *fakeStore) Count(_ context.Context, q *query.Query) (int, error) {
	s.counts++
	s.lastCount = q
	return len(s.rows), nil
}

func (s *fakeStore) Prefetch(_ context.Context, _ *query.Query, g query.PrefetchGroup, parents []datamodel.Record) error {
	s.prefetches++
	for _, p := range parents {
		p[g.Path] = []datamodel.Record{{"id": int64(1)}}
	}
	return nil
}

type failingCursor struct {
	*query.SliceCursor
	left int
	err  error
}

func (c *failingCursor) Next() bool {
	if c.left == 0 {
		c.err = errors.New("connection reset")
		return false
	}
	c.left--
	return c.SliceCursor.Next()
}

func (c *failingCursor) Err() error { return c.err }

func rows(n int) []datamodel.Record {
	out := make([]datamodel.Record, n)
	for i := range out {
		out[i] = datamodel.Record{"id": int64(i + 1)}
	}
	return out
}

func testQuery() *query.Query {
	m, _ := datamodel.NewModel("thing", "",
		&datamodel.Field{Name: "id", Kind: datamodel.KindInteger, PrimaryKey: true})
	return &query.Query{Model: m, Where: query.Everything{}}
}

func TestNumberMatched_PartialPageSkipsCount(t *testing.T) {
	st := &fakeStore{rows: rows(3)}
	c := New(st, testQuery(), 0, 10)

	n, err := c.NumberMatched(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("matched=%d err=%v", n, err)
	}
	if st.counts != 0 {
		t.Fatalf("count queries=%d, want 0", st.counts)
	}

	st = &fakeStore{rows: rows(7)}
	c = New(st, testQuery(), 5, 5)
	if n, _ := c.NumberMatched(context.Background()); n != 7 || st.counts != 0 {
		t.Fatalf("last page: matched=%d counts=%d", n, st.counts)
	}
}

func TestNumberMatched_FullPageCountsWithoutOutputAnnotations(t *testing.T) {
	st := &fakeStore{rows: rows(5)}
	q := testQuery().WithOutput(nil, nil, query.Annotation{Name: "_as_geom", Expr: query.Field{Path: "geom"}, OutputOnly: true})
	c := New(st, q, 0, 2)

	n, err := c.NumberMatched(context.Background())
	if err != nil || n != 5 {
		t.Fatalf("matched=%d err=%v", n, err)
	}
	if st.counts != 1 || len(st.lastCount.Annotations) != 0 {
		t.Fatalf("counts=%d annotations=%v", st.counts, st.lastCount.Annotations)
	}
	if st.fetches != 1 {
		t.Fatalf("fetches=%d", st.fetches)
	}
	// memoized
	if _, err := c.NumberMatched(context.Background()); err != nil || st.counts != 1 {
		t.Fatalf("counts=%d err=%v", st.counts, err)
	}
}

func TestEach_Twice(t *testing.T) {
	c := New(&fakeStore{rows: rows(2)}, testQuery(), 0, 10)
	noop := func(datamodel.Record) error { return nil }
	if err := c.Each(context.Background(), noop); err != nil {
		t.Fatal(err)
	}
	if err := c.Each(context.Background(), noop); !errors.Is(err, ErrConsumed) {
		t.Fatalf("second Each: %v", err)
	}
	if _, err := c.FetchResults(context.Background()); !errors.Is(err, ErrConsumed) {
		t.Fatalf("FetchResults after Each: %v", err)
	}
}

func TestFetchResultsThenEach(t *testing.T) {
	st := &fakeStore{rows: rows(4)}
	c := New(st, testQuery(), 0, 3)
	got, err := c.FetchResults(context.Background())
	if err != nil || len(got) != 3 {
		t.Fatalf("rows=%d err=%v", len(got), err)
	}
	seen := 0
	if err := c.Each(context.Background(), func(datamodel.Record) error { seen++; return nil }); err != nil {
		t.Fatal(err)
	}
	if seen != 3 || st.fetches != 1 {
		t.Fatalf("seen=%d fetches=%d", seen, st.fetches)
	}
	if next, _ := c.HasNext(context.Background()); !next {
		t.Fatal("expected a next page")
	}
}

func TestEach_StreamsWithChunkedPrefetch(t *testing.T) {
	st := &fakeStore{rows: rows(5)}
	q := testQuery().WithOutput([]string{"id"}, []query.PrefetchGroup{{Path: "tags"}})
	c := New(st, q, 0, 4, WithChunkSize(2))

	var got []datamodel.Record
	err := c.Each(context.Background(), func(r datamodel.Record) error {
		if _, ok := r["tags"]; !ok {
			t.Fatalf("row %v yielded before its prefetch", r)
		}
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 || st.prefetches != 2 {
		t.Fatalf("rows=%d prefetches=%d", len(got), st.prefetches)
	}
	if next, _ := c.HasNext(context.Background()); !next {
		t.Fatal("expected a next page after streaming")
	}
	if n, _ := c.NumberReturned(context.Background()); n != 4 {
		t.Fatalf("returned=%d", n)
	}
}

func TestEach_BackendFailure(t *testing.T) {
	st := &fakeStore{rows: rows(5), failAfter: 2}
	c := New(st, testQuery(), 0, 10)
	seen := 0
	err := c.Each(context.Background(), func(datamodel.Record) error { seen++; return nil })
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("err=%v", err)
	}
	if seen != 2 {
		t.Fatalf("seen=%d", seen)
	}
}

func TestEmptyQueryNeverHitsStore(t *testing.T) {
	st := &fakeStore{rows: rows(5)}
	q := testQuery()
	q.Empty = true
	c := New(st, q, 0, 10)
	if n, _ := c.NumberMatched(context.Background()); n != 0 {
		t.Fatalf("matched=%d", n)
	}
	if err := c.Each(context.Background(), func(datamodel.Record) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if st.fetches+st.counts != 0 {
		t.Fatalf("store was queried: fetches=%d counts=%d", st.fetches, st.counts)
	}
}

type mapCache map[uint64]int

func (m mapCache) Get(_ context.Context, q *query.Query) (int, bool) {
	n, ok := m[q.Fingerprint()]
	return n, ok
}

func (m mapCache) Set(_ context.Context, q *query.Query, n int) { m[q.Fingerprint()] = n }

func TestHits_UsesCountCache(t *testing.T) {
	st := &fakeStore{rows: rows(5)}
	cache := mapCache{}
	if n, _ := New(st, testQuery(), 0, 2, WithCountCache(cache)).Hits(context.Background()); n != 5 {
		t.Fatalf("hits=%d", n)
	}
	if n, _ := New(st, testQuery(), 0, 2, WithCountCache(cache)).Hits(context.Background()); n != 5 {
		t.Fatalf("hits=%d", n)
	}
	if st.counts != 1 {
		t.Fatalf("counts=%d", st.counts)
	}
}

func TestPageLinks(t *testing.T) {
	u, _ := url.Parse("http://localhost/wfs?SERVICE=WFS&REQUEST=GetFeature&typeNames=app:restaurant&startIndex=2&count=2")
	st := &fakeStore{rows: rows(5)}
	c := New(st, testQuery(), 2, 2)
	next, err := c.HasNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	l := c.PageLinks(u, next)

	prev, _ := url.Parse(l.Previous)
	if prev.Query().Get("STARTINDEX") != "0" || prev.Query().Get("startIndex") != "" {
		t.Fatalf("previous=%s", l.Previous)
	}
	nx, _ := url.Parse(l.Next)
	if nx.Query().Get("STARTINDEX") != "4" || nx.Query().Get("COUNT") != "2" || nx.Query().Get("typeNames") != "app:restaurant" {
		t.Fatalf("next=%s", l.Next)
	}

	first := New(st, testQuery(), 0, 10)
	next, _ = first.HasNext(context.Background())
	if l := first.PageLinks(u, next); l.Previous != "" || l.Next != "" {
		t.Fatalf("links=%+v", l)
	}
}
