package store

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

type fakeStore struct {
	calls []string
}

func (f *fakeStore) Fetch(context.Context, *query.Query, query.Page) (query.Cursor, error) {
	f.calls = append(f.calls, "fetch")
	return query.NewSliceCursor([]datamodel.Record{{"id": 1}}), nil
}

func (f *fakeStore) Count(context.Context, *query.Query) (int, error) {
	f.calls = append(f.calls, "count")
	return 7, nil
}

func (f *fakeStore) Prefetch(context.Context, *query.Query, query.PrefetchGroup, []datamodel.Record) error {
	f.calls = append(f.calls, "prefetch")
	return errors.New("boom")
}

func TestInstrumented_Delegates(t *testing.T) {
	ctx := context.Background()
	next := &fakeStore{}
	s := Instrument(next)

	cur, err := s.Fetch(ctx, &query.Query{}, query.Page{Limit: -1})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !cur.Next() || cur.Record()["id"] != 1 {
		t.Fatal("expected the wrapped cursor")
	}
	if n, err := s.Count(ctx, &query.Query{}); err != nil || n != 7 {
		t.Fatalf("count=%d err=%v", n, err)
	}
	if err := s.Prefetch(ctx, &query.Query{}, query.PrefetchGroup{}, nil); err == nil {
		t.Fatal("expected the wrapped error")
	}
	if len(next.calls) != 3 {
		t.Fatalf("calls=%v", next.calls)
	}
}
