// Package store holds what every query.Store backend shares.
package store

import (
	"context"

	"github.com/mohammed-shakir/wfs-server/internal/core/observability"
	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

// Instrumented counts the queries sent to the wrapped store.
type Instrumented struct {
	next query.Store
}

var _ query.Store = (*Instrumented)(nil)

func Instrument(next query.Store) *Instrumented { return &Instrumented{next: next} }

func (s *Instrumented) Fetch(ctx context.Context, q *query.Query, page query.Page) (query.Cursor, error) {
	observability.IncBackendQuery("fetch")
	return s.next.Fetch(ctx, q, page)
}

func (s *Instrumented) Count(ctx context.Context, q *query.Query) (int, error) {
	observability.IncBackendQuery("count")
	return s.next.Count(ctx, q)
}

func (s *Instrumented) Prefetch(ctx context.Context, q *query.Query, g query.PrefetchGroup, parents []datamodel.Record) error {
	observability.IncBackendQuery("prefetch")
	return s.next.Prefetch(ctx, q, g, parents)
}
