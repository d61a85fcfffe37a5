// Package results wraps a compiled query with paging. A Collection reads
// its rows exactly once, either buffered or streamed.
package results

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

var (
	// ErrConsumed is returned when the rows are read a second time.
	ErrConsumed = errors.New("results: collection was already read")
	// ErrStreaming is returned when buffered access is needed while a
	// stream is running.
	ErrStreaming = errors.New("results: collection is being streamed")
)

type state int

const (
	unconsumed state = iota
	buffered
	streaming
	exhausted
)

// CountCache stores matched counts keyed by a query fingerprint.
type CountCache interface {
	Get(ctx context.Context, q *query.Query) (int, bool)
	Set(ctx context.Context, q *query.Query, n int)
}

// DefaultChunkSize bounds the rows materialized per prefetch round while
// streaming.
const DefaultChunkSize = 1000

// Collection is one page of a query. It is not safe for concurrent use.
type Collection struct {
	store  query.Store
	query  *query.Query
	start  int
	count  int
	chunk  int
	counts CountCache

	state    state
	rows     []datamodel.Record
	returned int
	hasNext  bool
	matched  int
	counted  bool
}

type Option func(*Collection)

// WithChunkSize sets the prefetch chunk size used while streaming.
func WithChunkSize(n int) Option {
	return func(c *Collection) {
		if n > 0 {
			c.chunk = n
		}
	}
}

func WithCountCache(cc CountCache) Option {
	return func(c *Collection) { c.counts = cc }
}

// New pages q from start. A negative count reads every remaining row.
func New(store query.Store, q *query.Query, start, count int, opts ...Option) *Collection {
	if start < 0 {
		start = 0
	}
	c := &Collection{store: store, query: q, start: start, count: count, chunk: DefaultChunkSize}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Collection) Query() *query.Query { return c.query }

func (c *Collection) Start() int { return c.start }

// Count is the requested page size, negative when unbounded.
func (c *Collection) Count() int { return c.count }

func (c *Collection) needsPrefetch() bool { return len(c.query.Prefetch) > 0 }

// page reads one row past the requested size so HasNext needs no extra query.
func (c *Collection) page() query.Page {
	if c.count < 0 {
		return query.Page{Offset: c.start, Limit: -1}
	}
	return query.Page{Offset: c.start, Limit: c.count + 1}
}

// FetchResults materializes the page. Later calls return the same rows.
func (c *Collection) FetchResults(ctx context.Context) ([]datamodel.Record, error) {
	switch c.state {
	case buffered:
		return c.rows, nil
	case streaming:
		return nil, ErrStreaming
	case exhausted:
		return nil, ErrConsumed
	}
	rows, err := c.read(ctx)
	if err != nil {
		c.state = exhausted
		return nil, err
	}
	if c.needsPrefetch() {
		if err := c.prefetch(ctx, rows); err != nil {
			c.state = exhausted
			return nil, err
		}
	}
	c.rows = rows
	c.returned = len(rows)
	c.state = buffered
	return rows, nil
}

func (c *Collection) read(ctx context.Context) ([]datamodel.Record, error) {
	if c.query.Empty || c.count == 0 {
		return nil, nil
	}
	cur, err := c.store.Fetch(ctx, c.query, c.page())
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	rows, err := query.Drain(cur)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if c.count >= 0 && len(rows) > c.count {
		c.hasNext = true
		rows = rows[:c.count]
	}
	return rows, nil
}

func (c *Collection) prefetch(ctx context.Context, rows []datamodel.Record) error {
	if len(rows) == 0 {
		return nil
	}
	for _, g := range c.query.Prefetch {
		if err := c.store.Prefetch(ctx, c.query, g, rows); err != nil {
			return fmt.Errorf("prefetch %s: %w", g.Path, err)
		}
	}
	return nil
}

// Each streams the page to fn. It may run once, and not after FetchResults
// already consumed the rows; buffered rows are replayed exactly once.
// When relations must be prefetched, rows are read in bounded chunks that
// are prefetched before they are passed on.
func (c *Collection) Each(ctx context.Context, fn func(datamodel.Record) error) error {
	switch c.state {
	case buffered:
		c.state = exhausted
		for _, r := range c.rows {
			if err := fn(r); err != nil {
				return err
			}
		}
		return nil
	case streaming, exhausted:
		return ErrConsumed
	}
	c.state = streaming
	defer func() { c.state = exhausted }()

	if c.query.Empty || c.count == 0 {
		return nil
	}
	cur, err := c.store.Fetch(ctx, c.query, c.page())
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer cur.Close()

	var chunk []datamodel.Record
	flush := func() error {
		if err := c.prefetch(ctx, chunk); err != nil {
			return err
		}
		for _, r := range chunk {
			if err := fn(r); err != nil {
				return err
			}
		}
		chunk = chunk[:0]
		return nil
	}
	for cur.Next() {
		if c.count >= 0 && c.returned == c.count {
			c.hasNext = true
			break
		}
		c.returned++
		if !c.needsPrefetch() {
			if err := fn(cur.Record()); err != nil {
				return err
			}
			continue
		}
		chunk = append(chunk, cur.Record())
		if len(chunk) >= c.chunk {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if len(chunk) > 0 {
		return flush()
	}
	return nil
}

// settled reports whether the returned row count is final, buffering the
// page when nothing was read yet.
func (c *Collection) settled(ctx context.Context) error {
	switch c.state {
	case unconsumed:
		_, err := c.FetchResults(ctx)
		return err
	case streaming:
		return ErrStreaming
	}
	return nil
}

// NumberReturned is the number of rows in this page.
func (c *Collection) NumberReturned(ctx context.Context) (int, error) {
	if err := c.settled(ctx); err != nil {
		return 0, err
	}
	return c.returned, nil
}

// HasNext reports whether rows exist beyond this page.
func (c *Collection) HasNext(ctx context.Context) (bool, error) {
	if err := c.settled(ctx); err != nil {
		return false, err
	}
	return c.hasNext, nil
}

// HasPrevious is true for every page after the first.
func (c *Collection) HasPrevious() bool { return c.start > 0 }

// NumberMatched is the total number of rows the query selects. The last
// page derives it from its own size, only earlier pages run a count query.
func (c *Collection) NumberMatched(ctx context.Context) (int, error) {
	if c.counted {
		return c.matched, nil
	}
	if c.query.Empty {
		return c.finishCount(0), nil
	}
	if c.count != 0 {
		if err := c.settled(ctx); err != nil {
			return 0, err
		}
		// reading one row past the page proves whether this is the last one;
		// an empty page past the end says nothing about the total
		if !c.hasNext && (c.returned > 0 || c.start == 0) {
			return c.finishCount(c.start + c.returned), nil
		}
	}
	return c.runCount(ctx)
}

func (c *Collection) finishCount(n int) int {
	c.matched, c.counted = n, true
	return n
}

// Hits only counts, as used by RESULTTYPE=hits.
func (c *Collection) Hits(ctx context.Context) (int, error) {
	if c.counted {
		return c.matched, nil
	}
	if c.query.Empty {
		return c.finishCount(0), nil
	}
	return c.runCount(ctx)
}

// runCount issues the count query without output-only annotations.
func (c *Collection) runCount(ctx context.Context) (int, error) {
	cq := c.query.ForCount()
	if c.counts != nil {
		if n, ok := c.counts.Get(ctx, cq); ok {
			return c.finishCount(n), nil
		}
	}
	n, err := c.store.Count(ctx, cq)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	if c.counts != nil {
		c.counts.Set(ctx, cq, n)
	}
	return c.finishCount(n), nil
}
