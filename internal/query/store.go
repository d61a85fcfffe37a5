package query

import (
	"context"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
)

// Page slices a result; Limit < 0 means unbounded.
type Page struct {
	Offset int
	Limit  int
}

// Cursor streams records. Callers must Close it.
type Cursor interface {
	Next() bool
	Record() datamodel.Record
	Err() error
	Close() error
}

// Store executes compiled queries against a backend.
type Store interface {
	Fetch(ctx context.Context, q *Query, page Page) (Cursor, error)
	Count(ctx context.Context, q *Query) (int, error)
	// Prefetch loads group into every parent record, keyed by the relation's
	// last path segment.
	Prefetch(ctx context.Context, q *Query, group PrefetchGroup, parents []datamodel.Record) error
}

// SliceCursor iterates an in-memory result.
type SliceCursor struct {
	rows []datamodel.Record
	pos  int
}

func NewSliceCursor(rows []datamodel.Record) *SliceCursor {
	return &SliceCursor{rows: rows, pos: -1}
}

func (c *SliceCursor) Next() bool {
	if c.pos+1 >= len(c.rows) {
		c.pos = len(c.rows)
		return false
	}
	c.pos++
	return true
}

func (c *SliceCursor) Record() datamodel.Record {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil
	}
	return c.rows[c.pos]
}

func (c *SliceCursor) Err() error   { return nil }
func (c *SliceCursor) Close() error { return nil }

// Drain reads every record of c and closes it.
func Drain(c Cursor) ([]datamodel.Record, error) {
	defer c.Close()
	var out []datamodel.Record
	for c.Next() {
		out = append(out, c.Record())
	}
	return out, c.Err()
}
