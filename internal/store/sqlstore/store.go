// Package sqlstore runs compiled queries on SQL databases with spatial
// extensions. Dialects cover PostGIS and DuckDB; drivers plug in through
// Querier.
package sqlstore

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

// Rows is the subset of a driver result set the store reads.
type Rows interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

type Store struct {
	logger  *slog.Logger
	db      Querier
	dialect Dialect
}

var _ query.Store = (*Store)(nil)

func New(logger *slog.Logger, db Querier, d Dialect) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger, db: db, dialect: d}
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) run(ctx context.Context, op string, stmt *Statement) (Rows, error) {
	s.logger.Debug("sql "+op, "dialect", s.dialect.Name(), "sql", stmt.SQL, "args", len(stmt.Args))
	rows, err := s.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlstore: %s", op)
	}
	return rows, nil
}

func (s *Store) Fetch(ctx context.Context, q *query.Query, page query.Page) (query.Cursor, error) {
	if q.Empty || page.Limit == 0 {
		return query.NewSliceCursor(nil), nil
	}
	stmt, err := SelectStatement(s.dialect, q, page)
	if err != nil {
		return nil, err
	}
	rows, err := s.run(ctx, "fetch", stmt)
	if err != nil {
		return nil, err
	}
	return &cursor{rows: rows, outputs: stmt.outputs}, nil
}

func (s *Store) Count(ctx context.Context, q *query.Query) (int, error) {
	if q.Empty {
		return 0, nil
	}
	stmt, err := CountStatement(s.dialect, q)
	if err != nil {
		return 0, err
	}
	rows, err := s.run(ctx, "count", stmt)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, errors.Wrap(err, "sqlstore: count")
		}
		return 0, errors.New("sqlstore: count returned no row")
	}
	vals, err := rows.Values()
	if err != nil {
		return 0, errors.Wrap(err, "sqlstore: count")
	}
	n, ok := toInt(vals[0])
	if !ok {
		return 0, errors.Errorf("sqlstore: count returned %T", vals[0])
	}
	return int(n), nil
}

// Prefetch loads one to-many relation for all parents in a single statement.
func (s *Store) Prefetch(ctx context.Context, q *query.Query, g query.PrefetchGroup, parents []datamodel.Record) error {
	parts := strings.Split(g.Path, ".")
	m := q.Model
	for _, p := range parts[:len(parts)-1] {
		f, ok := m.Field(p)
		if !ok || !f.IsRelation() || f.IsToMany() {
			return errors.Errorf("sqlstore: prefetch path %q does not follow to-one relations", g.Path)
		}
		m = f.Rel.Target
	}
	rel, ok := m.Field(parts[len(parts)-1])
	if !ok || !rel.IsToMany() {
		return errors.Errorf("sqlstore: prefetch path %q does not end in a to-many relation", g.Path)
	}

	pk := m.PK()
	var holders []datamodel.Record
	var keys []any
	seen := map[any]bool{}
	for _, parent := range parents {
		holder := parent
		for _, p := range parts[:len(parts)-1] {
			if holder, _ = holder[p].(datamodel.Record); holder == nil {
				break
			}
		}
		if holder == nil {
			continue
		}
		key := holder[pk.Name]
		if key == nil {
			return errors.Errorf("sqlstore: prefetch %s needs %s.%s in the parent rows", g.Path, m.Name, pk.Name)
		}
		holders = append(holders, holder)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	stmt, err := PrefetchStatement(s.dialect, rel, g.Fields, keys)
	if err != nil {
		return err
	}
	rows, err := s.run(ctx, "prefetch", stmt)
	if err != nil {
		return err
	}
	defer rows.Close()
	byOwner := map[any][]datamodel.Record{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return errors.Wrap(err, "sqlstore: prefetch")
		}
		owner, err := decode(stmt.outputs[0], vals[0])
		if err != nil {
			return err
		}
		rec, err := record(stmt.outputs[1:], vals[1:])
		if err != nil {
			return err
		}
		byOwner[owner] = append(byOwner[owner], rec)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "sqlstore: prefetch")
	}
	for _, h := range holders {
		children := byOwner[h[pk.Name]]
		if children == nil {
			children = []datamodel.Record{}
		}
		h[rel.Name] = children
	}
	return nil
}

type cursor struct {
	rows    Rows
	outputs []output
	rec     datamodel.Record
	err     error
}

func (c *cursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	vals, err := c.rows.Values()
	if err != nil {
		c.err = errors.Wrap(err, "sqlstore: read row")
		return false
	}
	c.rec, c.err = record(c.outputs, vals)
	return c.err == nil
}

func (c *cursor) Record() datamodel.Record { return c.rec }

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.rows.Err(); err != nil {
		return errors.Wrap(err, "sqlstore: fetch")
	}
	return nil
}

func (c *cursor) Close() error {
	c.rows.Close()
	return nil
}
