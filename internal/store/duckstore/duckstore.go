// Package duckstore runs queries on an embedded DuckDB database with the
// spatial extension.
package duckstore

import (
	"context"
	"database/sql"
	"log/slog"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/pkg/errors"

	"github.com/mohammed-shakir/wfs-server/internal/store/sqlstore"
)

// Options configures Open. Required extensions must load; optional ones are
// skipped with a warning.
type Options struct {
	Required []string
	Optional []string
	// Setup runs after the extensions load, e.g. to attach files or
	// create views.
	Setup []string
}

// DefaultOptions loads spatial and, when available, the community h3
// extension used by h3Cell.
func DefaultOptions() Options {
	return Options{
		Required: []string{"INSTALL spatial", "LOAD spatial"},
		Optional: []string{"INSTALL h3 FROM community", "LOAD h3"},
	}
}

type Store struct {
	*sqlstore.Store
	db *sql.DB
}

// Open opens the database at path; an empty path is an in-memory database.
func Open(ctx context.Context, logger *slog.Logger, path string, opts Options) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(err, "duckstore: open")
	}
	for _, stmt := range opts.Required {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "duckstore: %s", stmt)
		}
	}
	for _, stmt := range opts.Optional {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			logger.Warn("duckdb extension unavailable", "stmt", stmt, "err", err)
			break
		}
	}
	for _, stmt := range opts.Setup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "duckstore: setup")
		}
	}
	return &Store{Store: sqlstore.New(logger, querier{db}, sqlstore.DuckDB{}), db: db}, nil
}

// DB exposes the connection pool for loading data.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

type querier struct{ db *sql.DB }

func (q querier) Query(ctx context.Context, query string, args ...any) (sqlstore.Rows, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	return &sqlRows{Rows: rows, width: len(cols)}, nil
}

// sqlRows adapts database/sql rows to the Values style pgx uses.
type sqlRows struct {
	*sql.Rows
	width int
}

func (r *sqlRows) Values() ([]any, error) {
	vals := make([]any, r.width)
	ptrs := make([]any, r.width)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

func (r *sqlRows) Close() { _ = r.Rows.Close() }
