// Package pgstore runs queries on PostgreSQL/PostGIS through a pgx pool.
package pgstore

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/mohammed-shakir/wfs-server/internal/store/sqlstore"
)

type Store struct {
	*sqlstore.Store
	pool *pgxpool.Pool
}

// Open connects to url and checks the connection.
func Open(ctx context.Context, logger *slog.Logger, url string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: parse url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pgstore: ping")
	}
	return New(logger, pool), nil
}

func New(logger *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{Store: sqlstore.New(logger, querier{pool}, sqlstore.PostGIS{}), pool: pool}
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() { s.pool.Close() }

type querier struct{ pool *pgxpool.Pool }

func (q querier) Query(ctx context.Context, sql string, args ...any) (sqlstore.Rows, error) {
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgRows{rows}, nil
}

type pgRows struct{ pgx.Rows }

func (r pgRows) Values() ([]any, error) {
	vals, err := r.Rows.Values()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if vals[i], err = normalize(v); err != nil {
			return nil, err
		}
	}
	return vals, nil
}

// normalize maps pgx's own value types onto plain Go ones.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil, nil
		}
		f, err := x.Float64Value()
		if err != nil {
			return nil, errors.Wrap(err, "pgstore: numeric")
		}
		return f.Float64, nil
	}
	return v, nil
}
