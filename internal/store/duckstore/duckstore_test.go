package duckstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/query"
	"github.com/mohammed-shakir/wfs-server/internal/schema/schematest"
)

// cities opens an in-memory database without extensions holding the
// test_city table.
func cities(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), nil, "", Options{Setup: []string{
		`CREATE TABLE test_city (id BIGINT PRIMARY KEY, name VARCHAR, region VARCHAR)`,
		`INSERT INTO test_city VALUES (1, 'Amsterdam', 'Noord-Holland'), (2, 'Rotterdam', NULL), (3, 'Utrecht', 'Utrecht')`,
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func city(t *testing.T) *datamodel.Model {
	m, ok := schematest.Registry(t).Get("city")
	require.True(t, ok)
	return m
}

func TestFetchAndCount(t *testing.T) {
	s := cities(t)
	ctx := context.Background()
	q := &query.Query{
		Model:    city(t),
		Where:    query.Lookup{Lhs: query.Field{Path: "name"}, Op: query.OpLike, Rhs: query.Value{V: "%dam"}},
		Ordering: []query.Order{{Expr: query.Field{Path: "region"}, Desc: true}},
	}

	n, err := s.Count(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cur, err := s.Fetch(ctx, q, query.Page{Limit: 10})
	require.NoError(t, err)
	recs, err := query.Drain(cur)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, datamodel.Record{"id": int64(2), "name": "Rotterdam", "region": nil}, recs[0])
	assert.Equal(t, "Amsterdam", recs[1]["name"])
}

func TestFetch_Page(t *testing.T) {
	s := cities(t)
	cur, err := s.Fetch(context.Background(), &query.Query{Model: city(t), Only: []string{"id"}}, query.Page{Offset: 1, Limit: 1})
	require.NoError(t, err)
	recs, err := query.Drain(cur)
	require.NoError(t, err)
	assert.Equal(t, []datamodel.Record{{"id": int64(2)}}, recs)
}

func TestOpen_RequiredFailure(t *testing.T) {
	_, err := Open(context.Background(), nil, "", Options{Required: []string{"LOAD no_such_extension"}})
	assert.Error(t, err)
}
