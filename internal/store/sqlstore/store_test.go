package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

type fakeRows struct {
	data [][]any
	i    int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.data[r.i-1], nil }
func (r *fakeRows) Err() error             { return r.err }
func (r *fakeRows) Close()                 {}

type fakeDB struct {
	rows  [][]any
	err   error
	calls []string
	args  [][]any
}

func (db *fakeDB) Query(_ context.Context, sql string, args ...any) (Rows, error) {
	db.calls = append(db.calls, sql)
	db.args = append(db.args, args)
	if db.err != nil {
		return nil, db.err
	}
	return &fakeRows{data: db.rows}, nil
}

func TestFetch_DecodesRecords(t *testing.T) {
	point, err := wkb.Marshal(orb.Point{4.9, 52.37})
	require.NoError(t, err)
	db := &fakeDB{rows: [][]any{
		{int32(1), "Café Noir", point, []byte("Amsterdam")},
		{int64(2), "Roadside Diner", nil, nil},
	}}
	s := New(nil, db, PostGIS{})
	q := &query.Query{Model: restaurant(t), Only: []string{"id", "name", "location", "city.name"}}

	cur, err := s.Fetch(context.Background(), q, query.Page{Limit: 10})
	require.NoError(t, err)
	recs, err := query.Drain(cur)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, int64(1), recs[0]["id"])
	assert.Equal(t, orb.Point{4.9, 52.37}, recs[0]["location"])
	assert.Equal(t, datamodel.Record{"name": "Amsterdam"}, recs[0]["city"])
	assert.Equal(t, int64(2), recs[1]["id"])
	assert.Nil(t, recs[1]["location"])
	assert.Nil(t, recs[1]["city"])
	assert.Len(t, db.calls, 1)
}

func TestFetch_SkipsEmptyQueries(t *testing.T) {
	db := &fakeDB{}
	s := New(nil, db, DuckDB{})
	m := restaurant(t)

	cur, err := s.Fetch(context.Background(), &query.Query{Model: m, Empty: true}, query.Page{Limit: 10})
	require.NoError(t, err)
	assert.False(t, cur.Next())

	cur, err = s.Fetch(context.Background(), &query.Query{Model: m}, query.Page{Limit: 0})
	require.NoError(t, err)
	assert.False(t, cur.Next())

	n, err := s.Count(context.Background(), &query.Query{Model: m, Empty: true})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, db.calls)
}

func TestCount(t *testing.T) {
	db := &fakeDB{rows: [][]any{{int64(7)}}}
	s := New(nil, db, PostGIS{})
	n, err := s.Count(context.Background(), &query.Query{Model: restaurant(t), Where: eq("name", "x")})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, []any{"x"}, db.args[0])
}

func TestCount_DriverError(t *testing.T) {
	boom := errors.New("connection reset")
	s := New(nil, &fakeDB{err: boom}, PostGIS{})
	_, err := s.Count(context.Background(), &query.Query{Model: restaurant(t)})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "sqlstore: count")
}

func TestPrefetch_GroupsByOwner(t *testing.T) {
	db := &fakeDB{rows: [][]any{
		{int32(1), int32(1), "vegan"},
		{int32(1), int32(2), "fast food"},
		{int32(3), int32(2), "fast food"},
	}}
	s := New(nil, db, PostGIS{})
	parents := []datamodel.Record{{"id": int64(1)}, {"id": int64(2)}, {"id": int64(3)}, {"id": int64(1)}}
	g := query.PrefetchGroup{Path: "tags", Fields: []string{"id", "name"}}

	require.NoError(t, s.Prefetch(context.Background(), &query.Query{Model: restaurant(t)}, g, parents))
	require.Len(t, db.calls, 1)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, db.args[0][:3])

	assert.Equal(t, []datamodel.Record{
		{"id": int64(1), "name": "vegan"},
		{"id": int64(2), "name": "fast food"},
	}, parents[0]["tags"])
	assert.Equal(t, []datamodel.Record{}, parents[1]["tags"])
	assert.Len(t, parents[2]["tags"], 1)
	assert.Len(t, parents[3]["tags"], 2)
}

func TestPrefetch_ThroughToOne(t *testing.T) {
	hours, ok := restaurant(t).Field("opening_hours")
	require.True(t, ok)
	hoursModel := hours.Rel.Target

	db := &fakeDB{}
	s := New(nil, db, PostGIS{})
	parents := []datamodel.Record{{"id": int64(1), "restaurant": nil}}
	err := s.Prefetch(context.Background(), &query.Query{Model: hoursModel},
		query.PrefetchGroup{Path: "restaurant.opening_hours", Fields: []string{"weekday"}}, parents)
	require.NoError(t, err)
	assert.Empty(t, db.calls)

	err = s.Prefetch(context.Background(), &query.Query{Model: hoursModel},
		query.PrefetchGroup{Path: "weekday"}, parents)
	assert.Error(t, err)
}

func TestRecord_Collapse(t *testing.T) {
	outs := []output{
		{path: []string{"id"}, kind: datamodel.KindInteger},
		{path: []string{"city", "id"}, kind: datamodel.KindInteger},
		{path: []string{"city", "region"}, kind: datamodel.KindString},
	}
	rec, err := record(outs, []any{int64(2), int64(2), nil})
	require.NoError(t, err)
	assert.Equal(t, datamodel.Record{"id": int64(2), "region": nil}, rec["city"])

	rec, err = record(outs, []any{int64(4), nil, nil})
	require.NoError(t, err)
	assert.Nil(t, rec["city"])

	_, err = record(outs, []any{int64(4)})
	assert.Error(t, err)
}

func TestDecodeKind(t *testing.T) {
	v, err := decodeKind(datamodel.KindFloat, "", "4.5")
	require.NoError(t, err)
	assert.Equal(t, 4.5, v)

	v, err = decodeKind(datamodel.KindArray, datamodel.KindInteger, []any{int32(1), nil})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), nil}, v)

	_, err = decodeKind(datamodel.KindBoolean, "", "yes")
	assert.Error(t, err)
}
