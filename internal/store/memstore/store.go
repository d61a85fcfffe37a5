// Package memstore is an in-memory query.Store. Rows live in per-model
// tables, spatial filters are narrowed with an R-tree and every lookup is
// evaluated in Go.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dhconnelly/rtreego"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

// Stats counts the operations a store executed.
type Stats struct {
	Fetches    int64
	Counts     int64
	Prefetches int64
}

type table struct {
	model *datamodel.Model
	rows  []datamodel.Record
	byPK  map[any]int
	// refs indexes foreign key values: field name -> key -> row positions
	refs map[string]map[any][]int
	// trees index root geometry fields by name
	trees map[string]*rtreego.Rtree
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	models *datamodel.Registry
	tables map[string]*table
	funcs  map[string]Function
	likes  sync.Map // pattern -> *regexp.Regexp

	fetches    atomic.Int64
	counts     atomic.Int64
	prefetches atomic.Int64
}

var _ query.Store = (*Store)(nil)

func New(models *datamodel.Registry) *Store {
	s := &Store{models: models, tables: map[string]*table{}, funcs: DefaultFunctions()}
	for _, name := range models.Names() {
		m, _ := models.Get(name)
		s.tables[name] = &table{model: m, byPK: map[any]int{}}
	}
	return s
}

// RegisterFunction adds or replaces a filter function body.
func (s *Store) RegisterFunction(name string, fn Function) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[name] = fn
}

func (s *Store) Stats() Stats {
	return Stats{Fetches: s.fetches.Load(), Counts: s.counts.Load(), Prefetches: s.prefetches.Load()}
}

func (s *Store) ResetStats() {
	s.fetches.Store(0)
	s.counts.Store(0)
	s.prefetches.Store(0)
}

// Insert adds rows to a model's table. Relation fields hold the related
// primary key (foreign keys) or a list of them (many-to-many); reverse
// relations are derived. A batch with a bad row inserts nothing.
func (s *Store) Insert(model string, rows ...datamodel.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[model]
	if !ok {
		return fmt.Errorf("memstore: unknown model %q", model)
	}
	pk := t.model.PK().Name
	batch := make([]datamodel.Record, 0, len(rows))
	seen := map[any]bool{}
	for i, raw := range rows {
		row, err := normalizeRow(t.model, raw)
		if err != nil {
			return fmt.Errorf("memstore: %s row %d: %w", model, i, err)
		}
		key := row[pk]
		if key == nil {
			return fmt.Errorf("memstore: %s row %d has no %s", model, i, pk)
		}
		if _, dup := t.byPK[key]; dup || seen[key] {
			return fmt.Errorf("memstore: %s row %d: duplicate key %v", model, i, key)
		}
		seen[key] = true
		batch = append(batch, row)
	}
	for _, row := range batch {
		t.byPK[row[pk]] = len(t.rows)
		t.rows = append(t.rows, row)
	}
	t.reindex()
	return nil
}

func (t *table) reindex() {
	t.refs = map[string]map[any][]int{}
	t.trees = map[string]*rtreego.Rtree{}
	for _, f := range t.model.Fields {
		switch {
		case f.Kind == datamodel.KindForeignKey || f.Kind == datamodel.KindOneToOne:
			idx := map[any][]int{}
			for i, r := range t.rows {
				if v := r[f.Name]; v != nil {
					idx[v] = append(idx[v], i)
				}
			}
			t.refs[f.Name] = idx
		case f.IsGeometry():
			t.trees[f.Name] = buildTree(t.rows, f.Name)
		}
	}
}

func (t *table) get(key any) datamodel.Record {
	if i, ok := t.byPK[key]; ok {
		return t.rows[i]
	}
	return nil
}

func (s *Store) table(m *datamodel.Model) (*table, error) {
	t, ok := s.tables[m.Name]
	if !ok {
		return nil, fmt.Errorf("memstore: unknown model %q", m.Name)
	}
	return t, nil
}

// Fetch evaluates q and returns the requested page.
func (s *Store) Fetch(ctx context.Context, q *query.Query, page query.Page) (query.Cursor, error) {
	s.fetches.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.selectRows(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := s.order(q, rows); err != nil {
		return nil, err
	}
	if page.Offset >= len(rows) {
		rows = nil
	} else {
		rows = rows[page.Offset:]
	}
	if page.Limit >= 0 && len(rows) > page.Limit {
		rows = rows[:page.Limit]
	}

	out := make([]datamodel.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := s.output(q, r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return query.NewSliceCursor(out), nil
}

// Count evaluates q without materializing records.
func (s *Store) Count(ctx context.Context, q *query.Query) (int, error) {
	s.counts.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.selectRows(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// selectRows applies the predicate. Rows are unique per table, so a
// distinct query needs no extra step.
func (s *Store) selectRows(ctx context.Context, q *query.Query) ([]datamodel.Record, error) {
	if q.Empty {
		return nil, nil
	}
	t, err := s.table(q.Model)
	if err != nil {
		return nil, err
	}
	ev := &evaluator{store: s, query: q}
	candidates := s.candidates(t, q.Where)
	out := make([]datamodel.Record, 0, len(candidates))
	for i, r := range candidates {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		ok, err := ev.match(q.Where, r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// order sorts by the query ordering, then by primary key so pages are stable.
func (s *Store) order(q *query.Query, rows []datamodel.Record) error {
	ev := &evaluator{store: s, query: q}
	keys := make([][]any, len(rows))
	for i, r := range rows {
		k := make([]any, 0, len(q.Ordering)+1)
		for _, o := range q.Ordering {
			v, err := ev.eval(o.Expr, r)
			if err != nil {
				return err
			}
			k = append(k, v)
		}
		keys[i] = append(k, r[q.Model.PK().Name])
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		for i := range ka {
			desc := i < len(q.Ordering) && q.Ordering[i].Desc
			if c := orderCompare(ka[i], kb[i], desc); c != 0 {
				return c < 0
			}
		}
		return false
	})
	sorted := make([]datamodel.Record, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
	return nil
}

// orderCompare sorts nulls last ascending and first descending.
func orderCompare(a, b any, desc bool) int {
	var c int
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		c = 1
	case b == nil:
		c = -1
	default:
		c, _ = compareValues(a, b, false)
	}
	if desc {
		return -c
	}
	return c
}

// output builds the record handed to renderers: the Only paths with to-one
// relations nested, plus the annotations.
func (s *Store) output(q *query.Query, row datamodel.Record) (datamodel.Record, error) {
	out, err := s.project(q.Model, row, q.Only)
	if err != nil {
		return nil, err
	}
	ev := &evaluator{store: s, query: q}
	for _, a := range q.Annotations {
		v, err := ev.eval(a.Expr, row)
		if err != nil {
			return nil, fmt.Errorf("annotation %s: %w", a.Name, err)
		}
		out[a.Name] = v
	}
	return out, nil
}

func (s *Store) project(m *datamodel.Model, row datamodel.Record, only []string) (datamodel.Record, error) {
	out := datamodel.Record{}
	if len(only) == 0 {
		for _, f := range m.Fields {
			if !f.IsToMany() {
				out[f.Name] = row[f.Name]
			}
		}
		return out, nil
	}
	for _, path := range only {
		if err := s.place(m, row, out, strings.Split(path, ".")); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) place(m *datamodel.Model, row, out datamodel.Record, parts []string) error {
	f, ok := m.Field(parts[0])
	if !ok {
		return fmt.Errorf("memstore: %s has no field %q", m.Name, parts[0])
	}
	if len(parts) == 1 || !f.IsRelation() {
		out[f.Name] = row[f.Name]
		return nil
	}
	if f.IsToMany() {
		// loaded by Prefetch
		return nil
	}
	target := s.tables[f.Rel.Target.Name]
	related := target.get(row[f.Name])
	if related == nil {
		if _, set := out[f.Name]; !set {
			out[f.Name] = nil
		}
		return nil
	}
	sub, _ := out[f.Name].(datamodel.Record)
	if sub == nil {
		sub = datamodel.Record{}
		out[f.Name] = sub
	}
	return s.place(target.model, related, sub, parts[1:])
}

// Prefetch attaches the related rows of one to-many relation to every parent.
func (s *Store) Prefetch(ctx context.Context, q *query.Query, g query.PrefetchGroup, parents []datamodel.Record) error {
	s.prefetches.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := strings.Split(g.Path, ".")
	m := q.Model
	for _, p := range parts[:len(parts)-1] {
		f, ok := m.Field(p)
		if !ok || !f.IsRelation() || f.IsToMany() {
			return fmt.Errorf("memstore: prefetch path %q does not follow to-one relations", g.Path)
		}
		m = f.Rel.Target
	}
	rel, ok := m.Field(parts[len(parts)-1])
	if !ok || !rel.IsToMany() {
		return fmt.Errorf("memstore: prefetch path %q does not end in a to-many relation", g.Path)
	}
	owner := s.tables[m.Name]
	target := s.tables[rel.Rel.Target.Name]

	for _, parent := range parents {
		if err := ctx.Err(); err != nil {
			return err
		}
		holder := parent
		for _, p := range parts[:len(parts)-1] {
			holder, _ = holder[p].(datamodel.Record)
			if holder == nil {
				break
			}
		}
		if holder == nil {
			continue
		}
		raw := owner.get(holder[m.PK().Name])
		children := []datamodel.Record{}
		for _, r := range s.related(rel, owner, raw) {
			child, err := s.project(target.model, r, g.Fields)
			if err != nil {
				return err
			}
			children = append(children, child)
		}
		holder[rel.Name] = children
	}
	return nil
}

// related returns the target rows of a to-many relation in key order.
func (s *Store) related(rel *datamodel.Field, owner *table, raw datamodel.Record) []datamodel.Record {
	if raw == nil {
		return nil
	}
	target := s.tables[rel.Rel.Target.Name]
	var out []datamodel.Record
	switch rel.Kind {
	case datamodel.KindOneToMany:
		for _, i := range target.refs[rel.Rel.RemoteField][raw[owner.model.PK().Name]] {
			out = append(out, target.rows[i])
		}
	case datamodel.KindManyToMany:
		ids, _ := raw[rel.Name].([]any)
		for _, id := range ids {
			if r := target.get(id); r != nil {
				out = append(out, r)
			}
		}
	}
	return out
}
