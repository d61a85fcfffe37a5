package memstore

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

type evaluator struct {
	store *Store
	query *query.Query
	// model is the row's model when it differs from the query root
	model *datamodel.Model
}

func (ev *evaluator) rowModel() *datamodel.Model {
	if ev.model != nil {
		return ev.model
	}
	return ev.query.Model
}

func (ev *evaluator) match(p query.Predicate, row datamodel.Record) (bool, error) {
	switch x := p.(type) {
	case nil, query.Everything:
		return true, nil
	case query.Nothing:
		return false, nil
	case query.And:
		for _, c := range x {
			ok, err := ev.match(c, row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case query.Or:
		for _, c := range x {
			ok, err := ev.match(c, row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case query.Not:
		ok, err := ev.match(x.P, row)
		return !ok, err
	case query.Lookup:
		return ev.lookup(x, row)
	case query.Exists:
		return ev.exists(x, row)
	}
	return false, fmt.Errorf("memstore: unsupported predicate %T", p)
}

// exists tests Where against each related row on its own.
func (ev *evaluator) exists(x query.Exists, row datamodel.Record) (bool, error) {
	rows, m := ev.store.reach(ev.rowModel(), row, strings.Split(x.Path, "."))
	if m == nil {
		return false, fmt.Errorf("memstore: cannot follow relation %q", x.Path)
	}
	sub := &evaluator{store: ev.store, query: ev.query, model: m}
	for _, r := range rows {
		ok, err := sub.match(x.Where, r)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (ev *evaluator) lookup(l query.Lookup, row datamodel.Record) (bool, error) {
	lhs, err := ev.eval(l.Lhs, row)
	if err != nil {
		return false, err
	}
	var rhs any
	if l.Rhs != nil {
		if rhs, err = ev.eval(l.Rhs, row); err != nil {
			return false, err
		}
	}
	if l.Op == query.OpIsNull {
		want, _ := rhs.(bool)
		return isNull(lhs) == want, nil
	}

	many, isMany := lhs.([]any)
	if !isMany {
		return ev.test(l, lhs, rhs)
	}
	hits := 0
	for _, v := range many {
		ok, err := ev.test(l, v, rhs)
		if err != nil {
			return false, err
		}
		if ok {
			hits++
		}
	}
	switch l.Action {
	case query.MatchAll:
		return len(many) > 0 && hits == len(many), nil
	case query.MatchOne:
		return hits == 1, nil
	}
	return hits > 0, nil
}

func isNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []any:
		return len(x) == 0
	case datamodel.Record:
		return x == nil
	}
	return false
}

// test applies one operator to a single value. Comparisons with null never match.
func (ev *evaluator) test(l query.Lookup, v, rhs any) (bool, error) {
	if v == nil || rhs == nil {
		return false, nil
	}
	if l.Op.IsSpatial() {
		a, ok := v.(orb.Geometry)
		b, ok2 := rhs.(orb.Geometry)
		if !ok || !ok2 {
			return false, fmt.Errorf("memstore: %s needs geometries, got %T and %T", l.Op, v, rhs)
		}
		return spatialMatch(l.Op, a, b, l.Distance), nil
	}
	switch l.Op {
	case query.OpIn:
		for _, item := range asList(rhs) {
			if equalValues(v, item, l.CaseInsensitive) {
				return true, nil
			}
		}
		return false, nil
	case query.OpLike:
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		pattern, ok := rhs.(string)
		if !ok {
			return false, fmt.Errorf("memstore: like pattern must be a string, got %T", rhs)
		}
		re, err := ev.store.likeRegexp(pattern, l.CaseInsensitive)
		if err != nil {
			return false, err
		}
		return re.MatchString(s), nil
	case query.OpEqual:
		return equalValues(v, rhs, l.CaseInsensitive), nil
	case query.OpNotEqual:
		return !equalValues(v, rhs, l.CaseInsensitive), nil
	}
	c, ok := compareValues(v, rhs, l.CaseInsensitive)
	if !ok {
		return false, nil
	}
	switch l.Op {
	case query.OpLessThan:
		return c < 0, nil
	case query.OpLessEqual:
		return c <= 0, nil
	case query.OpGreaterThan:
		return c > 0, nil
	case query.OpGreaterEqual:
		return c >= 0, nil
	}
	return false, fmt.Errorf("memstore: unsupported operator %s", l.Op)
}

func asList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{v}
}

func (ev *evaluator) eval(e query.Expr, row datamodel.Record) (any, error) {
	switch x := e.(type) {
	case query.Field:
		return ev.store.walk(ev.rowModel(), row, strings.Split(x.Path, ".")), nil
	case query.Value:
		return x.V, nil
	case query.GeometryValue:
		return x.Geom, nil
	case query.AnnotationRef:
		a, ok := ev.query.Annotation(x.Name)
		if !ok {
			return nil, fmt.Errorf("memstore: unknown annotation %q", x.Name)
		}
		return ev.eval(a.Expr, row)
	case query.Func:
		return ev.call(x, row)
	}
	return nil, fmt.Errorf("memstore: unsupported expression %T", e)
}

// walk reads a dotted path. Crossing a to-many relation yields a flat []any.
func (s *Store) walk(m *datamodel.Model, row datamodel.Record, parts []string) any {
	if row == nil {
		return nil
	}
	f, ok := m.Field(parts[0])
	if !ok {
		return nil
	}
	rest := parts[1:]
	if !f.IsRelation() {
		if len(rest) > 0 {
			return nil
		}
		return row[f.Name]
	}
	target := s.tables[f.Rel.Target.Name]
	if !f.IsToMany() {
		if len(rest) == 0 {
			return row[f.Name]
		}
		return s.walk(target.model, target.get(row[f.Name]), rest)
	}
	owner := s.tables[m.Name]
	var out []any
	for _, r := range s.related(f, owner, owner.get(row[m.PK().Name])) {
		if len(rest) == 0 {
			out = append(out, r[target.model.PK().Name])
			continue
		}
		switch v := s.walk(target.model, r, rest).(type) {
		case nil:
		case []any:
			out = append(out, v...)
		default:
			out = append(out, v)
		}
	}
	if out == nil {
		out = []any{}
	}
	return out
}

// reach follows a dotted relation path and returns the rows at its end
// with their model. A nil model means the path is not a relation chain.
func (s *Store) reach(m *datamodel.Model, row datamodel.Record, parts []string) ([]datamodel.Record, *datamodel.Model) {
	rows := []datamodel.Record{row}
	for _, name := range parts {
		f, ok := m.Field(name)
		if !ok || !f.IsRelation() {
			return nil, nil
		}
		owner, target := s.tables[m.Name], s.tables[f.Rel.Target.Name]
		if owner == nil || target == nil {
			return nil, nil
		}
		var next []datamodel.Record
		for _, r := range rows {
			if !f.IsToMany() {
				if t := target.get(r[f.Name]); t != nil {
					next = append(next, t)
				}
				continue
			}
			next = append(next, s.related(f, owner, owner.get(r[m.PK().Name]))...)
		}
		rows, m = next, target.model
	}
	return rows, m
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case float32:
		return float64(x), true
	}
	return 0, false
}

func equalValues(a, b any, ci bool) bool {
	if c, ok := compareValues(a, b, ci); ok {
		return c == 0
	}
	if ga, ok := a.(orb.Geometry); ok {
		if gb, ok := b.(orb.Geometry); ok {
			return orb.Equal(ga, gb)
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareValues orders numbers, strings, times and booleans. ok is false
// for values that can't be ordered against each other.
func compareValues(a, b any, ci bool) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		if ci {
			x, y = strings.ToLower(x), strings.ToLower(y)
		}
		return strings.Compare(x, y), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// likeRegexp translates a LIKE pattern with '\' escapes.
func (s *Store) likeRegexp(pattern string, ci bool) (*regexp.Regexp, error) {
	key := "s:" + pattern
	if ci {
		key = "i:" + pattern
	}
	if re, ok := s.likes.Load(key); ok {
		return re.(*regexp.Regexp), nil
	}
	var b strings.Builder
	b.WriteString("(?s)")
	if ci {
		b.WriteString("(?i)")
	}
	b.WriteString("^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("memstore: like pattern %q: %w", pattern, err)
	}
	s.likes.Store(key, re)
	return re, nil
}
