package sqlstore

import (
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/pkg/errors"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
)

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int16:
		return int64(x), true
	case int8:
		return int64(x), true
	case int:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case float64:
		if x == float64(int64(x)) {
			return int64(x), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	if n, ok := toInt(v); ok {
		return float64(n), true
	}
	return 0, false
}

// decode converts a driver value to the type memory records use.
func decode(out output, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if out.geometry {
		data, ok := v.([]byte)
		if !ok {
			return nil, errors.Errorf("sqlstore: geometry column returned %T", v)
		}
		g, err := wkb.Unmarshal(data)
		if err != nil {
			return nil, errors.Wrap(err, "sqlstore: decode WKB")
		}
		return g, nil
	}
	return decodeKind(out.kind, out.elem, v)
}

func decodeKind(kind, elem datamodel.Kind, v any) (any, error) {
	if b, ok := v.([]byte); ok && kind != "" {
		v = string(b)
	}
	switch kind {
	case datamodel.KindInteger:
		if n, ok := toInt(v); ok {
			return n, nil
		}
		if s, ok := v.(string); ok {
			return strconv.ParseInt(s, 10, 64)
		}
	case datamodel.KindFloat, datamodel.KindDecimal:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		if s, ok := v.(string); ok {
			return strconv.ParseFloat(s, 64)
		}
	case datamodel.KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case datamodel.KindDate, datamodel.KindDateTime:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
		if s, ok := v.(string); ok {
			return schema.CoerceTo(schema.KindOf(kind), s)
		}
	case datamodel.KindTime:
		if s, ok := v.(string); ok {
			return schema.CoerceTo(schema.TypeTime, s)
		}
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	case datamodel.KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case datamodel.KindArray:
		items, ok := v.([]any)
		if !ok {
			return nil, errors.Errorf("sqlstore: array column returned %T", v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			d, err := decodeKind(elem, "", item)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	case "":
		return decodeAny(v), nil
	}
	return nil, errors.Errorf("sqlstore: can't read %T as %s", v, kind)
}

// decodeAny widens numeric driver types for annotation results.
func decodeAny(v any) any {
	switch x := v.(type) {
	case int64, float64, string, bool, time.Time:
		return v
	case float32:
		return float64(x)
	}
	if n, ok := toInt(v); ok {
		return n
	}
	return v
}

// place stores v under a dotted output path, nesting to-one records.
func place(rec datamodel.Record, path []string, v any) {
	for _, p := range path[:len(path)-1] {
		sub, _ := rec[p].(datamodel.Record)
		if sub == nil {
			sub = datamodel.Record{}
			rec[p] = sub
		}
		rec = sub
	}
	rec[path[len(path)-1]] = v
}

// collapse replaces nested records without any value by null; a left join
// that found no related row selects nothing but nulls.
func collapse(rec datamodel.Record) bool {
	empty := true
	for k, v := range rec {
		if sub, ok := v.(datamodel.Record); ok {
			if collapse(sub) {
				rec[k] = nil
				continue
			}
			empty = false
			continue
		}
		if v != nil {
			empty = false
		}
	}
	return empty
}

func record(outputs []output, vals []any) (datamodel.Record, error) {
	if len(vals) != len(outputs) {
		return nil, errors.Errorf("sqlstore: expected %d columns, got %d", len(outputs), len(vals))
	}
	rec := datamodel.Record{}
	for i, out := range outputs {
		v, err := decode(out, vals[i])
		if err != nil {
			return nil, errors.Wrapf(err, "column %s", strings.Join(out.path, "."))
		}
		place(rec, out.path, v)
	}
	collapse(rec)
	return rec, nil
}
