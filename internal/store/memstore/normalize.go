package memstore

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
)

// normalizeRow converts loosely typed input (JSON numbers, date strings,
// int ids) to the value types filters compare against. Unknown keys are
// dropped and missing fields are null.
func normalizeRow(m *datamodel.Model, raw datamodel.Record) (datamodel.Record, error) {
	row := make(datamodel.Record, len(m.Fields))
	for _, f := range m.Fields {
		if f.Kind == datamodel.KindOneToMany {
			continue
		}
		v, err := normalizeField(f, raw[f.Name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		row[f.Name] = v
	}
	return row, nil
}

func normalizeField(f *datamodel.Field, v any) (any, error) {
	if v == nil {
		if f.Kind == datamodel.KindManyToMany {
			return []any{}, nil
		}
		return nil, nil
	}
	switch f.Kind {
	case datamodel.KindForeignKey, datamodel.KindOneToOne:
		return normalizeValue(f.Rel.Target.PK().Kind, v)
	case datamodel.KindManyToMany:
		return normalizeList(f.Rel.Target.PK().Kind, v)
	case datamodel.KindArray:
		return normalizeList(f.ElemKind, v)
	}
	return normalizeValue(f.Kind, v)
}

func normalizeList(kind datamodel.Kind, v any) ([]any, error) {
	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case []int:
		for _, i := range x {
			items = append(items, i)
		}
	case []int64:
		for _, i := range x {
			items = append(items, i)
		}
	case []string:
		for _, s := range x {
			items = append(items, s)
		}
	case []float64:
		for _, n := range x {
			items = append(items, n)
		}
	default:
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		n, err := normalizeValue(kind, item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func normalizeValue(kind datamodel.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if n, ok := v.(json.Number); ok {
		v = n.String()
	}
	switch kind {
	case datamodel.KindInteger:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("%v is not an integer", x)
			}
			return int64(x), nil
		}
	case datamodel.KindFloat, datamodel.KindDecimal:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	case datamodel.KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case datamodel.KindDate, datamodel.KindDateTime, datamodel.KindTime:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	case datamodel.KindGeometry:
		g, ok := v.(orb.Geometry)
		if !ok {
			return nil, fmt.Errorf("expected a geometry, got %T", v)
		}
		return g, nil
	case datamodel.KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("can't store %T as %s", v, kind)
	}
	return schema.CoerceTo(schema.KindOf(kind), s)
}
