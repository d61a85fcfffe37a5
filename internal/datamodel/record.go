package datamodel

import "strings"

// Record is one row keyed by field name. To-one relations hold a Record (or
// nil), to-many relations hold a []Record.
type Record map[string]any

// Lookup walks a dotted field path. Crossing a to-many relation yields a
// flattened []any of the values found below it.
func (r Record) Lookup(path string) any {
	if path == "" {
		return r
	}
	return lookup(r, strings.Split(path, "."))
}

func lookup(v any, parts []string) any {
	if len(parts) == 0 {
		return v
	}
	switch x := v.(type) {
	case Record:
		if x == nil {
			return nil
		}
		return lookup(x[parts[0]], parts[1:])
	case map[string]any:
		return lookup(Record(x), parts)
	case []Record:
		out := make([]any, 0, len(x))
		for _, item := range x {
			out = appendFlat(out, lookup(item, parts))
		}
		return out
	case []any:
		out := make([]any, 0, len(x))
		for _, item := range x {
			out = appendFlat(out, lookup(item, parts))
		}
		return out
	default:
		return nil
	}
}

func appendFlat(out []any, v any) []any {
	if v == nil {
		return out
	}
	if many, ok := v.([]any); ok {
		return append(out, many...)
	}
	return append(out, v)
}
