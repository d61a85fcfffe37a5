package memstore

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	h3mapper "github.com/mohammed-shakir/wfs-server/internal/mapper/h3"
	"github.com/mohammed-shakir/wfs-server/internal/projection"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

// Function is the body of a filter function. Null arguments yield null
// before the body runs.
type Function func(args []any) (any, error)

// DefaultFunctions implements the filter function registry.
func DefaultFunctions() map[string]Function {
	return map[string]Function{
		"strConcat": func(a []any) (any, error) {
			return str(a[0]) + str(a[1]), nil
		},
		"strToLowerCase": func(a []any) (any, error) { return strings.ToLower(str(a[0])), nil },
		"strToUpperCase": func(a []any) (any, error) { return strings.ToUpper(str(a[0])), nil },
		"strTrim":        func(a []any) (any, error) { return strings.TrimSpace(str(a[0])), nil },
		"strLength": func(a []any) (any, error) {
			return int64(utf8.RuneCountInString(str(a[0]))), nil
		},
		"strSubstring": func(a []any) (any, error) {
			r := []rune(str(a[0]))
			begin, _ := toFloat(a[1])
			end, _ := toFloat(a[2])
			b, e := clamp(int(begin), len(r)), clamp(int(end), len(r))
			if b > e {
				return "", nil
			}
			return string(r[b:e]), nil
		},
		"abs":   numeric(math.Abs),
		"ceil":  numeric(math.Ceil),
		"floor": numeric(math.Floor),
		"round": numeric(math.Round),
		"sqrt":  numeric(math.Sqrt),
		"area": geometric(func(g orb.Geometry) (any, error) {
			return planar.Area(g), nil
		}),
		"length": geometric(func(g orb.Geometry) (any, error) {
			return planar.Length(g), nil
		}),
		"h3Cell": func(a []any) (any, error) {
			g, ok := a[0].(orb.Geometry)
			if !ok {
				return nil, fmt.Errorf("h3Cell: expected a geometry, got %T", a[0])
			}
			res, _ := toFloat(a[1])
			return h3mapper.CellFor(g, int(res))
		},
	}
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func clamp(i, n int) int {
	switch {
	case i < 0:
		return 0
	case i > n:
		return n
	}
	return i
}

func numeric(fn func(float64) float64) Function {
	return func(a []any) (any, error) {
		f, ok := toFloat(a[0])
		if !ok {
			return nil, fmt.Errorf("expected a number, got %T", a[0])
		}
		return fn(f), nil
	}
}

func geometric(fn func(orb.Geometry) (any, error)) Function {
	return func(a []any) (any, error) {
		g, ok := a[0].(orb.Geometry)
		if !ok {
			return nil, fmt.Errorf("expected a geometry, got %T", a[0])
		}
		return fn(g)
	}
}

// call evaluates a function. A multi-valued first argument applies the
// function per value.
func (ev *evaluator) call(fn query.Func, row datamodel.Record) (any, error) {
	args := make([]any, len(fn.Args))
	for i, a := range fn.Args {
		v, err := ev.eval(a, row)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	if fn.Name == projection.TransformFunc {
		return ev.transform(fn, args)
	}
	body, ok := ev.store.funcs[fn.Name]
	if !ok {
		return nil, fmt.Errorf("memstore: function %s is not implemented", fn.Name)
	}
	if len(args) == 0 {
		return apply(fn.Name, body, args)
	}
	if many, ok := args[0].([]any); ok {
		out := make([]any, 0, len(many))
		for _, v := range many {
			r, err := apply(fn.Name, body, append([]any{v}, args[1:]...))
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, nil
	}
	return apply(fn.Name, body, args)
}

func apply(name string, body Function, args []any) (any, error) {
	for _, a := range args {
		if a == nil {
			return nil, nil
		}
	}
	v, err := body(args)
	if err != nil {
		return nil, fmt.Errorf("%s(): %w", name, err)
	}
	return v, nil
}

// transform(field, srid) reprojects a stored geometry for output.
func (ev *evaluator) transform(fn query.Func, args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("memstore: transform takes 2 arguments")
	}
	g, _ := args[0].(orb.Geometry)
	if g == nil {
		return nil, nil
	}
	field, ok := fn.Args[0].(query.Field)
	if !ok {
		return nil, fmt.Errorf("memstore: transform needs a field argument")
	}
	path, err := ev.rowModel().ResolvePath(field.Path)
	if err != nil {
		return nil, err
	}
	dst, _ := toFloat(args[1])
	target, err := crs.FromSRID(int(dst))
	if err != nil {
		return nil, err
	}
	out, err := target.Transform(crs.Stored(g, path[len(path)-1].SRID), crs.XY)
	if err != nil {
		return nil, err
	}
	return out.Geom, nil
}
