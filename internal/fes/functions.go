package fes

import (
	"sort"

	"github.com/mohammed-shakir/wfs-server/internal/schema"
)

// FunctionDef is the signature of a filter function. Stores implement the
// function body under the same name.
type FunctionDef struct {
	Name    string
	Args    []schema.XsdType
	Returns schema.XsdType
}

// Functions is a read-only name to signature registry.
type Functions struct {
	defs map[string]FunctionDef
}

func NewFunctions(defs ...FunctionDef) *Functions {
	f := &Functions{defs: make(map[string]FunctionDef, len(defs))}
	for _, d := range defs {
		f.defs[d.Name] = d
	}
	return f
}

func (f *Functions) Lookup(name string) (FunctionDef, bool) {
	d, ok := f.defs[name]
	return d, ok
}

func (f *Functions) All() []FunctionDef {
	out := make([]FunctionDef, 0, len(f.defs))
	for _, d := range f.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultFunctions are the functions every store implements.
func DefaultFunctions() *Functions {
	str, num, geom := schema.TypeString, schema.TypeDouble, schema.TypeGeometry
	return NewFunctions(
		FunctionDef{Name: "strConcat", Args: []schema.XsdType{str, str}, Returns: str},
		FunctionDef{Name: "strToLowerCase", Args: []schema.XsdType{str}, Returns: str},
		FunctionDef{Name: "strToUpperCase", Args: []schema.XsdType{str}, Returns: str},
		FunctionDef{Name: "strTrim", Args: []schema.XsdType{str}, Returns: str},
		FunctionDef{Name: "strLength", Args: []schema.XsdType{str}, Returns: schema.TypeInteger},
		FunctionDef{Name: "strSubstring", Args: []schema.XsdType{str, schema.TypeInteger, schema.TypeInteger}, Returns: str},
		FunctionDef{Name: "abs", Args: []schema.XsdType{num}, Returns: num},
		FunctionDef{Name: "ceil", Args: []schema.XsdType{num}, Returns: num},
		FunctionDef{Name: "floor", Args: []schema.XsdType{num}, Returns: num},
		FunctionDef{Name: "round", Args: []schema.XsdType{num}, Returns: num},
		FunctionDef{Name: "sqrt", Args: []schema.XsdType{num}, Returns: num},
		FunctionDef{Name: "area", Args: []schema.XsdType{geom}, Returns: num},
		FunctionDef{Name: "length", Args: []schema.XsdType{geom}, Returns: num},
		FunctionDef{Name: "h3Cell", Args: []schema.XsdType{geom, schema.TypeInteger}, Returns: str},
	)
}
