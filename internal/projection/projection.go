// Package projection decides which schema elements a response renders and
// derives the backend field list and relation prefetches from that choice.
package projection

import (
	"slices"
	"strings"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/query"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
	"github.com/mohammed-shakir/wfs-server/internal/xpath"
)

// TransformFunc is the output-only annotation function stores implement to
// return a geometry in another SRID.
const TransformFunc = "transform"

// Projection is immutable; AddField and RemoveFields return a new value.
type Projection struct {
	feature    *schema.ComplexType
	outputCRS  *crs.CRS
	standalone bool

	roots    []*schema.Element
	children map[*schema.Element][]*schema.Element
}

// Full renders every declared element.
func Full(ft *schema.ComplexType, out *crs.CRS) *Projection {
	p := &Projection{
		feature:   ft,
		outputCRS: out,
		roots:     append([]*schema.Element(nil), ft.Elements...),
		children:  map[*schema.Element][]*schema.Element{},
	}
	for _, el := range ft.Elements {
		p.addSubtree(el)
	}
	return p
}

// FromMatches narrows the projection to resolved property names. Parents
// keep first-seen order and repeated parents share one child list.
func FromMatches(ft *schema.ComplexType, out *crs.CRS, matches []*xpath.Match) *Projection {
	if len(matches) == 0 {
		return Full(ft, out)
	}
	p := &Projection{
		feature:   ft,
		outputCRS: out,
		children:  map[*schema.Element][]*schema.Element{},
	}
	for _, m := range matches {
		nodes := m.Nodes
		if len(nodes) > 0 && nodes[len(nodes)-1].Attribute {
			// attributes are always written
			nodes = nodes[:len(nodes)-1]
		}
		if len(nodes) == 0 {
			continue
		}
		p.roots = appendUnique(p.roots, nodes[0])
		for i := 1; i < len(nodes); i++ {
			p.children[nodes[i-1]] = appendUnique(p.children[nodes[i-1]], nodes[i])
		}
		if leaf := nodes[len(nodes)-1]; leaf.IsComplex() {
			p.addSubtree(leaf)
		}
	}
	return p
}

func (p *Projection) addSubtree(el *schema.Element) {
	if el.Complex == nil {
		return
	}
	p.children[el] = append([]*schema.Element(nil), el.Complex.Elements...)
	for _, c := range el.Complex.Elements {
		p.addSubtree(c)
	}
}

func appendUnique(list []*schema.Element, el *schema.Element) []*schema.Element {
	for _, e := range list {
		if e == el {
			return list
		}
	}
	return append(list, el)
}

// WithStandalone marks a single-feature response such as GetFeatureById.
func (p *Projection) WithStandalone() *Projection {
	cp := p.clone()
	cp.standalone = true
	return cp
}

func (p *Projection) clone() *Projection {
	cp := &Projection{
		feature:    p.feature,
		outputCRS:  p.outputCRS,
		standalone: p.standalone,
		roots:      append([]*schema.Element(nil), p.roots...),
		children:   make(map[*schema.Element][]*schema.Element, len(p.children)),
	}
	for k, v := range p.children {
		cp.children[k] = append([]*schema.Element(nil), v...)
	}
	return cp
}

func (p *Projection) Feature() *schema.ComplexType { return p.feature }

func (p *Projection) OutputCRS() *crs.CRS { return p.outputCRS }

func (p *Projection) Standalone() bool { return p.standalone }

// Roots are the root elements to render, in order.
func (p *Projection) Roots() []*schema.Element { return p.roots }

// Children returns the rendered children of a complex element.
func (p *Projection) Children(el *schema.Element) []*schema.Element { return p.children[el] }

// Contains reports whether el is rendered anywhere in the tree.
func (p *Projection) Contains(el *schema.Element) bool {
	found := false
	p.Walk(func(e *schema.Element) {
		if e == el {
			found = true
		}
	})
	return found
}

// Walk visits rendered elements depth first.
func (p *Projection) Walk(fn func(*schema.Element)) {
	var walk func([]*schema.Element)
	walk = func(list []*schema.Element) {
		for _, e := range list {
			fn(e)
			walk(p.children[e])
		}
	}
	walk(p.roots)
}

// AddField extends the projection with an element that was not requested,
// such as the geometry needed for output or a field used by pagination.
// Elements of nested types are added under their parents.
func (p *Projection) AddField(el *schema.Element) *Projection {
	if p.Contains(el) {
		return p
	}
	cp := p.clone()
	chain := []*schema.Element{el}
	for owner := el.Owner; owner != nil && owner.Parent != nil; owner = owner.Parent.Owner {
		chain = append([]*schema.Element{owner.Parent}, chain...)
	}
	cp.roots = appendUnique(cp.roots, chain[0])
	for i := 1; i < len(chain); i++ {
		cp.children[chain[i-1]] = appendUnique(cp.children[chain[i-1]], chain[i])
	}
	if el.IsComplex() {
		cp.addSubtree(el)
	}
	return cp
}

// RemoveFields drops every element matching drop. Complex elements left
// without children are removed as well.
func (p *Projection) RemoveFields(drop func(*schema.Element) bool) *Projection {
	cp := p.clone()
	var prune func([]*schema.Element) []*schema.Element
	prune = func(list []*schema.Element) []*schema.Element {
		out := list[:0]
		for _, e := range list {
			if drop(e) {
				delete(cp.children, e)
				continue
			}
			if e.IsComplex() {
				kids := prune(cp.children[e])
				if len(kids) == 0 {
					delete(cp.children, e)
					continue
				}
				cp.children[e] = kids
			}
			out = append(out, e)
		}
		return out
	}
	cp.roots = prune(cp.roots)
	return cp
}

// leaves returns the rendered scalar elements with their backend paths.
func (p *Projection) leaves() []*schema.Element {
	var out []*schema.Element
	p.Walk(func(e *schema.Element) {
		if !e.IsComplex() {
			out = append(out, e)
		}
	})
	return out
}

// GeometryElements are the rendered geometry elements.
func (p *Projection) GeometryElements() []*schema.Element {
	var out []*schema.Element
	for _, e := range p.leaves() {
		if e.IsGeometry() {
			out = append(out, e)
		}
	}
	return out
}

// OnlyFields is the root model field list to load: every rendered to-one
// path plus the primary key. To-many paths are loaded by prefetch groups.
func (p *Projection) OnlyFields() []string {
	model := p.feature.Model
	seen := map[string]bool{}
	var out []string
	add := func(path string) {
		if path != "" && !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	if id := p.feature.GmlID(); id != nil {
		add(id.BackendPath())
	}
	p.Walk(func(e *schema.Element) {
		if e.IsComplex() {
			if id := e.Complex.GmlID(); id != nil && !e.ToMany {
				add(id.BackendPath())
			}
			return
		}
		path := e.BackendPath()
		if i := toManyIndex(model, path); i >= 0 {
			// the relation's own key links the prefetched rows
			return
		}
		add(path)
	})
	return out
}

// PrefetchGroups derives one group per distinct to-many relation path.
func (p *Projection) PrefetchGroups() []query.PrefetchGroup {
	model := p.feature.Model
	groups := map[string]*query.PrefetchGroup{}
	var order []string
	add := func(path string) {
		fields, err := model.ResolvePath(path)
		if err != nil {
			return
		}
		i := firstToMany(fields)
		if i < 0 {
			return
		}
		relPath := strings.Join(names(fields[:i+1]), ".")
		rest := strings.Join(names(fields[i+1:]), ".")
		g, ok := groups[relPath]
		if !ok {
			rel := fields[i]
			g = &query.PrefetchGroup{Path: relPath}
			if rel.Kind == datamodel.KindOneToMany && rel.Rel != nil {
				g.BackLink = rel.Rel.RemoteField
			}
			if target := relatedModel(rel); target != nil && target.PK() != nil {
				g.Fields = append(g.Fields, target.PK().Name)
			}
			groups[relPath] = g
			order = append(order, relPath)
		}
		if rest != "" && !slices.Contains(g.Fields, rest) {
			g.Fields = append(g.Fields, rest)
		}
	}
	p.Walk(func(e *schema.Element) {
		if !e.IsComplex() {
			add(e.BackendPath())
		}
	})
	out := make([]query.PrefetchGroup, 0, len(order))
	for _, path := range order {
		out = append(out, *groups[path])
	}
	return out
}

// OutputAnnotations ask the store for geometries already in the output
// SRID. They are dropped from count queries.
func (p *Projection) OutputAnnotations() []query.Annotation {
	if p.outputCRS == nil {
		return nil
	}
	var out []query.Annotation
	for _, e := range p.GeometryElements() {
		if e.ToMany || e.SRID() == 0 || e.SRID() == p.outputCRS.SRID {
			continue
		}
		out = append(out, query.Annotation{
			Name: AnnotationName(e),
			Expr: query.Func{Name: TransformFunc, Args: []query.Expr{
				query.Field{Path: e.BackendPath()},
				query.Value{V: int64(p.outputCRS.SRID)},
			}},
			OutputOnly: true,
		})
	}
	return out
}

// AnnotationName is the record key holding el's transformed geometry.
func AnnotationName(el *schema.Element) string {
	return "_as_" + strings.ReplaceAll(el.BackendPath(), ".", "_")
}

// Apply attaches field pruning, prefetches and output annotations to q.
func (p *Projection) Apply(q *query.Query) *query.Query {
	return q.WithOutput(p.OnlyFields(), p.PrefetchGroups(), p.OutputAnnotations()...)
}

// ElementNames lists the rendered root element names, used in logs.
func (p *Projection) ElementNames() []string {
	out := make([]string, 0, len(p.roots))
	for _, e := range p.roots {
		out = append(out, e.Name)
	}
	return out
}

func toManyIndex(m *datamodel.Model, path string) int {
	fields, err := m.ResolvePath(path)
	if err != nil {
		return -1
	}
	return firstToMany(fields)
}

func firstToMany(fields []*datamodel.Field) int {
	for i, f := range fields {
		if f.IsToMany() {
			return i
		}
	}
	return -1
}

func names(fields []*datamodel.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

func relatedModel(f *datamodel.Field) *datamodel.Model {
	if f.Rel == nil {
		return nil
	}
	return f.Rel.Target
}
