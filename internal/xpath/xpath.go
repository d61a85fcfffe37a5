// Package xpath resolves the restricted XPath subset used by FES value
// references and WFS property names against a feature's schema.
package xpath

import (
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/query"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
)

const (
	cacheSize = 200
	// alias tables above this size skip the cache
	maxCachedAliases = 32
)

// Match is the result of resolving one path.
type Match struct {
	// Nodes are the elements visited from root to leaf.
	Nodes []*schema.Element
	Child *schema.Element
	// BackendPath is the dotted field path from the feature's model.
	BackendPath string
	// ExtraFilter comes from an attribute predicate such as [@gml:id='3'].
	ExtraFilter query.Predicate
	XPath       string
}

// IsToMany reports whether any visited element is multi-valued.
func (m *Match) IsToMany() bool {
	for _, n := range m.Nodes {
		if n.ToMany || n.MaxOccurs != 1 {
			return true
		}
	}
	return false
}

type cacheKey struct {
	xpath string
	ns    uint64
}

// Resolver resolves paths for one feature type and memoizes the results.
type Resolver struct {
	root  *schema.ComplexType
	cache *lru.Cache[cacheKey, *Match]
}

func New(root *schema.ComplexType) *Resolver {
	c, err := lru.New[cacheKey, *Match](cacheSize)
	if err != nil {
		panic(err)
	}
	return &Resolver{root: root, cache: c}
}

// Resolve maps xpath to schema elements. The returned Match is shared and
// must not be modified.
func (r *Resolver) Resolve(xpath string, ns map[string]string) (*Match, error) {
	if len(ns) > maxCachedAliases {
		return r.resolve(xpath, r.withDefault(ns))
	}
	key := cacheKey{xpath: xpath, ns: hashAliases(ns)}
	if m, ok := r.cache.Get(key); ok {
		return m, nil
	}
	m, err := r.resolve(xpath, r.withDefault(ns))
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, m)
	return m, nil
}

// withDefault makes unprefixed names resolve in the feature's namespace.
func (r *Resolver) withDefault(ns map[string]string) map[string]string {
	if _, ok := ns[""]; ok {
		return ns
	}
	out := make(map[string]string, len(ns)+1)
	for k, v := range ns {
		out[k] = v
	}
	out[""] = r.root.Namespace
	return out
}

// hashAliases is independent of map iteration order.
func hashAliases(ns map[string]string) uint64 {
	pairs := make([]string, 0, len(ns))
	for k, v := range ns {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return xxhash.Sum64String(strings.Join(pairs, "\x00"))
}

var predicatePattern = regexp.MustCompile(`^([^\[\]]+)\[\s*@([A-Za-z_][\w.\-]*(?::[A-Za-z_][\w.\-]*)?)\s*=\s*(?:'([^']*)'|"([^"]*)")\s*\]$`)

type attrPredicate struct {
	index int
	name  string
	value string
}

func (r *Resolver) resolve(xpath string, ns map[string]string) (*Match, error) {
	raw := strings.TrimSpace(xpath)
	if err := checkSupported(raw); err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, ows.InvalidParameter("valueReference", "Empty property reference.")
	}

	segments := strings.Split(raw, "/")
	var preds []attrPredicate
	for i, seg := range segments {
		if !strings.ContainsAny(seg, "[]") {
			continue
		}
		m := predicatePattern.FindStringSubmatch(seg)
		if m == nil {
			return nil, ows.NotImplemented(xpath, "Unsupported XPath predicate in '%s'.", seg)
		}
		segments[i] = m[1]
		value := m[3]
		if value == "" {
			value = m[4]
		}
		preds = append(preds, attrPredicate{index: i, name: m[2], value: value})
	}

	nodes := r.root.ResolveElementPath(strings.Join(segments, "/"), ns)
	if nodes == nil {
		return nil, ows.InvalidParameter(xpath, "Field '%s' does not exist.", xpath)
	}

	// the root segment may have been stripped, shift predicate indexes
	offset := len(segments) - len(nodes)
	var extra []query.Predicate
	for _, p := range preds {
		idx := p.index - offset
		if idx < 0 || idx >= len(nodes) || nodes[idx].Complex == nil {
			return nil, ows.InvalidParameter(xpath, "Attribute predicate in '%s' must follow a complex element.", xpath)
		}
		f, err := attributeFilter(nodes[idx], p, ns, xpath)
		if err != nil {
			return nil, err
		}
		if scope := r.relationScope(nodes[idx].BackendPath()); scope != "" {
			// the attribute and the compared value must come from the same related row
			f.Lhs = query.Field{Path: strings.TrimPrefix(f.Lhs.(query.Field).Path, scope+".")}
			extra = append(extra, query.Exists{Path: scope, Where: f})
			continue
		}
		extra = append(extra, f)
	}

	child := nodes[len(nodes)-1]
	m := &Match{
		Nodes:       nodes,
		Child:       child,
		BackendPath: child.BackendPath(),
		XPath:       xpath,
	}
	if len(extra) > 0 {
		m.ExtraFilter = query.AndOf(extra...)
	}
	return m, nil
}

func attributeFilter(node *schema.Element, p attrPredicate, ns map[string]string, xpath string) (query.Lookup, error) {
	attr := node.Complex.ResolveElementPath("@"+p.name, ns)
	if len(attr) != 1 {
		return query.Lookup{}, ows.InvalidParameter(xpath, "Attribute '@%s' does not exist on '%s'.", p.name, node.Name)
	}
	value := p.value
	if attr[0].Type == schema.TypeID {
		// gml:id values may carry the type name prefix
		if i := strings.LastIndexByte(value, '.'); i >= 0 {
			value = value[i+1:]
		}
	}
	v, err := attr[0].Coerce(value)
	if err != nil {
		return query.Lookup{}, ows.Parsing(xpath, "Invalid value '%s' for attribute '@%s': %v.", p.value, p.name, err)
	}
	return query.Lookup{
		Lhs: query.Field{Path: attr[0].BackendPath()},
		Op:  query.OpEqual,
		Rhs: query.Value{V: v},
	}, nil
}

// relationScope returns the longest prefix of path that ends in a to-many
// relation of the root model, or "" when path only crosses to-one hops.
func (r *Resolver) relationScope(path string) string {
	if r.root.Model == nil || path == "" {
		return ""
	}
	fields, err := r.root.Model.ResolvePath(path)
	if err != nil {
		return ""
	}
	last := -1
	for i, f := range fields {
		if f.IsToMany() {
			last = i
		}
	}
	if last < 0 {
		return ""
	}
	return strings.Join(strings.Split(path, ".")[:last+1], ".")
}

// checkSupported rejects the XPath features outside the supported subset.
func checkSupported(xpath string) error {
	if i := strings.Index(xpath, "//"); i >= 0 {
		return ows.NotImplemented(xpath, "XPath selector '%s' is not supported.", snippetFrom(xpath, i))
	}
	if i := strings.Index(xpath, "::"); i >= 0 {
		return ows.NotImplemented(xpath, "XPath axis '%s' is not supported.", segmentAt(xpath, i))
	}
	if i := strings.IndexByte(xpath, '('); i >= 0 {
		return ows.NotImplemented(xpath, "XPath function call '%s' is not supported.", segmentAt(xpath, i))
	}
	return nil
}

// snippetFrom returns "//name" starting at i.
func snippetFrom(xpath string, i int) string {
	rest := xpath[i+2:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return "//" + rest
}

// segmentAt returns the slash separated segment containing position i.
func segmentAt(xpath string, i int) string {
	start := strings.LastIndexByte(xpath[:i], '/') + 1
	end := len(xpath)
	if j := strings.IndexByte(xpath[i:], '/'); j >= 0 {
		end = i + j
	}
	return xpath[start:end]
}
