package wfs

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wfs-server/internal/ows"
)

// KVP is a GET request's parameter set. Names are case insensitive.
type KVP struct {
	values map[string]string
}

func NewKVP(values url.Values) *KVP {
	k := &KVP{values: make(map[string]string, len(values))}
	for name, vs := range values {
		if len(vs) == 0 {
			continue
		}
		k.values[strings.ToUpper(name)] = vs[0]
	}
	return k
}

func (k *KVP) Get(name string) string { return strings.TrimSpace(k.values[strings.ToUpper(name)]) }

func (k *KVP) Has(name string) bool {
	_, ok := k.values[strings.ToUpper(name)]
	return ok
}

// Params returns every parameter, upper cased, for stored query calls.
func (k *KVP) Params() map[string]string {
	out := make(map[string]string, len(k.values))
	for name, v := range k.values {
		out[name] = v
	}
	return out
}

// Int reads a non-negative integer. def is returned when absent.
func (k *KVP) Int(name string, def int) (int, error) {
	raw := k.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, ows.InvalidParameter(name, "Invalid %s value '%s', expected a non-negative integer.", name, raw)
	}
	return n, nil
}

// List splits a comma separated value.
func (k *KVP) List(name string) []string {
	return splitList(k.Get(name))
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Groups splits a parenthesis grouped value such as "(a,b)(c)". A value
// without parentheses is one group.
func (k *KVP) Groups(name string) ([]string, error) {
	return splitGroups(name, k.Get(name))
}

func splitGroups(name, raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	if raw[0] != '(' {
		return []string{raw}, nil
	}
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range raw {
		switch r {
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, ows.Parsing(name, "Unbalanced parentheses in %s.", name)
			}
			if depth == 0 {
				out = append(out, raw[start:i])
			}
		default:
			if depth == 0 && r != ' ' {
				return nil, ows.Parsing(name, "Unexpected text between parentheses in %s.", name)
			}
		}
	}
	if depth != 0 {
		return nil, ows.Parsing(name, "Unbalanced parentheses in %s.", name)
	}
	return out, nil
}

// Namespaces parses NAMESPACES=xmlns(prefix,uri),xmlns(uri). A definition
// without a prefix sets the default namespace.
func (k *KVP) Namespaces() (map[string]string, error) {
	raw := k.Get("NAMESPACES")
	out := map[string]string{}
	if raw == "" {
		return out, nil
	}
	rest := raw
	for rest != "" {
		rest = strings.TrimLeft(rest, ", ")
		if rest == "" {
			break
		}
		if !strings.HasPrefix(rest, "xmlns(") {
			return nil, ows.InvalidParameter("namespaces", "Expected xmlns(prefix,uri) in NAMESPACES, got '%s'.", raw)
		}
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return nil, ows.InvalidParameter("namespaces", "Unterminated xmlns( in NAMESPACES.")
		}
		body := rest[len("xmlns("):end]
		rest = rest[end+1:]
		prefix, uri, found := strings.Cut(body, ",")
		if !found {
			prefix, uri = "", body
		}
		prefix, uri = strings.TrimSpace(prefix), strings.TrimSpace(uri)
		if uri == "" {
			return nil, ows.InvalidParameter("namespaces", "Empty namespace URI in NAMESPACES.")
		}
		out[prefix] = uri
	}
	return out, nil
}
