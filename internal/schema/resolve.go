package schema

import "strings"

// ResolveElementPath walks a slash separated path of qualified names. The
// first segment may name the feature itself. Returns nil when nothing matches.
//
// A trailing "@gml:id" segment resolves to the gml:id attribute.
func (ct *ComplexType) ResolveElementPath(xpath string, ns map[string]string) []*Element {
	segments := strings.Split(strings.Trim(xpath, "/"), "/")
	if len(segments) > 1 && ct.matchesRoot(segments[0], ns) {
		segments = segments[1:]
	}

	var out []*Element
	cur := ct
	for i, seg := range segments {
		if seg == "" {
			return nil
		}
		last := i == len(segments)-1
		if strings.HasPrefix(seg, "@") {
			if !last {
				return nil
			}
			attr := cur.findAttribute(seg[1:], ns)
			if attr == nil {
				return nil
			}
			return append(out, attr)
		}
		el := cur.findElement(seg, ns)
		if el == nil {
			return nil
		}
		out = append(out, el)
		if !last {
			if el.Complex == nil {
				return nil
			}
			cur = el.Complex
		}
	}
	return out
}

func (ct *ComplexType) matchesRoot(seg string, ns map[string]string) bool {
	prefix, local := SplitQName(seg)
	if local != ct.ElementName {
		return false
	}
	uri, ok := namespaceOf(prefix, ns)
	return !ok || uri == ct.Namespace
}

func (ct *ComplexType) findElement(seg string, ns map[string]string) *Element {
	prefix, local := SplitQName(seg)
	uri, known := namespaceOf(prefix, ns)
	if prefix != "" && !known {
		return nil
	}
	for _, e := range ct.Elements {
		if e.Name != local {
			continue
		}
		if !known || uri == e.Namespace {
			return e
		}
	}
	return nil
}

func (ct *ComplexType) findAttribute(seg string, ns map[string]string) *Element {
	prefix, local := SplitQName(seg)
	uri, known := namespaceOf(prefix, ns)
	if !known && prefix == "gml" {
		uri, known = NamespaceGML, true
	}
	for _, a := range ct.Attributes {
		if a.Name == local && (!known || uri == a.Namespace) {
			return a
		}
	}
	return nil
}

func namespaceOf(prefix string, ns map[string]string) (string, bool) {
	uri, ok := ns[prefix]
	return uri, ok
}

// SplitQName splits "prefix:local"; the prefix is empty for unqualified names.
func SplitQName(qname string) (prefix, local string) {
	if i := strings.IndexByte(qname, ':'); i >= 0 {
		return qname[:i], qname[i+1:]
	}
	return "", qname
}
