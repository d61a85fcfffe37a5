// Package xmltree parses a request document into an element tree with
// resolved namespaces. DTDs and entity declarations are refused.
package xmltree

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Node is one XML element.
type Node struct {
	Name     xml.Name
	Attrs    []xml.Attr
	Children []*Node
	Text     string
	// NS holds the prefixes in scope at this element.
	NS map[string]string
	// Prefix is the prefix the element was written with.
	Prefix string
	Line   int
}

// ErrDoctype is returned for documents with a DTD.
var ErrDoctype = errors.New("DOCTYPE declarations are not allowed")

const maxDepth = 256

// Parse reads a complete document and returns its root element.
func Parse(r io.Reader) (*Node, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read xml: %w", err)
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	var (
		stack []*Node
		root  *Node
	)
	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.Directive:
			return nil, ErrDoctype
		case xml.StartElement:
			if len(stack) >= maxDepth {
				return nil, fmt.Errorf("xml nesting deeper than %d", maxDepth)
			}
			line, _ := dec.InputPos()
			parentNS := map[string]string{"xml": "http://www.w3.org/XML/1998/namespace"}
			if len(stack) > 0 {
				parentNS = stack[len(stack)-1].NS
			}
			n, err := newNode(t, parentNS, line)
			if err != nil {
				return nil, err
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else if root != nil {
				return nil, errors.New("xml document has more than one root element")
			} else {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, errors.New("unbalanced end element")
			}
			n := stack[len(stack)-1]
			if t.Name.Space != n.Prefix || t.Name.Local != n.Name.Local {
				return nil, fmt.Errorf("line %d: element <%s> closed by </%s>", n.Line, n.QName(), t.Name.Local)
			}
			n.Text = strings.TrimSpace(n.Text)
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("empty xml document")
	}
	if len(stack) != 0 {
		return nil, errors.New("unexpected end of xml document")
	}
	return root, nil
}

// newNode resolves prefixes itself: RawToken keeps them so the in-scope
// table can be recorded for QName text values.
func newNode(t xml.StartElement, parentNS map[string]string, line int) (*Node, error) {
	ns := parentNS
	copied := false
	for _, a := range t.Attr {
		var prefix string
		switch {
		case a.Name.Space == "xmlns":
			prefix = a.Name.Local
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			prefix = ""
		default:
			continue
		}
		if !copied {
			ns = make(map[string]string, len(parentNS)+2)
			for k, v := range parentNS {
				ns[k] = v
			}
			copied = true
		}
		ns[prefix] = a.Value
	}

	n := &Node{NS: ns, Prefix: t.Name.Space, Line: line}
	uri, ok := ns[t.Name.Space]
	if t.Name.Space != "" && !ok {
		return nil, fmt.Errorf("line %d: undeclared namespace prefix %q", line, t.Name.Space)
	}
	n.Name = xml.Name{Space: uri, Local: t.Name.Local}

	for _, a := range t.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		name := a.Name
		if name.Space != "" {
			u, ok := ns[name.Space]
			if !ok {
				return nil, fmt.Errorf("line %d: undeclared namespace prefix %q", line, name.Space)
			}
			name.Space = u
		}
		n.Attrs = append(n.Attrs, xml.Attr{Name: name, Value: a.Value})
	}
	return n, nil
}

// Attr returns an unqualified attribute value.
func (n *Node) Attr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == local && a.Name.Space == "" {
			return a.Value, true
		}
	}
	return "", false
}

// AttrNS returns a namespaced attribute value.
func (n *Node) AttrNS(space, local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == local && a.Name.Space == space {
			return a.Value, true
		}
	}
	return "", false
}

// Is reports whether the element has the given namespace and local name.
func (n *Node) Is(space, local string) bool {
	return n.Name.Space == space && n.Name.Local == local
}

// Child returns the first child with the given local name in any namespace.
func (n *Node) Child(local string) *Node {
	for _, c := range n.Children {
		if c.Name.Local == local {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child with the given local name.
func (n *Node) ChildrenNamed(local string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name.Local == local {
			out = append(out, c)
		}
	}
	return out
}

// QName renders the element with the prefix it was written with.
func (n *Node) QName() string {
	if n.Prefix == "" {
		return n.Name.Local
	}
	return n.Prefix + ":" + n.Name.Local
}

// Aliases returns a copy of the in-scope prefixes without the xml prefix.
func (n *Node) Aliases() map[string]string {
	out := make(map[string]string, len(n.NS))
	for k, v := range n.NS {
		if k != "xml" {
			out[k] = v
		}
	}
	return out
}
