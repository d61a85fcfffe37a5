package schema

import (
	"sync"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
)

// Unbounded is the max_occurs of to-many relations and unsized arrays.
const Unbounded = -1

// Element is a node of the typed tree: an XSD element, or an attribute
// when Attribute is set.
type Element struct {
	Name      string
	Namespace string
	Type      XsdType
	Complex   *ComplexType

	MinOccurs int
	MaxOccurs int
	// ExplicitMaxOccurs prints maxOccurs="1" even though it is the default.
	ExplicitMaxOccurs bool
	Nillable          bool
	Attribute         bool

	// ModelAttribute is the dotted field path relative to the owner's model.
	ModelAttribute string
	Source         *datamodel.Field
	Abstract       string
	Owner          *ComplexType

	// ToMany is set when ModelAttribute ends in or crosses a to-many relation.
	ToMany bool
}

func (e *Element) IsGeometry() bool { return e.Type.IsGeometry() }

func (e *Element) IsComplex() bool { return e.Complex != nil }

func (e *Element) IsMany() bool { return e.MaxOccurs != 1 }

// GetValue reads the element's value from a record of the owner's model.
// Complex to-one elements yield a datamodel.Record, to-many ones a slice.
func (e *Element) GetValue(rec datamodel.Record) any {
	if rec == nil {
		return nil
	}
	return rec.Lookup(e.ModelAttribute)
}

// SRID of the backing geometry field, 0 for non-geometry elements.
func (e *Element) SRID() int {
	if e.Source == nil || !e.Source.IsGeometry() {
		return 0
	}
	return e.Source.SRID
}

// BackendPath is the dotted field path from the feature's root model.
func (e *Element) BackendPath() string {
	if e.Owner == nil || e.Owner.Parent == nil {
		return e.ModelAttribute
	}
	return e.Owner.Parent.BackendPath() + "." + e.ModelAttribute
}

// PrefixedName is used in XSD output and error messages.
func (e *Element) PrefixedName(prefix string) string {
	if e.Attribute && e.Namespace == NamespaceGML {
		return "gml:" + e.Name
	}
	if prefix == "" {
		return e.Name
	}
	return prefix + ":" + e.Name
}

// ComplexType is an ordered set of child elements read from one model.
type ComplexType struct {
	Name        string
	ElementName string
	Namespace   string
	Elements    []*Element
	Attributes  []*Element
	Model       *datamodel.Model
	// Parent is the element this type is nested under, nil for a feature root.
	Parent *Element

	geomOnce sync.Once
	geoms    []*Element
}

// GeometryElements is computed on first access.
func (ct *ComplexType) GeometryElements() []*Element {
	ct.geomOnce.Do(func() {
		for _, e := range ct.Elements {
			if e.IsGeometry() {
				ct.geoms = append(ct.geoms, e)
			}
		}
	})
	return ct.geoms
}

// Element returns the direct child with the given local name.
func (ct *ComplexType) Element(name string) *Element {
	for _, e := range ct.Elements {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// GmlID is the gml:id attribute bound to the primary key.
func (ct *ComplexType) GmlID() *Element {
	for _, a := range ct.Attributes {
		if a.Name == "id" && a.Namespace == NamespaceGML {
			return a
		}
	}
	return nil
}

// Walk visits every element depth first in declaration order.
func (ct *ComplexType) Walk(fn func(*Element)) {
	for _, e := range ct.Elements {
		fn(e)
		if e.Complex != nil {
			e.Complex.Walk(fn)
		}
	}
}
