package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
)

// FieldDecl declares one exposed field. A bare name uses the model field of
// the same name.
type FieldDecl struct {
	Name           string      `yaml:"name"`
	ModelAttribute string      `yaml:"model_attribute"`
	Abstract       string      `yaml:"abstract"`
	Fields         []FieldDecl `yaml:"fields"`
}

// Field is shorthand for a bare field declaration.
func Field(name string) FieldDecl { return FieldDecl{Name: name} }

// ConfigError is a server misconfiguration, never shown to clients.
type ConfigError struct {
	Feature string
	Field   string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("feature %s: %v", e.Feature, e.Err)
	}
	return fmt.Sprintf("feature %s, field %s: %v", e.Feature, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

var xmlSafeName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// Build creates the root complex type of a feature. Without declarations every
// non-relation field of the model is exposed.
func Build(featureName, namespace string, model *datamodel.Model, decls []FieldDecl) (*ComplexType, error) {
	if !xmlSafeName.MatchString(featureName) {
		return nil, &ConfigError{Feature: featureName, Err: errors.New("name is not a valid XML element name")}
	}
	if len(decls) == 0 {
		for _, f := range model.Fields {
			if !f.IsRelation() {
				decls = append(decls, Field(f.Name))
			}
		}
	}
	b := &builder{feature: featureName, namespace: namespace}
	ct, err := b.complexType(featureName+"Type", featureName, model, nil, decls)
	if err != nil {
		return nil, err
	}
	if len(ct.GeometryElements()) == 0 && len(model.GeometryFields()) == 0 {
		return nil, &ConfigError{Feature: featureName, Err: errors.New("no geometry field declared or detected")}
	}
	return ct, nil
}

type builder struct {
	feature   string
	namespace string
}

func (b *builder) complexType(typeName, elementName string, model *datamodel.Model, parent *Element, decls []FieldDecl) (*ComplexType, error) {
	ct := &ComplexType{
		Name:        typeName,
		ElementName: elementName,
		Namespace:   b.namespace,
		Model:       model,
		Parent:      parent,
	}
	ct.Attributes = []*Element{{
		Name:           "id",
		Namespace:      NamespaceGML,
		Type:           TypeID,
		MinOccurs:      1,
		MaxOccurs:      1,
		Attribute:      true,
		ModelAttribute: model.PK().Name,
		Source:         model.PK(),
		Owner:          ct,
	}}

	seen := map[string]bool{}
	for _, d := range decls {
		if d.Name == "" {
			return nil, &ConfigError{Feature: b.feature, Err: errors.New("field declaration without a name")}
		}
		if seen[d.Name] {
			return nil, &ConfigError{Feature: b.feature, Field: d.Name, Err: errors.New("declared twice")}
		}
		seen[d.Name] = true
		el, err := b.element(ct, d)
		if err != nil {
			return nil, err
		}
		ct.Elements = append(ct.Elements, el)
	}
	return ct, nil
}

func (b *builder) element(owner *ComplexType, d FieldDecl) (*Element, error) {
	if !xmlSafeName.MatchString(d.Name) {
		return nil, &ConfigError{Feature: b.feature, Field: d.Name, Err: errors.New("name is not a valid XML element name")}
	}
	path := d.ModelAttribute
	if path == "" {
		path = d.Name
	}
	fields, err := owner.Model.ResolvePath(path)
	if err != nil {
		return nil, &ConfigError{Feature: b.feature, Field: d.Name, Err: err}
	}

	el := &Element{
		Name:           d.Name,
		Namespace:      b.namespace,
		MaxOccurs:      1,
		MinOccurs:      1,
		ModelAttribute: path,
		Abstract:       d.Abstract,
		Owner:          owner,
	}
	for _, f := range fields[:len(fields)-1] {
		if f.Nullable {
			el.Nillable = true
		}
		if f.IsToMany() {
			el.ToMany = true
		}
	}
	last := fields[len(fields)-1]
	el.Source = last
	if last.Nullable {
		el.Nillable = true
	}

	switch {
	case len(d.Fields) > 0:
		if !last.IsRelation() {
			return nil, &ConfigError{Feature: b.feature, Field: d.Name, Err: fmt.Errorf("nested fields declared on non-relation %s", last)}
		}
		if last.IsToMany() {
			el.ToMany = true
		}
		nested, err := b.complexType(strings.TrimSuffix(owner.Name, "Type")+"_"+d.Name+"Type", d.Name, last.Rel.Target, el, d.Fields)
		if err != nil {
			return nil, err
		}
		el.Complex = nested
	case last.IsToMany():
		return nil, &ConfigError{Feature: b.feature, Field: d.Name, Err: fmt.Errorf("to-many relation %s needs nested fields", last)}
	case last.IsRelation():
		// flatten a bare foreign key to the related primary key
		pk := last.Rel.Target.PK()
		el.ModelAttribute = path + "." + pk.Name
		el.Source = pk
		el.Type = typeForKind(pk.Kind)
	case last.IsGeometry():
		el.Type = geometryType(last.GeometryType)
		el.ExplicitMaxOccurs = true
	case last.Kind == datamodel.KindArray:
		el.Type = typeForKind(last.ElemKind)
		el.MaxOccurs = Unbounded
		if last.Size > 0 {
			el.MaxOccurs = last.Size
		}
	default:
		el.Type = typeForKind(last.Kind)
	}

	if el.ToMany {
		el.MaxOccurs = Unbounded
	}
	if el.Nillable || el.ToMany || el.MaxOccurs != 1 {
		el.MinOccurs = 0
	}
	return el, nil
}
