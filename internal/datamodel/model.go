// Package datamodel describes the backing models a feature type reads from:
// tables, columns, value kinds and relations.
package datamodel

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindString   Kind = "string"
	KindInteger  Kind = "integer"
	KindFloat    Kind = "float"
	KindDecimal  Kind = "decimal"
	KindBoolean  Kind = "boolean"
	KindDate     Kind = "date"
	KindDateTime Kind = "datetime"
	KindTime     Kind = "time"
	KindGeometry Kind = "geometry"
	KindArray    Kind = "array"

	KindForeignKey Kind = "foreignkey"
	KindOneToOne   Kind = "onetoone"
	KindOneToMany  Kind = "onetomany"
	KindManyToMany Kind = "manytomany"
)

// Field is one column or relation of a model.
type Field struct {
	Name       string
	Column     string
	Kind       Kind
	Nullable   bool
	PrimaryKey bool

	// geometry
	SRID         int
	GeometryType string

	// array
	ElemKind Kind
	Size     int

	// relations
	Related string
	Rel     *Relation

	Model *Model
}

// Relation carries the join columns of a relation field.
//
//   - foreignkey/onetoone: Column on this table holds the remote primary key.
//   - onetomany: RemoteColumn on the related table holds this table's primary key.
//   - manytomany: Through table links ThroughLocal to this key and ThroughRemote to the remote key.
type Relation struct {
	Target        *Model
	RemoteColumn  string
	RemoteField   string
	Through       string
	ThroughLocal  string
	ThroughRemote string
}

func (f *Field) IsRelation() bool {
	switch f.Kind {
	case KindForeignKey, KindOneToOne, KindOneToMany, KindManyToMany:
		return true
	}
	return false
}

// IsToMany is true for reverse foreign keys and many-to-many relations.
func (f *Field) IsToMany() bool {
	return f.Kind == KindOneToMany || f.Kind == KindManyToMany
}

func (f *Field) IsGeometry() bool { return f.Kind == KindGeometry }

func (f *Field) String() string {
	if f.Model != nil {
		return f.Model.Name + "." + f.Name
	}
	return f.Name
}

// Model is a table and its fields.
type Model struct {
	Name   string
	Table  string
	Fields []*Field

	byName map[string]*Field
	pk     *Field
}

// NewModel indexes the fields and fills in defaults (column name, owner).
func NewModel(name, table string, fields ...*Field) (*Model, error) {
	m := &Model{Name: name, Table: table, byName: make(map[string]*Field, len(fields))}
	if m.Table == "" {
		m.Table = name
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("model %s: field without a name", name)
		}
		if _, dup := m.byName[f.Name]; dup {
			return nil, fmt.Errorf("model %s: duplicate field %q", name, f.Name)
		}
		if f.Column == "" && !f.IsToMany() {
			f.Column = f.Name
		}
		if f.PrimaryKey {
			if m.pk != nil {
				return nil, fmt.Errorf("model %s: more than one primary key", name)
			}
			m.pk = f
		}
		f.Model = m
		m.byName[f.Name] = f
		m.Fields = append(m.Fields, f)
	}
	if m.pk == nil {
		return nil, fmt.Errorf("model %s: no primary key", name)
	}
	return m, nil
}

func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

func (m *Model) PK() *Field { return m.pk }

func (m *Model) GeometryFields() []*Field {
	var out []*Field
	for _, f := range m.Fields {
		if f.IsGeometry() {
			out = append(out, f)
		}
	}
	return out
}

// ResolvePath walks a dotted field path; every hop except the last must be a relation.
func (m *Model) ResolvePath(path string) ([]*Field, error) {
	if path == "" {
		return nil, fmt.Errorf("model %s: empty field path", m.Name)
	}
	cur := m
	parts := strings.Split(path, ".")
	out := make([]*Field, 0, len(parts))
	for i, name := range parts {
		f, ok := cur.Field(name)
		if !ok {
			return nil, &PathError{Model: cur.Name, Path: path, Field: name, Reason: "does not exist"}
		}
		out = append(out, f)
		if i == len(parts)-1 {
			break
		}
		if !f.IsRelation() {
			return nil, &PathError{Model: cur.Name, Path: path, Field: name, Reason: "is not a relation"}
		}
		if f.Rel == nil || f.Rel.Target == nil {
			return nil, &PathError{Model: cur.Name, Path: path, Field: name, Reason: "relation is not resolved"}
		}
		cur = f.Rel.Target
	}
	return out, nil
}

// PathError reports a dotted path that cannot be walked.
type PathError struct {
	Model  string
	Path   string
	Field  string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("model %s: field %q in path %q %s", e.Model, e.Field, e.Path, e.Reason)
}
