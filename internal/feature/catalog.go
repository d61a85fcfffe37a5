package feature

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
)

// Catalog is the set of published feature types and their backing models.
type Catalog struct {
	Namespace string
	Prefix    string
	Models    *datamodel.Registry
	// DataFiles maps a model name to a GeoJSON file for the memory backend.
	DataFiles map[string]string

	types  []*Type
	byName map[string]*Type
}

func NewCatalog(namespace, prefix string, models *datamodel.Registry) *Catalog {
	return &Catalog{
		Namespace: namespace,
		Prefix:    prefix,
		Models:    models,
		DataFiles: map[string]string{},
		byName:    map[string]*Type{},
	}
}

func (c *Catalog) Add(t *Type) error {
	if _, dup := c.byName[t.Name]; dup {
		return fmt.Errorf("feature type %s registered twice", t.Name)
	}
	c.byName[t.Name] = t
	c.types = append(c.types, t)
	return nil
}

// Types are returned in declaration order.
func (c *Catalog) Types() []*Type { return c.types }

// Aliases is the namespace table implied by the catalog prefix.
func (c *Catalog) Aliases() map[string]string {
	return map[string]string{c.Prefix: c.Namespace}
}

// Lookup finds a type by qualified name. A prefix bound in ns must map to the
// type's namespace, an unbound one must equal the catalog prefix.
func (c *Catalog) Lookup(typeName string, ns map[string]string) (*Type, error) {
	prefix, local := schema.SplitQName(typeName)
	t, ok := c.byName[local]
	if ok && prefix != "" {
		if uri, bound := ns[prefix]; bound {
			ok = uri == t.Namespace
		} else {
			ok = prefix == t.Prefix
		}
	}
	if !ok {
		return nil, ows.InvalidParameter("typeNames", "Typename '%s' doesn't exist in this server.", typeName)
	}
	return t, nil
}

type catalogFile struct {
	Namespace string        `yaml:"namespace"`
	Prefix    string        `yaml:"prefix"`
	Models    []modelSpec   `yaml:"models"`
	Features  []featureSpec `yaml:"features"`
}

type modelSpec struct {
	Name   string           `yaml:"name"`
	Table  string           `yaml:"table"`
	Data   string           `yaml:"data"`
	Fields []modelFieldSpec `yaml:"fields"`
}

type modelFieldSpec struct {
	Name          string `yaml:"name"`
	Column        string `yaml:"column"`
	Kind          string `yaml:"kind"`
	Nullable      bool   `yaml:"nullable"`
	PrimaryKey    bool   `yaml:"primary_key"`
	SRID          int    `yaml:"srid"`
	GeometryType  string `yaml:"geometry_type"`
	ElemKind      string `yaml:"elem_kind"`
	Size          int    `yaml:"size"`
	Related       string `yaml:"related"`
	RemoteField   string `yaml:"remote_field"`
	Through       string `yaml:"through"`
	ThroughLocal  string `yaml:"through_local"`
	ThroughRemote string `yaml:"through_remote"`
}

type featureSpec struct {
	Name     string      `yaml:"name"`
	Model    string      `yaml:"model"`
	Title    string      `yaml:"title"`
	Abstract string      `yaml:"abstract"`
	Keywords []string    `yaml:"keywords"`
	CRS      string      `yaml:"crs"`
	OtherCRS []string    `yaml:"other_crs"`
	Fields   []fieldSpec `yaml:"fields"`
}

// fieldSpec is either a bare field name or a mapping.
type fieldSpec struct {
	Name           string      `yaml:"name"`
	ModelAttribute string      `yaml:"model_attribute"`
	Abstract       string      `yaml:"abstract"`
	Fields         []fieldSpec `yaml:"fields"`
}

func (f *fieldSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		f.Name = n.Value
		return nil
	}
	type plain fieldSpec
	return n.Decode((*plain)(f))
}

func (f fieldSpec) decl() schema.FieldDecl {
	d := schema.FieldDecl{Name: f.Name, ModelAttribute: f.ModelAttribute, Abstract: f.Abstract}
	for _, c := range f.Fields {
		d.Fields = append(d.Fields, c.decl())
	}
	return d
}

var kinds = map[string]datamodel.Kind{}

func init() {
	for _, k := range []datamodel.Kind{
		datamodel.KindString, datamodel.KindInteger, datamodel.KindFloat, datamodel.KindDecimal,
		datamodel.KindBoolean, datamodel.KindDate, datamodel.KindDateTime, datamodel.KindTime,
		datamodel.KindGeometry, datamodel.KindArray, datamodel.KindForeignKey,
		datamodel.KindOneToOne, datamodel.KindOneToMany, datamodel.KindManyToMany,
	} {
		kinds[string(k)] = k
	}
}

// Load reads a catalog file. Data file paths are relative to its directory.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse builds a catalog, reporting every definition problem at once.
func Parse(data []byte, baseDir string) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if file.Namespace == "" {
		return nil, fmt.Errorf("catalog: namespace is required")
	}
	if file.Prefix == "" {
		file.Prefix = "app"
	}

	var result *multierror.Error
	reg := datamodel.NewRegistry()
	cat := NewCatalog(file.Namespace, file.Prefix, reg)
	for _, ms := range file.Models {
		m, err := ms.model()
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := reg.Add(m); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if ms.Data != "" {
			path := ms.Data
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			cat.DataFiles[m.Name] = path
		}
	}
	if err := reg.Link(); err != nil {
		result = multierror.Append(result, err)
	}
	if result.ErrorOrNil() != nil {
		return nil, result
	}

	for _, fs := range file.Features {
		t, err := fs.build(cat)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := cat.Add(t); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cat, nil
}

func (ms modelSpec) model() (*datamodel.Model, error) {
	fields := make([]*datamodel.Field, 0, len(ms.Fields))
	for _, fs := range ms.Fields {
		kind, ok := kinds[fs.Kind]
		if !ok {
			return nil, fmt.Errorf("model %s, field %s: unknown kind %q", ms.Name, fs.Name, fs.Kind)
		}
		f := &datamodel.Field{
			Name:         fs.Name,
			Column:       fs.Column,
			Kind:         kind,
			Nullable:     fs.Nullable,
			PrimaryKey:   fs.PrimaryKey,
			SRID:         fs.SRID,
			GeometryType: fs.GeometryType,
			Size:         fs.Size,
			Related:      fs.Related,
		}
		if kind == datamodel.KindGeometry && f.SRID == 0 {
			f.SRID = 4326
		}
		if kind == datamodel.KindArray {
			if f.ElemKind, ok = kinds[fs.ElemKind]; !ok {
				return nil, fmt.Errorf("model %s, field %s: unknown element kind %q", ms.Name, fs.Name, fs.ElemKind)
			}
		}
		if f.IsRelation() {
			f.Rel = &datamodel.Relation{
				RemoteField:   fs.RemoteField,
				Through:       fs.Through,
				ThroughLocal:  fs.ThroughLocal,
				ThroughRemote: fs.ThroughRemote,
			}
		}
		fields = append(fields, f)
	}
	return datamodel.NewModel(ms.Name, ms.Table, fields...)
}

func (fs featureSpec) build(cat *Catalog) (*Type, error) {
	modelName := fs.Model
	if modelName == "" {
		modelName = fs.Name
	}
	m, ok := cat.Models.Get(modelName)
	if !ok {
		return nil, &schema.ConfigError{Feature: fs.Name, Err: fmt.Errorf("model %q is not declared", modelName)}
	}
	decls := make([]schema.FieldDecl, 0, len(fs.Fields))
	for _, f := range fs.Fields {
		decls = append(decls, f.decl())
	}
	ct, err := schema.Build(fs.Name, cat.Namespace, m, decls)
	if err != nil {
		return nil, err
	}

	var result *multierror.Error
	def := crs.WGS84
	if fs.CRS != "" {
		if def, err = crs.Parse(fs.CRS); err != nil {
			result = multierror.Append(result, &schema.ConfigError{Feature: fs.Name, Field: "crs", Err: err})
		}
	}
	var other []*crs.CRS
	for _, name := range fs.OtherCRS {
		c, err := crs.Parse(name)
		if err != nil {
			result = multierror.Append(result, &schema.ConfigError{Feature: fs.Name, Field: "other_crs", Err: err})
			continue
		}
		other = append(other, c)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	t := NewType(ct, cat.Prefix, def, other...)
	if fs.Title != "" {
		t.Title = fs.Title
	}
	t.Abstract = fs.Abstract
	t.Keywords = fs.Keywords
	return t, nil
}
