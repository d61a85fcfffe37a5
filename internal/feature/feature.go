// Package feature holds the feature types a server publishes and the catalog
// they are loaded from.
package feature

import (
	"context"
	"fmt"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
	"github.com/mohammed-shakir/wfs-server/internal/xpath"
)

// Authorizer decides whether the caller in ctx may read a feature type.
type Authorizer interface {
	Allowed(ctx context.Context, t *Type) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, t *Type) bool

func (f AuthorizerFunc) Allowed(ctx context.Context, t *Type) bool { return f(ctx, t) }

// Type is one published feature type.
type Type struct {
	Name      string
	Namespace string
	Prefix    string
	Title     string
	Abstract  string
	Keywords  []string

	// CRS is the default output CRS, OtherCRS the additional ones offered.
	CRS      *crs.CRS
	OtherCRS []*crs.CRS

	Authorizer Authorizer

	schema   *schema.ComplexType
	resolver *xpath.Resolver
}

// NewType binds a built schema to its feature metadata.
func NewType(ct *schema.ComplexType, prefix string, def *crs.CRS, other ...*crs.CRS) *Type {
	if def == nil {
		def = crs.WGS84
	}
	return &Type{
		Name:      ct.ElementName,
		Namespace: ct.Namespace,
		Prefix:    prefix,
		Title:     ct.ElementName,
		CRS:       def,
		OtherCRS:  other,
		schema:    ct,
		resolver:  xpath.New(ct),
	}
}

// TypeName is the prefixed name used in requests and resource ids.
func (t *Type) TypeName() string {
	if t.Prefix == "" {
		return t.Name
	}
	return t.Prefix + ":" + t.Name
}

func (t *Type) Schema() *schema.ComplexType { return t.schema }

func (t *Type) Resolve(path string, ns map[string]string) (*xpath.Match, error) {
	return t.resolver.Resolve(path, ns)
}

// GeometryElement is the first declared geometry of the root type.
func (t *Type) GeometryElement() *schema.Element {
	if geoms := t.schema.GeometryElements(); len(geoms) > 0 {
		return geoms[0]
	}
	return nil
}

// SupportedCRS lists the default CRS first.
func (t *Type) SupportedCRS() []*crs.CRS {
	return append([]*crs.CRS{t.CRS}, t.OtherCRS...)
}

// ResolveCRS checks a requested srsName against the offered CRS list. An
// empty name selects the default.
func (t *Type) ResolveCRS(name string) (*crs.CRS, error) {
	if name == "" {
		return t.CRS, nil
	}
	c, err := crs.Parse(name)
	if err != nil {
		return nil, ows.As(err).WithLocator("srsName")
	}
	for _, offered := range t.SupportedCRS() {
		if offered.Matches(c) {
			return c, nil
		}
	}
	return nil, ows.InvalidParameter("srsName", "Feature '%s' does not support SRS '%s'.", t.TypeName(), name)
}

// CheckPermission consults the authorizer, allowing everything without one.
func (t *Type) CheckPermission(ctx context.Context) error {
	if t.Authorizer == nil || t.Authorizer.Allowed(ctx, t) {
		return nil
	}
	return ows.PermissionDenied("typeNames", "No permission to read feature type '%s'.", t.TypeName())
}

func (t *Type) String() string { return fmt.Sprintf("feature(%s)", t.TypeName()) }
