// Package schematest holds the restaurant/city models shared by tests.
package schematest

import (
	"testing"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
)

const Namespace = "http://example.org/gisserver"

// Aliases is the namespace table of a typical request.
func Aliases() map[string]string {
	return map[string]string{"app": Namespace}
}

// Registry builds city, tag, openinghour and restaurant models.
func Registry(t testing.TB) *datamodel.Registry {
	t.Helper()
	must := func(m *datamodel.Model, err error) *datamodel.Model {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return m
	}
	city := must(datamodel.NewModel("city", "test_city",
		&datamodel.Field{Name: "id", Kind: datamodel.KindInteger, PrimaryKey: true},
		&datamodel.Field{Name: "name", Kind: datamodel.KindString},
		&datamodel.Field{Name: "region", Kind: datamodel.KindString, Nullable: true},
	))
	tag := must(datamodel.NewModel("tag", "test_tag",
		&datamodel.Field{Name: "id", Kind: datamodel.KindInteger, PrimaryKey: true},
		&datamodel.Field{Name: "name", Kind: datamodel.KindString},
	))
	hours := must(datamodel.NewModel("openinghour", "test_openinghour",
		&datamodel.Field{Name: "id", Kind: datamodel.KindInteger, PrimaryKey: true},
		&datamodel.Field{Name: "weekday", Kind: datamodel.KindInteger},
		&datamodel.Field{Name: "restaurant", Column: "restaurant_id", Kind: datamodel.KindForeignKey, Related: "restaurant"},
	))
	restaurant := must(datamodel.NewModel("restaurant", "test_restaurant",
		&datamodel.Field{Name: "id", Kind: datamodel.KindInteger, PrimaryKey: true},
		&datamodel.Field{Name: "name", Kind: datamodel.KindString},
		&datamodel.Field{Name: "rating", Kind: datamodel.KindFloat},
		&datamodel.Field{Name: "is_open", Kind: datamodel.KindBoolean},
		&datamodel.Field{Name: "created", Kind: datamodel.KindDate},
		&datamodel.Field{Name: "location", Kind: datamodel.KindGeometry, SRID: 4326, GeometryType: "Point"},
		&datamodel.Field{Name: "city", Column: "city_id", Kind: datamodel.KindForeignKey, Related: "city", Nullable: true},
		&datamodel.Field{Name: "tags", Kind: datamodel.KindManyToMany, Related: "tag",
			Rel: &datamodel.Relation{Through: "test_restaurant_tags", ThroughLocal: "restaurant_id", ThroughRemote: "tag_id"}},
		&datamodel.Field{Name: "opening_hours", Kind: datamodel.KindOneToMany, Related: "openinghour",
			Rel: &datamodel.Relation{RemoteField: "restaurant"}},
	))

	reg := datamodel.NewRegistry()
	for _, m := range []*datamodel.Model{city, tag, hours, restaurant} {
		if err := reg.Add(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.Link(); err != nil {
		t.Fatal(err)
	}
	return reg
}

// RestaurantFields is the declared field list of the restaurant feature.
func RestaurantFields() []schema.FieldDecl {
	return []schema.FieldDecl{
		schema.Field("id"),
		schema.Field("name"),
		schema.Field("rating"),
		schema.Field("is_open"),
		schema.Field("created"),
		schema.Field("location"),
		{Name: "city", Abstract: "City the restaurant is in", Fields: []schema.FieldDecl{
			schema.Field("id"),
			schema.Field("name"),
			schema.Field("region"),
		}},
		{Name: "city_name", ModelAttribute: "city.name"},
		{Name: "tags", Fields: []schema.FieldDecl{schema.Field("id"), schema.Field("name")}},
		{Name: "opening_hours", Fields: []schema.FieldDecl{schema.Field("weekday")}},
	}
}

// Restaurant builds the restaurant feature's root complex type.
func Restaurant(t testing.TB) *schema.ComplexType {
	t.Helper()
	m, _ := Registry(t).Get("restaurant")
	ct, err := schema.Build("restaurant", Namespace, m, RestaurantFields())
	if err != nil {
		t.Fatal(err)
	}
	return ct
}
