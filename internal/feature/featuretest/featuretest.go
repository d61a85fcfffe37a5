// Package featuretest holds a small restaurant catalog and its rows for
// tests that need a whole server stack.
package featuretest

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/feature"
)

const Namespace = "http://example.org/gisserver"

const CatalogYAML = `
namespace: http://example.org/gisserver
prefix: app
models:
  - name: city
    table: test_city
    fields:
      - {name: id, kind: integer, primary_key: true}
      - {name: name, kind: string}
      - {name: region, kind: string, nullable: true}
      - {name: location, kind: geometry, srid: 4326, geometry_type: Point, nullable: true}
  - name: tag
    table: test_tag
    fields:
      - {name: id, kind: integer, primary_key: true}
      - {name: name, kind: string}
  - name: openinghour
    table: test_openinghour
    fields:
      - {name: id, kind: integer, primary_key: true}
      - {name: weekday, kind: integer}
      - {name: restaurant, column: restaurant_id, kind: foreignkey, related: restaurant}
  - name: restaurant
    table: test_restaurant
    fields:
      - {name: id, kind: integer, primary_key: true}
      - {name: name, kind: string}
      - {name: rating, kind: float}
      - {name: is_open, kind: boolean}
      - {name: created, kind: date}
      - {name: location, kind: geometry, srid: 4326, geometry_type: Point}
      - {name: city, column: city_id, kind: foreignkey, related: city, nullable: true}
      - name: tags
        kind: manytomany
        related: tag
        through: test_restaurant_tags
        through_local: restaurant_id
        through_remote: tag_id
      - {name: opening_hours, kind: onetomany, related: openinghour, remote_field: restaurant}
features:
  - name: restaurant
    title: Restaurants
    abstract: Places to eat
    keywords: [food, poi]
    crs: urn:ogc:def:crs:EPSG::4326
    other_crs: ["urn:ogc:def:crs:EPSG::28992", "urn:ogc:def:crs:EPSG::3857"]
    fields:
      - id
      - name
      - rating
      - is_open
      - created
      - location
      - name: city
        abstract: City the restaurant is in
        fields: [id, name, region]
      - {name: city_name, model_attribute: city.name}
      - {name: tags, fields: [id, name]}
      - {name: opening_hours, fields: [weekday]}
  - name: city
    fields: [id, name, region, location]
`

// Catalog parses CatalogYAML.
func Catalog(t testing.TB) *feature.Catalog {
	t.Helper()
	cat, err := feature.Parse([]byte(CatalogYAML), ".")
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return cat
}

// Rows is the fixture data per model. Restaurant 4 has no city and no tags.
func Rows() map[string][]datamodel.Record {
	return map[string][]datamodel.Record{
		"city": {
			{"id": 1, "name": "Amsterdam", "region": "Noord-Holland", "location": orb.Point{4.9003, 52.3789}},
			{"id": 2, "name": "Rotterdam", "location": orb.Point{4.4692, 51.9225}},
		},
		"tag": {
			{"id": 1, "name": "vegan"},
			{"id": 2, "name": "fast food"},
		},
		"restaurant": {
			{"id": 1, "name": "Café Noir", "rating": 4.5, "is_open": true, "created": "2020-01-01",
				"location": orb.Point{4.9041, 52.3676}, "city": 1, "tags": []any{1, 2}},
			{"id": 2, "name": "Pizza Plaza", "rating": 3.0, "is_open": false, "created": "2021-06-15",
				"location": orb.Point{4.4777, 51.9244}, "city": 2, "tags": []any{2}},
			{"id": 3, "name": "Sushi Bar", "rating": 4.0, "is_open": true, "created": "2019-03-10",
				"location": orb.Point{4.8897, 52.3702}, "city": 1},
			{"id": 4, "name": "Roadside Diner", "rating": 2.5, "is_open": true, "created": "2022-12-31",
				"location": orb.Point{5.1214, 52.0907}},
		},
		"openinghour": {
			{"id": 1, "weekday": 1, "restaurant": 1},
			{"id": 2, "weekday": 2, "restaurant": 1},
			{"id": 3, "weekday": 5, "restaurant": 2},
		},
	}
}

// Inserter is implemented by stores that accept raw rows.
type Inserter interface {
	Insert(model string, rows ...datamodel.Record) error
}

// Seed inserts Rows into s.
func Seed(t testing.TB, s Inserter) {
	t.Helper()
	for model, rows := range Rows() {
		if err := s.Insert(model, rows...); err != nil {
			t.Fatalf("seed %s: %v", model, err)
		}
	}
}

// Type looks up a feature type of the catalog.
func Type(t testing.TB, cat *feature.Catalog, name string) *feature.Type {
	t.Helper()
	ft, err := cat.Lookup("app:"+name, nil)
	if err != nil {
		t.Fatal(err)
	}
	return ft
}
