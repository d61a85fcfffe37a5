package memstore

import (
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/feature"
)

// LoadGeoJSON inserts a FeatureCollection into a model's table. Properties
// map to fields by name, the feature geometry fills the model's first
// geometry field and the feature id fills the primary key when the
// properties don't carry it.
func (s *Store) LoadGeoJSON(model string, r io.Reader) error {
	m, ok := s.models.Get(model)
	if !ok {
		return fmt.Errorf("memstore: unknown model %q", model)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("memstore: read %s data: %w", model, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("memstore: decode %s data: %w", model, err)
	}

	var geomField string
	if gf := m.GeometryFields(); len(gf) > 0 {
		geomField = gf[0].Name
	}
	pk := m.PK().Name
	rows := make([]datamodel.Record, 0, len(fc.Features))
	for _, f := range fc.Features {
		row := datamodel.Record{}
		for k, v := range f.Properties {
			row[k] = v
		}
		if _, set := row[pk]; !set && f.ID != nil {
			row[pk] = f.ID
		}
		if geomField != "" && f.Geometry != nil {
			row[geomField] = f.Geometry
		}
		rows = append(rows, row)
	}
	return s.Insert(model, rows...)
}

// LoadFile reads a GeoJSON file into a model's table.
func (s *Store) LoadFile(model, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("memstore: %w", err)
	}
	defer f.Close()
	return s.LoadGeoJSON(model, f)
}

// FromCatalog builds a store over the catalog models and loads their data files.
func FromCatalog(cat *feature.Catalog) (*Store, error) {
	s := New(cat.Models)
	for _, model := range cat.Models.Names() {
		path, ok := cat.DataFiles[model]
		if !ok {
			continue
		}
		if err := s.LoadFile(model, path); err != nil {
			return nil, err
		}
	}
	return s, nil
}
