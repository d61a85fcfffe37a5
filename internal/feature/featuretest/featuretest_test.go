package featuretest

import "testing"

func TestCatalog_EveryTypeHasGeometry(t *testing.T) {
	cat := Catalog(t)
	if len(cat.Types()) == 0 {
		t.Fatal("empty catalog")
	}
	for _, ft := range cat.Types() {
		if ft.GeometryElement() == nil {
			t.Fatalf("%s publishes no geometry", ft.Name)
		}
	}
	if el := Type(t, cat, "city").GeometryElement(); el.Name != "location" {
		t.Fatalf("city geometry=%s", el.Name)
	}
}
