package projection

import (
	"reflect"
	"testing"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/query"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
	"github.com/mohammed-shakir/wfs-server/internal/schema/schematest"
	"github.com/mohammed-shakir/wfs-server/internal/xpath"
)

func resolveAll(t *testing.T, ct *schema.ComplexType, paths ...string) []*xpath.Match {
	t.Helper()
	r := xpath.New(ct)
	out := make([]*xpath.Match, 0, len(paths))
	for _, p := range paths {
		m, err := r.Resolve(p, schematest.Aliases())
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		out = append(out, m)
	}
	return out
}

func elementNames(els []*schema.Element) []string {
	out := make([]string, len(els))
	for i, e := range els {
		out[i] = e.Name
	}
	return out
}

func TestFromMatches_RequestOrderAndOnly(t *testing.T) {
	ct := schematest.Restaurant(t)
	p := FromMatches(ct, crs.WGS84, resolveAll(t, ct, "app:name", "app:id"))

	if got := elementNames(p.Roots()); !reflect.DeepEqual(got, []string{"name", "id"}) {
		t.Fatalf("roots=%v", got)
	}
	if got := p.OnlyFields(); !reflect.DeepEqual(got, []string{"id", "name"}) {
		t.Fatalf("only=%v", got)
	}
	if len(p.PrefetchGroups()) != 0 {
		t.Fatalf("prefetch=%v", p.PrefetchGroups())
	}
}

func TestFromMatches_SharedParent(t *testing.T) {
	ct := schematest.Restaurant(t)
	p := FromMatches(ct, crs.WGS84, resolveAll(t, ct, "app:city/app:name", "app:rating", "app:city/app:id"))

	if got := elementNames(p.Roots()); !reflect.DeepEqual(got, []string{"city", "rating"}) {
		t.Fatalf("roots=%v", got)
	}
	city := ct.Element("city")
	if got := elementNames(p.Children(city)); !reflect.DeepEqual(got, []string{"name", "id"}) {
		t.Fatalf("city children=%v", got)
	}
}

func TestFromMatches_Narrows(t *testing.T) {
	ct := schematest.Restaurant(t)
	full := Full(ct, crs.WGS84)
	p := FromMatches(ct, crs.WGS84, resolveAll(t, ct, "app:tags/app:name", "app:city", "app:location", "@gml:id"))

	p.Walk(func(e *schema.Element) {
		if !full.Contains(e) {
			t.Fatalf("projection invented %s", e.Name)
		}
	})
	for _, r := range p.Roots() {
		found := false
		for _, fr := range full.Roots() {
			found = found || fr == r
		}
		if !found {
			t.Fatalf("root %s not in the schema", r.Name)
		}
	}
	// a complex leaf brings its whole subtree
	if got := len(p.Children(ct.Element("city"))); got != 3 {
		t.Fatalf("city children=%d", got)
	}
}

func TestFull_IsIdentity(t *testing.T) {
	ct := schematest.Restaurant(t)
	p := FromMatches(ct, crs.WGS84, nil)
	if len(p.Roots()) != len(ct.Elements) {
		t.Fatalf("roots=%v", elementNames(p.Roots()))
	}
}

func TestAddField_ReturnsNewValue(t *testing.T) {
	ct := schematest.Restaurant(t)
	p := FromMatches(ct, crs.WGS84, resolveAll(t, ct, "app:name"))
	region := ct.Element("city").Complex.Element("region")

	p2 := p.AddField(region)
	if p.Contains(region) {
		t.Fatal("AddField modified the original projection")
	}
	if !p2.Contains(region) || !reflect.DeepEqual(elementNames(p2.Roots()), []string{"name", "city"}) {
		t.Fatalf("roots=%v", elementNames(p2.Roots()))
	}
	if got := p2.OnlyFields(); !reflect.DeepEqual(got, []string{"id", "name", "city.id", "city.region"}) {
		t.Fatalf("only=%v", got)
	}
	if p2.AddField(region) != p2 {
		t.Fatal("adding a present field should be a no-op")
	}
}

func TestRemoveFields_PrunesEmptyContainers(t *testing.T) {
	ct := schematest.Restaurant(t)
	p := FromMatches(ct, crs.WGS84, resolveAll(t, ct, "app:name", "app:tags/app:name", "app:opening_hours/app:weekday"))
	tags := ct.Element("tags")

	noTagNames := p.RemoveFields(func(e *schema.Element) bool { return e.Owner == tags.Complex })
	if got := elementNames(noTagNames.Roots()); !reflect.DeepEqual(got, []string{"name", "opening_hours"}) {
		t.Fatalf("roots=%v", got)
	}
	if noTagNames.Children(tags) != nil {
		t.Fatal("empty container left behind")
	}

	flat := p.RemoveFields(func(e *schema.Element) bool { return e.ToMany })
	if got := elementNames(flat.Roots()); !reflect.DeepEqual(got, []string{"name"}) {
		t.Fatalf("roots=%v", got)
	}
	if len(p.Roots()) != 3 {
		t.Fatal("RemoveFields modified the original projection")
	}
}

func TestPrefetchGroups(t *testing.T) {
	ct := schematest.Restaurant(t)
	p := FromMatches(ct, crs.WGS84, resolveAll(t, ct, "app:tags/app:name", "app:opening_hours/app:weekday", "app:name"))

	want := []query.PrefetchGroup{
		{Path: "tags", Fields: []string{"id", "name"}},
		{Path: "opening_hours", Fields: []string{"id", "weekday"}, BackLink: "restaurant"},
	}
	if got := p.PrefetchGroups(); !reflect.DeepEqual(got, want) {
		t.Fatalf("groups=%+v", got)
	}
	if got := p.OnlyFields(); !reflect.DeepEqual(got, []string{"id", "name"}) {
		t.Fatalf("only=%v", got)
	}
}

func TestOutputAnnotations(t *testing.T) {
	ct := schematest.Restaurant(t)
	if anns := Full(ct, crs.WGS84).OutputAnnotations(); len(anns) != 0 {
		t.Fatalf("same srid needs no transform: %v", anns)
	}

	p := Full(ct, crs.WebMercator)
	anns := p.OutputAnnotations()
	if len(anns) != 1 || !anns[0].OutputOnly || anns[0].Name != "_as_location" {
		t.Fatalf("annotations=%+v", anns)
	}
	q := p.Apply(&query.Query{Model: ct.Model, Where: query.Everything{}})
	if len(q.ForCount().Annotations) != 0 {
		t.Fatal("count query must not carry output annotations")
	}
}
