package wfs_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"

	"github.com/mohammed-shakir/wfs-server/internal/feature"
	"github.com/mohammed-shakir/wfs-server/internal/feature/featuretest"
	"github.com/mohammed-shakir/wfs-server/internal/fes"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/query"
	"github.com/mohammed-shakir/wfs-server/internal/render"
	"github.com/mohammed-shakir/wfs-server/internal/store/memstore"
	"github.com/mohammed-shakir/wfs-server/internal/wfs"
)

func newService(t *testing.T, opts wfs.Options) (*wfs.Service, *memstore.Store) {
	t.Helper()
	cat := featuretest.Catalog(t)
	s := memstore.New(cat.Models)
	featuretest.Seed(t, s)
	return wfs.NewService(cat, s, opts, slog.New(slog.NewTextHandler(io.Discard, nil))), s
}

func getFeature(t *testing.T, svc *wfs.Service, query string) (*render.Output, error) {
	t.Helper()
	v, err := url.ParseQuery(query)
	if err != nil {
		t.Fatal(err)
	}
	req, err := wfs.ParseKVP(v, &fes.Parser{})
	if err != nil {
		return nil, err
	}
	return svc.GetFeature(context.Background(), req.(*wfs.GetFeature), render.FormatGeoJSON, nil)
}

func ids(t *testing.T, out *render.Output) []int64 {
	t.Helper()
	var got []int64
	for _, p := range out.Parts {
		rows, err := p.Rows.FetchResults(context.Background())
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		for _, r := range rows {
			got = append(got, r["id"].(int64))
		}
	}
	return got
}

func equalIDs(got []int64, want ...int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestGetFeature_DefaultOrderIsPrimaryKey(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	out, err := getFeature(t, svc, "request=GetFeature&typeNames=app:restaurant")
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(t, out); !equalIDs(got, 1, 2, 3, 4) {
		t.Fatalf("ids=%v", got)
	}
}

func TestGetFeature_SortAndPage(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	out, err := getFeature(t, svc, "request=GetFeature&typeNames=restaurant&sortBy=rating+DESC&count=2&startIndex=1")
	if err != nil {
		t.Fatal(err)
	}
	// ratings 4.5, 4.0, 3.0, 2.5
	if got := ids(t, out); !equalIDs(got, 3, 2) {
		t.Fatalf("ids=%v", got)
	}
}

func TestGetFeature_CountLimits(t *testing.T) {
	svc, _ := newService(t, wfs.Options{DefaultCount: 2, MaxCount: 3})
	out, err := getFeature(t, svc, "request=GetFeature&typeNames=restaurant")
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(t, out); len(got) != 2 {
		t.Fatalf("default count: ids=%v", got)
	}
	out, err = getFeature(t, svc, "request=GetFeature&typeNames=restaurant&count=100")
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(t, out); len(got) != 3 {
		t.Fatalf("max count: ids=%v", got)
	}
}

func TestGetFeature_Hits(t *testing.T) {
	svc, s := newService(t, wfs.Options{})
	out, err := getFeature(t, svc, "request=GetFeature&typeNames=restaurant&resultType=hits")
	if err != nil {
		t.Fatal(err)
	}
	n, err := out.Parts[0].Rows.NumberMatched(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("matched=%d err=%v", n, err)
	}
	if st := s.Stats(); st.Fetches != 0 {
		t.Fatalf("hits must not fetch rows: %+v", st)
	}
}

func TestGetFeature_ResourceID(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	out, err := getFeature(t, svc, "request=GetFeature&resourceId=restaurant.3,restaurant.1")
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(t, out); !equalIDs(got, 1, 3) {
		t.Fatalf("ids=%v", got)
	}
}

func TestGetFeature_ResourceIDAcrossTypes(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	out, err := getFeature(t, svc, "request=GetFeature&resourceId=restaurant.1,city.2")
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Parts) != 2 {
		t.Fatalf("parts=%d want one per type", len(out.Parts))
	}
	for i, want := range []string{"restaurant", "city"} {
		if got := out.Parts[i].Type.Name; got != want {
			t.Fatalf("part %d type=%s want %s", i, got, want)
		}
	}
	if got := ids(t, out); !equalIDs(got, 1, 2) {
		t.Fatalf("ids=%v", got)
	}
}

func TestGetFeature_ResourceIDOutsideTypeNames(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	_, err := getFeature(t, svc, "request=GetFeature&typeNames=restaurant&resourceId=city.2")
	if !ows.IsKind(err, ows.KindInvalidParameter) || ows.As(err).Locator != "resourceId" {
		t.Fatalf("err=%v", err)
	}
}

func TestGetFeature_UnknownType(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	_, err := getFeature(t, svc, "request=GetFeature&typeNames=app:bakery")
	if err == nil || ows.As(err).Locator != "typeNames" {
		t.Fatalf("err=%v", err)
	}
}

func TestGetFeature_UnknownPropertyName(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	_, err := getFeature(t, svc, "request=GetFeature&typeNames=restaurant&propertyName=nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if ows.As(err).Kind == ows.KindInternal {
		t.Fatalf("unknown property must be a client error: %v", err)
	}
}

func TestGetFeature_UnsupportedSrsName(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	_, err := getFeature(t, svc, "request=GetFeature&typeNames=restaurant&srsName=urn:ogc:def:crs:EPSG::2154")
	if err == nil || ows.As(err).Kind == ows.KindInternal {
		t.Fatalf("err=%v", err)
	}
}

func TestGetFeature_PermissionDenied(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	ft, err := svc.Catalog.Lookup("app:restaurant", nil)
	if err != nil {
		t.Fatal(err)
	}
	ft.Authorizer = feature.AuthorizerFunc(func(context.Context, *feature.Type) bool { return false })

	_, err = getFeature(t, svc, "request=GetFeature&typeNames=restaurant")
	if !ows.IsKind(err, ows.KindPermissionDenied) {
		t.Fatalf("err=%v", err)
	}

	types, err := svc.DescribeFeatureType(context.Background(), &wfs.DescribeFeatureType{})
	if err != nil {
		t.Fatal(err)
	}
	for _, typ := range types {
		if typ.Name == "restaurant" {
			t.Fatal("denied types are left out of DescribeFeatureType")
		}
	}
}

func TestGetFeatureByID(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	out, err := getFeature(t, svc, "request=GetFeature&storedQuery_id=urn:ogc:def:query:OGC-WFS::GetFeatureById&ID=restaurant.2")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Parts[0].Projection.Standalone() {
		t.Fatal("GetFeatureById answers a standalone feature")
	}
	if got := ids(t, out); !equalIDs(got, 2) {
		t.Fatalf("ids=%v", got)
	}

	for _, id := range []string{"restaurant.999", "restaurant", "bakery.1"} {
		_, err := getFeature(t, svc, "request=GetFeature&storedQuery_id=GetFeatureById&ID="+id)
		if !ows.IsKind(err, ows.KindNotFound) {
			t.Fatalf("%s: err=%v", id, err)
		}
	}

	_, err = getFeature(t, svc, "request=GetFeature&storedQuery_id=GetFeatureById")
	if !ows.IsKind(err, ows.KindMissingParameter) {
		t.Fatalf("missing ID: err=%v", err)
	}
	_, err = getFeature(t, svc, "request=GetFeature&storedQuery_id=urn:x:unknown")
	if !ows.IsKind(err, ows.KindInvalidParameter) {
		t.Fatalf("unknown query: err=%v", err)
	}
}

type byName struct{}

func (byName) ID() string                             { return "urn:example:ByName" }
func (byName) Title() string                          { return "By name" }
func (byName) Abstract() string                       { return "" }
func (byName) Parameters() []wfs.StoredQueryParameter { return nil }

func (byName) Bind(_ context.Context, cat *feature.Catalog, params map[string]string) (wfs.BoundStoredQuery, error) {
	t, err := cat.Lookup("app:restaurant", nil)
	if err != nil {
		return nil, err
	}
	return &boundByName{t: t, name: params["NAME"]}, nil
}

type boundByName struct {
	t    *feature.Type
	name string
}

func (b *boundByName) Types() []*feature.Type { return []*feature.Type{b.t} }
func (b *boundByName) Standalone() bool       { return false }
func (b *boundByName) NoMatch() error         { return nil }

func (b *boundByName) Compile(t *feature.Type, qb *query.Builder, fns *fes.Functions) (*query.Query, error) {
	f := &fes.Filter{Predicate: &fes.BinaryComparison{
		Op:        fes.EqualTo,
		Lhs:       &fes.ValueReference{XPath: "name"},
		Rhs:       &fes.Literal{Raw: b.name},
		MatchCase: true,
	}}
	return fes.NewCompiler(t, fns).Compile(qb, f, nil)
}

func TestStoredQueries_CustomRegistration(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	svc.StoredQueries.Register(byName{})

	out, err := getFeature(t, svc, "request=GetFeature&storedQuery_id=urn:example:ByName&NAME=Sushi+Bar")
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(t, out); !equalIDs(got, 3) {
		t.Fatalf("ids=%v", got)
	}

	out, err = getFeature(t, svc, "request=GetFeature&storedQuery_id=urn:example:ByName&NAME=Nowhere")
	if err != nil {
		t.Fatalf("an empty collection is a valid answer: %v", err)
	}
	if got := ids(t, out); len(got) != 0 {
		t.Fatalf("ids=%v", got)
	}

	if n := len(svc.StoredQueries.All()); n != 2 {
		t.Fatalf("registered=%d want 2", n)
	}
}

func TestDescribeFeatureType_Schema(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	types, err := svc.DescribeFeatureType(context.Background(), &wfs.DescribeFeatureType{TypeNames: []string{"app:restaurant"}})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := wfs.WriteSchema(&buf, svc.Catalog, types); err != nil {
		t.Fatal(err)
	}
	doc := buf.String()
	for _, want := range []string{
		`targetNamespace="http://example.org/gisserver"`,
		`xmlns:app="http://example.org/gisserver"`,
		`<xsd:element name="restaurant" type="app:restaurantType" substitutionGroup="gml:AbstractFeature">`,
		`<xsd:extension base="gml:AbstractFeatureType">`,
		`name="location" type="gml:PointPropertyType"`,
		`name="tags" minOccurs="0" maxOccurs="unbounded"`,
		`<xsd:documentation>City the restaurant is in</xsd:documentation>`,
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("schema lacks %s:\n%s", want, doc)
		}
	}

	_, err = svc.DescribeFeatureType(context.Background(), &wfs.DescribeFeatureType{TypeNames: []string{"app:bakery"}})
	if err == nil {
		t.Fatal("expected unknown type error")
	}
}

func TestWriteStoredQueries(t *testing.T) {
	svc, _ := newService(t, wfs.Options{})
	var buf bytes.Buffer
	if err := wfs.WriteStoredQueries(&buf, svc.Catalog, svc.StoredQueries.All()); err != nil {
		t.Fatal(err)
	}
	doc := buf.String()
	if strings.Count(doc, "<wfs:StoredQuery ") != 1 {
		t.Fatalf("aliases must not duplicate entries:\n%s", doc)
	}
	if !strings.Contains(doc, `id="`+wfs.GetFeatureByIDURN+`"`) ||
		!strings.Contains(doc, "<wfs:ReturnFeatureType>app:restaurant</wfs:ReturnFeatureType>") {
		t.Fatalf("doc:\n%s", doc)
	}
}

func TestCheckSchemaFormat(t *testing.T) {
	for _, ok := range []string{"", "XMLSCHEMA", "application/gml+xml; version=3.2", "text/xml; subtype=gml/3.2"} {
		if err := wfs.CheckSchemaFormat(ok); err != nil {
			t.Fatalf("%q: %v", ok, err)
		}
	}
	if err := wfs.CheckSchemaFormat("application/json"); !ows.IsKind(err, ows.KindInvalidParameter) {
		t.Fatalf("err=%v", err)
	}
}
