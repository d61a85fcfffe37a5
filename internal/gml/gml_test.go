package gml

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/xmltree"
)

func parseDoc(t *testing.T, doc string) *xmltree.Node {
	t.Helper()
	n, err := xmltree.Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("xml: %v", err)
	}
	return n
}

func TestParse_PointAxisOrder(t *testing.T) {
	n := parseDoc(t, `<gml:Point xmlns:gml="http://www.opengis.net/gml/3.2" srsName="urn:ogc:def:crs:EPSG::4326"><gml:pos>52.3 5.1</gml:pos></gml:Point>`)
	g, err := Parse(n, nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.Axis != crs.YX || g.SRID != 4326 {
		t.Fatalf("got axis=%v srid=%d", g.Axis, g.SRID)
	}
	stored, err := crs.ToStorage(g.OrientedGeometry, 4326)
	if err != nil {
		t.Fatal(err)
	}
	if p := stored.Geom.(orb.Point); p != (orb.Point{5.1, 52.3}) {
		t.Fatalf("storage order: %v", p)
	}
}

func TestParse_EnvelopeDefaultCRS(t *testing.T) {
	n := parseDoc(t, `<gml:Envelope xmlns:gml="http://www.opengis.net/gml/3.2">
		<gml:lowerCorner>120000 486000</gml:lowerCorner>
		<gml:upperCorner>122000 488000</gml:upperCorner>
	</gml:Envelope>`)
	rd := crs.MustParse("EPSG:28992")
	g, err := Parse(n, rd)
	if err != nil {
		t.Fatal(err)
	}
	b, ok := g.Geom.(orb.Bound)
	if !ok || b.Min != (orb.Point{120000, 486000}) || b.Max != (orb.Point{122000, 488000}) {
		t.Fatalf("bound=%v", g.Geom)
	}
	if g.CRS != rd || g.Axis != crs.XY {
		t.Fatalf("crs=%v axis=%v", g.CRS, g.Axis)
	}
}

func TestParse_Polygon(t *testing.T) {
	n := parseDoc(t, `<gml:Polygon xmlns:gml="http://www.opengis.net/gml/3.2" srsName="urn:ogc:def:crs:OGC:1.3:CRS84">
		<gml:exterior><gml:LinearRing><gml:posList>0 0 10 0 10 10 0 10 0 0</gml:posList></gml:LinearRing></gml:exterior>
		<gml:interior><gml:LinearRing><gml:posList>2 2 4 2 4 4 2 2</gml:posList></gml:LinearRing></gml:interior>
	</gml:Polygon>`)
	g, err := Parse(n, nil)
	if err != nil {
		t.Fatal(err)
	}
	poly := g.Geom.(orb.Polygon)
	if len(poly) != 2 || len(poly[0]) != 5 {
		t.Fatalf("polygon=%v", poly)
	}
	if g.Axis != crs.XY {
		t.Fatal("CRS84 is x/y")
	}
}

func TestParse_GML2Coordinates(t *testing.T) {
	n := parseDoc(t, `<gml:LineString xmlns:gml="http://www.opengis.net/gml" srsName="EPSG:3857"><gml:coordinates decimal="," cs=";" ts=" ">1,5;2 3;4,25</gml:coordinates></gml:LineString>`)
	g, err := Parse(n, nil)
	if err != nil {
		t.Fatal(err)
	}
	ls := g.Geom.(orb.LineString)
	if ls[0] != (orb.Point{1.5, 2}) || ls[1] != (orb.Point{3, 4.25}) {
		t.Fatalf("line=%v", ls)
	}
}

func TestParse_MultiSurfaceAnd3D(t *testing.T) {
	n := parseDoc(t, `<gml:MultiSurface xmlns:gml="http://www.opengis.net/gml/3.2" srsName="EPSG:28992" srsDimension="3">
		<gml:surfaceMember><gml:Polygon><gml:exterior><gml:LinearRing>
			<gml:posList>0 0 1 1 0 1 1 1 1 0 1 1 0 0 1</gml:posList>
		</gml:LinearRing></gml:exterior></gml:Polygon></gml:surfaceMember>
	</gml:MultiSurface>`)
	g, err := Parse(n, nil)
	if err != nil {
		t.Fatal(err)
	}
	mp := g.Geom.(orb.MultiPolygon)
	if len(mp) != 1 || mp[0][0][1] != (orb.Point{1, 0}) {
		t.Fatalf("multipolygon=%v", mp)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		`<gml:Point xmlns:gml="http://www.opengis.net/gml/3.2"><gml:pos>1</gml:pos></gml:Point>`,
		`<gml:Point xmlns:gml="http://www.opengis.net/gml/3.2" srsName="urn:ogc:def:crs:EPSG::abc"><gml:pos>1 2</gml:pos></gml:Point>`,
		`<gml:LinearRing xmlns:gml="http://www.opengis.net/gml/3.2"><gml:posList>0 0 1 0 1 1 2 2</gml:posList></gml:LinearRing>`,
		`<gml:Curve xmlns:gml="http://www.opengis.net/gml/3.2"/>`,
		`<Point><pos>1 2</pos></Point>`,
	}
	for _, doc := range cases {
		_, err := Parse(parseDoc(t, doc), nil)
		if !ows.IsKind(err, ows.KindParsing) {
			t.Fatalf("%s: expected parsing error, got %v", doc, err)
		}
	}
}
