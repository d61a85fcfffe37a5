package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/projection"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
)

// GeoJSON streams a FeatureCollection. Paging totals are written after the
// features so the count query runs only once the rows went out.
type GeoJSON struct {
	logger *slog.Logger
}

func (r *GeoJSON) Format() Format { return FormatGeoJSON }

// object keeps member order, which follows the schema.
type object struct {
	keys []string
	vals []any
}

func (o *object) add(k string, v any) {
	o.keys = append(o.keys, k)
	o.vals = append(o.vals, v)
}

func (o *object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.vals[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type link struct {
	Href  string `json:"href"`
	Rel   string `json:"rel"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type namedCRS struct {
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties"`
}

// geojsonStream tracks where in the document a failure happens.
type geojsonStream struct {
	w          *countingWriter
	started    bool
	inFeatures bool
	first      bool
}

func (s *geojsonStream) write(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (s *geojsonStream) start() error {
	if s.started {
		return nil
	}
	s.started, s.inFeatures, s.first = true, true, true
	return s.write([]byte(`{"type":"FeatureCollection","features":[`))
}

func (s *geojsonStream) feature(b []byte) error {
	if err := s.start(); err != nil {
		return err
	}
	if !s.first {
		if err := s.write([]byte(",\n")); err != nil {
			return err
		}
	}
	s.first = false
	return s.write(b)
}

func (r *GeoJSON) Render(ctx context.Context, w io.Writer, out *Output) error {
	if len(out.Parts) == 1 && out.Parts[0].Projection.Standalone() {
		return r.renderStandalone(ctx, w, out.Parts[0])
	}
	s := &geojsonStream{w: &countingWriter{w: w}}
	for _, part := range out.Parts {
		err := part.Rows.Each(ctx, func(rec datamodel.Record) error {
			b, err := r.encodeFeature(part, rec)
			if err != nil {
				return err
			}
			return s.feature(b)
		})
		if err != nil {
			return r.fail(ctx, s, err)
		}
	}
	if err := s.start(); err != nil {
		return err
	}
	if err := r.writeTrailer(ctx, s, out); err != nil {
		return r.fail(ctx, s, err)
	}
	return nil
}

func (r *GeoJSON) writeTrailer(ctx context.Context, s *geojsonStream, out *Output) error {
	returned, matched := 0, 0
	hasNext := false
	for _, part := range out.Parts {
		n, err := part.Rows.NumberReturned(ctx)
		if err != nil {
			return err
		}
		returned += n
		next, err := part.Rows.HasNext(ctx)
		if err != nil {
			return err
		}
		hasNext = hasNext || next
	}
	// counts may hit the store, so they come last
	for _, part := range out.Parts {
		n, err := part.Rows.NumberMatched(ctx)
		if err != nil {
			return err
		}
		matched += n
	}

	ts := out.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	trailer := &object{}
	trailer.add("timeStamp", ts.UTC().Format(time.RFC3339))
	if links := r.links(out, hasNext); len(links) > 0 {
		trailer.add("links", links)
	}
	if c := outputCRS(out); c != nil && c.SRID != 4326 {
		trailer.add("crs", namedCRS{Type: "name", Properties: map[string]string{"name": c.URN()}})
	}
	trailer.add("numberReturned", returned)
	trailer.add("numberMatched", matched)
	b, err := trailer.MarshalJSON()
	if err != nil {
		return err
	}
	s.inFeatures = false
	// splice the trailer members after the features array
	b[0] = ','
	if err := s.write([]byte("]")); err != nil {
		return err
	}
	return s.write(b)
}

func outputCRS(out *Output) *crs.CRS {
	if len(out.Parts) == 0 {
		return nil
	}
	return out.Parts[0].Projection.OutputCRS()
}

func (r *GeoJSON) links(out *Output, hasNext bool) []link {
	if len(out.Parts) == 0 || out.RequestURL == nil {
		return nil
	}
	pl := out.Parts[0].Rows.PageLinks(out.RequestURL, hasNext)
	var links []link
	if pl.Previous != "" {
		links = append(links, link{Href: pl.Previous, Rel: "previous", Type: "application/geo+json", Title: "previous page"})
	}
	if pl.Next != "" {
		links = append(links, link{Href: pl.Next, Rel: "next", Type: "application/geo+json", Title: "next page"})
	}
	return links
}

// fail reports err in-band once output started; before that the caller can
// still send a proper exception report.
func (r *GeoJSON) fail(ctx context.Context, s *geojsonStream, err error) error {
	if s.w.n == 0 {
		return err
	}
	code, msg := exceptionText(err)
	exc := &object{}
	exc.add("code", code)
	exc.add("message", msg)
	b, merr := json.Marshal(exc)
	if merr == nil {
		prefix := ","
		if s.inFeatures {
			prefix = "],"
		}
		_ = s.write([]byte(prefix + `"exception":`))
		_ = s.write(b)
		_ = s.write([]byte("}"))
	}
	return aborted(ctx, r.logger, FormatGeoJSON, err)
}

func (r *GeoJSON) renderStandalone(ctx context.Context, w io.Writer, part Part) error {
	rows, err := part.Rows.FetchResults(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("render: standalone output without a row")
	}
	b, err := r.encodeFeature(part, rows[0])
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (r *GeoJSON) encodeFeature(part Part, rec datamodel.Record) ([]byte, error) {
	f, err := r.feature(part, rec)
	if err != nil {
		return nil, err
	}
	return f.MarshalJSON()
}

// feature builds one Feature. The type's main geometry becomes the
// geometry member, every other rendered element a property.
func (r *GeoJSON) feature(part Part, rec datamodel.Record) (*object, error) {
	proj := part.Projection
	main := part.Type.GeometryElement()
	if main != nil && !containsRoot(proj, main) {
		main = nil
	}
	props := &object{}
	for _, el := range proj.Roots() {
		if el == main {
			continue
		}
		v, err := r.value(proj, el, rec, rec)
		if err != nil {
			return nil, err
		}
		props.add(el.Name, v)
	}

	f := &object{}
	f.add("type", "Feature")
	if id := featureID(part.Type, rec); id != "" {
		f.add("id", id)
	}
	var geom any
	if main != nil {
		g, err := geometry(proj, main, rec, rec, crs.XY)
		if err != nil {
			return nil, err
		}
		if g != nil {
			geom = geojson.NewGeometry(g)
		}
	}
	f.add("geometry", geom)
	f.add("properties", props)
	return f, nil
}

func containsRoot(p *projection.Projection, el *schema.Element) bool {
	for _, e := range p.Roots() {
		if e == el {
			return true
		}
	}
	return false
}

func (r *GeoJSON) value(proj *projection.Projection, el *schema.Element, root, rec datamodel.Record) (any, error) {
	if el.IsComplex() {
		v := el.GetValue(rec)
		if el.IsMany() {
			items := []any{}
			for _, child := range records(v) {
				o, err := r.nested(proj, el, root, child)
				if err != nil {
					return nil, err
				}
				items = append(items, o)
			}
			return items, nil
		}
		child, _ := v.(datamodel.Record)
		if child == nil {
			return nil, nil
		}
		return r.nested(proj, el, root, child)
	}
	if el.IsGeometry() {
		if many, ok := el.GetValue(rec).([]any); ok {
			items := make([]any, 0, len(many))
			for _, g := range many {
				if g, ok := g.(orb.Geometry); ok {
					og, err := proj.OutputCRS().Transform(crs.Stored(g, el.SRID()), crs.XY)
					if err != nil {
						return nil, err
					}
					items = append(items, geojson.NewGeometry(og.Geom))
				}
			}
			return items, nil
		}
		g, err := geometry(proj, el, root, rec, crs.XY)
		if err != nil || g == nil {
			return nil, err
		}
		return geojson.NewGeometry(g), nil
	}
	v := el.GetValue(rec)
	if many, ok := v.([]any); ok {
		items := make([]any, len(many))
		for i, item := range many {
			items[i] = scalar(el, item)
		}
		return items, nil
	}
	return scalar(el, v), nil
}

func (r *GeoJSON) nested(proj *projection.Projection, el *schema.Element, root, rec datamodel.Record) (*object, error) {
	o := &object{}
	for _, child := range proj.Children(el) {
		v, err := r.value(proj, child, root, rec)
		if err != nil {
			return nil, err
		}
		o.add(child.Name, v)
	}
	return o, nil
}
