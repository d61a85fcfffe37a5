// Package render writes feature collections. Renderers consume a projection
// and a results.Collection; they never look at the raw request.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-server/internal/core/observability"
	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/feature"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/projection"
	"github.com/mohammed-shakir/wfs-server/internal/results"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
)

// Part is the result of one query of a request.
type Part struct {
	Type       *feature.Type
	Projection *projection.Projection
	Rows       *results.Collection
}

// Output is everything a renderer writes for one GetFeature response.
type Output struct {
	Parts []Part
	// RequestURL is the original request, used to build paging links.
	RequestURL *url.URL
	Timestamp  time.Time
}

// Renderer writes an Output. The first byte written starts the response;
// failures after that are reported in-band and returned as *StreamError.
type Renderer interface {
	Format() Format
	Render(ctx context.Context, w io.Writer, out *Output) error
}

// StreamError is a failure that happened after output was flushed.
type StreamError struct {
	Format Format
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("render %s: aborted mid-stream: %v", e.Format, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// IsStreamError reports whether err was raised after the response began.
func IsStreamError(err error) bool {
	var se *StreamError
	return errors.As(err, &se)
}

// New returns the renderer for f.
func New(f Format, logger *slog.Logger) Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	if f == FormatCSV {
		return &CSV{logger: logger}
	}
	return &GeoJSON{logger: logger}
}

// aborted logs a mid-stream failure and wraps it.
func aborted(ctx context.Context, logger *slog.Logger, f Format, err error) error {
	observability.IncStreamError(f.String())
	logger.ErrorContext(ctx, "output stream aborted", "format", f.String(), "err", err)
	return &StreamError{Format: f, Err: err}
}

// exceptionText is the client-facing message for an in-band failure.
func exceptionText(err error) (code, message string) {
	oe := ows.As(err)
	if oe.Kind == ows.KindInternal {
		return oe.Code, fmt.Sprintf("Error during rendering: %v", err)
	}
	return oe.Code, oe.Message
}

// geometry returns el's value from rec in the output CRS with the given axis
// order. root is the feature record carrying transformed copies.
func geometry(p *projection.Projection, el *schema.Element, root, rec datamodel.Record, axis crs.Axis) (orb.Geometry, error) {
	out := p.OutputCRS()
	var og crs.OrientedGeometry
	if v, ok := root[projection.AnnotationName(el)]; ok {
		g, _ := v.(orb.Geometry)
		if g == nil {
			return nil, nil
		}
		og = crs.OrientedGeometry{Geom: g, SRID: out.SRID, Axis: crs.XY}
	} else {
		g, _ := el.GetValue(rec).(orb.Geometry)
		if g == nil {
			return nil, nil
		}
		og = crs.Stored(g, el.SRID())
	}
	if out == nil {
		return og.Geom, nil
	}
	res, err := out.Transform(og, axis)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", el.Name, err)
	}
	return res.Geom, nil
}

// scalar formats dates and times by the element's declared type.
func scalar(el *schema.Element, v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	switch el.Type {
	case schema.TypeDate:
		return t.Format(time.DateOnly)
	case schema.TypeTime:
		return t.Format(time.TimeOnly)
	}
	return t.Format(time.RFC3339Nano)
}

// featureID is "typename.pk", the gml:id of a row.
func featureID(t *feature.Type, rec datamodel.Record) string {
	id := t.Schema().GmlID()
	if id == nil {
		return ""
	}
	v := id.GetValue(rec)
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%s.%v", t.Name, v)
}

// records normalizes a to-many value.
func records(v any) []datamodel.Record {
	switch x := v.(type) {
	case []datamodel.Record:
		return x
	case []any:
		out := make([]datamodel.Record, 0, len(x))
		for _, item := range x {
			if r, ok := item.(datamodel.Record); ok {
				out = append(out, r)
			}
		}
		return out
	}
	return nil
}

// countingWriter records whether anything reached the client.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
