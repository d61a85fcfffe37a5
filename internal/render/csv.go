package render

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
	"github.com/mohammed-shakir/wfs-server/internal/projection"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
)

// CSV writes one table per query. To-many elements have no place in a flat
// row and are left out; to-one elements become dotted columns.
type CSV struct {
	logger *slog.Logger
}

func (r *CSV) Format() Format { return FormatCSV }

// column is one flattened scalar element with the complex elements leading to it.
type column struct {
	header string
	path   []*schema.Element
}

// Flatten prunes a projection for CSV output.
func Flatten(p *projection.Projection) *projection.Projection {
	return p.RemoveFields(func(e *schema.Element) bool {
		return e.ToMany || (e.IsComplex() && e.IsMany())
	})
}

func columns(p *projection.Projection) []column {
	var out []column
	var walk func(prefix string, parents []*schema.Element, list []*schema.Element)
	walk = func(prefix string, parents []*schema.Element, list []*schema.Element) {
		for _, el := range list {
			path := append(append([]*schema.Element(nil), parents...), el)
			if el.IsComplex() {
				walk(prefix+el.Name+".", path, p.Children(el))
				continue
			}
			out = append(out, column{header: prefix + el.Name, path: path})
		}
	}
	walk("", nil, p.Roots())
	return out
}

func (r *CSV) Render(ctx context.Context, w io.Writer, out *Output) error {
	cw := &countingWriter{w: w}
	enc := csv.NewWriter(cw)
	for i, part := range out.Parts {
		proj := Flatten(part.Projection)
		cols := columns(proj)
		if i > 0 {
			// tables of several queries are separated by a blank line
			if _, err := io.WriteString(cw, "\n"); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		header := make([]string, len(cols))
		for j, c := range cols {
			header[j] = c.header
		}
		headerWritten := false
		writeHeader := func() error {
			if headerWritten {
				return nil
			}
			headerWritten = true
			return enc.Write(header)
		}

		err := part.Rows.Each(ctx, func(rec datamodel.Record) error {
			row, err := r.row(proj, cols, rec)
			if err != nil {
				return err
			}
			if err := writeHeader(); err != nil {
				return err
			}
			if err := enc.Write(row); err != nil {
				return err
			}
			// keep the stream moving, rows are not buffered up to the end
			enc.Flush()
			return enc.Error()
		})
		if err != nil {
			return r.fail(ctx, enc, cw, err)
		}
		if err := writeHeader(); err != nil {
			return r.fail(ctx, enc, cw, err)
		}
		enc.Flush()
		if err := enc.Error(); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

// fail writes a comment line once rows went out.
func (r *CSV) fail(ctx context.Context, enc *csv.Writer, cw *countingWriter, err error) error {
	enc.Flush()
	if cw.n == 0 {
		return err
	}
	code, msg := exceptionText(err)
	msg = strings.ReplaceAll(msg, "\n", " ")
	_, _ = fmt.Fprintf(cw, "# exception: %s: %s\n", code, msg)
	return aborted(ctx, r.logger, FormatCSV, err)
}

func (r *CSV) row(p *projection.Projection, cols []column, root datamodel.Record) ([]string, error) {
	row := make([]string, len(cols))
	for i, c := range cols {
		rec := root
		for _, parent := range c.path[:len(c.path)-1] {
			rec, _ = parent.GetValue(rec).(datamodel.Record)
			if rec == nil {
				break
			}
		}
		if rec == nil {
			continue
		}
		el := c.path[len(c.path)-1]
		if el.IsGeometry() {
			g, err := geometry(p, el, root, rec, crs.XY)
			if err != nil {
				return nil, err
			}
			row[i] = formatGeometry(g)
			continue
		}
		row[i] = formatValue(scalar(el, el.GetValue(rec)))
	}
	return row, nil
}

func formatGeometry(g orb.Geometry) string {
	if g == nil {
		return ""
	}
	return wkt.MarshalString(g)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
