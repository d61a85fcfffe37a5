package wfs

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/feature"
	"github.com/mohammed-shakir/wfs-server/internal/fes"
	"github.com/mohammed-shakir/wfs-server/internal/gml"
	"github.com/mohammed-shakir/wfs-server/internal/logger"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/projection"
	"github.com/mohammed-shakir/wfs-server/internal/query"
	"github.com/mohammed-shakir/wfs-server/internal/render"
	"github.com/mohammed-shakir/wfs-server/internal/results"
	"github.com/mohammed-shakir/wfs-server/internal/xpath"
)

// Options are the server wide paging limits.
type Options struct {
	// DefaultCount applies when a request gives no COUNT, 0 means unbounded.
	DefaultCount int
	// MaxCount caps any requested COUNT, 0 means no cap.
	MaxCount  int
	ChunkSize int
}

// Service binds parsed requests to the catalog and runs them on a store.
type Service struct {
	Catalog       *feature.Catalog
	Store         query.Store
	Functions     *fes.Functions
	StoredQueries *StoredQueries
	// CountCache is optional.
	CountCache results.CountCache
	Options    Options

	logger *slog.Logger
}

func NewService(cat *feature.Catalog, store query.Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Catalog:       cat,
		Store:         store,
		Functions:     fes.DefaultFunctions(),
		StoredQueries: DefaultStoredQueries(),
		Options:       opts,
		logger:        logger,
	}
}

// pageSize applies the default and the cap to a requested count.
func (s *Service) pageSize(requested int) int {
	n := requested
	if n < 0 {
		n = s.Options.DefaultCount
		if n == 0 {
			n = -1
		}
	}
	if s.Options.MaxCount > 0 && (n < 0 || n > s.Options.MaxCount) {
		n = s.Options.MaxCount
	}
	return n
}

func (s *Service) collection(q *query.Query, start, count int) *results.Collection {
	opts := []results.Option{results.WithChunkSize(s.Options.ChunkSize)}
	if s.CountCache != nil {
		opts = append(opts, results.WithCountCache(s.CountCache))
	}
	return results.New(s.Store, q, start, count, opts...)
}

// GetFeature prepares the output of req. Rows are read lazily by the
// renderer; nothing is fetched here except for stored queries that must
// prove a match exists.
func (s *Service) GetFeature(ctx context.Context, req *GetFeature, format render.Format, requestURL *url.URL) (*render.Output, error) {
	count := s.pageSize(req.Count)
	if req.ResultType == ResultTypeHits {
		count = 0
	}
	out := &render.Output{RequestURL: requestURL, Timestamp: time.Now()}
	for _, qe := range req.Queries {
		var (
			parts []render.Part
			err   error
		)
		switch q := qe.(type) {
		case *AdhocQuery:
			parts, err = s.adhoc(ctx, q, format, req.StartIndex, count)
		case *StoredQueryCall:
			parts, err = s.stored(ctx, q, format, req.StartIndex, count)
		default:
			err = ows.Internal(fmt.Errorf("wfs: unknown query expression %T", qe))
		}
		if err != nil {
			return nil, err
		}
		out.Parts = append(out.Parts, parts...)
	}
	return out, nil
}

func (s *Service) adhoc(ctx context.Context, q *AdhocQuery, format render.Format, start, count int) ([]render.Part, error) {
	if len(q.TypeNames) != 1 {
		return nil, ows.NotSupported("typeNames", "Join queries are not supported.")
	}
	ns := s.withCatalogAliases(q.NS)
	t, err := s.Catalog.Lookup(q.TypeNames[0], ns)
	if err != nil {
		return nil, err
	}
	if err := t.CheckPermission(ctx); err != nil {
		return nil, err
	}
	outCRS, err := t.ResolveCRS(q.SrsName)
	if err != nil {
		return nil, err
	}
	matches := make([]*xpath.Match, 0, len(q.PropertyNames))
	for _, ref := range q.PropertyNames {
		m, err := t.Resolve(ref.XPath, s.withCatalogAliases(ref.NS))
		if err != nil {
			return nil, ows.As(err).WithLocator("propertyName")
		}
		matches = append(matches, m)
	}
	proj := projection.FromMatches(t.Schema(), outCRS, matches)
	if format == render.FormatCSV {
		proj = render.Flatten(proj)
	}

	filter := q.Filter
	if q.BBox != nil {
		filter = bboxFilter(q.BBox, t)
	}
	c := fes.NewCompiler(t, s.Functions)
	if !q.TypesFromIDs {
		c.TypeNames = q.TypeNames
	}
	b := s.builder(t, q.SortBy)
	compiled, err := c.Compile(b, filter, s.sortWithAliases(q.SortBy))
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(logger.WithTypeName(ctx, t.TypeName()), "query compiled",
		"where", compiled.Where.String(), "elements", proj.ElementNames())
	return []render.Part{{Type: t, Projection: proj, Rows: s.collection(proj.Apply(compiled), start, count)}}, nil
}

// builder orders by primary key when the client gave no sort order, so
// paging is stable.
func (s *Service) builder(t *feature.Type, sort *fes.SortBy) *query.Builder {
	b := query.NewBuilder(t.Schema().Model)
	if sort == nil {
		if pk := t.Schema().GmlID(); pk != nil {
			b.AddOrdering(query.Order{Expr: query.Field{Path: pk.BackendPath()}})
		}
	}
	return b
}

func (s *Service) stored(ctx context.Context, call *StoredQueryCall, format render.Format, start, count int) ([]render.Part, error) {
	sq, err := s.StoredQueries.Lookup(call.ID)
	if err != nil {
		return nil, err
	}
	bound, err := sq.Bind(ctx, s.Catalog, call.Params)
	if err != nil {
		return nil, err
	}
	var parts []render.Part
	for _, t := range bound.Types() {
		if err := t.CheckPermission(ctx); err != nil {
			return nil, err
		}
		outCRS, err := t.ResolveCRS(call.Params["SRSNAME"])
		if err != nil {
			return nil, err
		}
		proj := projection.Full(t.Schema(), outCRS)
		if format == render.FormatCSV {
			proj = render.Flatten(proj)
		}
		if bound.Standalone() {
			proj = proj.WithStandalone()
		}
		compiled, err := bound.Compile(t, s.builder(t, nil), s.Functions)
		if err != nil {
			return nil, err
		}
		pageStart, pageCount := start, count
		if bound.Standalone() {
			pageStart, pageCount = 0, 1
		}
		rows := s.collection(proj.Apply(compiled), pageStart, pageCount)
		if bound.Standalone() {
			// a single feature answer is either found or an error, never empty
			got, err := rows.FetchResults(ctx)
			if err != nil {
				return nil, err
			}
			if len(got) == 0 {
				if err := bound.NoMatch(); err != nil {
					return nil, err
				}
			}
		}
		parts = append(parts, render.Part{Type: t, Projection: proj, Rows: rows})
	}
	if len(parts) == 0 {
		if err := bound.NoMatch(); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

// withCatalogAliases fills in the catalog prefix when the request did not
// bind it, so "app:name" works without a NAMESPACES parameter.
func (s *Service) withCatalogAliases(ns map[string]string) map[string]string {
	out := make(map[string]string, len(ns)+1)
	for k, v := range s.Catalog.Aliases() {
		out[k] = v
	}
	for k, v := range ns {
		out[k] = v
	}
	return out
}

func (s *Service) sortWithAliases(sb *fes.SortBy) *fes.SortBy {
	if sb == nil {
		return nil
	}
	out := &fes.SortBy{Properties: make([]fes.SortProperty, len(sb.Properties))}
	for i, p := range sb.Properties {
		out.Properties[i] = fes.SortProperty{
			Ref:  &fes.ValueReference{XPath: p.Ref.XPath, NS: s.withCatalogAliases(p.Ref.NS)},
			Desc: p.Desc,
		}
	}
	return out
}

// bboxFilter turns the BBOX shorthand into a filter on the default
// geometry. Coordinates follow the axis order of the box's CRS.
func bboxFilter(b *BBox, t *feature.Type) *fes.Filter {
	c := b.CRS
	if c == nil {
		c = t.CRS
	}
	bound := orb.Bound{
		Min: orb.Point{b.Coords[0], b.Coords[1]},
		Max: orb.Point{b.Coords[2], b.Coords[3]},
	}
	g := &gml.Geometry{
		OrientedGeometry: crs.OrientedGeometry{Geom: bound, SRID: c.SRID, Axis: c.AxisOrder()},
		CRS:              c,
	}
	return &fes.Filter{Predicate: &fes.BinarySpatial{Op: fes.BBOX, Geometry: &fes.Literal{Geometry: g}}}
}

// DescribeFeatureType resolves the requested types, every type when none
// are named.
func (s *Service) DescribeFeatureType(ctx context.Context, req *DescribeFeatureType) ([]*feature.Type, error) {
	if len(req.TypeNames) == 0 {
		var out []*feature.Type
		for _, t := range s.Catalog.Types() {
			if t.CheckPermission(ctx) == nil {
				out = append(out, t)
			}
		}
		return out, nil
	}
	ns := s.withCatalogAliases(req.NS)
	out := make([]*feature.Type, 0, len(req.TypeNames))
	for _, name := range req.TypeNames {
		t, err := s.Catalog.Lookup(name, ns)
		if err != nil {
			return nil, err
		}
		if err := t.CheckPermission(ctx); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
