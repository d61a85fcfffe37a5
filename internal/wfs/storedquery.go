package wfs

import (
	"context"
	"strings"
	"sync"

	"github.com/mohammed-shakir/wfs-server/internal/fes"
	"github.com/mohammed-shakir/wfs-server/internal/feature"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/query"
)

// GetFeatureByIDURN is the id of the one stored query every server offers.
const GetFeatureByIDURN = "urn:ogc:def:query:OGC-WFS::GetFeatureById"

// StoredQueryParameter describes one named argument.
type StoredQueryParameter struct {
	Name  string
	Type  string
	Title string
}

// StoredQuery is a server side query invoked by id. Bind validates the
// arguments, which arrive with upper cased names.
type StoredQuery interface {
	ID() string
	Title() string
	Abstract() string
	Parameters() []StoredQueryParameter
	Bind(ctx context.Context, cat *feature.Catalog, params map[string]string) (BoundStoredQuery, error)
}

// BoundStoredQuery is a stored query with its arguments applied.
type BoundStoredQuery interface {
	// Types are the feature types the query reads.
	Types() []*feature.Type
	// Compile builds the query for one of Types.
	Compile(t *feature.Type, b *query.Builder, fns *fes.Functions) (*query.Query, error)
	// Standalone reports that a single feature is returned outside a collection.
	Standalone() bool
	// NoMatch is the error for an empty result, nil when empty is a valid answer.
	NoMatch() error
}

// StoredQueries is the registry of stored queries, fixed after startup.
type StoredQueries struct {
	mu    sync.RWMutex
	byID  map[string]StoredQuery
	order []StoredQuery
}

func NewStoredQueries() *StoredQueries {
	return &StoredQueries{byID: map[string]StoredQuery{}}
}

// DefaultStoredQueries holds GetFeatureById, also reachable by its short name.
func DefaultStoredQueries() *StoredQueries {
	r := NewStoredQueries()
	r.Register(GetFeatureByID{}, "GetFeatureById")
	return r
}

// Register adds q under its id and any aliases.
func (r *StoredQueries) Register(q StoredQuery, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[q.ID()]; !dup {
		r.order = append(r.order, q)
	}
	r.byID[q.ID()] = q
	for _, a := range aliases {
		r.byID[a] = q
	}
}

func (r *StoredQueries) Lookup(id string) (StoredQuery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if q, ok := r.byID[id]; ok {
		return q, nil
	}
	return nil, ows.InvalidParameter("STOREDQUERY_ID", "Stored query does not exist: %s.", id)
}

// All lists the registered queries once each, in registration order.
func (r *StoredQueries) All() []StoredQuery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]StoredQuery(nil), r.order...)
}

// GetFeatureByID returns one feature by its "typename.identifier" id.
type GetFeatureByID struct{}

func (GetFeatureByID) ID() string    { return GetFeatureByIDURN }
func (GetFeatureByID) Title() string { return "Get feature by identifier" }
func (GetFeatureByID) Abstract() string {
	return "Returns the single feature whose identifier matches the ID argument."
}

func (GetFeatureByID) Parameters() []StoredQueryParameter {
	return []StoredQueryParameter{{Name: "ID", Type: "xs:string", Title: "Feature identifier"}}
}

// Bind never answers a malformed or unknown id with InvalidParameterValue:
// every id that cannot select a feature is NotFound.
func (GetFeatureByID) Bind(_ context.Context, cat *feature.Catalog, params map[string]string) (BoundStoredQuery, error) {
	id := strings.TrimSpace(params["ID"])
	if id == "" {
		return nil, ows.MissingParameter("ID")
	}
	typeName, _, ok := fes.SplitResourceID(id)
	if !ok {
		return nil, ows.NotFound("ID", "Invalid ID value '%s', expected 'typename.identifier'.", id)
	}
	t, err := cat.Lookup(typeName, cat.Aliases())
	if err != nil {
		return nil, ows.NotFound("ID", "Feature not found with ID %s.", id)
	}
	return &featureByID{id: id, t: t}, nil
}

type featureByID struct {
	id string
	t  *feature.Type
}

func (q *featureByID) Types() []*feature.Type { return []*feature.Type{q.t} }

func (q *featureByID) Compile(t *feature.Type, b *query.Builder, fns *fes.Functions) (*query.Query, error) {
	c := fes.NewCompiler(t, fns)
	f := &fes.Filter{Predicate: &fes.IDOperator{IDs: []fes.ResourceID{{RID: q.id}}}}
	return c.Compile(b, f, nil)
}

func (q *featureByID) Standalone() bool { return true }

func (q *featureByID) NoMatch() error {
	return ows.NotFound("ID", "Feature not found with ID %s.", q.id)
}
