// Package wfs parses WFS 2.0 requests from KVP or XML, binds them to the
// feature catalog and runs them against a store.
package wfs

import (
	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/fes"
)

const (
	Namespace = "http://www.opengis.net/wfs/2.0"
	Version   = "2.0.0"

	FilterLanguageFES = "urn:ogc:def:query:OGC-FES:Filter"
)

type ResultType int

const (
	ResultTypeResults ResultType = iota
	ResultTypeHits
)

// Request is one parsed operation.
type Request interface {
	Operation() string
}

// GetFeature holds one or more query expressions sharing paging settings.
type GetFeature struct {
	Queries    []QueryExpression
	StartIndex int
	// Count is negative when the client gave none.
	Count        int
	ResultType   ResultType
	OutputFormat string
}

func (*GetFeature) Operation() string { return "GetFeature" }

// QueryExpression is an ad-hoc query or a stored query call.
type QueryExpression interface {
	queryExpression()
}

// BBox is the KVP BBOX shorthand. CRS is nil when the client gave none.
type BBox struct {
	Coords [4]float64
	CRS    *crs.CRS
}

// AdhocQuery is a wfs:Query element or its KVP equivalent.
type AdhocQuery struct {
	TypeNames []string
	// NS are the prefixes in scope for type names and property names.
	NS            map[string]string
	Filter        *fes.Filter
	BBox          *BBox
	SortBy        *fes.SortBy
	PropertyNames []*fes.ValueReference
	SrsName       string
	// TypesFromIDs marks TypeNames derived from RESOURCEID rather than given
	// by the client; ids of other types are then skipped, not rejected.
	TypesFromIDs bool
}

func (*AdhocQuery) queryExpression() {}

// StoredQueryCall invokes a registered stored query.
type StoredQueryCall struct {
	ID     string
	Params map[string]string
}

func (*StoredQueryCall) queryExpression() {}

type DescribeFeatureType struct {
	TypeNames    []string
	NS           map[string]string
	OutputFormat string
}

func (*DescribeFeatureType) Operation() string { return "DescribeFeatureType" }

type ListStoredQueries struct{}

func (*ListStoredQueries) Operation() string { return "ListStoredQueries" }
