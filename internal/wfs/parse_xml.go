package wfs

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wfs-server/internal/fes"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/xmltree"
)

type xmlRequestParser func(n *xmltree.Node, p *fes.Parser) (Request, error)

var requestTags map[string]xmlRequestParser

func init() {
	requestTags = map[string]xmlRequestParser{
		"GetFeature":          parseGetFeatureXML,
		"DescribeFeatureType": parseDescribeXML,
		"ListStoredQueries": func(*xmltree.Node, *fes.Parser) (Request, error) {
			return &ListStoredQueries{}, nil
		},
	}
}

const requestTagList = "<wfs:GetFeature>, <wfs:DescribeFeatureType>, <wfs:ListStoredQueries>"

// ParseXML reads a POST body.
func ParseXML(r io.Reader, p *fes.Parser) (Request, error) {
	root, err := xmltree.Parse(r)
	if err != nil {
		if errors.Is(err, xmltree.ErrDoctype) {
			return nil, ows.Parsing("", "%v.", err)
		}
		return nil, ows.Parsing("", "Unable to parse XML request: %v.", err)
	}
	if root.Name.Space == Namespace {
		if fn, ok := requestTags[root.Name.Local]; ok {
			service, _ := root.Attr("service")
			version, _ := root.Attr("version")
			if err := checkService(service, version); err != nil {
				return nil, err
			}
			return fn(root, p)
		}
	}
	return nil, ows.Parsing(root.Name.Local, "Unexpected <%s>, expected one of: %s.", root.QName(), requestTagList)
}

func isWFS(n *xmltree.Node, local string) bool { return n.Is(Namespace, local) }

func intAttr(n *xmltree.Node, name string, def int) (int, error) {
	raw, ok := n.Attr(name)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 0 {
		return 0, ows.InvalidParameter(name, "Invalid %s value '%s', expected a non-negative integer.", name, raw)
	}
	return v, nil
}

func parseGetFeatureXML(n *xmltree.Node, p *fes.Parser) (Request, error) {
	req := &GetFeature{}
	var err error
	if req.StartIndex, err = intAttr(n, "startIndex", 0); err != nil {
		return nil, err
	}
	if req.Count, err = intAttr(n, "count", -1); err != nil {
		return nil, err
	}
	rt, _ := n.Attr("resultType")
	if req.ResultType, err = parseResultType(rt); err != nil {
		return nil, err
	}
	req.OutputFormat, _ = n.Attr("outputFormat")

	if len(n.Children) == 0 {
		return nil, ows.Parsing("GetFeature", "<%s> should have at least one <wfs:Query> or <wfs:StoredQuery> child node.", n.QName())
	}
	stored := 0
	for _, c := range n.Children {
		switch {
		case isWFS(c, "Query"):
			q, err := parseQueryXML(c, p)
			if err != nil {
				return nil, err
			}
			req.Queries = append(req.Queries, q)
		case isWFS(c, "StoredQuery"):
			if stored++; stored > 1 {
				return nil, ows.NotSupported("StoredQuery", "Multiple stored queries in one request are not supported.")
			}
			q, err := parseStoredQueryXML(c)
			if err != nil {
				return nil, err
			}
			req.Queries = append(req.Queries, q)
		default:
			return nil, ows.Parsing(c.Name.Local, "Unexpected <%s>, expected one of: <wfs:Query>, <wfs:StoredQuery>.", c.QName())
		}
	}
	return req, nil
}

// featureAliases drops a default namespace that points at the protocol.
func featureAliases(n *xmltree.Node) map[string]string {
	ns := n.Aliases()
	switch ns[""] {
	case Namespace, fes.Namespace:
		delete(ns, "")
	}
	return ns
}

func parseQueryXML(n *xmltree.Node, p *fes.Parser) (*AdhocQuery, error) {
	raw, ok := n.Attr("typeNames")
	if !ok {
		raw, ok = n.Attr("typeName")
	}
	names := strings.Fields(strings.ReplaceAll(raw, ",", " "))
	if !ok || len(names) == 0 {
		return nil, ows.MissingParameter("typeNames")
	}
	if len(names) > 1 {
		return nil, ows.NotSupported("typeNames", "Join queries are not supported.")
	}
	q := &AdhocQuery{TypeNames: names, NS: featureAliases(n)}
	q.SrsName, _ = n.Attr("srsName")

	var err error
	for _, c := range n.Children {
		switch {
		case c.Is(fes.Namespace, "Filter"):
			if q.Filter != nil {
				return nil, ows.Parsing("Filter", "<%s> may contain only one <fes:Filter>.", n.QName())
			}
			if q.Filter, err = p.ParseFilter(c); err != nil {
				return nil, err
			}
		case c.Is(fes.Namespace, "SortBy"):
			if q.SortBy, err = p.ParseSortBy(c); err != nil {
				return nil, err
			}
		case isWFS(c, "PropertyName"):
			if _, ok := c.Attr("resolvePath"); ok {
				return nil, ows.NotSupported("resolvePath", "The resolvePath parameter is not supported.")
			}
			if c.Text == "" {
				return nil, ows.Parsing("PropertyName", "Empty <%s>.", c.QName())
			}
			q.PropertyNames = append(q.PropertyNames, &fes.ValueReference{XPath: c.Text, NS: featureAliases(c)})
		default:
			return nil, ows.Parsing(c.Name.Local, "Unexpected <%s>, expected one of: <fes:Filter>, <fes:SortBy>, <wfs:PropertyName>.", c.QName())
		}
	}
	return q, nil
}

func parseStoredQueryXML(n *xmltree.Node) (*StoredQueryCall, error) {
	id, ok := n.Attr("id")
	if !ok || strings.TrimSpace(id) == "" {
		return nil, ows.MissingParameter("id")
	}
	call := &StoredQueryCall{ID: strings.TrimSpace(id), Params: map[string]string{}}
	for _, c := range n.Children {
		if !isWFS(c, "Parameter") {
			return nil, ows.Parsing(c.Name.Local, "Unexpected <%s>, expected <wfs:Parameter>.", c.QName())
		}
		name, ok := c.Attr("name")
		if !ok || name == "" {
			return nil, ows.MissingParameter("name")
		}
		call.Params[strings.ToUpper(name)] = c.Text
	}
	return call, nil
}

func parseDescribeXML(n *xmltree.Node, _ *fes.Parser) (Request, error) {
	req := &DescribeFeatureType{NS: featureAliases(n)}
	req.OutputFormat, _ = n.Attr("outputFormat")
	for _, c := range n.Children {
		if !isWFS(c, "TypeName") {
			return nil, ows.Parsing(c.Name.Local, "Unexpected <%s>, expected <wfs:TypeName>.", c.QName())
		}
		if c.Text != "" {
			req.TypeNames = append(req.TypeNames, c.Text)
		}
	}
	return req, nil
}
