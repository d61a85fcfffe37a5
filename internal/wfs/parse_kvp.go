package wfs

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wfs-server/internal/crs"
	"github.com/mohammed-shakir/wfs-server/internal/fes"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
)

// ParseKVP reads a GET request. SERVICE and VERSION are checked here so the
// handler only dispatches.
func ParseKVP(values url.Values, p *fes.Parser) (Request, error) {
	k := NewKVP(values)
	if err := checkService(k.Get("SERVICE"), k.Get("VERSION")); err != nil {
		return nil, err
	}
	name := k.Get("REQUEST")
	if name == "" {
		return nil, ows.MissingParameter("request")
	}
	switch strings.ToLower(name) {
	case "getfeature":
		return parseGetFeatureKVP(k, p)
	case "describefeaturetype":
		ns, err := k.Namespaces()
		if err != nil {
			return nil, err
		}
		names := k.List("TYPENAMES")
		if len(names) == 0 {
			names = k.List("TYPENAME")
		}
		return &DescribeFeatureType{TypeNames: names, NS: ns, OutputFormat: k.Get("OUTPUTFORMAT")}, nil
	case "liststoredqueries":
		return &ListStoredQueries{}, nil
	}
	return nil, ows.NotSupported("request", "This request type is not supported by this server.")
}

func checkService(service, version string) error {
	if service != "" && !strings.EqualFold(service, "WFS") {
		return ows.InvalidParameter("service", "Unsupported service '%s', expected WFS.", service)
	}
	if version != "" && !strings.HasPrefix(version, "2.0") {
		return ows.InvalidParameter("version", "Unsupported version '%s', this server implements %s.", version, Version)
	}
	return nil
}

// paging reads the presentation parameters shared by every query.
func (req *GetFeature) paging(k *KVP) error {
	var err error
	if req.StartIndex, err = k.Int("STARTINDEX", 0); err != nil {
		return err
	}
	countParam := "COUNT"
	if !k.Has(countParam) {
		countParam = "MAXFEATURES"
	}
	if req.Count, err = k.Int(countParam, -1); err != nil {
		return err
	}
	if req.ResultType, err = parseResultType(k.Get("RESULTTYPE")); err != nil {
		return err
	}
	req.OutputFormat = k.Get("OUTPUTFORMAT")
	return nil
}

func parseResultType(raw string) (ResultType, error) {
	switch strings.ToLower(raw) {
	case "", "results":
		return ResultTypeResults, nil
	case "hits":
		return ResultTypeHits, nil
	}
	return 0, ows.InvalidParameter("resultType", "Invalid resultType '%s', expected results or hits.", raw)
}

// reserved GetFeature parameters, everything else goes to a stored query.
var reservedParams = map[string]bool{
	"SERVICE": true, "VERSION": true, "REQUEST": true, "STOREDQUERY_ID": true,
	"STARTINDEX": true, "COUNT": true, "MAXFEATURES": true, "RESULTTYPE": true,
	"OUTPUTFORMAT": true, "NAMESPACES": true,
}

func parseGetFeatureKVP(k *KVP, p *fes.Parser) (*GetFeature, error) {
	req := &GetFeature{}
	if err := req.paging(k); err != nil {
		return nil, err
	}

	if id := k.Get("STOREDQUERY_ID"); id != "" {
		call := &StoredQueryCall{ID: id, Params: map[string]string{}}
		for name, v := range k.Params() {
			if !reservedParams[name] {
				call.Params[name] = v
			}
		}
		req.Queries = []QueryExpression{call}
		return req, nil
	}

	ns, err := k.Namespaces()
	if err != nil {
		return nil, err
	}
	if lang := k.Get("FILTER_LANGUAGE"); lang != "" && lang != FilterLanguageFES {
		return nil, ows.InvalidParameter("filterLanguage", "Unsupported filter language '%s'.", lang)
	}

	selectors := 0
	for _, name := range []string{"FILTER", "BBOX", "RESOURCEID"} {
		if k.Get(name) != "" {
			selectors++
		}
	}
	if selectors > 1 {
		return nil, ows.InvalidParameter("filter", "The FILTER, BBOX and RESOURCEID parameters are mutually exclusive.")
	}

	typeParam := "TYPENAMES"
	if !k.Has(typeParam) {
		typeParam = "TYPENAME"
	}
	typeGroups, err := k.Groups(typeParam)
	if err != nil {
		return nil, err
	}
	rids := k.List("RESOURCEID")
	fromIDs := false
	if len(typeGroups) == 0 {
		if len(rids) == 0 {
			return nil, ows.MissingParameter("typeNames")
		}
		if typeGroups, err = typesFromResourceIDs(rids); err != nil {
			return nil, err
		}
		fromIDs = true
	}

	grouped := map[string][]string{}
	for _, name := range []string{"FILTER", "PROPERTYNAME", "SORTBY", "SRSNAME"} {
		g, err := k.Groups(name)
		if err != nil {
			return nil, err
		}
		if len(g) > 1 && len(g) != len(typeGroups) {
			return nil, ows.Parsing(strings.ToLower(name),
				"The number of parenthesis groups in %s (%d) does not match the %d groups in TYPENAMES.", name, len(g), len(typeGroups))
		}
		grouped[name] = g
	}

	var bbox *BBox
	if raw := k.Get("BBOX"); raw != "" {
		if bbox, err = parseBBox(raw); err != nil {
			return nil, err
		}
	}

	for i, group := range typeGroups {
		names := splitList(group)
		if len(names) == 0 {
			return nil, ows.MissingParameter("typeNames")
		}
		if len(names) > 1 {
			return nil, ows.NotSupported("typeNames", "Join queries are not supported.")
		}
		q := &AdhocQuery{TypeNames: names, NS: ns, BBox: bbox, SrsName: pick(grouped["SRSNAME"], i), TypesFromIDs: fromIDs}
		if text := pick(grouped["FILTER"], i); text != "" {
			if q.Filter, err = p.ParseFilterText(text); err != nil {
				return nil, err
			}
		}
		if len(rids) > 0 {
			ids := &fes.IDOperator{}
			for _, rid := range rids {
				ids.IDs = append(ids.IDs, fes.ResourceID{RID: rid})
			}
			q.Filter = &fes.Filter{Predicate: ids}
		}
		if text := pick(grouped["SORTBY"], i); text != "" {
			if q.SortBy, err = parseSortBy(text, ns); err != nil {
				return nil, err
			}
		}
		for _, name := range splitList(pick(grouped["PROPERTYNAME"], i)) {
			if name == "*" {
				q.PropertyNames = nil
				break
			}
			q.PropertyNames = append(q.PropertyNames, &fes.ValueReference{XPath: name, NS: ns})
		}
		req.Queries = append(req.Queries, q)
	}
	return req, nil
}

// pick returns the value for group i; a single group applies to all.
func pick(groups []string, i int) string {
	switch {
	case len(groups) == 0:
		return ""
	case len(groups) == 1:
		return groups[0]
	}
	return groups[i]
}

// typesFromResourceIDs builds one query group per type named in RESOURCEID,
// in first-seen order.
func typesFromResourceIDs(rids []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, rid := range rids {
		typeName, _, ok := fes.SplitResourceID(rid)
		if !ok {
			return nil, ows.InvalidParameter("resourceId", "Invalid resourceId '%s', expected 'typename.identifier'.", rid)
		}
		if !seen[typeName] {
			seen[typeName] = true
			out = append(out, typeName)
		}
	}
	return out, nil
}

// parseBBox reads "minx,miny,maxx,maxy[,crs]".
func parseBBox(raw string) (*BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return nil, ows.InvalidParameter("bbox", "Invalid BBOX '%s', expected minx,miny,maxx,maxy[,crs].", raw)
	}
	b := &BBox{}
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return nil, ows.InvalidParameter("bbox", "Invalid BBOX coordinate '%s'.", parts[i])
		}
		b.Coords[i] = v
	}
	if b.Coords[0] > b.Coords[2] || b.Coords[1] > b.Coords[3] {
		return nil, ows.InvalidParameter("bbox", "Invalid BBOX '%s', the lower corner exceeds the upper corner.", raw)
	}
	if len(parts) == 5 {
		c, err := crs.Parse(strings.TrimSpace(parts[4]))
		if err != nil {
			return nil, ows.As(err).WithLocator("bbox")
		}
		b.CRS = c
	}
	return b, nil
}

// parseSortBy reads "name [ASC|DESC],other".
func parseSortBy(raw string, ns map[string]string) (*fes.SortBy, error) {
	sb := &fes.SortBy{}
	for _, item := range splitList(raw) {
		fields := strings.Fields(item)
		if len(fields) > 2 {
			return nil, ows.InvalidParameter("sortBy", "Invalid SORTBY item '%s'.", item)
		}
		prop := fes.SortProperty{Ref: &fes.ValueReference{XPath: fields[0], NS: ns}}
		if len(fields) == 2 {
			switch strings.ToUpper(fields[1]) {
			case "ASC", "A":
			case "DESC", "D":
				prop.Desc = true
			default:
				return nil, ows.InvalidParameter("sortBy", "Invalid sort order '%s', expected ASC or DESC.", fields[1])
			}
		}
		sb.Properties = append(sb.Properties, prop)
	}
	return sb, nil
}
