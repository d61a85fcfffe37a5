package render

import (
	"strconv"
	"strings"
)

type Format int

const (
	FormatGeoJSON Format = iota
	FormatCSV
)

func (f Format) String() string {
	if f == FormatCSV {
		return "csv"
	}
	return "geojson"
}

// ContentType is the response media type of the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/geo+json; charset=utf-8"
}

// Extension is used for the attachment file name.
func (f Format) Extension() string {
	if f == FormatCSV {
		return "csv"
	}
	return "geojson"
}

// ParseOutputFormat reads an OUTPUTFORMAT value. ok is false for formats this
// server can't render, GML included.
func ParseOutputFormat(value string) (Format, bool) {
	of := strings.ToLower(strings.TrimSpace(value))
	switch {
	case of == "geojson", of == "json",
		strings.HasPrefix(of, "application/geo+json"),
		strings.HasPrefix(of, "application/json"):
		return FormatGeoJSON, true
	case of == "csv", strings.HasPrefix(of, "text/csv"):
		return FormatCSV, true
	}
	return FormatGeoJSON, false
}

// Negotiate picks the output format from OUTPUTFORMAT, falling back to the
// highest weighted Accept entry and then to GeoJSON.
func Negotiate(outputFormat, accept string) (Format, bool) {
	if strings.TrimSpace(outputFormat) != "" {
		return ParseOutputFormat(outputFormat)
	}
	bestQ := -1.0
	best := FormatGeoJSON
	for part := range strings.SplitSeq(strings.ToLower(accept), ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		mt, params, _ := strings.Cut(token, ";")
		mt = strings.TrimSpace(mt)
		q := 1.0
		for p := range strings.SplitSeq(params, ";") {
			if after, ok := strings.CutPrefix(strings.TrimSpace(p), "q="); ok {
				if v, err := strconv.ParseFloat(after, 64); err == nil {
					q = v
				}
			}
		}
		var cand Format
		switch {
		case mt == "text/csv":
			cand = FormatCSV
		case mt == "*/*", strings.Contains(mt, "json"):
			cand = FormatGeoJSON
		default:
			continue
		}
		if q > bestQ {
			bestQ, best = q, cand
		}
	}
	return best, true
}
