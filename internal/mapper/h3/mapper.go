// Package h3mapper assigns geometries to H3 cells. It backs the h3Cell
// filter function of the memory store.
package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	h3 "github.com/uber/h3-go/v4"
)

// CellFor returns the cell holding the centroid of g, which must be in
// EPSG:4326 lon/lat.
func CellFor(g orb.Geometry, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	if g == nil {
		return "", errors.New("nil geometry")
	}
	var p orb.Point
	if pt, ok := g.(orb.Point); ok {
		p = pt
	} else {
		p, _ = planar.CentroidArea(g)
	}
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: p[1], Lng: p[0]}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return cell.String(), nil
}

// CellsForBound polyfills a lon/lat rectangle.
func CellsForBound(b orb.Bound, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	outer := h3.GeoLoop{
		{Lat: b.Min[1], Lng: b.Min[0]},
		{Lat: b.Min[1], Lng: b.Max[0]},
		{Lat: b.Max[1], Lng: b.Max[0]},
		{Lat: b.Max[1], Lng: b.Min[0]},
	}
	return polyfillOne(outer, nil, res)
}

// CellsForPolygon polyfills a Polygon or MultiPolygon, holes excluded.
func CellsForPolygon(g orb.Geometry, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	switch x := g.(type) {
	case orb.Polygon:
		return polygonCells(x, res)
	case orb.MultiPolygon:
		seen := make(map[string]struct{})
		var out []string
		for pi, p := range x {
			cells, err := polygonCells(p, res)
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", pi, err)
			}
			for _, c := range cells {
				if _, ok := seen[c]; !ok {
					seen[c] = struct{}{}
					out = append(out, c)
				}
			}
		}
		sort.Strings(out)
		return out, nil
	case orb.Bound:
		return CellsForBound(x, res)
	}
	return nil, fmt.Errorf("unsupported geometry type: %s", g.GeoJSONType())
}

func polygonCells(p orb.Polygon, res int) ([]string, error) {
	if len(p) == 0 {
		return nil, errors.New("empty polygon")
	}
	var holes []h3.GeoLoop
	for i := 1; i < len(p); i++ {
		holes = append(holes, toLoop(p[i]))
	}
	return polyfillOne(toLoop(p[0]), holes, res)
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// toLoop drops the duplicated closing vertex of a ring.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p[1], Lng: p[0]})
	}
	if len(loop) >= 2 && loop[0] == loop[len(loop)-1] {
		loop = loop[:len(loop)-1]
	}
	return loop
}

// polyfillOne returns unique cells, sorted for determinism.
func polyfillOne(outer h3.GeoLoop, holes []h3.GeoLoop, res int) ([]string, error) {
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 3 distinct vertices")
	}
	indexes, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	out := make([]string, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
