package crs

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

type Axis int

const (
	// XY is easting/longitude first, the storage order of every backend.
	XY Axis = iota
	// YX is northing/latitude first.
	YX
)

func (a Axis) String() string {
	if a == YX {
		return "yx"
	}
	return "xy"
}

// OrientedGeometry is a geometry together with the SRID and axis order its
// coordinates are currently expressed in.
type OrientedGeometry struct {
	Geom orb.Geometry
	SRID int
	Axis Axis
}

// Stored wraps a geometry as it comes out of a backend.
func Stored(g orb.Geometry, srid int) OrientedGeometry {
	return OrientedGeometry{Geom: g, SRID: srid, Axis: XY}
}

type transformKey struct{ from, to int }

var transformers *lru.Cache[transformKey, orb.Projection]

func init() {
	c, err := lru.New[transformKey, orb.Projection](64)
	if err != nil {
		panic(err)
	}
	transformers = c
}

func transformerFor(from, to int) (orb.Projection, error) {
	key := transformKey{from, to}
	if fn, ok := transformers.Get(key); ok {
		return fn, nil
	}
	src, dst := ProjectionFor(from), ProjectionFor(to)
	if src == nil {
		return nil, fmt.Errorf("no transformation available from SRID %d", from)
	}
	if dst == nil {
		return nil, fmt.Errorf("no transformation available to SRID %d", to)
	}
	fn := func(p orb.Point) orb.Point { return dst.FromWGS84(src.ToWGS84(p)) }
	transformers.Add(key, fn)
	return fn, nil
}

func swapAxis(p orb.Point) orb.Point { return orb.Point{p[1], p[0]} }

// Transform returns g expressed in c with the requested axis order. The input
// is never modified; when nothing needs to change the same value is returned.
func (c *CRS) Transform(g OrientedGeometry, axis Axis) (OrientedGeometry, error) {
	if g.Geom == nil {
		return OrientedGeometry{SRID: c.SRID, Axis: axis}, nil
	}
	if g.SRID == c.SRID && g.Axis == axis {
		return g, nil
	}

	geom := orb.Clone(g.Geom)
	if g.Axis == YX {
		geom = project.Geometry(geom, swapAxis)
	}
	if g.SRID != c.SRID {
		fn, err := transformerFor(g.SRID, c.SRID)
		if err != nil {
			return OrientedGeometry{}, err
		}
		geom = project.Geometry(geom, fn)
	}
	if axis == YX {
		geom = project.Geometry(geom, swapAxis)
	}
	return OrientedGeometry{Geom: geom, SRID: c.SRID, Axis: axis}, nil
}

// ToOutput orients g for presentation in c.
func (c *CRS) ToOutput(g OrientedGeometry) (OrientedGeometry, error) {
	return c.Transform(g, c.AxisOrder())
}

// ToStorage brings a client geometry into the storage srid and x/y order.
func ToStorage(g OrientedGeometry, srid int) (OrientedGeometry, error) {
	target, err := FromSRID(srid)
	if err != nil {
		return OrientedGeometry{}, err
	}
	return target.Transform(g, XY)
}
