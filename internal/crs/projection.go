package crs

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Projection converts between a CRS and WGS84 longitude/latitude.
type Projection interface {
	ToWGS84(p orb.Point) orb.Point
	FromWGS84(p orb.Point) orb.Point
	SRID() int
}

var projections = map[int]Projection{
	4326:   identity{},
	3857:   mercator{srid: 3857},
	900913: mercator{srid: 900913},
	28992:  rdNew{},
}

// geographic CRSes present latitude first in their modern notation.
var geographic = map[int]bool{
	4326: true,
	4258: true,
	4289: true,
}

// IsGeographic is true for CRSes measured in degrees.
func IsGeographic(srid int) bool { return geographic[srid] }

// Supported reports whether geometries can be transformed to or from srid.
func Supported(srid int) bool {
	_, ok := projections[srid]
	return ok
}

// ProjectionFor returns nil for an unsupported srid.
func ProjectionFor(srid int) Projection {
	return projections[srid]
}

type identity struct{}

func (identity) ToWGS84(p orb.Point) orb.Point   { return p }
func (identity) FromWGS84(p orb.Point) orb.Point { return p }
func (identity) SRID() int                       { return 4326 }

type mercator struct{ srid int }

func (m mercator) ToWGS84(p orb.Point) orb.Point   { return project.Mercator.ToWGS84(p) }
func (m mercator) FromWGS84(p orb.Point) orb.Point { return project.WGS84.ToMercator(p) }
func (m mercator) SRID() int                       { return m.srid }

// rdNew is the Dutch Amersfoort / RD New grid using the polynomial approximation
// published by Schreutelkamp and Strang van Hees (sub-meter accuracy).
type rdNew struct{}

const (
	rdX0   = 155000.0
	rdY0   = 463000.0
	rdLat0 = 52.15517440
	rdLon0 = 5.38720621
)

func (rdNew) SRID() int { return 28992 }

func (rdNew) ToWGS84(p orb.Point) orb.Point {
	dX := (p[0] - rdX0) * 1e-5
	dY := (p[1] - rdY0) * 1e-5

	somN := 3235.65389*dY -
		32.58297*dX*dX -
		0.2475*dY*dY -
		0.84978*dX*dX*dY -
		0.0655*math.Pow(dY, 3) -
		0.01709*dX*dX*dY*dY -
		0.00738*dX +
		0.0053*math.Pow(dX, 4) -
		0.00039*dX*dX*math.Pow(dY, 3) +
		0.00033*math.Pow(dX, 4)*dY -
		0.00012*dX*dY

	somE := 5260.52916*dX +
		105.94684*dX*dY +
		2.45656*dX*dY*dY -
		0.81885*math.Pow(dX, 3) +
		0.05594*dX*math.Pow(dY, 3) -
		0.05607*math.Pow(dX, 3)*dY +
		0.01199*dY -
		0.00256*math.Pow(dX, 3)*dY*dY +
		0.00128*dX*math.Pow(dY, 4) +
		0.00022*dY*dY -
		0.00022*dX*dX +
		0.00026*math.Pow(dX, 5)

	return orb.Point{rdLon0 + somE/3600, rdLat0 + somN/3600}
}

func (rdNew) FromWGS84(p orb.Point) orb.Point {
	dF := 0.36 * (p[1] - rdLat0)
	dL := 0.36 * (p[0] - rdLon0)

	somX := 190094.945*dL -
		11832.228*dF*dL -
		114.221*dF*dF*dL -
		32.391*math.Pow(dL, 3) -
		0.705*dF -
		2.340*math.Pow(dF, 3)*dL -
		0.608*dF*math.Pow(dL, 3) -
		0.008*dL*dL +
		0.148*dF*dF*math.Pow(dL, 3)

	somY := 309056.544*dF +
		3638.893*dL*dL +
		73.077*dF*dF -
		157.984*dF*dL*dL +
		59.788*math.Pow(dF, 3) +
		0.433*dL -
		6.439*dF*dF*dL*dL -
		0.032*dF*dL +
		0.092*math.Pow(dL, 4) -
		0.054*dF*math.Pow(dL, 4)

	return orb.Point{rdX0 + somX, rdY0 + somY}
}
