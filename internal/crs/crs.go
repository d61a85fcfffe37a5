// Package crs parses coordinate reference system identifiers and transforms
// geometries between them with the correct axis order.
package crs

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mohammed-shakir/wfs-server/internal/ows"
)

const (
	AuthorityEPSG = "EPSG"
	AuthorityOGC  = "OGC"
)

type notation int

const (
	notationURN notation = iota
	notationEPSG
	notationOGCURL
	notationOldURL
)

const (
	prefixEPSG   = "EPSG:"
	prefixOGCURL = "http://www.opengis.net/def/crs/epsg/0/"
	prefixOldURL = "http://www.opengis.net/gml/srs/epsg.xml#"
)

// CRS is an immutable coordinate reference system value.
type CRS struct {
	Domain    string
	Authority string
	Version   string
	CRSID     string
	SRID      int
	ForceXY   bool

	origin notation
}

// Options are the legacy axis order toggles.
type Options struct {
	// ForceXYEPSG4326 keeps x/y output for the "EPSG:4326" notation.
	ForceXYEPSG4326 bool
	// ForceXYOldCRS keeps x/y output for the gml/srs/epsg.xml# notation.
	ForceXYOldCRS bool
}

var (
	WGS84       = &CRS{Domain: "ogc", Authority: AuthorityEPSG, CRSID: "4326", SRID: 4326}
	CRS84       = &CRS{Domain: "ogc", Authority: AuthorityOGC, Version: "1.3", CRSID: "CRS84", SRID: 4326}
	WebMercator = &CRS{Domain: "ogc", Authority: AuthorityEPSG, CRSID: "3857", SRID: 3857}
)

var (
	byName sync.Map // canonical string -> *CRS
	bySRID sync.Map // EPSG srid -> *CRS
)

func init() {
	for _, c := range []*CRS{WGS84, CRS84, WebMercator} {
		register(c)
	}
}

func register(c *CRS) *CRS {
	v, _ := byName.LoadOrStore(c.String(), c)
	stored := v.(*CRS)
	if stored.Authority == AuthorityEPSG {
		bySRID.LoadOrStore(stored.SRID, stored)
	}
	return stored
}

// Parser applies the legacy axis toggles while parsing.
type Parser struct {
	Options Options
}

var defaultParser = &Parser{}

// SetDefaultOptions changes the toggles used by the package level Parse.
// It is meant to be called once at startup.
func SetDefaultOptions(o Options) {
	defaultParser = &Parser{Options: o}
}

func Parse(value string) (*CRS, error) {
	return defaultParser.Parse(value)
}

func FromSRID(srid int) (*CRS, error) {
	return defaultParser.FromSRID(srid)
}

// locator names the request parameter in parse errors; callers reading a
// CRS from another parameter replace it.
const locator = "srsName"

// MustParse is for static declarations.
func MustParse(value string) *CRS {
	c, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return c
}

// Parse accepts a bare SRID, an OGC URN or one of the legacy notations.
func (p *Parser) Parse(value string) (*CRS, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ows.Parsing(locator, "Empty CRS identifier.")
	}
	if v, ok := byName.Load(value); ok {
		return v.(*CRS), nil
	}

	switch {
	case isDigits(value):
		srid, err := strconv.Atoi(value)
		if err != nil {
			return nil, ows.Parsing(locator, "Invalid SRID '%s'.", value)
		}
		return p.FromSRID(srid)
	case strings.HasPrefix(strings.ToLower(value), "urn:"):
		return p.parseURN(value)
	case strings.HasPrefix(strings.ToUpper(value), prefixEPSG):
		srid, err := parseSRID(value, value[len(prefixEPSG):])
		if err != nil {
			return nil, err
		}
		return p.legacy(srid, notationEPSG, srid == 4326 && p.Options.ForceXYEPSG4326), nil
	case hasPrefixFold(value, prefixOGCURL):
		srid, err := parseSRID(value, value[len(prefixOGCURL):])
		if err != nil {
			return nil, err
		}
		return p.legacy(srid, notationOGCURL, false), nil
	case hasPrefixFold(value, prefixOldURL):
		srid, err := parseSRID(value, value[len(prefixOldURL):])
		if err != nil {
			return nil, err
		}
		return p.legacy(srid, notationOldURL, p.Options.ForceXYOldCRS), nil
	}
	return nil, ows.Parsing(locator, "Unknown CRS notation '%s'.", value)
}

// FromSRID returns the EPSG CRS for a numeric SRID.
func (p *Parser) FromSRID(srid int) (*CRS, error) {
	if srid <= 0 {
		return nil, ows.Parsing(locator, "Invalid SRID %d.", srid)
	}
	if v, ok := bySRID.Load(srid); ok {
		return v.(*CRS), nil
	}
	c := &CRS{Domain: "ogc", Authority: AuthorityEPSG, CRSID: strconv.Itoa(srid), SRID: srid}
	if Supported(srid) {
		return register(c), nil
	}
	return c, nil
}

func (p *Parser) legacy(srid int, n notation, forceXY bool) *CRS {
	if !forceXY {
		c, _ := p.FromSRID(srid)
		return c
	}
	return &CRS{
		Domain:    "ogc",
		Authority: AuthorityEPSG,
		CRSID:     strconv.Itoa(srid),
		SRID:      srid,
		ForceXY:   true,
		origin:    n,
	}
}

// urn:{ogc|opengis}:def:crs:{authority}:{version}:{id}
func (p *Parser) parseURN(value string) (*CRS, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 7 || !strings.EqualFold(parts[2], "def") || !strings.EqualFold(parts[3], "crs") {
		return nil, ows.Parsing(locator, "Invalid CRS URN '%s'.", value)
	}
	domain := strings.ToLower(parts[1])
	if domain != "ogc" && domain != "opengis" {
		return nil, ows.Parsing(locator, "CRS URN domain '%s' is not supported.", parts[1])
	}
	authority := strings.ToUpper(parts[4])
	version, id := parts[5], parts[6]

	switch authority {
	case AuthorityOGC:
		if !strings.EqualFold(id, "CRS84") {
			return nil, ows.Parsing(locator, "OGC CRS '%s' is not supported, only CRS84.", id)
		}
		if v, ok := byName.Load(CRS84.String()); ok && domain == "ogc" {
			return v.(*CRS), nil
		}
		return &CRS{Domain: domain, Authority: AuthorityOGC, Version: version, CRSID: "CRS84", SRID: 4326}, nil
	case AuthorityEPSG:
		srid, err := parseSRID(value, id)
		if err != nil {
			return nil, err
		}
		if domain == "ogc" && version == "" {
			return p.FromSRID(srid)
		}
		return &CRS{Domain: domain, Authority: AuthorityEPSG, Version: version, CRSID: id, SRID: srid}, nil
	}
	return nil, ows.Parsing(locator, "CRS authority '%s' is not supported.", parts[4])
}

func parseSRID(value, id string) (int, error) {
	if !isDigits(id) {
		return 0, ows.Parsing(locator, "CRS '%s' has a non-numeric identifier.", value)
	}
	srid, err := strconv.Atoi(id)
	if err != nil || srid <= 0 {
		return 0, ows.Parsing(locator, "CRS '%s' has an invalid identifier.", value)
	}
	return srid, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// String returns a notation that parses back to an equal value.
func (c *CRS) String() string {
	if c.ForceXY {
		if c.origin == notationOldURL {
			return prefixOldURL + c.CRSID
		}
		return prefixEPSG + c.CRSID
	}
	return fmt.Sprintf("urn:%s:def:crs:%s:%s:%s", c.Domain, c.Authority, c.Version, c.CRSID)
}

// URN always renders the modern notation.
func (c *CRS) URN() string {
	return fmt.Sprintf("urn:%s:def:crs:%s:%s:%s", c.Domain, c.Authority, c.Version, c.CRSID)
}

// Legacy renders EPSG:n, used by output formats that predate URNs.
func (c *CRS) Legacy() string {
	if c.Authority == AuthorityOGC {
		return c.URN()
	}
	return prefixEPSG + c.CRSID
}

// Key is the hash key: authority and srid.
func (c *CRS) Key() string {
	return c.Authority + ":" + strconv.Itoa(c.SRID)
}

// Equal compares authority, srid and the legacy flag.
func (c *CRS) Equal(o *CRS) bool {
	return c.matches(o, true)
}

// Matches ignores the legacy flag, used to check a request against a feature's CRS list.
func (c *CRS) Matches(o *CRS) bool {
	return c.matches(o, false)
}

func (c *CRS) matches(o *CRS, compareLegacy bool) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.Authority != o.Authority || c.SRID != o.SRID {
		return false
	}
	return !compareLegacy || c.ForceXY == o.ForceXY
}

// AxisOrder is the order coordinates are presented in for this CRS.
func (c *CRS) AxisOrder() Axis {
	if c.ForceXY || c.Authority == AuthorityOGC {
		return XY
	}
	if IsGeographic(c.SRID) {
		return YX
	}
	return XY
}

// Contains reports whether list has a CRS matching c, ignoring the legacy flag.
func Contains(list []*CRS, c *CRS) bool {
	for _, o := range list {
		if o.Matches(c) {
			return true
		}
	}
	return false
}
