// Package schema is the typed element tree a feature type exposes: a
// simplified XSD complex type graph bound to backend fields.
package schema

import (
	"strings"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
)

const (
	NamespaceXSD = "http://www.w3.org/2001/XMLSchema"
	NamespaceGML = "http://www.opengis.net/gml/3.2"
)

// XsdType is a simple type tag such as "string" or "gml:PointPropertyType".
type XsdType string

const (
	TypeString   XsdType = "string"
	TypeInteger  XsdType = "integer"
	TypeDouble   XsdType = "double"
	TypeDecimal  XsdType = "decimal"
	TypeBoolean  XsdType = "boolean"
	TypeDate     XsdType = "date"
	TypeDateTime XsdType = "dateTime"
	TypeTime     XsdType = "time"
	TypeAny      XsdType = "anyType"
	TypeID       XsdType = "ID"

	TypeGeometry      XsdType = "gml:GeometryPropertyType"
	TypePoint         XsdType = "gml:PointPropertyType"
	TypeCurve         XsdType = "gml:CurvePropertyType"
	TypeSurface       XsdType = "gml:SurfacePropertyType"
	TypeMultiPoint    XsdType = "gml:MultiPointPropertyType"
	TypeMultiCurve    XsdType = "gml:MultiCurvePropertyType"
	TypeMultiSurface  XsdType = "gml:MultiSurfacePropertyType"
	TypeMultiGeometry XsdType = "gml:MultiGeometryPropertyType"
)

func (t XsdType) IsGeometry() bool {
	return strings.HasPrefix(string(t), "gml:") && strings.HasSuffix(string(t), "PropertyType")
}

// IsNumeric covers the types a numeric literal can be compared with.
func (t XsdType) IsNumeric() bool {
	return t == TypeInteger || t == TypeDouble || t == TypeDecimal
}

// Prefixed returns the QName used inside an XSD document.
func (t XsdType) Prefixed() string {
	if strings.Contains(string(t), ":") {
		return string(t)
	}
	return "xsd:" + string(t)
}

func typeForKind(k datamodel.Kind) XsdType {
	switch k {
	case datamodel.KindString:
		return TypeString
	case datamodel.KindInteger:
		return TypeInteger
	case datamodel.KindFloat:
		return TypeDouble
	case datamodel.KindDecimal:
		return TypeDecimal
	case datamodel.KindBoolean:
		return TypeBoolean
	case datamodel.KindDate:
		return TypeDate
	case datamodel.KindDateTime:
		return TypeDateTime
	case datamodel.KindTime:
		return TypeTime
	}
	return TypeAny
}

func geometryType(geomType string) XsdType {
	switch strings.ToLower(geomType) {
	case "point":
		return TypePoint
	case "linestring":
		return TypeCurve
	case "polygon":
		return TypeSurface
	case "multipoint":
		return TypeMultiPoint
	case "multilinestring":
		return TypeMultiCurve
	case "multipolygon":
		return TypeMultiSurface
	case "geometrycollection":
		return TypeMultiGeometry
	}
	return TypeGeometry
}
