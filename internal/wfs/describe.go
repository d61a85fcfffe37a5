package wfs

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wfs-server/internal/feature"
	"github.com/mohammed-shakir/wfs-server/internal/gml"
	"github.com/mohammed-shakir/wfs-server/internal/ows"
	"github.com/mohammed-shakir/wfs-server/internal/schema"
)

const (
	gmlSchemaLocation = "http://schemas.opengis.net/gml/3.2.1/gml.xsd"
	// SchemaContentType is the response type of DescribeFeatureType.
	SchemaContentType = "application/gml+xml; version=3.2"
)

// CheckSchemaFormat accepts the XML schema output formats.
func CheckSchemaFormat(f string) error {
	switch strings.ToLower(strings.ReplaceAll(f, " ", "")) {
	case "", "xmlschema", "application/gml+xml;version=3.2", "text/xml;subtype=gml/3.2",
		"text/xml;subtype=gml/3.2.1", "application/xml", "text/xml":
		return nil
	}
	return ows.InvalidParameter("outputFormat", "Unsupported output format '%s' for DescribeFeatureType.", f)
}

type xsdSchema struct {
	XMLName            xml.Name       `xml:"xsd:schema"`
	XSD                string         `xml:"xmlns:xsd,attr"`
	GML                string         `xml:"xmlns:gml,attr"`
	AppAttr            xml.Attr       `xml:",any,attr"`
	TargetNamespace    string         `xml:"targetNamespace,attr"`
	ElementFormDefault string         `xml:"elementFormDefault,attr"`
	Version            string         `xml:"version,attr"`
	Import             xsdImport      `xml:"xsd:import"`
	Elements           []xsdElement   `xml:"xsd:element"`
	Types              []xsdNamedType `xml:"xsd:complexType"`
}

type xsdImport struct {
	Namespace      string `xml:"namespace,attr"`
	SchemaLocation string `xml:"schemaLocation,attr"`
}

type xsdElement struct {
	Name              string         `xml:"name,attr"`
	Type              string         `xml:"type,attr,omitempty"`
	SubstitutionGroup string         `xml:"substitutionGroup,attr,omitempty"`
	MinOccurs         string         `xml:"minOccurs,attr,omitempty"`
	MaxOccurs         string         `xml:"maxOccurs,attr,omitempty"`
	Nillable          string         `xml:"nillable,attr,omitempty"`
	Annotation        *xsdAnnotation `xml:"xsd:annotation,omitempty"`
	Complex           *xsdAnonymous  `xml:"xsd:complexType,omitempty"`
}

type xsdAnnotation struct {
	Documentation string `xml:"xsd:documentation"`
}

type xsdAnonymous struct {
	Sequence xsdSequence `xml:"xsd:sequence"`
}

type xsdSequence struct {
	Elements []xsdElement `xml:"xsd:element"`
}

type xsdNamedType struct {
	Name    string            `xml:"name,attr"`
	Content xsdComplexContent `xml:"xsd:complexContent"`
}

type xsdComplexContent struct {
	Extension xsdExtension `xml:"xsd:extension"`
}

type xsdExtension struct {
	Base     string      `xml:"base,attr"`
	Sequence xsdSequence `xml:"xsd:sequence"`
}

// WriteSchema writes the XML schema of types. Elements appear in the same
// order renderers write them.
func WriteSchema(w io.Writer, cat *feature.Catalog, types []*feature.Type) error {
	doc := xsdSchema{
		XSD:                schema.NamespaceXSD,
		GML:                gml.Namespace32,
		AppAttr:            xml.Attr{Name: xml.Name{Local: "xmlns:" + cat.Prefix}, Value: cat.Namespace},
		TargetNamespace:    cat.Namespace,
		ElementFormDefault: "qualified",
		Version:            "0.1",
		Import:             xsdImport{Namespace: gml.Namespace32, SchemaLocation: gmlSchemaLocation},
	}
	for _, t := range types {
		ct := t.Schema()
		doc.Elements = append(doc.Elements, xsdElement{
			Name:              t.Name,
			Type:              cat.Prefix + ":" + ct.Name,
			SubstitutionGroup: "gml:AbstractFeature",
		})
		doc.Types = append(doc.Types, xsdNamedType{
			Name: ct.Name,
			Content: xsdComplexContent{Extension: xsdExtension{
				Base:     "gml:AbstractFeatureType",
				Sequence: sequence(ct),
			}},
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	return enc.Close()
}

func sequence(ct *schema.ComplexType) xsdSequence {
	var seq xsdSequence
	for _, el := range ct.Elements {
		x := xsdElement{Name: el.Name}
		if el.MinOccurs != 1 {
			x.MinOccurs = strconv.Itoa(el.MinOccurs)
		}
		switch {
		case el.MaxOccurs == schema.Unbounded:
			x.MaxOccurs = "unbounded"
		case el.MaxOccurs != 1 || el.ExplicitMaxOccurs:
			x.MaxOccurs = strconv.Itoa(el.MaxOccurs)
		}
		if el.Nillable {
			x.Nillable = "true"
		}
		if el.IsComplex() {
			x.Complex = &xsdAnonymous{Sequence: sequence(el.Complex)}
		} else {
			x.Type = el.Type.Prefixed()
		}
		if el.Abstract != "" {
			x.Annotation = &xsdAnnotation{Documentation: el.Abstract}
		}
		seq.Elements = append(seq.Elements, x)
	}
	return seq
}

type storedQueriesDoc struct {
	XMLName xml.Name           `xml:"wfs:ListStoredQueriesResponse"`
	WFS     string             `xml:"xmlns:wfs,attr"`
	Queries []storedQueryEntry `xml:"wfs:StoredQuery"`
}

type storedQueryEntry struct {
	ID          string   `xml:"id,attr"`
	Title       string   `xml:"wfs:Title"`
	ReturnTypes []string `xml:"wfs:ReturnFeatureType"`
}

// WriteStoredQueries writes the ListStoredQueries response.
func WriteStoredQueries(w io.Writer, cat *feature.Catalog, queries []StoredQuery) error {
	doc := storedQueriesDoc{WFS: Namespace}
	for _, q := range queries {
		entry := storedQueryEntry{ID: q.ID(), Title: q.Title()}
		for _, t := range cat.Types() {
			entry.ReturnTypes = append(entry.ReturnTypes, t.TypeName())
		}
		doc.Queries = append(doc.Queries, entry)
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write stored queries: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write stored queries: %w", err)
	}
	return enc.Close()
}
