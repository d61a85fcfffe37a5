package ows

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
)

type exceptionReport struct {
	XMLName   xml.Name    `xml:"ows:ExceptionReport"`
	XmlnsOWS  string      `xml:"xmlns:ows,attr"`
	Version   string      `xml:"version,attr"`
	Lang      string      `xml:"xml:lang,attr"`
	Exception exceptionEl `xml:"ows:Exception"`
}

type exceptionEl struct {
	Code    string `xml:"exceptionCode,attr"`
	Locator string `xml:"locator,attr,omitempty"`
	Text    string `xml:"ows:ExceptionText"`
}

// WriteExceptionReport renders the OWS 1.1 exception document used by WFS 2.0.
func WriteExceptionReport(w io.Writer, e *Error) error {
	rep := exceptionReport{
		XmlnsOWS: "http://www.opengis.net/ows/1.1",
		Version:  "2.0.0",
		Lang:     "en",
		Exception: exceptionEl{
			Code:    e.Code,
			Locator: e.Locator,
			Text:    e.Message,
		},
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write xml header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode exception report: %w", err)
	}
	return nil
}

// RespondError writes the exception report with the mapped HTTP status.
func RespondError(w http.ResponseWriter, err error) {
	oe := As(err)
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(oe.StatusCode())
	_ = WriteExceptionReport(w, oe)
}
