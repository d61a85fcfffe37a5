package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/wfs-server/internal/datamodel"
)

var (
	dateLayouts     = []string{"2006-01-02", "2006-01-02Z07:00"}
	dateTimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
	}
	timeLayouts = []string{"15:04:05", "15:04:05.999999999", "15:04:05Z07:00", "15:04"}
)

// Coerce converts a literal to the element's scalar type.
func (e *Element) Coerce(raw string) (any, error) {
	t := e.Type
	if t == TypeID && e.Source != nil {
		t = typeForKind(e.Source.Kind)
	}
	return CoerceTo(t, raw)
}

// CoerceTo converts raw text into int64, float64, bool, time.Time or string.
func CoerceTo(t XsdType, raw string) (any, error) {
	s := strings.TrimSpace(raw)
	switch t {
	case TypeInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// "5.0" is still an integer value
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil || !(f >= math.MinInt64 && f < math.MaxInt64) || f != math.Trunc(f) {
				return nil, fmt.Errorf("not an integer")
			}
			return int64(f), nil
		}
		return n, nil
	case TypeDouble, TypeDecimal:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number")
		}
		return f, nil
	case TypeBoolean:
		switch strings.ToLower(s) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("not a boolean")
	case TypeDate:
		return parseLayouts(s, dateLayouts, "date")
	case TypeDateTime:
		return parseLayouts(s, dateTimeLayouts, "ISO-8601 date/time")
	case TypeTime:
		return parseLayouts(s, timeLayouts, "time")
	case TypeString, TypeAny, TypeID:
		return raw, nil
	}
	if t.IsGeometry() {
		return nil, fmt.Errorf("a geometry can't be given as text")
	}
	return raw, nil
}

func parseLayouts(s string, layouts []string, what string) (time.Time, error) {
	for _, l := range layouts {
		if v, err := time.Parse(l, s); err == nil {
			return v, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a valid %s", what)
}

// KindOf returns the XSD type a backend field kind is exposed as.
func KindOf(k datamodel.Kind) XsdType { return typeForKind(k) }
