package models

import (
	"fmt"
	"strings"
)

// Element identifies the observed daily variable as named by ACIS
type Element string

const (
	ElementMaxTemperature Element = "maxt"
	ElementMinTemperature Element = "mint"
	ElementAvgTemperature Element = "avgt"
	ElementPrecipitation  Element = "pcpn"
	ElementSnowfall       Element = "snow"
	ElementSnowDepth      Element = "snwd"
)

// ElementKind selects which sentinel handling applies to an element
type ElementKind int

const (
	KindTemperature ElementKind = iota
	KindPrecipitation
)

// String returns string representation of element kind
func (k ElementKind) String() string {
	switch k {
	case KindTemperature:
		return "temperature"
	case KindPrecipitation:
		return "precipitation"
	default:
		return "unknown"
	}
}

// Elements lists every supported element in ACIS order
var Elements = []Element{
	ElementMaxTemperature,
	ElementMinTemperature,
	ElementAvgTemperature,
	ElementPrecipitation,
	ElementSnowfall,
	ElementSnowDepth,
}

// ParseElement validates an element name
func ParseElement(s string) (Element, error) {
	e := Element(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Elements {
		if e == known {
			return e, nil
		}
	}
	return "", &ValidationError{
		Field:   "elem",
		Value:   s,
		Message: fmt.Sprintf("unsupported element %q, expected one of maxt, mint, avgt, pcpn, snow, snwd", s),
	}
}

// Kind reports whether the element is temperature-like or precipitation-like.
// Snowfall and snow depth share the precipitation sentinel rules.
func (e Element) Kind() ElementKind {
	switch e {
	case ElementPrecipitation, ElementSnowfall, ElementSnowDepth:
		return KindPrecipitation
	default:
		return KindTemperature
	}
}

// Unit returns the display unit ACIS reports the element in
func (e Element) Unit() string {
	if e.Kind() == KindPrecipitation {
		return "inches"
	}
	return "deg F"
}
