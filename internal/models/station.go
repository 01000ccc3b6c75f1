package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SIDTypes maps the ACIS station identifier type code to its network name
var SIDTypes = map[int]string{
	1:  "wban",
	2:  "coop",
	3:  "faa",
	4:  "wmo",
	5:  "icao",
	6:  "ghcn",
	7:  "nwsli",
	9:  "thrdx",
	10: "cocorahs",
	29: "cadx",
}

// StationMetadata describes one station's record for a single element
type StationMetadata struct {
	StationID  string    `json:"sid" db:"sid"`
	Element    Element   `json:"element" db:"element"`
	Name       string    `json:"name" db:"name"`
	State      string    `json:"state" db:"state"`
	SIDCode    int       `json:"sid_code" db:"sid_code"`
	SIDType    string    `json:"sid_type" db:"sid_type"`
	Latitude   float64   `json:"lat" db:"lat"`
	Longitude  float64   `json:"lon" db:"lon"`
	ValidStart time.Time `json:"valid_start" db:"valid_start"`
	ValidEnd   time.Time `json:"valid_end" db:"valid_end"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Label is the column name used for the station in assembled matrices
func (s StationMetadata) Label() string {
	return fmt.Sprintf("%s: %s, %s", s.StationID, s.Name, s.State)
}

// BoundingBox is a lat/lon query region. Negative values are south/west.
type BoundingBox struct {
	West  float64 `json:"wlon" validate:"gte=-180,lte=180"`
	South float64 `json:"slat" validate:"gte=-90,lte=90"`
	East  float64 `json:"elon" validate:"gte=-180,lte=180,gtfield=West"`
	North float64 `json:"nlat" validate:"gte=-90,lte=90,gtfield=South"`
}

// String formats the box the way ACIS expects: west,south,east,north
func (b BoundingBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.West, b.South, b.East, b.North)
}

// Contains reports whether the point lies inside the box, edges included
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// ParseBoundingBox reads "west,south,east,north"
func ParseBoundingBox(s string) (*BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, &ValidationError{Field: "bbox", Value: s, Message: "bbox must be west,south,east,north"}
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, &ValidationError{Field: "bbox", Value: s, Message: "bbox coordinates must be numbers"}
		}
		v[i] = f
	}
	return &BoundingBox{West: v[0], South: v[1], East: v[2], North: v[3]}, nil
}
