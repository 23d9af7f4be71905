// Package geo holds the WGS84 (SRID 4326) point type shared by deployments,
// reports and detections, plus its MariaDB and GeoJSON encodings.
//
// Points travel to MariaDB as WKB: writes wrap the placeholder in
// ST_GeomFromWKB(?, 4326) and reads select ST_AsBinary(column).
package geo

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// SRID is the spatial reference used for every stored geometry.
const SRID = 4326

// Point is a longitude/latitude pair in decimal degrees.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// NewPoint validates the coordinate ranges and returns the point.
func NewPoint(lat, lon float64) (*Point, error) {
	p := &Point{Lon: lon, Lat: lat}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParsePoint builds a point from form strings. Both blank means no point.
func ParsePoint(lat, lon string) (*Point, error) {
	lat, lon = strings.TrimSpace(lat), strings.TrimSpace(lon)
	if lat == "" && lon == "" {
		return nil, nil
	}
	if lat == "" || lon == "" {
		return nil, fmt.Errorf("both latitude and longitude are required")
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q", lat)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q", lon)
	}
	return NewPoint(la, lo)
}

// Validate checks the latitude and longitude ranges.
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %v out of range", p.Lon)
	}
	return nil
}

// Orb converts to the orb geometry type.
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Value returns a driver value for an optional point: WKB bytes, or NULL
// when p is nil. Pair it with ST_GeomFromWKB(?, 4326) in SQL.
func Value(p *Point) driver.Valuer {
	if p == nil {
		return nullValuer{}
	}
	return wkb.Value(p.Orb())
}

type nullValuer struct{}

func (nullValuer) Value() (driver.Value, error) { return nil, nil }

// NullPoint scans an optional ST_AsBinary() column.
type NullPoint struct {
	Point Point
	Valid bool
}

// Scan implements sql.Scanner.
func (n *NullPoint) Scan(src any) error {
	s := wkb.Scanner(nil)
	if err := s.Scan(src); err != nil {
		return fmt.Errorf("scanning point: %w", err)
	}
	if !s.Valid {
		n.Point, n.Valid = Point{}, false
		return nil
	}

	pt, ok := s.Geometry.(orb.Point)
	if !ok {
		return fmt.Errorf("scanning point: unexpected geometry %T", s.Geometry)
	}
	n.Point, n.Valid = Point{Lon: pt.Lon(), Lat: pt.Lat()}, true
	return nil
}

// Ptr returns the point or nil when the column was NULL.
func (n NullPoint) Ptr() *Point {
	if !n.Valid {
		return nil
	}
	p := n.Point
	return &p
}
