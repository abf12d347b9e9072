// Package geometry resolves tile geometries against the tessellation and
// reads the published tile-scheme layer.
//
// Reprojection is limited to the closed pair of coordinate systems this
// pipeline accepts: WGS84 (the tessellation's frame) and Web Mercator. A
// scheme or area-of-interest file in any other frame is a data inconsistency
// and is rejected rather than guessed past.
package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"github.com/noaa-ocs-hydrography/BlueTopo/internal/tessellate"
)

// CRS is a coordinate reference system from the accepted set.
type CRS int

const (
	WGS84 CRS = iota
	WebMercator
)

// ParseCRS maps the legacy GeoJSON crs names onto the accepted set. An empty
// name means the RFC 7946 default, WGS84.
func ParseCRS(name string) (CRS, error) {
	switch name {
	case "", "EPSG:4326", "urn:ogc:def:crs:EPSG::4326", "urn:ogc:def:crs:OGC:1.3:CRS84":
		return WGS84, nil
	case "EPSG:3857", "urn:ogc:def:crs:EPSG::3857":
		return WebMercator, nil
	}
	return 0, &Error{Reason: fmt.Sprintf("unsupported coordinate reference system %q", name)}
}

// Error indicates a geometry or tessellation inconsistency. It is always
// fatal: an ambiguous or unplaceable tile must never be resolved silently.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "geometry: " + e.Reason }

// toWGS84 returns geom expressed in the tessellation's frame.
func toWGS84(geom orb.Geometry, crs CRS) orb.Geometry {
	if crs == WebMercator {
		return project.Geometry(orb.Clone(geom), project.Mercator.ToWGS84)
	}
	return geom
}

// Resolve returns the code of the single tessellation cell the tile geometry
// overlaps. Zero matches or more than one match is an *Error: given the inset
// cells a double match indicates a tessellation or tile-geometry bug, not a
// normal runtime condition.
func Resolve(geom orb.Geometry, crs CRS, cells []tessellate.Cell) (string, error) {
	geom = toWGS84(geom, crs)
	var code string
	matches := 0
	for i := range cells {
		if cells[i].Intersects(geom) {
			matches++
			code = cells[i].Code
			if matches > 1 {
				break
			}
		}
	}
	switch matches {
	case 1:
		return code, nil
	case 0:
		return "", &Error{Reason: "tile geometry matches no tessellation cell"}
	default:
		return "", &Error{Reason: "tile geometry matches more than one tessellation cell"}
	}
}

// overlaps reports nonzero-area overlap between geom and the bound. Tile
// outlines are axis-aligned cells, so their bound is the outline.
func overlaps(bound orb.Bound, geom orb.Geometry) bool {
	if !bound.Intersects(geom.Bound()) {
		return false
	}
	clipped := clip.Geometry(bound, geom)
	if clipped == nil {
		return false
	}
	return planar.Area(clipped) > 0
}
