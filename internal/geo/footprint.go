package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// BoundAround returns the WGS84 bounding box of a square footprint of
// sizeMeters on a side centered on the given lon/lat point. Longitude extent
// is widened by the latitude cosine so the box stays square on the ground.
func BoundAround(center orb.Point, sizeMeters float64) orb.Bound {
	halfLat := sizeMeters / 2 / MetersPerDegree
	cos := math.Cos(center.Lat() * math.Pi / 180)
	if cos < 1e-6 {
		cos = 1e-6
	}
	halfLon := halfLat / cos
	return orb.Bound{
		Min: orb.Point{center.Lon() - halfLon, center.Lat() - halfLat},
		Max: orb.Point{center.Lon() + halfLon, center.Lat() + halfLat},
	}
}

// Centroid returns the planar centroid of any orb geometry.
func Centroid(g orb.Geometry) orb.Point {
	c, _ := planar.CentroidArea(g)
	return c
}

// MultiPolygonOf normalizes a polygonal geometry to a MultiPolygon.
// Returns nil for non-polygonal geometries.
func MultiPolygonOf(g orb.Geometry) orb.MultiPolygon {
	switch v := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{v}
	case orb.MultiPolygon:
		return v
	default:
		return nil
	}
}

// Intersects reports whether a building geometry intersects the AOI.
//
// Building footprints are tiny relative to the AOI, so the test is: bounds
// overlap, and the centroid or any vertex of the geometry lies inside the
// AOI, or any AOI vertex lies inside the geometry. Edge-only crossings with
// no contained vertex are not detected.
func Intersects(aoi orb.MultiPolygon, g orb.Geometry) bool {
	if len(aoi) == 0 {
		return false
	}
	if !aoi.Bound().Intersects(g.Bound()) {
		return false
	}
	if planar.MultiPolygonContains(aoi, Centroid(g)) {
		return true
	}
	for _, v := range vertices(g) {
		if planar.MultiPolygonContains(aoi, v) {
			return true
		}
	}
	if mp := MultiPolygonOf(g); mp != nil {
		for _, poly := range aoi {
			for _, ring := range poly {
				for _, v := range ring {
					if planar.MultiPolygonContains(mp, v) {
						return true
					}
				}
			}
		}
	}
	return false
}

func vertices(g orb.Geometry) []orb.Point {
	switch v := g.(type) {
	case orb.Point:
		return []orb.Point{v}
	case orb.MultiPoint:
		return v
	case orb.LineString:
		return v
	case orb.Polygon:
		var pts []orb.Point
		for _, ring := range v {
			pts = append(pts, ring...)
		}
		return pts
	case orb.MultiPolygon:
		var pts []orb.Point
		for _, poly := range v {
			for _, ring := range poly {
				pts = append(pts, ring...)
			}
		}
		return pts
	default:
		return nil
	}
}
