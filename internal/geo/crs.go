// Package geo provides the coordinate handling shared by the pipeline:
// CRS identification and forward projection, metric footprints around a
// point, and intersection policy between building geometries and the AOI.
package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// CRS identifies a coordinate reference system by EPSG code.
type CRS int

const (
	// WGS84 is geographic longitude/latitude in degrees (EPSG:4326).
	WGS84 CRS = 4326
	// WebMercator is spherical mercator in meters (EPSG:3857).
	WebMercator CRS = 3857
)

// Degrees-to-meters conversion used when a raster expresses its resolution
// in lon/lat degrees. 1 degree ~ 111km at the equator.
const MetersPerDegree = 111000.0

// IsUTM reports whether the code is a WGS84 UTM zone (EPSG 326xx north,
// 327xx south).
func (c CRS) IsUTM() bool {
	n := int(c)
	return (n >= 32601 && n <= 32660) || (n >= 32701 && n <= 32760)
}

// Supported reports whether the pipeline can project into this CRS.
func (c CRS) Supported() bool {
	return c == WGS84 || c == WebMercator || c.IsUTM()
}

func (c CRS) String() string { return fmt.Sprintf("EPSG:%d", int(c)) }

// UnitInMeters returns the length of one native unit of the CRS in meters.
// Geographic CRSes use the equatorial degree approximation; projected ones
// are already metric.
func (c CRS) UnitInMeters() float64 {
	if c == WGS84 {
		return MetersPerDegree
	}
	return 1
}

// Forward projects a WGS84 lon/lat point into native coordinates of the CRS.
func Forward(c CRS, p orb.Point) (float64, float64, error) {
	switch {
	case c == WGS84:
		return p.Lon(), p.Lat(), nil
	case c == WebMercator:
		m := project.WGS84.ToMercator(p)
		return m[0], m[1], nil
	case c.IsUTM():
		zone := int(c) % 100
		south := int(c)/100 == 327
		e, n := utmForward(p.Lon(), p.Lat(), zone, south)
		return e, n, nil
	default:
		return 0, 0, fmt.Errorf("unsupported CRS %s", c)
	}
}
