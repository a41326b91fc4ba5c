package geo

import "math"

// WGS84 ellipsoid.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
)

// utmForward converts WGS84 lon/lat (degrees) to UTM easting/northing for
// the given zone using the Karney-Krueger series, accurate to well under a
// millimeter for the latitudes this pipeline handles.
func utmForward(lon, lat float64, zone int, south bool) (easting, northing float64) {
	const k0 = 0.9996
	lam0 := float64(zone*6-183) * math.Pi / 180

	phi := lat * math.Pi / 180
	lam := lon*math.Pi/180 - lam0

	n := wgs84F / (2 - wgs84F)
	n2 := n * n
	n3 := n2 * n
	bigA := wgs84A / (1 + n) * (1 + n2/4 + n2*n2/64)

	a1 := n/2 - 2*n2/3 + 5*n3/16
	a2 := 13*n2/48 - 3*n3/5
	a3 := 61 * n3 / 240

	sp := math.Sin(phi)
	c := 2 * math.Sqrt(n) / (1 + n)
	t := math.Sinh(math.Atanh(sp) - c*math.Atanh(c*sp))

	xiP := math.Atan2(t, math.Cos(lam))
	etaP := math.Asinh(math.Sin(lam) / math.Hypot(t, math.Cos(lam)))

	xi := xiP +
		a1*math.Sin(2*xiP)*math.Cosh(2*etaP) +
		a2*math.Sin(4*xiP)*math.Cosh(4*etaP) +
		a3*math.Sin(6*xiP)*math.Cosh(6*etaP)
	eta := etaP +
		a1*math.Cos(2*xiP)*math.Sinh(2*etaP) +
		a2*math.Cos(4*xiP)*math.Sinh(4*etaP) +
		a3*math.Cos(6*xiP)*math.Sinh(6*etaP)

	easting = 500000 + k0*bigA*eta
	northing = k0 * bigA * xi
	if south {
		northing += 10000000
	}
	return easting, northing
}
