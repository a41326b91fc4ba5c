// Package buildings resolves candidate building geometries inside an area
// of interest. Buildings come from a GeoJSON footprint file or a CSV of
// point coordinates; either way each building gets a stable identifier
// derived from its geometry, so the same physical building always keys the
// same examples across runs regardless of source ordering.
package buildings

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/canlilar/skai/internal/geo"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Building is a candidate extraction site. Centroid is in WGS84 lon/lat.
type Building struct {
	ID       string
	Geometry orb.Geometry
	Centroid orb.Point
}

// StableID derives the building identifier from its geometry: coordinates
// quantized to 1e-7 degrees (about a centimeter) and hashed. Never random,
// so re-runs are idempotent.
func StableID(g orb.Geometry) string {
	h := sha256.New()
	var buf [8]byte
	writeCoord := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(math.Round(v*1e7))))
		h.Write(buf[:])
	}
	for _, p := range allVertices(g) {
		writeCoord(p.Lon())
		writeCoord(p.Lat())
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func allVertices(g orb.Geometry) []orb.Point {
	switch v := g.(type) {
	case orb.Point:
		return []orb.Point{v}
	case orb.Polygon:
		var pts []orb.Point
		for _, r := range v {
			pts = append(pts, r...)
		}
		return pts
	case orb.MultiPolygon:
		var pts []orb.Point
		for _, poly := range v {
			for _, r := range poly {
				pts = append(pts, r...)
			}
		}
		return pts
	default:
		return nil
	}
}

// LoadAOI parses an area-of-interest polygon from GeoJSON. Accepts a
// FeatureCollection, a single Feature, or a bare geometry; all polygonal
// geometries found are merged into one MultiPolygon.
func LoadAOI(data []byte) (orb.MultiPolygon, error) {
	geoms, err := parseGeometries(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse AOI: %w", err)
	}
	var aoi orb.MultiPolygon
	for _, g := range geoms {
		aoi = append(aoi, geo.MultiPolygonOf(g)...)
	}
	if len(aoi) == 0 {
		return nil, fmt.Errorf("AOI contains no polygon geometry")
	}
	return aoi, nil
}

// FromGeoJSON extracts buildings from a footprint vector file, keeping only
// geometries that intersect the AOI. Duplicate geometries collapse to one
// building. The result is sorted by ID; an empty result is not an error.
func FromGeoJSON(data []byte, aoi orb.MultiPolygon) ([]Building, error) {
	geoms, err := parseGeometries(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse building footprints: %w", err)
	}
	return collect(geoms, aoi), nil
}

// FromPointsCSV reads "longitude,latitude" lines (optional header) and
// returns point buildings inside the AOI.
func FromPointsCSV(data []byte, aoi orb.MultiPolygon) ([]Building, error) {
	var geoms []orb.Geometry
	for ln, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("building CSV line %d: expected longitude,latitude", ln+1)
		}
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errLon != nil || errLat != nil {
			if ln == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("building CSV line %d: invalid coordinates %q", ln+1, line)
		}
		if lon < -180 || lon > 180 {
			return nil, fmt.Errorf("building CSV line %d: invalid longitude %g", ln+1, lon)
		}
		if lat < -90 || lat > 90 {
			return nil, fmt.Errorf("building CSV line %d: invalid latitude %g", ln+1, lat)
		}
		geoms = append(geoms, orb.Point{lon, lat})
	}
	return collect(geoms, aoi), nil
}

func collect(geoms []orb.Geometry, aoi orb.MultiPolygon) []Building {
	seen := make(map[string]struct{})
	var out []Building
	for _, g := range geoms {
		// An empty AOI means no spatial filter.
		if len(aoi) > 0 && !geo.Intersects(aoi, g) {
			continue
		}
		id := StableID(g)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		centroid := geo.Centroid(g)
		if p, ok := g.(orb.Point); ok {
			centroid = p
		}
		out = append(out, Building{ID: id, Geometry: g, Centroid: centroid})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func parseGeometries(data []byte) ([]orb.Geometry, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil {
		var geoms []orb.Geometry
		for _, f := range fc.Features {
			if f.Geometry != nil {
				geoms = append(geoms, f.Geometry)
			}
		}
		return geoms, nil
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil && f.Geometry != nil {
		return []orb.Geometry{f.Geometry}, nil
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	return []orb.Geometry{g.Geometry()}, nil
}
