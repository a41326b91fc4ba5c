package patch

import (
	"context"
	"errors"
	"testing"

	"github.com/canlilar/skai/internal/buildings"
	"github.com/canlilar/skai/internal/geo"
	"github.com/canlilar/skai/internal/raster"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRaster builds a web mercator raster at 0.5 m/pixel whose pixel values
// come from fill(x, y). Origin is placed so lon/lat (0,0) maps to the raster
// center.
func testRaster(t *testing.T, id string, size int, fill func(x, y int) (uint8, uint8, uint8)) *raster.Reader {
	t.Helper()
	const res = 0.5
	meta := raster.Meta{
		ID: id, CRS: geo.WebMercator,
		Width: size, Height: size,
		PixelWidth: res, PixelHeight: res,
		OriginX: -float64(size) / 2 * res,
		OriginY: float64(size) / 2 * res,
	}
	pix := make([]uint8, size*size*3)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b := fill(x, y)
			i := (y*size + x) * 3
			pix[i], pix[i+1], pix[i+2] = r, g, b
		}
	}
	src, err := raster.NewMemorySource(meta, pix)
	require.NoError(t, err)
	rd, err := raster.NewReader(src)
	require.NoError(t, err)
	return rd
}

// checkerboard gives the matcher texture to lock onto.
func checkerboard(shiftX, shiftY int) func(x, y int) (uint8, uint8, uint8) {
	return func(x, y int) (uint8, uint8, uint8) {
		if ((x+shiftX)/4+(y+shiftY)/4)%2 == 0 {
			return 220, 220, 220
		}
		return 40, 40, 40
	}
}

func centerBuilding() buildings.Building {
	return buildings.Building{ID: "b1", Geometry: orb.Point{0, 0}, Centroid: orb.Point{0, 0}}
}

func defaultConfig() Config {
	return Config{
		PatchSize:          16,
		Resolution:         0.5,
		AlignmentPatchSize: 32,
		MaxDisplacement:    4,
		LabelingPatchSize:  32,
		BlankThreshold:     0.25,
	}
}

func TestNewExtractor_Validation(t *testing.T) {
	rd := testRaster(t, "r", 64, checkerboard(0, 0))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero patch size", func(c *Config) { c.PatchSize = 0 }},
		{"zero resolution", func(c *Config) { c.Resolution = 0 }},
		{"alignment smaller than patch", func(c *Config) { c.AlignmentPatchSize = 8 }},
		{"labeling larger than alignment", func(c *Config) { c.LabelingPatchSize = 64 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			_, err := NewExtractor(rd, rd, cfg)
			assert.Error(t, err)
		})
	}
}

func TestExtract_AlignedPair(t *testing.T) {
	before := testRaster(t, "before", 128, checkerboard(0, 0))
	after := testRaster(t, "after", 128, checkerboard(0, 0))

	ex, err := NewExtractor(before, after, defaultConfig())
	require.NoError(t, err)

	res, err := ex.Extract(context.Background(), centerBuilding())
	require.NoError(t, err)
	assert.Equal(t, 16, res.Before.Size)
	assert.Equal(t, 16, res.After.Size)
	assert.Equal(t, 32, res.LabelingBefore.Size)
	assert.Equal(t, 32, res.LabelingAfter.Size)
	assert.False(t, res.Partial)
	assert.Equal(t, 1.0, res.Before.Coverage)
	assert.Equal(t, 1.0, res.After.Coverage)
}

func TestExtract_RecoverShift(t *testing.T) {
	// The after image is the before pattern shifted by (3, 2) pixels.
	// Alignment should undo the shift, producing identical output patches.
	before := testRaster(t, "before", 128, checkerboard(0, 0))
	after := testRaster(t, "after", 128, checkerboard(3, 2))

	ex, err := NewExtractor(before, after, defaultConfig())
	require.NoError(t, err)

	res, err := ex.Extract(context.Background(), centerBuilding())
	require.NoError(t, err)
	assert.Equal(t, res.Before.Pix, res.After.Pix,
		"aligned after patch should reproduce the before pattern")
}

func TestExtract_NoAlignmentWhenDisabled(t *testing.T) {
	before := testRaster(t, "before", 128, checkerboard(0, 0))
	after := testRaster(t, "after", 128, checkerboard(3, 2))

	cfg := defaultConfig()
	cfg.MaxDisplacement = 0
	ex, err := NewExtractor(before, after, cfg)
	require.NoError(t, err)

	res, err := ex.Extract(context.Background(), centerBuilding())
	require.NoError(t, err)
	assert.NotEqual(t, res.Before.Pix, res.After.Pix,
		"with alignment disabled the shift should remain")
}

func TestExtract_SkipBlankBefore(t *testing.T) {
	blank := func(x, y int) (uint8, uint8, uint8) { return 0, 0, 0 }
	before := testRaster(t, "before", 128, blank)
	after := testRaster(t, "after", 128, checkerboard(0, 0))

	ex, err := NewExtractor(before, after, defaultConfig())
	require.NoError(t, err)

	_, err = ex.Extract(context.Background(), centerBuilding())
	skip, ok := AsSkip(err)
	require.True(t, ok, "expected a skip, got %v", err)
	assert.Equal(t, SkipBeforeBlank, skip.Reason)
	assert.Equal(t, "b1", skip.BuildingID)
}

func TestExtract_SkipBlankAfter(t *testing.T) {
	blank := func(x, y int) (uint8, uint8, uint8) { return 0, 0, 0 }
	before := testRaster(t, "before", 128, checkerboard(0, 0))
	after := testRaster(t, "after", 128, blank)

	ex, err := NewExtractor(before, after, defaultConfig())
	require.NoError(t, err)

	_, err = ex.Extract(context.Background(), centerBuilding())
	skip, ok := AsSkip(err)
	require.True(t, ok)
	assert.Equal(t, SkipAfterBlank, skip.Reason)
}

func TestExtract_PartialNearEdge(t *testing.T) {
	// A building near the western edge: the before read hangs off the
	// raster, so the output patch has reduced coverage.
	before := testRaster(t, "before", 64, checkerboard(0, 0))
	after := testRaster(t, "after", 64, checkerboard(0, 0))

	cfg := defaultConfig()
	cfg.BlankThreshold = 0.8
	ex, err := NewExtractor(before, after, cfg)
	require.NoError(t, err)

	// 64 pixels at 0.5 m = 32 m extent; the building sits 1 m inside the
	// western boundary. In WGS84 degrees: 15 m west of center.
	lon := -15.0 / geo.MetersPerDegree
	b := buildings.Building{ID: "edge", Centroid: orb.Point{lon, 0}}
	res, err := ex.Extract(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Less(t, res.Before.Coverage, 1.0)
}

func TestAsSkip_NonSkipError(t *testing.T) {
	_, ok := AsSkip(errors.New("io failure"))
	assert.False(t, ok)
}

func TestAlignOffset(t *testing.T) {
	// Search image 12x12 with a bright 4x4 block at (5, 3); the template
	// is that block on a dark background.
	const tsize, ssize = 4, 12
	template := make([]uint8, tsize*tsize)
	for i := range template {
		template[i] = 200
	}
	// Add texture so the template is not uniform.
	template[0] = 40
	template[5] = 40

	search := make([]uint8, ssize*ssize)
	for y := 0; y < tsize; y++ {
		for x := 0; x < tsize; x++ {
			search[(3+y)*ssize+5+x] = template[y*tsize+x]
		}
	}

	dx, dy := alignOffset(template, tsize, search, ssize)
	assert.Equal(t, 5, dx)
	assert.Equal(t, 3, dy)
}

func TestAlignOffset_UniformTemplate(t *testing.T) {
	template := make([]uint8, 16)
	search := make([]uint8, 144)
	dx, dy := alignOffset(template, 4, search, 12)
	assert.Equal(t, 0, dx)
	assert.Equal(t, 0, dy)
}
