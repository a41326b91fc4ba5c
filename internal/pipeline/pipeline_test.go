package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/canlilar/skai/internal/blob"
	"github.com/canlilar/skai/internal/buildings"
	"github.com/canlilar/skai/internal/examples"
	"github.com/canlilar/skai/internal/geo"
	"github.com/canlilar/skai/internal/patch"
	"github.com/canlilar/skai/internal/raster"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// textured builds a 256x256 web mercator raster at 0.5 m/pixel centered on
// lon/lat (0,0), with enough texture for alignment. hole carves a blank
// square so buildings there are skipped.
func textured(t *testing.T, id string, hole bool) *raster.Reader {
	t.Helper()
	const size = 256
	meta := raster.Meta{
		ID: id, CRS: geo.WebMercator,
		Width: size, Height: size,
		PixelWidth: 0.5, PixelHeight: 0.5,
		OriginX: -float64(size) / 4, OriginY: float64(size) / 4,
	}
	pix := make([]uint8, size*size*3)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(40)
			if (x/4+y/4)%2 == 0 {
				v = 220
			}
			if hole && x >= 190 && y >= 190 {
				v = 0
			}
			i := (y*size + x) * 3
			pix[i], pix[i+1], pix[i+2] = v, v, v
		}
	}
	src, err := raster.NewMemorySource(meta, pix)
	require.NoError(t, err)
	rd, err := raster.NewReader(src)
	require.NoError(t, err)
	return rd
}

// gridBuildings lays out n point buildings spaced 8 m apart around the
// raster center, all comfortably inside the extent.
func gridBuildings(n int) []buildings.Building {
	var out []buildings.Building
	for i := 0; i < n; i++ {
		dx := float64(i%4-2) * 8.0 / geo.MetersPerDegree
		dy := float64(i/4-2) * 8.0 / geo.MetersPerDegree
		p := orb.Point{dx, dy}
		out = append(out, buildings.Building{
			ID:       fmt.Sprintf("b%04d", i),
			Geometry: p,
			Centroid: p,
		})
	}
	return out
}

func testOptions(t *testing.T, store blob.Store) Options {
	t.Helper()
	catalog, err := examples.OpenCatalog(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	return Options{
		Buildings: gridBuildings(12),
		Before:    textured(t, "before.tif", false),
		After:     textured(t, "after.tif", false),
		Extract: patch.Config{
			PatchSize:          16,
			Resolution:         0.5,
			AlignmentPatchSize: 32,
			MaxDisplacement:    2,
			LabelingPatchSize:  32,
			BlankThreshold:     0.25,
		},
		Store:     store,
		Catalog:   catalog,
		NumShards: 4,
		Workers:   3,
		RunID:     "test-run",
		Log:       zap.NewNop(),
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	opts := testOptions(t, store)

	stats, err := Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Buildings)
	assert.Equal(t, 12, stats.Generated)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 0, stats.Dropped)

	// Every record is in the shard its ID hashes to, fully populated.
	total := 0
	for s := 0; s < opts.NumShards; s++ {
		recs, err := examples.ReadShard(ctx, store, examples.RoleUnlabeled, s, opts.NumShards)
		require.NoError(t, err)
		for _, rec := range recs {
			assert.Equal(t, s, examples.ShardIndex(rec.ExampleID, opts.NumShards))
			assert.Equal(t, "before.tif", rec.BeforeImageID)
			assert.Equal(t, "after.tif", rec.AfterImageID)
			assert.Equal(t, 16, rec.PatchSize)
			assert.NotEmpty(t, rec.BeforePNG)
			assert.NotEmpty(t, rec.AfterPNG)
			img, err := examples.DecodePNG(rec.BeforePNG)
			require.NoError(t, err)
			assert.Equal(t, 16, img.Bounds().Dx())
			total++
		}
	}
	assert.Equal(t, 12, total)

	// Catalog agrees with the shards.
	cstats, err := opts.Catalog.Counts()
	require.NoError(t, err)
	assert.Equal(t, 12, cstats.Total)
}

func TestRun_Deterministic(t *testing.T) {
	ctx := context.Background()

	snapshot := func() map[string][]byte {
		store := blob.NewMemory()
		opts := testOptions(t, store)
		opts.Workers = 4
		_, err := Run(ctx, opts)
		require.NoError(t, err)
		keys, err := store.List(ctx, "examples/")
		require.NoError(t, err)
		out := make(map[string][]byte, len(keys))
		for _, k := range keys {
			data, err := blob.GetBytes(ctx, store, k)
			require.NoError(t, err)
			out[k] = data
		}
		return out
	}

	first := snapshot()
	second := snapshot()
	assert.Equal(t, first, second, "independent runs must be byte-identical")
}

func TestRun_SkipsBlankBuildings(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	opts := testOptions(t, store)
	opts.After = textured(t, "after.tif", true)

	// Move one building into the blank hole: pixel (200, 200) is at
	// native (36, -36) m from center.
	holePoint := orb.Point{36.0 / geo.MetersPerDegree, -36.0 / geo.MetersPerDegree}
	opts.Buildings = append(opts.Buildings, buildings.Building{
		ID: "in-hole", Geometry: holePoint, Centroid: holePoint,
	})

	stats, err := Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 13, stats.Buildings)
	assert.Equal(t, 12, stats.Generated)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.SkipReasons[patch.SkipAfterBlank])
}

func TestRun_PartialPolicyDrop(t *testing.T) {
	ctx := context.Background()

	// A building near the raster edge produces a partial patch. Native
	// extent is x in [-64, 64) m; 1 m inside the western edge.
	edgePoint := orb.Point{-63.0 / geo.MetersPerDegree, 0}
	edge := buildings.Building{ID: "edge", Geometry: edgePoint, Centroid: edgePoint}

	run := func(policy string) *RunStats {
		store := blob.NewMemory()
		opts := testOptions(t, store)
		opts.Extract.BlankThreshold = 0.8
		opts.PartialPolicy = policy
		opts.Buildings = append(opts.Buildings, edge)
		stats, err := Run(ctx, opts)
		require.NoError(t, err)
		return stats
	}

	kept := run(PartialKeepFlagged)
	assert.Equal(t, 1, kept.Partial)
	assert.Equal(t, 0, kept.Dropped)
	assert.Equal(t, 13, kept.Generated)

	dropped := run(PartialDrop)
	assert.Equal(t, 1, dropped.Partial)
	assert.Equal(t, 1, dropped.Dropped)
	assert.Equal(t, 12, dropped.Generated)
}

func TestRun_LabelingImages(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	opts := testOptions(t, store)
	opts.NumLabelingImages = 12 // sample everything

	stats, err := Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 12, stats.LabelingImages)

	keys, err := store.List(ctx, "examples/labeling_images/")
	require.NoError(t, err)
	// 12 composites plus the manifest.
	assert.Len(t, keys, 13)

	data, err := blob.GetBytes(ctx, store, examples.ManifestKey)
	require.NoError(t, err)
	assert.Contains(t, string(data), "image,example_id")
}

func TestRun_NoLabelingImagesByDefault(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	opts := testOptions(t, store)

	stats, err := Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.LabelingImages)
	_, err = blob.GetBytes(ctx, store, examples.ManifestKey)
	assert.True(t, blob.IsNotFound(err), "no manifest without labeling images")
}

func TestRun_Validation(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()

	opts := testOptions(t, store)
	opts.NumShards = 0
	_, err := Run(ctx, opts)
	assert.Error(t, err)

	opts = testOptions(t, store)
	opts.PartialPolicy = "discard-silently"
	_, err = Run(ctx, opts)
	assert.Error(t, err)
}

func TestWriteSummary(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()

	runID := NewRunID()
	require.NotEmpty(t, runID)
	require.NoError(t, WriteSummary(ctx, store, Summary{
		RunID:         runID,
		Dataset:       "hurricane-x",
		BeforeImageID: "b.tif",
		AfterImageID:  "a.tif",
		Stats:         RunStats{Buildings: 5, Generated: 4, Skipped: 1},
	}))

	data, err := blob.GetBytes(ctx, store, SummaryKey(runID))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"dataset": "hurricane-x"`)
	assert.Contains(t, string(data), `"generated": 4`)
}
