// Package pipeline is the seam between per-building extraction and the
// execution substrate. It maps "process one building" onto independent,
// shard-grouped units of work with no shared mutable state, so at-least-once
// execution with retries composes into exactly-once output: every unit is a
// pure function of its inputs and shard writes are atomic replacements.
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/canlilar/skai/internal/blob"
	"github.com/canlilar/skai/internal/buildings"
	"github.com/canlilar/skai/internal/examples"
	"github.com/canlilar/skai/internal/patch"
	"github.com/canlilar/skai/internal/raster"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Partial-patch policies.
const (
	PartialKeepFlagged = "keep-flagged"
	PartialDrop        = "drop"
)

// Options configures one generation run.
type Options struct {
	Buildings []buildings.Building
	Before    *raster.Reader
	After     *raster.Reader
	Extract   patch.Config

	Store     blob.Store
	Catalog   *examples.Catalog
	NumShards int
	Workers   int

	// NumLabelingImages is how many labeling composites to sample, 0 to
	// disable. Sampling is deterministic in the example ID.
	NumLabelingImages int
	// PartialPolicy decides what happens to patches overlapping nodata:
	// PartialKeepFlagged emits them flagged, PartialDrop excludes them.
	PartialPolicy string

	RunID   string
	Log     *zap.Logger
	Metrics *Metrics
}

// RunStats summarizes a generation run.
type RunStats struct {
	Buildings      int            `json:"buildings"`
	Generated      int            `json:"generated"`
	Skipped        int            `json:"skipped"`
	SkipReasons    map[string]int `json:"skip_reasons,omitempty"`
	Partial        int            `json:"partial"`
	Dropped        int            `json:"dropped"`
	LabelingImages int            `json:"labeling_images"`
}

// Run extracts, serializes and shards every building. Failures local to one
// building never abort the run; they are counted and logged as skips.
func Run(ctx context.Context, opts Options) (*RunStats, error) {
	if opts.NumShards <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", opts.NumShards)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PartialPolicy == "" {
		opts.PartialPolicy = PartialKeepFlagged
	}
	if opts.PartialPolicy != PartialKeepFlagged && opts.PartialPolicy != PartialDrop {
		return nil, fmt.Errorf("unknown partial-patch policy %q", opts.PartialPolicy)
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	extractor, err := patch.NewExtractor(opts.Before, opts.After, opts.Extract)
	if err != nil {
		return nil, err
	}

	beforeID := opts.Before.Meta().ID
	afterID := opts.After.Meta().ID

	// Shard membership is a function of the example ID alone, so it can be
	// computed before any pixel is read. Each shard becomes one unit of
	// work with exactly one writer; scheduling order cannot affect output.
	type task struct {
		building  buildings.Building
		exampleID string
	}
	byShard := make(map[int][]task)
	for _, b := range opts.Buildings {
		id := examples.ExampleID(b.ID, beforeID, afterID)
		shard := examples.ShardIndex(id, opts.NumShards)
		byShard[shard] = append(byShard[shard], task{building: b, exampleID: id})
	}

	samplingRate := 0.0
	if opts.NumLabelingImages > 0 && len(opts.Buildings) > 0 {
		samplingRate = float64(opts.NumLabelingImages) / float64(len(opts.Buildings))
	}

	stats := &RunStats{Buildings: len(opts.Buildings), SkipReasons: make(map[string]int)}
	var mu sync.Mutex // guards stats and manifest
	var manifest []examples.ManifestRow

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for shard := 0; shard < opts.NumShards; shard++ {
		tasks := byShard[shard]
		g.Go(func() error {
			recs := make([]*examples.Record, 0, len(tasks))
			entries := make([]examples.Entry, 0, len(tasks))
			local := RunStats{SkipReasons: make(map[string]int)}
			var localManifest []examples.ManifestRow

			for _, t := range tasks {
				start := time.Now()
				res, err := extractor.Extract(gctx, t.building)
				opts.Metrics.ExtractSeconds.Observe(time.Since(start).Seconds())
				if err != nil {
					if skip, ok := patch.AsSkip(err); ok {
						local.Skipped++
						local.SkipReasons[skip.Reason]++
						opts.Metrics.Skipped.WithLabelValues(skip.Reason).Inc()
						opts.Log.Info("building skipped",
							zap.String("building_id", skip.BuildingID),
							zap.String("reason", skip.Reason))
						continue
					}
					return err
				}
				if res.Partial {
					local.Partial++
					opts.Metrics.Partial.Inc()
					if opts.PartialPolicy == PartialDrop {
						local.Dropped++
						opts.Metrics.Dropped.Inc()
						opts.Log.Info("partial patch dropped by policy",
							zap.String("building_id", t.building.ID))
						continue
					}
				}

				rec, err := buildRecord(t.exampleID, beforeID, afterID, res, opts.Extract)
				if err != nil {
					return err
				}
				recs = append(recs, rec)
				entries = append(entries, examples.Entry{
					ExampleID:  rec.ExampleID,
					BuildingID: rec.BuildingID,
					Longitude:  rec.Longitude,
					Latitude:   rec.Latitude,
					Shard:      shard,
					Partial:    rec.Partial,
				})
				local.Generated++
				opts.Metrics.Generated.Inc()

				if sampledForLabeling(t.exampleID, samplingRate) {
					composite, err := examples.CompositePNG(res.LabelingBefore.Image(), res.LabelingAfter.Image())
					if err != nil {
						return err
					}
					key := examples.LabelingImageKey(t.exampleID)
					if err := blob.PutBytes(gctx, opts.Store, key, composite); err != nil {
						return err
					}
					localManifest = append(localManifest, examples.ManifestRow{
						Image:     key,
						ExampleID: t.exampleID,
					})
					local.LabelingImages++
					opts.Metrics.LabelingImages.Inc()
				}
			}

			if err := examples.WriteShard(gctx, opts.Store, examples.RoleUnlabeled, shard, opts.NumShards, recs); err != nil {
				return err
			}
			if err := opts.Catalog.InsertBatch(entries); err != nil {
				return err
			}

			mu.Lock()
			stats.Generated += local.Generated
			stats.Skipped += local.Skipped
			stats.Partial += local.Partial
			stats.Dropped += local.Dropped
			stats.LabelingImages += local.LabelingImages
			for reason, n := range local.SkipReasons {
				stats.SkipReasons[reason] += n
			}
			manifest = append(manifest, localManifest...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if opts.NumLabelingImages > 0 {
		if err := examples.WriteManifest(ctx, opts.Store, manifest); err != nil {
			return nil, err
		}
	}

	opts.Log.Info("example generation complete",
		zap.Int("buildings", stats.Buildings),
		zap.Int("generated", stats.Generated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("partial", stats.Partial),
		zap.Int("dropped", stats.Dropped),
		zap.Int("labeling_images", stats.LabelingImages))
	return stats, nil
}

func buildRecord(exampleID, beforeID, afterID string, res *patch.Result, cfg patch.Config) (*examples.Record, error) {
	beforePNG, err := examples.EncodePNG(res.Before.Image())
	if err != nil {
		return nil, err
	}
	afterPNG, err := examples.EncodePNG(res.After.Image())
	if err != nil {
		return nil, err
	}
	b := res.Footprint
	return &examples.Record{
		ExampleID:     exampleID,
		BuildingID:    res.Building.ID,
		BeforeImageID: beforeID,
		AfterImageID:  afterID,
		Longitude:     res.Building.Centroid.Lon(),
		Latitude:      res.Building.Centroid.Lat(),
		Footprint:     [4]float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()},
		PatchSize:     cfg.PatchSize,
		Resolution:    cfg.Resolution,
		BeforePNG:     beforePNG,
		AfterPNG:      afterPNG,
		Partial:       res.Partial,
	}, nil
}

// sampledForLabeling decides deterministically whether an example is in the
// labeling subset. No randomness: retried units must make the same choice.
func sampledForLabeling(exampleID string, rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	h := fnv.New64a()
	h.Write([]byte("labeling:"))
	h.Write([]byte(exampleID))
	const buckets = 1 << 20
	return h.Sum64()%buckets < uint64(rate*buckets)
}
