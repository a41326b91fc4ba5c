// Package main implements the generate command: read imagery and buildings,
// extract aligned patch pairs, and write the unlabeled example dataset.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/canlilar/skai/internal/blob"
	"github.com/canlilar/skai/internal/buildings"
	"github.com/canlilar/skai/internal/examples"
	"github.com/canlilar/skai/internal/patch"
	"github.com/canlilar/skai/internal/pipeline"
	"github.com/canlilar/skai/internal/raster"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var generateWorkers int

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate unlabeled examples from before/after imagery",
	Long: `Extracts a before/after patch pair for every building, aligns the
after patch against the before patch, and writes sharded example files plus
an example catalog to the output location.

Requires imagery.before, imagery.after, buildings.path and output.location
in the configuration.`,
	RunE: runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if cfg.Imagery.Before == "" || cfg.Imagery.After == "" {
		return fmt.Errorf("imagery.before and imagery.after are required")
	}
	if cfg.Buildings.Path == "" {
		return fmt.Errorf("buildings.path is required")
	}
	if cfg.Output.Location == "" {
		return fmt.Errorf("output.location is required")
	}

	store, err := blob.OpenWith(ctx, cfg.Output.Location, s3Settings())
	if err != nil {
		return err
	}

	before, closeBefore, err := openRaster(ctx, cfg.Imagery.Before)
	if err != nil {
		return err
	}
	defer closeBefore()
	after, closeAfter, err := openRaster(ctx, cfg.Imagery.After)
	if err != nil {
		return err
	}
	defer closeAfter()

	blds, err := loadBuildings()
	if err != nil {
		return err
	}
	if len(blds) == 0 {
		return fmt.Errorf("no buildings inside the area of interest")
	}
	logger.Info("buildings loaded",
		zap.Int("count", len(blds)),
		zap.String("source", cfg.Buildings.Path))

	catalog, err := examples.OpenCatalog(catalogPath())
	if err != nil {
		return err
	}
	defer catalog.Close()

	workers := cfg.Pipeline.Workers
	if generateWorkers > 0 {
		workers = generateWorkers
	}

	metrics := pipeline.NewMetrics()
	if addr := cfg.Pipeline.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, logger); err != nil {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	runID := pipeline.NewRunID()
	started := time.Now().UTC()
	logger.Info("generation started",
		zap.String("run_id", runID),
		zap.String("before", cfg.Imagery.Before),
		zap.String("after", cfg.Imagery.After),
		zap.Int("workers", workers))

	stats, err := pipeline.Run(ctx, pipeline.Options{
		Buildings: blds,
		Before:    before,
		After:     after,
		Extract: patch.Config{
			PatchSize:          cfg.Patch.Size,
			Resolution:         cfg.Patch.Resolution,
			AlignmentPatchSize: cfg.Patch.AlignmentSize,
			MaxDisplacement:    cfg.Patch.MaxDisplacement,
			LabelingPatchSize:  cfg.Patch.LabelingSize,
			BlankThreshold:     cfg.Patch.BlankThreshold,
		},
		Store:             store,
		Catalog:           catalog,
		NumShards:         cfg.Output.Shards,
		Workers:           workers,
		NumLabelingImages: cfg.Output.LabelingImages,
		PartialPolicy:     cfg.Patch.PartialPolicy,
		RunID:             runID,
		Log:               logger,
		Metrics:           metrics,
	})
	if err != nil {
		return err
	}

	summary := pipeline.Summary{
		RunID:         runID,
		Dataset:       cfg.Dataset,
		BeforeImageID: before.Meta().ID,
		AfterImageID:  after.Meta().ID,
		PatchSize:     cfg.Patch.Size,
		Resolution:    cfg.Patch.Resolution,
		NumShards:     cfg.Output.Shards,
		StartedAt:     started,
		FinishedAt:    time.Now().UTC(),
		Stats:         *stats,
	}
	if err := pipeline.WriteSummary(ctx, store, summary); err != nil {
		return err
	}

	fmt.Printf("Generated %d examples from %d buildings (%d skipped, %d partial, %d dropped)\n",
		stats.Generated, stats.Buildings, stats.Skipped, stats.Partial, stats.Dropped)
	if stats.LabelingImages > 0 {
		fmt.Printf("Sampled %d labeling images (%s)\n", stats.LabelingImages, examples.ManifestKey)
	}
	return nil
}

func s3Settings() blob.S3Config {
	return blob.S3Config{
		Region:          cfg.Output.S3.Region,
		Endpoint:        cfg.Output.S3.Endpoint,
		AccessKeyID:     cfg.Output.S3.AccessKeyID,
		SecretAccessKey: cfg.Output.S3.SecretAccessKey,
		PathStyle:       cfg.Output.S3.PathStyle,
	}
}

func catalogPath() string {
	if cfg.Output.CatalogPath != "" {
		return cfg.Output.CatalogPath
	}
	if strings.HasPrefix(cfg.Output.Location, "s3://") {
		return "catalog.db"
	}
	return filepath.Join(cfg.Output.Location, "catalog.db")
}

// openRaster opens a GeoTIFF by location, local path or s3://bucket/key,
// and fails early if its layout cannot serve windowed reads.
func openRaster(ctx context.Context, location string) (*raster.Reader, func(), error) {
	var (
		ra io.ReaderAt
		id string
	)
	if strings.HasPrefix(location, "s3://") {
		trimmed := strings.TrimPrefix(location, "s3://")
		bucket, key, ok := strings.Cut(trimmed, "/")
		if !ok {
			return nil, nil, fmt.Errorf("invalid raster location %q: missing object key", location)
		}
		st, err := blob.OpenWith(ctx, "s3://"+bucket, s3Settings())
		if err != nil {
			return nil, nil, err
		}
		ra, err = blob.NewReaderAt(ctx, st, key)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open raster %q: %w", location, err)
		}
		id = filepath.Base(key)
	} else {
		f, err := os.Open(location)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open raster: %w", err)
		}
		ra = f
		id = filepath.Base(location)
	}

	g, err := raster.OpenGeoTIFF(id, ra)
	if err != nil {
		closeReaderAt(ra)
		return nil, nil, err
	}
	if err := g.CheckWindowed(); err != nil {
		g.Close()
		return nil, nil, err
	}
	r, err := raster.NewReader(g)
	if err != nil {
		g.Close()
		return nil, nil, err
	}
	return r, func() { g.Close() }, nil
}

func closeReaderAt(ra io.ReaderAt) {
	if c, ok := ra.(io.Closer); ok {
		_ = c.Close()
	}
}

func loadBuildings() ([]buildings.Building, error) {
	var aoi orb.MultiPolygon
	if cfg.Buildings.AOI != "" {
		data, err := os.ReadFile(cfg.Buildings.AOI)
		if err != nil {
			return nil, fmt.Errorf("failed to read AOI: %w", err)
		}
		aoi, err = buildings.LoadAOI(data)
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(cfg.Buildings.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read buildings: %w", err)
	}
	if strings.EqualFold(filepath.Ext(cfg.Buildings.Path), ".csv") {
		return buildings.FromPointsCSV(data, aoi)
	}
	return buildings.FromGeoJSON(data, aoi)
}
