// Package main implements the merge command: join external annotations back
// into the dataset as labeled train/test shards.
package main

import (
	"fmt"

	"github.com/canlilar/skai/internal/blob"
	"github.com/canlilar/skai/internal/examples"
	"github.com/canlilar/skai/internal/labels"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var mergeWatch bool

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge annotations into labeled train/test shards",
	Long: `Reads annotation exports (.csv or .jsonl) from labels.dir, maps raw
values through the damage taxonomy, joins them with the unlabeled examples
and writes labeled train and test shards.

Re-running is safe: the merge regenerates every labeled shard from scratch.
With --watch, the command keeps running and re-merges whenever a file in
labels.dir changes.`,
	RunE: runMerge,
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if cfg.Labels.Dir == "" {
		return fmt.Errorf("labels.dir is required")
	}
	if cfg.Output.Location == "" {
		return fmt.Errorf("output.location is required")
	}

	store, err := blob.OpenWith(ctx, cfg.Output.Location, s3Settings())
	if err != nil {
		return err
	}
	catalog, err := examples.OpenCatalog(catalogPath())
	if err != nil {
		return err
	}
	defer catalog.Close()

	taxonomy := labels.DefaultTaxonomy()
	if len(cfg.Labels.Taxonomy) > 0 {
		taxonomy = labels.Taxonomy(cfg.Labels.Taxonomy)
	}

	merger := &labels.Merger{
		Store:        store,
		Catalog:      catalog,
		Taxonomy:     taxonomy,
		TestFraction: cfg.Labels.TestFraction,
		NumShards:    cfg.Output.Shards,
		Log:          logger,
	}

	if mergeWatch {
		logger.Info("watching annotation directory", zap.String("dir", cfg.Labels.Dir))
		return merger.Watch(ctx, cfg.Labels.Dir)
	}

	anns, err := labels.LoadDir(cfg.Labels.Dir)
	if err != nil {
		return err
	}
	stats, err := merger.Run(ctx, anns)
	if err != nil {
		return err
	}
	fmt.Printf("Merged %d labels into %d train / %d test examples (%d positive, %d negative, %d orphaned)\n",
		stats.Merged, stats.Train, stats.Test, stats.Positives, stats.Negatives, stats.Orphans)
	return nil
}
