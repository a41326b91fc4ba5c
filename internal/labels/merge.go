package labels

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/canlilar/skai/internal/blob"
	"github.com/canlilar/skai/internal/examples"
	"go.uber.org/zap"
)

// Merger joins annotations against the unlabeled corpus by example ID,
// applies the taxonomy mapping, and emits the train/test shards. The whole
// merge is a pure function of (corpus, annotations, taxonomy, fraction), so
// re-running it regenerates identical output.
type Merger struct {
	Store        blob.Store
	Catalog      *examples.Catalog
	Taxonomy     Taxonomy
	TestFraction float64
	NumShards    int
	Log          *zap.Logger
}

// MergeStats summarizes one merge run.
type MergeStats struct {
	Annotations int
	Merged      int
	Orphans     int
	Train       int
	Test        int
	Positives   int
	Negatives   int
}

// Run performs the merge. An annotation with no matching example is dropped
// with a warning (stale labeling task); a raw value missing from the
// taxonomy aborts before anything is written (taxonomy drift).
func (m *Merger) Run(ctx context.Context, anns []Annotation) (*MergeStats, error) {
	if err := m.Taxonomy.Validate(); err != nil {
		return nil, err
	}
	if m.TestFraction < 0 || m.TestFraction > 1 {
		return nil, fmt.Errorf("test fraction %g out of range [0, 1]", m.TestFraction)
	}

	deduped := Dedupe(anns)
	stats := &MergeStats{Annotations: len(deduped)}

	// Validate every raw value up front so taxonomy drift aborts the run
	// before any shard is touched.
	for _, ann := range deduped {
		if _, err := m.Taxonomy.Map(ann.Value); err != nil {
			return nil, err
		}
	}

	// Group target examples by the shard that holds them.
	byShard := make(map[int]map[string]Annotation)
	ids := make([]string, 0, len(deduped))
	for id := range deduped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		shard, ok, err := m.Catalog.ShardOf(id)
		if err != nil {
			return nil, fmt.Errorf("catalog lookup for %s: %w", id, err)
		}
		if !ok {
			stats.Orphans++
			m.Log.Warn("annotation has no matching example, dropping",
				zap.String("example_id", id))
			continue
		}
		if byShard[shard] == nil {
			byShard[shard] = make(map[string]Annotation)
		}
		byShard[shard][id] = deduped[id]
	}

	train := make(map[int][]*examples.Record)
	test := make(map[int][]*examples.Record)

	shards := make([]int, 0, len(byShard))
	for s := range byShard {
		shards = append(shards, s)
	}
	sort.Ints(shards)

	for _, shard := range shards {
		targets := byShard[shard]
		recs, err := examples.ReadShard(ctx, m.Store, examples.RoleUnlabeled, shard, m.NumShards)
		if err != nil {
			return nil, err
		}
		found := make(map[string]bool, len(targets))
		for _, rec := range recs {
			ann, ok := targets[rec.ExampleID]
			if !ok {
				continue
			}
			found[rec.ExampleID] = true
			label, err := m.Taxonomy.Map(ann.Value)
			if err != nil {
				return nil, err
			}
			labeled := *rec
			labeled.LabelRaw = ann.Value
			labeled.Label = &label

			split := SplitOf(rec.ExampleID, m.TestFraction)
			if split == SplitTest {
				test[shard] = append(test[shard], &labeled)
				stats.Test++
			} else {
				train[shard] = append(train[shard], &labeled)
				stats.Train++
			}
			if label == examples.LabelPositive {
				stats.Positives++
			} else {
				stats.Negatives++
			}
			stats.Merged++

			if err := m.Catalog.SetLabel(rec.ExampleID, ann.Value, label, split); err != nil {
				return nil, fmt.Errorf("failed to record label for %s: %w", rec.ExampleID, err)
			}
		}
		for id := range targets {
			if !found[id] {
				stats.Orphans++
				m.Log.Warn("annotation points at example missing from its shard, dropping",
					zap.String("example_id", id), zap.Int("shard", shard))
			}
		}
	}

	// Every shard index is written, empty or not, so output from an earlier
	// merge with different annotations never lingers.
	for i := 0; i < m.NumShards; i++ {
		if err := examples.WriteShard(ctx, m.Store, examples.RoleTrain, i, m.NumShards, train[i]); err != nil {
			return nil, err
		}
		if err := examples.WriteShard(ctx, m.Store, examples.RoleTest, i, m.NumShards, test[i]); err != nil {
			return nil, err
		}
	}

	m.Log.Info("label merge complete",
		zap.Int("annotations", stats.Annotations),
		zap.Int("merged", stats.Merged),
		zap.Int("orphans", stats.Orphans),
		zap.Int("train", stats.Train),
		zap.Int("test", stats.Test),
		zap.Int("positives", stats.Positives),
		zap.Int("negatives", stats.Negatives))
	return stats, nil
}

// LoadDir reads every annotation file (.csv, .jsonl) in a local directory.
func LoadDir(dir string) ([]Annotation, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations directory: %w", err)
	}
	var anns []Annotation
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".csv") && !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		fileAnns, err := ReadAnnotations(name, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		anns = append(anns, fileAnns...)
	}
	return anns, nil
}
