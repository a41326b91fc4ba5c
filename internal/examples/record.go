// Package examples defines the ExampleRecord corpus: the record model, its
// wire codec, deterministic sharding, the sqlite catalog, and the labeling
// manifest export.
package examples

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
)

// Label values after taxonomy mapping.
const (
	LabelNegative = 0
	LabelPositive = 1
)

// Record is the unit of work and storage: one building's aligned
// before/after patch pair plus metadata. Immutable once written, except for
// the additive label fields set by the merge step.
type Record struct {
	ExampleID     string `json:"example_id"`
	BuildingID    string `json:"building_id"`
	BeforeImageID string `json:"before_image_id"`
	AfterImageID  string `json:"after_image_id"`

	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	// Footprint is the shared geographic bound of both patches:
	// min lon, min lat, max lon, max lat in WGS84.
	Footprint  [4]float64 `json:"footprint"`
	PatchSize  int        `json:"patch_size"`
	Resolution float64    `json:"resolution"`

	BeforePNG []byte `json:"before_png"`
	AfterPNG  []byte `json:"after_png"`

	// Partial marks patches that overlap nodata; downstream consumers
	// decide whether to keep or filter these.
	Partial bool `json:"partial,omitempty"`

	LabelRaw string `json:"label_raw,omitempty"`
	Label    *int   `json:"label,omitempty"`
}

// Labeled reports whether the merge step has attached a label.
func (r *Record) Labeled() bool { return r.Label != nil }

// ExampleID derives the record identifier from the building and the two
// source images. Pure function of its inputs: no timestamps, no randomness,
// so retried or re-run extraction regenerates identical IDs.
func ExampleID(buildingID, beforeImageID, afterImageID string) string {
	h := sha256.New()
	h.Write([]byte(buildingID))
	h.Write([]byte{0})
	h.Write([]byte(beforeImageID))
	h.Write([]byte{0})
	h.Write([]byte(afterImageID))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ShardIndex assigns an example to a shard. Deterministic in the example ID
// alone, never in arrival order, so shard membership is stable across runs
// and labels can be joined back without positional assumptions.
func ShardIndex(exampleID string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(exampleID))
	return int(h.Sum64() % uint64(numShards))
}
