package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/canlilar/skai/internal/blob"
	"github.com/google/uuid"
)

// Summary is the durable record of one generation run, written next to the
// dataset so a reader can tell which imagery and settings produced it.
type Summary struct {
	RunID         string    `json:"run_id"`
	Dataset       string    `json:"dataset,omitempty"`
	BeforeImageID string    `json:"before_image_id"`
	AfterImageID  string    `json:"after_image_id"`
	PatchSize     int       `json:"patch_size"`
	Resolution    float64   `json:"resolution"`
	NumShards     int       `json:"num_shards"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Stats         RunStats  `json:"stats"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// SummaryKey is where a run's summary lives in the output store.
func SummaryKey(runID string) string { return fmt.Sprintf("runs/%s.json", runID) }

// WriteSummary persists the run summary as indented JSON.
func WriteSummary(ctx context.Context, store blob.Store, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := blob.PutBytes(ctx, store, SummaryKey(s.RunID), data); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	return nil
}
