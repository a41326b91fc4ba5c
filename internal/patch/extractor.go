// Package patch turns one building into an aligned before/after patch pair.
// Extraction is pure and stateless per building: no dependency on processing
// order, which is what lets the orchestration layer run buildings in any
// order, in parallel, with safe retries.
package patch

import (
	"context"
	"errors"
	"fmt"

	"github.com/canlilar/skai/internal/buildings"
	"github.com/canlilar/skai/internal/geo"
	"github.com/canlilar/skai/internal/raster"
	"github.com/paulmach/orb"
)

// Skip reasons for buildings excluded from output.
const (
	SkipBeforeBlank = "before_patch_blank"
	SkipAfterBlank  = "after_patch_blank"
)

// SkipError marks a building excluded from output. Never fatal to a run;
// the pipeline logs it and moves on.
type SkipError struct {
	BuildingID string
	Reason     string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("building %s skipped: %s", e.BuildingID, e.Reason)
}

// AsSkip extracts a SkipError from an error chain.
func AsSkip(err error) (*SkipError, bool) {
	var se *SkipError
	ok := errors.As(err, &se)
	return se, ok
}

// Config controls patch geometry and rejection policy.
type Config struct {
	// PatchSize is the output patch edge in pixels.
	PatchSize int
	// Resolution is the output ground resolution in m/pixel; both patches
	// are resampled to it regardless of source raster resolutions.
	Resolution float64
	// AlignmentPatchSize is the edge of the patches used during alignment.
	// Larger than PatchSize so the matcher sees more context.
	AlignmentPatchSize int
	// MaxDisplacement bounds alignment movement, in pixels.
	MaxDisplacement int
	// LabelingPatchSize is the edge of the patches composited for human
	// labeling. At most AlignmentPatchSize.
	LabelingPatchSize int
	// BlankThreshold rejects a patch when more than this fraction of it is
	// blank (nodata or zero in all channels).
	BlankThreshold float64
}

// Result is one building's extracted pair. Before/After are PatchSize;
// LabelingBefore/LabelingAfter are LabelingPatchSize crops of the same
// reads, for the human labeling composite.
type Result struct {
	Building       buildings.Building
	Before         *raster.Patch
	After          *raster.Patch
	LabelingBefore *raster.Patch
	LabelingAfter  *raster.Patch
	Footprint      orb.Bound
	// Partial is set when either output patch overlaps nodata. The record
	// is still produced; downstream decides disposition.
	Partial bool
}

// Extractor reads aligned patch pairs for buildings. Safe for concurrent
// use; raster handles are read-only and shared.
type Extractor struct {
	before *raster.Reader
	after  *raster.Reader
	cfg    Config
}

// NewExtractor validates the configuration against both rasters.
func NewExtractor(before, after *raster.Reader, cfg Config) (*Extractor, error) {
	if cfg.PatchSize <= 0 || cfg.Resolution <= 0 {
		return nil, fmt.Errorf("invalid patch configuration: size=%d resolution=%g", cfg.PatchSize, cfg.Resolution)
	}
	if cfg.AlignmentPatchSize < cfg.PatchSize {
		return nil, fmt.Errorf("alignment patch size %d must be at least patch size %d", cfg.AlignmentPatchSize, cfg.PatchSize)
	}
	if cfg.LabelingPatchSize == 0 {
		cfg.LabelingPatchSize = cfg.AlignmentPatchSize
	}
	if cfg.LabelingPatchSize > cfg.AlignmentPatchSize {
		return nil, fmt.Errorf("labeling patch size %d exceeds alignment patch size %d", cfg.LabelingPatchSize, cfg.AlignmentPatchSize)
	}
	return &Extractor{before: before, after: after, cfg: cfg}, nil
}

// Extract reads both patches for one building over the same geographic
// footprint, aligns the after patch to the before patch, and center-crops
// to the output size. A fully blank patch on either side returns SkipError.
func (e *Extractor) Extract(ctx context.Context, b buildings.Building) (*Result, error) {
	center := b.Centroid

	before, err := e.before.PatchAt(ctx, center, e.cfg.AlignmentPatchSize, e.cfg.Resolution)
	if err != nil {
		return nil, err
	}
	if before.BlankFraction() > e.cfg.BlankThreshold {
		return nil, &SkipError{BuildingID: b.ID, Reason: SkipBeforeBlank}
	}

	// The after read carries a margin of MaxDisplacement pixels on each
	// side, giving the matcher that much freedom to correct misregistration
	// between the two captures.
	searchSize := e.cfg.AlignmentPatchSize + 2*e.cfg.MaxDisplacement
	search, err := e.after.PatchAt(ctx, center, searchSize, e.cfg.Resolution)
	if err != nil {
		return nil, err
	}
	if search.BlankFraction() > e.cfg.BlankThreshold {
		return nil, &SkipError{BuildingID: b.ID, Reason: SkipAfterBlank}
	}

	after := search
	if e.cfg.MaxDisplacement > 0 {
		dx, dy := alignOffset(before.Gray(), before.Size, search.Gray(), search.Size)
		after = crop(search, dx, dy, e.cfg.AlignmentPatchSize)
	}

	outBefore := centerCrop(before, e.cfg.PatchSize)
	outAfter := centerCrop(after, e.cfg.PatchSize)

	return &Result{
		Building:       b,
		Before:         outBefore,
		After:          outAfter,
		LabelingBefore: centerCrop(before, e.cfg.LabelingPatchSize),
		LabelingAfter:  centerCrop(after, e.cfg.LabelingPatchSize),
		Footprint:      geo.BoundAround(center, float64(e.cfg.PatchSize)*e.cfg.Resolution),
		Partial:        outBefore.Coverage < 1 || outAfter.Coverage < 1,
	}, nil
}

// crop cuts a size x size window at (x, y) out of a patch, recomputing
// coverage for the cut region. The footprint metadata keeps the original
// center: alignment shifts pixels, not geography.
func crop(p *raster.Patch, x, y, size int) *raster.Patch {
	out := &raster.Patch{
		Size:      size,
		Pix:       make([]uint8, size*size*3),
		Valid:     make([]bool, size*size),
		Center:    p.Center,
		Footprint: p.Footprint,
	}
	valid := 0
	for row := 0; row < size; row++ {
		src := (y+row)*p.Size + x
		dst := row * size
		copy(out.Pix[dst*3:(dst+size)*3], p.Pix[src*3:(src+size)*3])
		copy(out.Valid[dst:dst+size], p.Valid[src:src+size])
		for i := dst; i < dst+size; i++ {
			if out.Valid[i] {
				valid++
			}
		}
	}
	out.Coverage = float64(valid) / float64(size*size)
	return out
}

func centerCrop(p *raster.Patch, size int) *raster.Patch {
	if size >= p.Size {
		return p
	}
	off := p.Size/2 - size/2
	return crop(p, off, off, size)
}
