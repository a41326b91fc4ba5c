package raster

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/canlilar/skai/internal/geo"
	"github.com/paulmach/orb"
)

// Patch is a fixed-size image window extracted over a geographic footprint.
type Patch struct {
	Size      int
	Pix       []uint8 // RGB interleaved, Size*Size*3
	Valid     []bool  // per pixel
	Coverage  float64 // fraction of pixels with data; 0 means fully outside
	Center    orb.Point
	Footprint orb.Bound // WGS84 bound of the footprint
}

// Image converts the patch to an image.Image. Invalid pixels render black.
func (p *Patch) Image() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, p.Size, p.Size))
	for i := 0; i < p.Size*p.Size; i++ {
		img.Pix[i*4] = p.Pix[i*3]
		img.Pix[i*4+1] = p.Pix[i*3+1]
		img.Pix[i*4+2] = p.Pix[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img
}

// Gray returns the patch as 8-bit luma, used by template alignment.
func (p *Patch) Gray() []uint8 {
	out := make([]uint8, p.Size*p.Size)
	for i := range out {
		r := float64(p.Pix[i*3])
		g := float64(p.Pix[i*3+1])
		b := float64(p.Pix[i*3+2])
		out[i] = uint8(0.299*r + 0.587*g + 0.114*b)
	}
	return out
}

// BlankFraction is the fraction of pixels that carry no information: either
// invalid (outside extent, nodata) or zero in every channel.
func (p *Patch) BlankFraction() float64 {
	if p.Size == 0 {
		return 0
	}
	blank := 0
	for i := 0; i < p.Size*p.Size; i++ {
		if !p.Valid[i] || (p.Pix[i*3] == 0 && p.Pix[i*3+1] == 0 && p.Pix[i*3+2] == 0) {
			blank++
		}
	}
	return float64(blank) / float64(p.Size*p.Size)
}

// Reader resolves geographic footprints against one raster source. It caches
// the source metadata and derived resolution so repeated patch reads do not
// re-probe the file. Safe for concurrent use.
type Reader struct {
	src        Source
	meta       Meta
	resolution float64 // native ground resolution, m/pixel
}

// NewReader probes the source once and validates its georeferencing.
func NewReader(src Source) (*Reader, error) {
	meta := src.Meta()
	if !meta.CRS.Supported() {
		return nil, fmt.Errorf("raster %s: unsupported CRS %s", meta.ID, meta.CRS)
	}
	res, err := meta.ResolutionMeters()
	if err != nil {
		return nil, err
	}
	return &Reader{src: src, meta: meta, resolution: res}, nil
}

// Meta returns the cached source metadata.
func (r *Reader) Meta() Meta { return r.meta }

// ResolutionMeters returns the cached native ground resolution.
func (r *Reader) ResolutionMeters() float64 { return r.resolution }

// PatchAt reads a sizePx x sizePx patch centered on a WGS84 lon/lat point at
// the requested output resolution (m/pixel), reprojecting the center into
// the raster's CRS and resampling from the native grid. A footprint partially
// or fully outside the extent yields reduced or zero Coverage, not an error.
func (r *Reader) PatchAt(ctx context.Context, center orb.Point, sizePx int, resolution float64) (*Patch, error) {
	if sizePx <= 0 || resolution <= 0 {
		return nil, fmt.Errorf("raster %s: invalid patch request size=%d resolution=%g", r.meta.ID, sizePx, resolution)
	}
	x, y, err := geo.Forward(r.meta.CRS, center)
	if err != nil {
		return nil, err
	}
	col, row := r.meta.Index(x, y)

	scale := resolution / r.resolution
	inputSize := int(math.Round(float64(sizePx) * scale))
	if inputSize < 1 {
		inputSize = 1
	}
	half := inputSize / 2

	buf, err := r.src.ReadWindow(ctx, Window{
		Col:    col - half,
		Row:    row - half,
		Width:  inputSize,
		Height: inputSize,
	})
	if err != nil {
		return nil, fmt.Errorf("raster %s: window read: %w", r.meta.ID, err)
	}
	buf = resample(buf, sizePx, sizePx)

	return &Patch{
		Size:      sizePx,
		Pix:       buf.Pix,
		Valid:     buf.Valid,
		Coverage:  buf.ValidFraction(),
		Center:    center,
		Footprint: geo.BoundAround(center, float64(sizePx)*resolution),
	}, nil
}
