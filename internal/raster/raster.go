// Package raster provides windowed, coordinate-aware access to large
// georeferenced rasters. A Source exposes geo metadata and boundless pixel
// window reads; Reader turns a geographic footprint into an aligned,
// resampled patch.
package raster

import (
	"context"
	"fmt"

	"github.com/canlilar/skai/internal/geo"
	"github.com/paulmach/orb"
)

// Meta describes the georeferencing of a raster. Coordinates are in the
// raster's native CRS with a north-up grid: Origin is the outer corner of
// pixel (0,0), x grows east by PixelWidth per column and y shrinks south by
// PixelHeight per row.
type Meta struct {
	ID          string
	CRS         geo.CRS
	Width       int
	Height      int
	Bands       int
	PixelWidth  float64 // native units per pixel, x axis
	PixelHeight float64 // native units per pixel, y axis (positive)
	OriginX     float64
	OriginY     float64
}

// ResolutionMeters returns the ground resolution of one pixel in meters.
// The x and y resolutions must agree to within 0.01%.
func (m Meta) ResolutionMeters() (float64, error) {
	rx, ry := m.PixelWidth, m.PixelHeight
	if diff := rx - ry; diff > rx*1e-4 || diff < -rx*1e-4 {
		return 0, fmt.Errorf("raster %s: expecting identical x and y resolutions, got %g, %g", m.ID, rx, ry)
	}
	return rx * m.CRS.UnitInMeters(), nil
}

// Index converts native coordinates to the (col, row) of the containing
// pixel. The result may be outside [0,Width)x[0,Height).
func (m Meta) Index(x, y float64) (col, row int) {
	col = int((x - m.OriginX) / m.PixelWidth)
	row = int((m.OriginY - y) / m.PixelHeight)
	return col, row
}

// Bound returns the raster extent in native coordinates.
func (m Meta) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{m.OriginX, m.OriginY - float64(m.Height)*m.PixelHeight},
		Max: orb.Point{m.OriginX + float64(m.Width)*m.PixelWidth, m.OriginY},
	}
}

// Window is a pixel-space read request. It may extend partially or fully
// outside the raster extent; out-of-extent pixels come back invalid.
type Window struct {
	Col, Row      int
	Width, Height int
}

// Buffer holds interleaved RGB pixels plus a per-pixel validity mask.
// Pixels outside the raster extent or matching the nodata value are invalid.
type Buffer struct {
	Width  int
	Height int
	Pix    []uint8 // len Width*Height*3, RGB interleaved
	Valid  []bool  // len Width*Height
}

// NewBuffer allocates a zeroed, all-invalid buffer.
func NewBuffer(w, h int) *Buffer {
	return &Buffer{
		Width:  w,
		Height: h,
		Pix:    make([]uint8, w*h*3),
		Valid:  make([]bool, w*h),
	}
}

// At returns the RGB value and validity of pixel (x, y).
func (b *Buffer) At(x, y int) (r, g, bl uint8, ok bool) {
	i := y*b.Width + x
	return b.Pix[i*3], b.Pix[i*3+1], b.Pix[i*3+2], b.Valid[i]
}

// Set stores an RGB value and marks the pixel valid.
func (b *Buffer) Set(x, y int, r, g, bl uint8) {
	i := y*b.Width + x
	b.Pix[i*3], b.Pix[i*3+1], b.Pix[i*3+2] = r, g, bl
	b.Valid[i] = true
}

// ValidFraction returns the fraction of pixels carrying data.
func (b *Buffer) ValidFraction() float64 {
	if len(b.Valid) == 0 {
		return 0
	}
	n := 0
	for _, v := range b.Valid {
		if v {
			n++
		}
	}
	return float64(n) / float64(len(b.Valid))
}

// Source is a read-only raster. Implementations must be safe for concurrent
// reads; the pipeline shares one handle per raster across all workers.
type Source interface {
	Meta() Meta
	// ReadWindow performs a boundless read: the returned buffer always has
	// the requested dimensions, with pixels outside the extent invalid.
	ReadWindow(ctx context.Context, w Window) (*Buffer, error)
	Close() error
}
