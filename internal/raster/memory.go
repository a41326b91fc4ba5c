package raster

import (
	"context"
	"fmt"
)

// MemorySource is an in-memory raster, used in tests and for small imagery
// that fits comfortably in RAM.
type MemorySource struct {
	meta Meta
	pix  []uint8 // RGB interleaved, row-major
}

// NewMemorySource wraps interleaved RGB data. len(pix) must equal
// Width*Height*3.
func NewMemorySource(meta Meta, pix []uint8) (*MemorySource, error) {
	if meta.Bands == 0 {
		meta.Bands = 3
	}
	if want := meta.Width * meta.Height * 3; len(pix) != want {
		return nil, fmt.Errorf("raster %s: pixel buffer has %d bytes, want %d", meta.ID, len(pix), want)
	}
	return &MemorySource{meta: meta, pix: pix}, nil
}

func (s *MemorySource) Meta() Meta { return s.meta }

func (s *MemorySource) ReadWindow(ctx context.Context, w Window) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := NewBuffer(w.Width, w.Height)
	for y := 0; y < w.Height; y++ {
		sy := w.Row + y
		if sy < 0 || sy >= s.meta.Height {
			continue
		}
		for x := 0; x < w.Width; x++ {
			sx := w.Col + x
			if sx < 0 || sx >= s.meta.Width {
				continue
			}
			i := (sy*s.meta.Width + sx) * 3
			buf.Set(x, y, s.pix[i], s.pix[i+1], s.pix[i+2])
		}
	}
	return buf, nil
}

func (s *MemorySource) Close() error { return nil }
