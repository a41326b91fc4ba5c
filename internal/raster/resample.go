package raster

// resample scales src to dstW x dstH with bilinear interpolation.
// Interpolation only weighs valid source pixels; a destination pixel with no
// valid contributor stays invalid. Identity sizes return src unchanged.
func resample(src *Buffer, dstW, dstH int) *Buffer {
	if src.Width == dstW && src.Height == dstH {
		return src
	}
	dst := NewBuffer(dstW, dstH)
	sx := float64(src.Width) / float64(dstW)
	sy := float64(src.Height) / float64(dstH)

	for y := 0; y < dstH; y++ {
		// Sample at pixel centers.
		fy := (float64(y)+0.5)*sy - 0.5
		y0 := int(fy)
		if fy < 0 {
			y0 = 0
			fy = 0
		}
		y1 := y0 + 1
		if y1 >= src.Height {
			y1 = src.Height - 1
		}
		wy := fy - float64(y0)

		for x := 0; x < dstW; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0 := int(fx)
			if fx < 0 {
				x0 = 0
				fx = 0
			}
			x1 := x0 + 1
			if x1 >= src.Width {
				x1 = src.Width - 1
			}
			wx := fx - float64(x0)

			var acc [3]float64
			var wsum float64
			sample := func(px, py int, w float64) {
				if w == 0 {
					return
				}
				r, g, b, ok := src.At(px, py)
				if !ok {
					return
				}
				acc[0] += float64(r) * w
				acc[1] += float64(g) * w
				acc[2] += float64(b) * w
				wsum += w
			}
			sample(x0, y0, (1-wx)*(1-wy))
			sample(x1, y0, wx*(1-wy))
			sample(x0, y1, (1-wx)*wy)
			sample(x1, y1, wx*wy)

			if wsum < 0.5 {
				continue // mostly nodata, leave invalid
			}
			dst.Set(x, y,
				clampU8(acc[0]/wsum),
				clampU8(acc[1]/wsum),
				clampU8(acc[2]/wsum))
		}
	}
	return dst
}

func clampU8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
