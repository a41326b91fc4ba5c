package patch

import "math"

// alignOffset finds where the template (the before patch, in grayscale) best
// matches inside the larger search image (the after patch read with a
// displacement margin). Both are square, row-major 8-bit luma. Returns the
// top-left offset of the best match, scored by normalized cross-correlation
// of mean-removed windows.
func alignOffset(template []uint8, tsize int, search []uint8, ssize int) (dx, dy int) {
	if ssize <= tsize {
		return 0, 0
	}
	var tmean float64
	for _, v := range template {
		tmean += float64(v)
	}
	tmean /= float64(len(template))
	tdev := make([]float64, len(template))
	var tnorm float64
	for i, v := range template {
		d := float64(v) - tmean
		tdev[i] = d
		tnorm += d * d
	}
	tnorm = math.Sqrt(tnorm)
	if tnorm == 0 {
		return 0, 0
	}

	best := math.Inf(-1)
	span := ssize - tsize
	for oy := 0; oy <= span; oy++ {
		for ox := 0; ox <= span; ox++ {
			score := nccAt(tdev, tnorm, tsize, search, ssize, ox, oy)
			if score > best {
				best = score
				dx, dy = ox, oy
			}
		}
	}
	return dx, dy
}

func nccAt(tdev []float64, tnorm float64, tsize int, search []uint8, ssize, ox, oy int) float64 {
	var smean float64
	for y := 0; y < tsize; y++ {
		row := (oy+y)*ssize + ox
		for x := 0; x < tsize; x++ {
			smean += float64(search[row+x])
		}
	}
	n := float64(tsize * tsize)
	smean /= n

	var dot, snorm float64
	for y := 0; y < tsize; y++ {
		row := (oy+y)*ssize + ox
		trow := y * tsize
		for x := 0; x < tsize; x++ {
			sd := float64(search[row+x]) - smean
			dot += tdev[trow+x] * sd
			snorm += sd * sd
		}
	}
	if snorm == 0 {
		return math.Inf(-1)
	}
	return dot / (tnorm * math.Sqrt(snorm))
}
