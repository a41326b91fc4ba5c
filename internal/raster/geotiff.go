package raster

import (
	"bytes"
	"compress/zlib"
	"container/list"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/canlilar/skai/internal/geo"
)

// GeoTIFF reads windows from a georeferenced TIFF without loading the whole
// image: blocks (tiles or strips) are fetched through an io.ReaderAt and
// decoded on demand, with a size-bounded LRU cache of decoded blocks.
//
// Supported: classic TIFF (little or big endian), 8-bit unsigned samples,
// 1, 3 or 4 samples per pixel, chunky planar layout, uncompressed or
// deflate (with optional horizontal-differencing predictor), georeferencing
// via ModelPixelScale + ModelTiepoint, CRS via the GeoTIFF key directory.
type GeoTIFF struct {
	r    io.ReaderAt
	meta Meta

	order       binary.ByteOrder
	compression uint16
	predictor   uint16
	spp         int // samples per pixel
	tiled       bool
	blockW      int
	blockH      int
	blocksX     int
	offsets     []int64
	counts      []int64
	nodata      *float64

	cache blockCache
}

// DefaultBlockCacheBytes bounds the per-handle decoded block cache.
const DefaultBlockCacheBytes = 64 << 20

// TIFF tags.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagPixelScale      = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

const (
	compressionNone       = 1
	compressionDeflate    = 8
	compressionDeflateOld = 32946
)

// GeoTIFF keys.
const (
	keyModelType     = 1024
	keyGeographicCRS = 2048
	keyProjectedCRS  = 3072
)

// OpenGeoTIFF parses the TIFF structure and georeferencing. The reader must
// remain valid for the lifetime of the handle and support concurrent ReadAt.
func OpenGeoTIFF(id string, r io.ReaderAt) (*GeoTIFF, error) {
	g := &GeoTIFF{r: r}
	g.cache.maxBytes = DefaultBlockCacheBytes
	if err := g.parse(id); err != nil {
		return nil, fmt.Errorf("raster %s: %w", id, err)
	}
	return g, nil
}

func (g *GeoTIFF) Meta() Meta { return g.meta }

func (g *GeoTIFF) Close() error {
	if c, ok := g.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// CheckWindowed verifies the file supports efficient windowed random access:
// either internally tiled, or stripped with short strips. Run this before
// starting a pipeline over a large raster.
func (g *GeoTIFF) CheckWindowed() error {
	if g.tiled {
		return nil
	}
	if g.blockH <= 1024 {
		return nil
	}
	return fmt.Errorf("raster %s: not suitable for windowed reads: stripped with %d rows per strip (retile the image or shrink strips)", g.meta.ID, g.blockH)
}

func (g *GeoTIFF) parse(id string) error {
	var hdr [8]byte
	if _, err := g.r.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	switch {
	case hdr[0] == 'I' && hdr[1] == 'I':
		g.order = binary.LittleEndian
	case hdr[0] == 'M' && hdr[1] == 'M':
		g.order = binary.BigEndian
	default:
		return fmt.Errorf("not a TIFF file")
	}
	if g.order.Uint16(hdr[2:4]) != 42 {
		return fmt.Errorf("unsupported TIFF variant (BigTIFF?)")
	}
	ifdOff := int64(g.order.Uint32(hdr[4:8]))

	fields, err := g.readIFD(ifdOff)
	if err != nil {
		return err
	}

	get := func(tag uint16) (ifdField, bool) { f, ok := fields[tag]; return f, ok }
	geti := func(tag uint16, def int) int {
		if f, ok := fields[tag]; ok && len(f.ints) > 0 {
			return int(f.ints[0])
		}
		return def
	}

	g.meta.ID = id
	g.meta.Width = geti(tagImageWidth, 0)
	g.meta.Height = geti(tagImageLength, 0)
	if g.meta.Width <= 0 || g.meta.Height <= 0 {
		return fmt.Errorf("missing image dimensions")
	}
	g.spp = geti(tagSamplesPerPixel, 1)
	if g.spp != 1 && g.spp != 3 && g.spp != 4 {
		return fmt.Errorf("unsupported samples per pixel %d", g.spp)
	}
	g.meta.Bands = g.spp
	if f, ok := get(tagBitsPerSample); ok {
		for _, b := range f.ints {
			if b != 8 {
				return fmt.Errorf("unsupported bits per sample %d (only 8-bit imagery)", b)
			}
		}
	}
	g.compression = uint16(geti(tagCompression, compressionNone))
	switch g.compression {
	case compressionNone, compressionDeflate, compressionDeflateOld:
	default:
		return fmt.Errorf("unsupported compression %d (only none or deflate)", g.compression)
	}
	if pc := geti(tagPlanarConfig, 1); pc != 1 {
		return fmt.Errorf("unsupported planar configuration %d", pc)
	}
	g.predictor = uint16(geti(tagPredictor, 1))
	if g.predictor != 1 && g.predictor != 2 {
		return fmt.Errorf("unsupported predictor %d", g.predictor)
	}

	if f, ok := get(tagTileOffsets); ok {
		g.tiled = true
		g.blockW = geti(tagTileWidth, 0)
		g.blockH = geti(tagTileLength, 0)
		if g.blockW <= 0 || g.blockH <= 0 {
			return fmt.Errorf("tiled image missing tile dimensions")
		}
		g.offsets = f.ints
		if c, ok := get(tagTileByteCounts); ok {
			g.counts = c.ints
		}
	} else if f, ok := get(tagStripOffsets); ok {
		g.blockW = g.meta.Width
		g.blockH = geti(tagRowsPerStrip, g.meta.Height)
		g.offsets = f.ints
		if c, ok := get(tagStripByteCounts); ok {
			g.counts = c.ints
		}
	} else {
		return fmt.Errorf("image has neither tiles nor strips")
	}
	if len(g.counts) != len(g.offsets) {
		return fmt.Errorf("block offset/count mismatch: %d vs %d", len(g.offsets), len(g.counts))
	}
	g.blocksX = (g.meta.Width + g.blockW - 1) / g.blockW
	blocksY := (g.meta.Height + g.blockH - 1) / g.blockH
	if want := g.blocksX * blocksY; len(g.offsets) < want {
		return fmt.Errorf("expected %d blocks, file lists %d", want, len(g.offsets))
	}

	if err := g.parseGeo(fields); err != nil {
		return err
	}

	if f, ok := get(tagGDALNoData); ok {
		s := strings.TrimRight(strings.TrimSpace(f.ascii), "\x00")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			g.nodata = &v
		}
	}
	return nil
}

func (g *GeoTIFF) parseGeo(fields map[uint16]ifdField) error {
	scale, okS := fields[tagPixelScale]
	tie, okT := fields[tagModelTiepoint]
	if !okS || !okT || len(scale.floats) < 2 || len(tie.floats) < 6 {
		return fmt.Errorf("missing georeferencing (ModelPixelScale/ModelTiepoint)")
	}
	g.meta.PixelWidth = scale.floats[0]
	g.meta.PixelHeight = scale.floats[1]
	if g.meta.PixelWidth <= 0 || g.meta.PixelHeight <= 0 {
		return fmt.Errorf("invalid pixel scale %v", scale.floats[:2])
	}
	// Tiepoint maps raster point (i,j) to model point (x,y).
	i, j := tie.floats[0], tie.floats[1]
	x, y := tie.floats[3], tie.floats[4]
	g.meta.OriginX = x - i*g.meta.PixelWidth
	g.meta.OriginY = y + j*g.meta.PixelHeight

	dir, ok := fields[tagGeoKeyDirectory]
	if !ok || len(dir.ints) < 4 {
		return fmt.Errorf("missing GeoTIFF key directory")
	}
	keys := dir.ints
	numKeys := int(keys[3])
	var modelType, geoCRS, projCRS int
	for k := 0; k < numKeys; k++ {
		base := 4 + k*4
		if base+3 >= len(keys) {
			break
		}
		keyID := keys[base]
		loc := keys[base+1]
		val := keys[base+3]
		if loc != 0 {
			continue // value stored in another tag; none of our keys need that
		}
		switch keyID {
		case keyModelType:
			modelType = int(val)
		case keyGeographicCRS:
			geoCRS = int(val)
		case keyProjectedCRS:
			projCRS = int(val)
		}
	}
	switch modelType {
	case 1: // projected
		g.meta.CRS = geo.CRS(projCRS)
	case 2: // geographic
		g.meta.CRS = geo.CRS(geoCRS)
	default:
		return fmt.Errorf("unsupported GeoTIFF model type %d", modelType)
	}
	if !g.meta.CRS.Supported() {
		return fmt.Errorf("unsupported CRS %s", g.meta.CRS)
	}
	return nil
}

type ifdField struct {
	ints   []int64
	floats []float64
	ascii  string
}

func (g *GeoTIFF) readIFD(off int64) (map[uint16]ifdField, error) {
	var nb [2]byte
	if _, err := g.r.ReadAt(nb[:], off); err != nil {
		return nil, fmt.Errorf("read IFD: %w", err)
	}
	n := int(g.order.Uint16(nb[:]))
	raw := make([]byte, n*12)
	if _, err := g.r.ReadAt(raw, off+2); err != nil {
		return nil, fmt.Errorf("read IFD entries: %w", err)
	}

	fields := make(map[uint16]ifdField, n)
	for e := 0; e < n; e++ {
		ent := raw[e*12 : e*12+12]
		tag := g.order.Uint16(ent[0:2])
		typ := g.order.Uint16(ent[2:4])
		count := int64(g.order.Uint32(ent[4:8]))

		size := typeSize(typ)
		if size == 0 || count <= 0 {
			continue
		}
		total := size * count
		var data []byte
		if total <= 4 {
			data = ent[8 : 8+total]
		} else {
			valOff := int64(g.order.Uint32(ent[8:12]))
			data = make([]byte, total)
			if _, err := g.r.ReadAt(data, valOff); err != nil {
				return nil, fmt.Errorf("read tag %d values: %w", tag, err)
			}
		}
		fields[tag] = g.decodeField(typ, count, data)
	}
	return fields, nil
}

func typeSize(typ uint16) int64 {
	switch typ {
	case 1, 2, 6, 7: // byte, ascii, sbyte, undefined
		return 1
	case 3, 8: // short
		return 2
	case 4, 9, 11: // long, slong, float
		return 4
	case 5, 10, 12: // rational, srational, double
		return 8
	default:
		return 0
	}
}

func (g *GeoTIFF) decodeField(typ uint16, count int64, data []byte) ifdField {
	var f ifdField
	switch typ {
	case 2:
		f.ascii = string(data)
	case 1, 6, 7:
		for i := int64(0); i < count; i++ {
			f.ints = append(f.ints, int64(data[i]))
		}
	case 3:
		for i := int64(0); i < count; i++ {
			f.ints = append(f.ints, int64(g.order.Uint16(data[i*2:])))
		}
	case 4:
		for i := int64(0); i < count; i++ {
			f.ints = append(f.ints, int64(g.order.Uint32(data[i*4:])))
		}
	case 12:
		for i := int64(0); i < count; i++ {
			bits := g.order.Uint64(data[i*8:])
			f.floats = append(f.floats, math.Float64frombits(bits))
		}
	case 5:
		for i := int64(0); i < count; i++ {
			num := g.order.Uint32(data[i*8:])
			den := g.order.Uint32(data[i*8+4:])
			if den != 0 {
				f.floats = append(f.floats, float64(num)/float64(den))
			}
		}
	}
	return f
}

// ReadWindow implements Source. The read is boundless; pixels outside the
// extent or equal to the nodata value in all bands come back invalid.
func (g *GeoTIFF) ReadWindow(ctx context.Context, w Window) (*Buffer, error) {
	buf := NewBuffer(w.Width, w.Height)

	x0 := max(w.Col, 0)
	y0 := max(w.Row, 0)
	x1 := min(w.Col+w.Width, g.meta.Width)
	y1 := min(w.Row+w.Height, g.meta.Height)
	if x0 >= x1 || y0 >= y1 {
		return buf, nil // fully outside extent
	}

	var nd uint8
	hasND := false
	if g.nodata != nil && *g.nodata >= 0 && *g.nodata <= 255 {
		nd = uint8(*g.nodata)
		hasND = true
	}

	for by := y0 / g.blockH; by <= (y1-1)/g.blockH; by++ {
		for bx := x0 / g.blockW; bx <= (x1-1)/g.blockW; bx++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			block, err := g.block(bx, by)
			if err != nil {
				return nil, err
			}
			// Intersection of this block with the requested window.
			bxs := bx * g.blockW
			bys := by * g.blockH
			cx0 := max(x0, bxs)
			cy0 := max(y0, bys)
			cx1 := min(x1, bxs+g.blockW)
			cy1 := min(y1, bys+g.blockH)
			for y := cy0; y < cy1; y++ {
				for x := cx0; x < cx1; x++ {
					si := ((y-bys)*g.blockW + (x - bxs)) * g.spp
					var r, gr, b uint8
					switch g.spp {
					case 1:
						r, gr, b = block[si], block[si], block[si]
					default:
						r, gr, b = block[si], block[si+1], block[si+2]
					}
					if hasND && r == nd && gr == nd && b == nd {
						continue
					}
					buf.Set(x-w.Col, y-w.Row, r, gr, b)
				}
			}
		}
	}
	return buf, nil
}

// block returns the decoded pixel data for block (bx, by), from cache when
// possible. The returned slice is blockW*blockH*spp bytes; short edge strips
// are zero-padded to full block size.
func (g *GeoTIFF) block(bx, by int) ([]uint8, error) {
	idx := by*g.blocksX + bx
	if data, ok := g.cache.get(idx); ok {
		return data, nil
	}

	raw := make([]byte, g.counts[idx])
	if _, err := g.r.ReadAt(raw, g.offsets[idx]); err != nil {
		return nil, fmt.Errorf("raster %s: read block %d: %w", g.meta.ID, idx, err)
	}

	var decoded []byte
	switch g.compression {
	case compressionNone:
		decoded = raw
	default:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("raster %s: block %d: %w", g.meta.ID, idx, err)
		}
		decoded, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("raster %s: block %d: %w", g.meta.ID, idx, err)
		}
	}

	full := g.blockW * g.blockH * g.spp
	if len(decoded) < full {
		padded := make([]byte, full)
		copy(padded, decoded)
		decoded = padded
	}
	if g.predictor == 2 {
		g.undoPredictor(decoded)
	}

	g.cache.put(idx, decoded)
	return decoded, nil
}

// undoPredictor reverses horizontal differencing in place.
func (g *GeoTIFF) undoPredictor(data []byte) {
	rowBytes := g.blockW * g.spp
	for row := 0; row+rowBytes <= len(data); row += rowBytes {
		for i := g.spp; i < rowBytes; i++ {
			data[row+i] += data[row+i-g.spp]
		}
	}
}

// blockCache is a byte-bounded LRU of decoded blocks. Reads are shared
// across workers, so access is mutex-guarded.
type blockCache struct {
	mu       sync.Mutex
	maxBytes int
	curBytes int
	order    *list.List // front = most recent; values are cacheEntry
	entries  map[int]*list.Element
}

type cacheEntry struct {
	idx  int
	data []byte
}

func (c *blockCache) get(idx int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[idx]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(cacheEntry).data, true
}

func (c *blockCache) put(idx int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[int]*list.Element)
		c.order = list.New()
	}
	if _, ok := c.entries[idx]; ok {
		return
	}
	c.entries[idx] = c.order.PushFront(cacheEntry{idx: idx, data: data})
	c.curBytes += len(data)
	for c.curBytes > c.maxBytes && c.order.Len() > 1 {
		el := c.order.Back()
		ent := el.Value.(cacheEntry)
		c.order.Remove(el)
		delete(c.entries, ent.idx)
		c.curBytes -= len(ent.data)
	}
}
