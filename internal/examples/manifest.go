package examples

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"sort"

	"github.com/canlilar/skai/internal/blob"
)

// ManifestKey is where the labeling import manifest lands in the output
// store. Each row associates one labeling image with its example ID, so the
// labeling service's annotations can be joined back by key rather than by
// position.
const ManifestKey = "examples/labeling_images/manifest.csv"

// LabelingImageKey names the composite image exported for one example.
func LabelingImageKey(exampleID string) string {
	return fmt.Sprintf("examples/labeling_images/%s.png", exampleID)
}

// ManifestRow maps a labeling image to its example.
type ManifestRow struct {
	Image     string
	ExampleID string
}

// WriteManifest writes the labeling manifest CSV, sorted by example ID.
func WriteManifest(ctx context.Context, store blob.Store, rows []ManifestRow) error {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ExampleID < rows[j].ExampleID })
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"image", "example_id"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write([]string{row.Image, row.ExampleID}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := store.Put(ctx, ManifestKey, &buf); err != nil {
		return fmt.Errorf("failed to write labeling manifest: %w", err)
	}
	return nil
}

// CompositePNG renders the side-by-side before|after image shown to human
// labelers, with a thin divider between the halves.
func CompositePNG(before, after image.Image) ([]byte, error) {
	const divider = 4
	bb := before.Bounds()
	ab := after.Bounds()
	h := bb.Dy()
	if ab.Dy() > h {
		h = ab.Dy()
	}
	out := image.NewRGBA(image.Rect(0, 0, bb.Dx()+divider+ab.Dx(), h))
	// White background shows through the divider.
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(0, 0, bb.Dx(), bb.Dy()), before, bb.Min, draw.Src)
	draw.Draw(out, image.Rect(bb.Dx()+divider, 0, out.Bounds().Dx(), ab.Dy()), after, ab.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode labeling image: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG encodes a patch image for storage in a record.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode patch: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePNG decodes a stored patch.
func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode patch: %w", err)
	}
	return img, nil
}
