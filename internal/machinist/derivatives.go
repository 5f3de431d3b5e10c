// Copyright 2025 James Ross
package machinist

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/disintegration/imaging"

	"github.com/archivault/workers/internal/apperrors"
)

// derivative is one encoded output of the pipeline's generation step,
// ready for upload and an asset_versions upsert.
type derivative struct {
	Variant string // viewing, ai, thumb-small, thumb-medium, thumb-large
	Type    string // derivative type recorded on the asset_versions row
	Data    []byte
	Width   int
	Height  int
}

const (
	viewingMaxWidth  = 2000
	viewingJPEGQ     = 85
	aiCanvasSize     = 768
	aiJPEGQ          = 80
	thumbJPEGQ       = 80
)

var thumbnailWidths = map[string]int{
	"thumb-small":  200,
	"thumb-medium": 400,
	"thumb-large":  800,
}

// decodeSource decodes the original buffer, applying embedded EXIF
// orientation so every derivative inherits the corrected rotation.
func decodeSource(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.Wrap("machinist.decode", err)
	}
	return img, nil
}

// buildViewing produces step 7's "viewing" derivative: max 2000px wide,
// JPEG q85, orientation already applied by decodeSource.
func buildViewing(src image.Image) (derivative, error) {
	resized := src
	if src.Bounds().Dx() > viewingMaxWidth {
		resized = imaging.Resize(src, viewingMaxWidth, 0, imaging.Lanczos)
	}
	data, err := encodeJPEG(resized, viewingJPEGQ)
	if err != nil {
		return derivative{}, err
	}
	b := resized.Bounds()
	return derivative{Variant: "viewing", Type: "viewing", Data: data, Width: b.Dx(), Height: b.Dy()}, nil
}

// buildAI produces step 7's "ai" derivative: letterboxed onto a
// 768x768 white canvas, JPEG q80.
func buildAI(src image.Image) (derivative, error) {
	fitted := imaging.Fit(src, aiCanvasSize, aiCanvasSize, imaging.Lanczos)
	canvas := imaging.New(aiCanvasSize, aiCanvasSize, color.White)
	offsetX := (aiCanvasSize - fitted.Bounds().Dx()) / 2
	offsetY := (aiCanvasSize - fitted.Bounds().Dy()) / 2
	composed := imaging.Paste(canvas, fitted, image.Pt(offsetX, offsetY))

	data, err := encodeJPEG(composed, aiJPEGQ)
	if err != nil {
		return derivative{}, err
	}
	return derivative{Variant: "ai", Type: "ai", Data: data, Width: aiCanvasSize, Height: aiCanvasSize}, nil
}

// buildThumbnails produces step 7's three thumbnails at widths 200/400/800,
// JPEG q80. All three are produced even for a source narrower than a
// target width; such a thumbnail is upscaled.
func buildThumbnails(src image.Image) ([]derivative, error) {
	var out []derivative
	for _, variant := range []string{"thumb-small", "thumb-medium", "thumb-large"} {
		width := thumbnailWidths[variant]
		resized := imaging.Resize(src, width, 0, imaging.Lanczos)
		data, err := encodeJPEG(resized, thumbJPEGQ)
		if err != nil {
			return out, err
		}
		b := resized.Bounds()
		out = append(out, derivative{Variant: variant, Type: "thumbnail", Data: data, Width: b.Dx(), Height: b.Dy()})
	}
	return out, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, apperrors.Wrap("machinist.encode", err)
	}
	return buf.Bytes(), nil
}

// derivativeFilename maps a variant name to its canonical kebab-case
// filename under the derivative's purpose directory, per spec.md §6.
func derivativeFilename(variant string) string {
	return variant + ".jpg"
}
