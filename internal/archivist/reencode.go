// Copyright 2025 James Ross
package archivist

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"

	"github.com/archivault/workers/internal/apperrors"
)

// reencodeToBudget decodes src and re-encodes it as JPEG, walking
// qualitySteps from highest to lowest until the result fits within
// maxBytes. Go's standard JPEG encoder only emits baseline streams; no
// library in this codebase's dependency set offers progressive encoding,
// so this step returns the first (highest-quality) baseline encoding
// that fits the budget. Returns an error if even the lowest quality step overflows
// the budget.
func reencodeToBudget(src []byte, qualitySteps []int, maxBytes int64) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.Wrap("archivist.decode", err)
	}

	steps := qualitySteps
	if len(steps) == 0 {
		steps = []int{85, 80, 70, 60, 50, 40}
	}

	var last []byte
	for _, q := range steps {
		encoded, err := encodeJPEGAtQuality(img, q)
		if err != nil {
			return nil, apperrors.Wrap("archivist.reencode", err)
		}
		last = encoded
		if maxBytes <= 0 || int64(len(encoded)) <= maxBytes {
			return encoded, nil
		}
	}
	return nil, apperrors.NewResource("IMAGE_TOO_LARGE_FOR_MODEL",
		fmt.Sprintf("re-encoded image is %d bytes, exceeds budget of %d at lowest quality step", len(last), maxBytes))
}

func encodeJPEGAtQuality(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// base64DataURL wraps encoded JPEG bytes in a data: URL, the shape a
// vision-capable chat-completions endpoint expects for inline images.
func base64DataURL(jpegBytes []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes)
}
