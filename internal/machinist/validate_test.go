// Copyright 2025 James Ross
package machinist

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/archivault/workers/internal/config"
)

func encodeTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestValidateBufferRejectsEmpty(t *testing.T) {
	_, err := validateBuffer(nil)
	require.Error(t, err)
	var umErr *apperrors.UnsupportedMediaError
	require.ErrorAs(t, err, &umErr)
}

func TestValidateBufferRejectsUnknownMagicBytes(t *testing.T) {
	_, err := validateBuffer([]byte("not an image"))
	require.Error(t, err)
}

func TestValidateBufferDetectsJPEG(t *testing.T) {
	format, err := validateBuffer(encodeTestJPEG(t, 10, 10))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
}

func TestValidateBufferDetectsPNGMagicBytes(t *testing.T) {
	pngData := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 20)...)
	format, err := validateBuffer(pngData)
	require.NoError(t, err)
	require.Equal(t, "png", format)
}

func TestValidateBufferDetectsLittleEndianTIFF(t *testing.T) {
	tiffData := append([]byte{0x49, 0x49, 0x2A, 0x00}, make([]byte, 20)...)
	format, err := validateBuffer(tiffData)
	require.NoError(t, err)
	require.Equal(t, "tiff", format)
}

func TestReadImageMetaRejectsBelowMinimum(t *testing.T) {
	data := encodeTestJPEG(t, 50, 50)
	_, err := readImageMeta(data, "jpeg", config.MachinistConfig{MinWidth: 300, MinHeight: 300, MaxWidth: 12000, MaxHeight: 12000})
	require.Error(t, err)
}

func TestReadImageMetaRejectsAboveMaximum(t *testing.T) {
	data := encodeTestJPEG(t, 400, 400)
	_, err := readImageMeta(data, "jpeg", config.MachinistConfig{MinWidth: 300, MinHeight: 300, MaxWidth: 350, MaxHeight: 350})
	require.Error(t, err)
}

func TestReadImageMetaEnforcesSharpMaxPixels(t *testing.T) {
	data := encodeTestJPEG(t, 400, 400)
	_, err := readImageMeta(data, "jpeg", config.MachinistConfig{
		MinWidth: 1, MinHeight: 1, MaxWidth: 12000, MaxHeight: 12000,
		SharpMaxPixels: 1000,
	})
	require.Error(t, err)
}

func TestReadImageMetaAcceptsWithinBounds(t *testing.T) {
	data := encodeTestJPEG(t, 400, 400)
	meta, err := readImageMeta(data, "jpeg", config.MachinistConfig{MinWidth: 300, MinHeight: 300, MaxWidth: 12000, MaxHeight: 12000})
	require.NoError(t, err)
	require.Equal(t, 400, meta.Width)
	require.Equal(t, 400, meta.Height)
}

func TestReadImageMetaSkipsDimensionGatesForTIFF(t *testing.T) {
	meta, err := readImageMeta([]byte{0x49, 0x49, 0x2A, 0x00}, "tiff", config.MachinistConfig{MinWidth: 9000, MinHeight: 9000})
	require.NoError(t, err)
	require.Equal(t, 0, meta.Width)
}
