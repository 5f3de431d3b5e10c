// Copyright 2025 James Ross
package machinist

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildTestExifJPEG assembles a minimal valid JPEG byte stream carrying a
// single-IFD Exif APP1 segment with an inline SHORT (Orientation) and an
// out-of-line ASCII (Make) tag, exercising both asciiValue code paths.
func buildTestExifJPEG(t *testing.T) []byte {
	t.Helper()
	order := binary.LittleEndian

	var tiff bytes.Buffer
	tiff.WriteString("II")
	binary.Write(&tiff, order, uint16(42))
	binary.Write(&tiff, order, uint32(8)) // IFD0 offset

	const numEntries = 2
	ifdStart := tiff.Len()
	require.Equal(t, 8, ifdStart)

	binary.Write(&tiff, order, uint16(numEntries))

	asciiDataOffset := uint32(ifdStart + 2 + numEntries*12 + 4)

	// Entry 1: Orientation (SHORT, inline value 6).
	binary.Write(&tiff, order, uint16(tagOrientation))
	binary.Write(&tiff, order, uint16(3)) // SHORT
	binary.Write(&tiff, order, uint32(1)) // count
	binary.Write(&tiff, order, uint16(6))
	binary.Write(&tiff, order, uint16(0)) // pad to 4 bytes

	// Entry 2: Make (ASCII, out-of-line).
	makeValue := "Acme\x00"
	binary.Write(&tiff, order, uint16(tagMake))
	binary.Write(&tiff, order, uint16(2))                    // ASCII
	binary.Write(&tiff, order, uint32(len(makeValue)))       // count
	binary.Write(&tiff, order, asciiDataOffset)              // offset

	binary.Write(&tiff, order, uint32(0)) // next IFD offset
	tiff.WriteString(makeValue)

	var payload bytes.Buffer
	payload.WriteString("Exif\x00\x00")
	payload.Write(tiff.Bytes())

	var jpg bytes.Buffer
	jpg.Write([]byte{0xFF, 0xD8})             // SOI
	jpg.Write([]byte{0xFF, 0xE1})             // APP1
	binary.Write(&jpg, binary.BigEndian, uint16(payload.Len()+2))
	jpg.Write(payload.Bytes())
	jpg.Write([]byte{0xFF, 0xD9}) // EOI

	return jpg.Bytes()
}

func TestExtractEXIFReadsOrientationAndMake(t *testing.T) {
	data := buildTestExifJPEG(t)
	g := extractEXIF(data, "jpeg")
	require.NotNil(t, g.Camera)
	require.Equal(t, 6, g.Camera["orientation"])
	require.Equal(t, "Acme", g.Camera["make"])
}

func TestExtractEXIFReturnsEmptyForNonJPEG(t *testing.T) {
	g := extractEXIF([]byte{0x89, 0x50, 0x4E, 0x47}, "png")
	require.Nil(t, g.Camera)
	require.Nil(t, g.Identity)
}

func TestExtractEXIFReturnsEmptyWhenNoAPP1Segment(t *testing.T) {
	plain := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	g := extractEXIF(plain, "jpeg")
	require.Nil(t, g.Camera)
}

func TestFindAPP1ExifLocatesTIFFPayload(t *testing.T) {
	data := buildTestExifJPEG(t)
	tiff := findAPP1Exif(data)
	require.NotNil(t, tiff)
	require.True(t, bytes.HasPrefix(tiff, []byte("II")))
}
