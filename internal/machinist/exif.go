// Copyright 2025 James Ross
package machinist

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// exifTag is one parsed IFD0 entry, keyed by its raw tag ID.
type exifTag struct {
	id     uint16
	format uint16
	count  uint32
	value  []byte
	order  binary.ByteOrder
}

// exifGroups holds the normalized EXIF document: fields bucketed the way
// spec.md §4.6 step 5 requires, nulls dropped.
type exifGroups struct {
	Identity map[string]interface{} `json:"identity,omitempty"`
	Capture  map[string]interface{} `json:"capture,omitempty"`
	Camera   map[string]interface{} `json:"camera,omitempty"`
	Exposure map[string]interface{} `json:"exposure,omitempty"`
	Image    map[string]interface{} `json:"image,omitempty"`
	Software map[string]interface{} `json:"software,omitempty"`
	File     map[string]interface{} `json:"file,omitempty"`
}

// Well-known EXIF/TIFF tag IDs this extractor recognizes. The pack carries
// no EXIF parsing library, so this reads the raw APP1 Exif segment
// directly rather than shelling out to one.
const (
	tagMake        = 0x010F
	tagModel       = 0x0110
	tagOrientation = 0x0112
	tagSoftware    = 0x0131
	tagDateTime    = 0x0132
)

// extractEXIF reads the JPEG APP1 Exif segment from data and normalizes it
// into exifGroups. Returns an empty exifGroups (no error) for formats or
// buffers without a usable Exif segment, matching step 5's "extractor not
// available" fallback.
func extractEXIF(data []byte, format string) exifGroups {
	if format != "jpeg" {
		return exifGroups{}
	}
	tiff := findAPP1Exif(data)
	if tiff == nil {
		return exifGroups{}
	}
	tags, err := parseIFD0(tiff)
	if err != nil {
		return exifGroups{}
	}
	return normalizeEXIF(tags, tiff)
}

// findAPP1Exif scans JPEG markers for the first APP1 segment carrying an
// "Exif\0\0" header and returns the TIFF payload that follows it.
func findAPP1Exif(data []byte) []byte {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil
	}
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			i++
			continue
		}
		marker := data[i+1]
		if marker == 0xD8 || marker == 0xD9 || (marker >= 0xD0 && marker <= 0xD7) {
			i += 2
			continue
		}
		if i+4 > len(data) {
			break
		}
		segLen := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if segLen < 2 || i+2+segLen > len(data) {
			break
		}
		payload := data[i+4 : i+2+segLen]
		if marker == 0xE1 && bytes.HasPrefix(payload, []byte("Exif\x00\x00")) {
			return payload[6:]
		}
		if marker == 0xDA { // start-of-scan: no more markers worth scanning
			break
		}
		i += 2 + segLen
	}
	return nil
}

// parseIFD0 parses the TIFF header and IFD0 directory of an Exif payload.
func parseIFD0(tiff []byte) ([]exifTag, error) {
	if len(tiff) < 8 {
		return nil, fmt.Errorf("exif: short TIFF header")
	}
	var order binary.ByteOrder
	switch {
	case bytes.HasPrefix(tiff, []byte("II")):
		order = binary.LittleEndian
	case bytes.HasPrefix(tiff, []byte("MM")):
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("exif: unrecognized byte order")
	}

	ifdOffset := order.Uint32(tiff[4:8])
	if int(ifdOffset)+2 > len(tiff) {
		return nil, fmt.Errorf("exif: IFD0 offset out of range")
	}

	count := int(order.Uint16(tiff[ifdOffset : ifdOffset+2]))
	entryStart := int(ifdOffset) + 2
	var tags []exifTag
	for e := 0; e < count; e++ {
		off := entryStart + e*12
		if off+12 > len(tiff) {
			break
		}
		entry := tiff[off : off+12]
		tags = append(tags, exifTag{
			id:     order.Uint16(entry[0:2]),
			format: order.Uint16(entry[2:4]),
			count:  order.Uint32(entry[4:8]),
			value:  entry[8:12],
			order:  order,
		})
	}
	return tags, nil
}

// asciiValue reads an inline or out-of-line ASCII value. Real files almost
// always store Make/Model/Software/DateTime out-of-line (count > 4), so
// this resolves the offset into tiff.
func (t exifTag) asciiValue(tiff []byte) string {
	if t.format != 2 { // ASCII
		return ""
	}
	if t.count <= 4 {
		return trimNulBytes(t.value[:t.count])
	}
	offset := t.order.Uint32(t.value)
	if int(offset)+int(t.count) > len(tiff) {
		return ""
	}
	return trimNulBytes(tiff[offset : offset+t.count])
}

func trimNulBytes(b []byte) string {
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	return string(b)
}

func (t exifTag) shortValue() int {
	if t.format != 3 { // SHORT
		return 0
	}
	return int(t.order.Uint16(t.value[:2]))
}

// normalizeEXIF buckets recognized tags into the groups spec.md §4.6
// requires, dropping any group left empty.
func normalizeEXIF(tags []exifTag, tiff []byte) exifGroups {
	byID := make(map[uint16]exifTag, len(tags))
	for _, t := range tags {
		byID[t.id] = t
	}

	camera := map[string]interface{}{}
	software := map[string]interface{}{}
	capture := map[string]interface{}{}

	if t, ok := byID[tagMake]; ok {
		if v := t.asciiValue(tiff); v != "" {
			camera["make"] = v
		}
	}
	if t, ok := byID[tagModel]; ok {
		if v := t.asciiValue(tiff); v != "" {
			camera["model"] = v
		}
	}
	if t, ok := byID[tagOrientation]; ok {
		if v := t.shortValue(); v != 0 {
			camera["orientation"] = v
		}
	}
	if t, ok := byID[tagSoftware]; ok {
		if v := t.asciiValue(tiff); v != "" {
			software["name"] = v
		}
	}
	if t, ok := byID[tagDateTime]; ok {
		if v := t.asciiValue(tiff); v != "" {
			capture["datetime"] = v
		}
	}

	g := exifGroups{Camera: camera, Software: software, Capture: capture}
	dropEmpty(&g.Identity)
	dropEmpty(&g.Capture)
	dropEmpty(&g.Camera)
	dropEmpty(&g.Exposure)
	dropEmpty(&g.Image)
	dropEmpty(&g.Software)
	dropEmpty(&g.File)
	return g
}

func dropEmpty(m *map[string]interface{}) {
	if m != nil && len(*m) == 0 {
		*m = nil
	}
}
