// Copyright 2025 James Ross
package machinist

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/archivault/workers/internal/apperrors"
)

var zeroTime time.Time

// bundleWorkDir walks dir and writes a deterministic gzip'd tar archive:
// entries sorted by name, mode normalized, and mtimes zeroed so two runs
// over identical content produce byte-identical output (step 10).
func bundleWorkDir(dir string) ([]byte, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStore("bundle.walk", false, err)
	}
	sort.Strings(files)

	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, apperrors.NewStore("bundle.rel", false, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.NewStore("bundle.read", false, err)
		}
		hdr := &tar.Header{
			Name:     filepath.ToSlash(rel),
			Mode:     0o644,
			Size:     int64(len(data)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, apperrors.NewStore("bundle.header", false, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, apperrors.NewStore("bundle.write", false, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, apperrors.NewStore("bundle.close", false, err)
	}

	var gz bytes.Buffer
	zw, err := gzip.NewWriterLevel(&gz, gzip.BestCompression)
	if err != nil {
		return nil, apperrors.NewStore("bundle.gzip", false, err)
	}
	zw.ModTime = zeroTime
	zw.OS = 255 // "unknown", keeps the header portable across platforms
	if _, err := zw.Write(raw.Bytes()); err != nil {
		return nil, apperrors.NewStore("bundle.gzip_write", false, err)
	}
	if err := zw.Close(); err != nil {
		return nil, apperrors.NewStore("bundle.gzip_close", false, err)
	}

	return gz.Bytes(), nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func checkArchiveSize(data []byte, maxBytes int64) error {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return apperrors.NewValidation("ARCHIVE_TOO_LARGE", "preservation_bundle",
			fmt.Sprintf("bundle size %d exceeds the maximum %d bytes", len(data), maxBytes))
	}
	return nil
}
