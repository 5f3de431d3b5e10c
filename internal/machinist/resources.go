// Copyright 2025 James Ross
package machinist

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/archivault/workers/internal/apperrors"
)

// checkInputSize enforces step 2's upper bound: an origin buffer larger
// than maxBytes is refused outright rather than decoded, since the
// sharp/imaging pipeline's memory footprint scales with input size.
func checkInputSize(data []byte, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = 120 << 20
	}
	if int64(len(data)) > maxBytes {
		return apperrors.NewResource("FILE_TOO_LARGE",
			fmt.Sprintf("input is %d bytes, exceeding the %d byte limit", len(data), maxBytes))
	}
	return nil
}

// checkMemoryGuard refuses the job outright when the host is low on free
// memory, per spec.md §5, rather than letting the sharp/imaging decode
// path run the box out of memory mid-derivative. Free memory is read from
// /proc/meminfo's MemAvailable field; on platforms without procfs (non-
// Linux dev machines) the guard fail-opens and logs nothing, since there's
// no portable stdlib-only way to read it there and this module carries no
// OS-metrics dependency (the pack has none either, see DESIGN.md).
func checkMemoryGuard(minFreeMemoryMB int64) error {
	if minFreeMemoryMB <= 0 {
		return nil
	}
	availableMB, ok := readMemAvailableMB()
	if !ok {
		return nil
	}
	if availableMB < minFreeMemoryMB {
		return apperrors.NewResource("INSUFFICIENT_MEMORY",
			fmt.Sprintf("%d MiB free, below the %d MiB minimum", availableMB, minFreeMemoryMB))
	}
	return nil
}

func readMemAvailableMB() (int64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb / 1024, true
	}
	return 0, false
}
