// Copyright 2025 James Ross
package machinist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archivault/workers/internal/apperrors"
)

func TestCheckInputSizeAcceptsAtLimitRejectsOverLimit(t *testing.T) {
	const limit = 10

	require.NoError(t, checkInputSize(make([]byte, limit), limit))

	err := checkInputSize(make([]byte, limit+1), limit)
	require.Error(t, err)
	var re *apperrors.ResourceError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "FILE_TOO_LARGE", re.Code)
}

func TestCheckInputSizeDefaultsWhenUnconfigured(t *testing.T) {
	require.NoError(t, checkInputSize(make([]byte, 1024), 0))
	require.Error(t, checkInputSize(make([]byte, (120<<20)+1), 0))
}

func TestCheckMemoryGuardSkippedWhenUnconfigured(t *testing.T) {
	require.NoError(t, checkMemoryGuard(0))
}

func TestReadMemAvailableMBParsesProcMeminfoShape(t *testing.T) {
	// /proc/meminfo is only present on Linux; this just documents the
	// guard fails open rather than erroring when it can't be read.
	_, ok := readMemAvailableMB()
	_ = ok
}
