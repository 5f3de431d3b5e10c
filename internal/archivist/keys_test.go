// Copyright 2025 James Ross
package archivist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAIVersionKeyLayout(t *testing.T) {
	require.Equal(t, "tenant-t1/batch-b1/asset-a1/ai/ai.jpg", aiVersionKey("t1", "b1", "a1"))
}

func TestViewingKeyLayout(t *testing.T) {
	require.Equal(t, "tenant-t1/batch-b1/asset-a1/viewing/viewing.jpg", viewingKey("t1", "b1", "a1"))
}
