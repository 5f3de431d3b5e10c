// Copyright 2025 James Ross
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLogAppendsJSONLineToDailyFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	ts := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	l.Log(Entry{Timestamp: ts, Event: "created", JobgroupID: "jg-1", TenantID: "tenant-a"})
	l.Log(Entry{Timestamp: ts, Event: "completed", JobgroupID: "jg-1", TenantID: "tenant-a", Details: map[string]interface{}{"processed": 10}})

	path := filepath.Join(dir, "jobgroup-2026-07-31.log")
	require.FileExists(t, path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines = append(lines, e)
	}
	require.Len(t, lines, 2)
	require.Equal(t, "created", lines[0].Event)
	require.Equal(t, "completed", lines[1].Event)
}

func TestLogStampsTimestampWhenZero(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	l.Log(Entry{Event: "created", JobgroupID: "jg-2"})

	today := time.Now().UTC().Format("2006-01-02")
	require.FileExists(t, filepath.Join(dir, "jobgroup-"+today+".log"))
}

func TestLogUsesSeparateFilesAcrossDays(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	day1 := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	l.Log(Entry{Timestamp: day1, Event: "created", JobgroupID: "jg-3"})
	l.Log(Entry{Timestamp: day2, Event: "created", JobgroupID: "jg-4"})

	require.FileExists(t, filepath.Join(dir, "jobgroup-2026-07-30.log"))
	require.FileExists(t, filepath.Join(dir, "jobgroup-2026-07-31.log"))
}

func TestNewCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "audit")
	_, err := New(dir, zap.NewNop())
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
