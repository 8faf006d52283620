package fitswriter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPath_firstCandidateWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	p, err := NextPath(dir, "image", ".fits")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "image.fits"), p)
}

func TestNextPath_suffixesOnCollision(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.fits"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image-1.fits"), nil, 0o644))

	p, err := NextPath(dir, "image", ".fits")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "image-2.fits"), p)
}

func TestTimestamp_formatsStartTime(t *testing.T) {
	ts := time.Date(2026, 7, 31, 13, 5, 9, 0, time.UTC)
	assert.Equal(t, "20260731130509", Timestamp(ts))
}

func TestDayDir_formatsStartTime(t *testing.T) {
	ts := time.Date(2026, 7, 31, 13, 5, 9, 0, time.UTC)
	assert.Equal(t, "20260731", DayDir(ts))
}
