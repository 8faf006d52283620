package acf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_firesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nirc2.acf")
	require.NoError(t, os.WriteFile(path, []byte("[CONFIG]\n"), 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[CONFIG]\nFOO=1\n"), 0o644))

	select {
	case <-w.Changed:
	case err := <-w.Errors:
		t.Fatalf("watcher error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}
