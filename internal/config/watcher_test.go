package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolConfigWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()
	changes := make(chan string, 8)

	w, err := NewToolConfigWatcher(dir, func(tool string) {
		changes <- tool
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "url_scraper.yaml"), []byte("timeout: 5\n"), 0644))

	select {
	case tool := <-changes:
		assert.Equal(t, "url_scraper", tool)
	case <-time.After(3 * time.Second):
		t.Fatal("change never reported")
	}
}

func TestToolConfigWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	changes := make(chan string, 8)

	w, err := NewToolConfigWatcher(dir, func(tool string) {
		changes <- tool
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0644))

	select {
	case tool := <-changes:
		t.Fatalf("unexpected change for %q", tool)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestToolConfigWatcherStopIdempotent(t *testing.T) {
	w, err := NewToolConfigWatcher(t.TempDir(), func(string) {}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())

	w.Stop()
	w.Stop()
}
