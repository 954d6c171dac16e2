package assetpipe

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileWatcherInvalidatesCacheOnWrite(t *testing.T) {
	dir := t.TempDir()
	absPath := writeFile(t, dir, "app.js", "v1")

	cache, err := NewContentHashCache(16)
	if err != nil {
		t.Fatal(err)
	}
	stamp := time.Now()
	cache.Store(absPath, stamp, 2, "stale-hash")

	watcher, err := NewFileWatcher([]string{dir}, cache, NewLogger(false))
	if err != nil {
		t.Fatalf("NewFileWatcher: %v", err)
	}
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(absPath, []byte("v2 with different size"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-watcher.Rebuilds:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a rebuild signal after a watched file changed")
	}

	if _, ok := cache.Lookup(absPath, stamp, 2); ok {
		t.Error("the stale cache entry should have been invalidated")
	}
}

func TestFileWatcherTracksNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewContentHashCache(16)
	if err != nil {
		t.Fatal(err)
	}

	watcher, err := NewFileWatcher([]string{dir}, cache, NewLogger(false))
	if err != nil {
		t.Fatalf("NewFileWatcher: %v", err)
	}
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	sub := filepath.Join(dir, "newdir")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	nested := filepath.Join(sub, "f.js")
	if err := os.WriteFile(nested, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-watcher.Rebuilds:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a rebuild signal for a file created in a newly watched subdirectory")
	}
}
