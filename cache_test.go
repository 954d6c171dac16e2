package assetpipe

import (
	"testing"
	"time"
)

func TestContentHashCacheLookupMiss(t *testing.T) {
	cache, err := NewContentHashCache(16)
	if err != nil {
		t.Fatalf("NewContentHashCache: %v", err)
	}

	if _, ok := cache.Lookup("/a.js", time.Now(), 10); ok {
		t.Error("Lookup on an empty cache should miss")
	}
	hits, misses := cache.Stats()
	if hits != 0 || misses != 1 {
		t.Errorf("expected hits=0 misses=1, got hits=%d misses=%d", hits, misses)
	}
}

func TestContentHashCacheStoreAndLookup(t *testing.T) {
	cache, err := NewContentHashCache(16)
	if err != nil {
		t.Fatalf("NewContentHashCache: %v", err)
	}

	mtime := time.Now()
	cache.Store("/a.js", mtime, 10, "deadbeef")

	hash, ok := cache.Lookup("/a.js", mtime, 10)
	if !ok || hash != "deadbeef" {
		t.Fatalf("expected cache hit with stored hash, got ok=%v hash=%s", ok, hash)
	}
}

func TestContentHashCacheInvalidatesOnSizeChange(t *testing.T) {
	cache, err := NewContentHashCache(16)
	if err != nil {
		t.Fatalf("NewContentHashCache: %v", err)
	}

	mtime := time.Now()
	cache.Store("/a.js", mtime, 10, "deadbeef")

	if _, ok := cache.Lookup("/a.js", mtime, 11); ok {
		t.Error("a size mismatch should force a cache miss even if mtime matches")
	}
}

func TestContentHashCacheInvalidate(t *testing.T) {
	cache, err := NewContentHashCache(16)
	if err != nil {
		t.Fatalf("NewContentHashCache: %v", err)
	}

	mtime := time.Now()
	cache.Store("/a.js", mtime, 10, "deadbeef")
	cache.Invalidate("/a.js")

	if _, ok := cache.Lookup("/a.js", mtime, 10); ok {
		t.Error("Invalidate should drop the cached entry")
	}
}
