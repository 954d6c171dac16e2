package assetpipe

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// hashCacheEntry is what ContentHashCache stores per path: the file's
// modification time and size at the moment its digest was computed, plus
// the digest itself. A Lookup only returns the cached digest when mtime and
// size both still match.
type hashCacheEntry struct {
	modTime time.Time
	size    int64
	hash    string
}

// ContentHashCache memoizes per-file MD5 digests across pipeline runs so
// --watch mode and repeated invocations don't rehash unchanged files. This
// repurposes the teacher's LRU cache machinery: instead of caching served
// HTTP response bytes, it caches the (mtime, size) -> hash tuple that
// Versioner.fileDigest consults before reading a file from disk.
type ContentHashCache struct {
	cache *lru.Cache[string, hashCacheEntry]
	mu    sync.RWMutex

	hits   int64
	misses int64
}

// NewContentHashCache creates a ContentHashCache holding up to maxEntries
// digests.
func NewContentHashCache(maxEntries int) (*ContentHashCache, error) {
	cache, err := lru.New[string, hashCacheEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &ContentHashCache{cache: cache}, nil
}

// Lookup returns the cached digest for absPath if its recorded mtime and
// size both match.
func (c *ContentHashCache) Lookup(absPath string, modTime time.Time, size int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache.Get(absPath)
	if !ok || !entry.modTime.Equal(modTime) || entry.size != size {
		c.misses++
		return "", false
	}
	c.hits++
	return entry.hash, true
}

// Store records hash as absPath's digest for the given mtime/size.
func (c *ContentHashCache) Store(absPath string, modTime time.Time, size int64, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(absPath, hashCacheEntry{modTime: modTime, size: size, hash: hash})
}

// Invalidate drops any cached digest for absPath; used by the watch-mode
// FileWatcher when fsnotify reports a change.
func (c *ContentHashCache) Invalidate(absPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(absPath)
}

// Stats reports cumulative hit/miss counts, exposed via metrics.go.
func (c *ContentHashCache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
