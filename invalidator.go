package assetpipe

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches the static and template directories for changes and,
// on any write/create/remove/rename event, invalidates the matching
// ContentHashCache entry and signals Rebuilds so the orchestrator can rerun
// the pipeline. This repurposes the teacher's fsnotify-driven invalidator:
// instead of evicting an HTTP response cache, it evicts a content-digest
// cache and wakes up a rebuild loop.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	cache    *ContentHashCache
	roots    []string
	log      *Logger
	stopChan chan struct{}

	// Rebuilds receives a value (non-blocking) for every batch of fs events
	// that should trigger a rebuild.
	Rebuilds chan struct{}

	mu sync.Mutex
}

// NewFileWatcher creates a FileWatcher over roots (typically
// Config.TemplateDirs plus Config.StaticDir).
func NewFileWatcher(roots []string, cache *ContentHashCache, logger *Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		watcher:  watcher,
		cache:    cache,
		roots:    roots,
		log:      logger,
		stopChan: make(chan struct{}),
		Rebuilds: make(chan struct{}, 1),
	}, nil
}

// Start registers every directory under each root with fsnotify and begins
// the event loop in a goroutine.
func (fw *FileWatcher) Start() error {
	for _, root := range fw.roots {
		if err := fw.watchDir(root); err != nil {
			return err
		}
	}
	go fw.watch()
	return nil
}

// Stop tears down the watcher and its event loop.
func (fw *FileWatcher) Stop() error {
	close(fw.stopChan)
	return fw.watcher.Close()
}

func (fw *FileWatcher) watch() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			fw.cache.Invalidate(event.Name)
			fw.signalRebuild()

			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.watchDir(event.Name); err != nil {
						fw.log.Warnf("failed to watch new directory %s: %v", event.Name, err)
					}
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Warnf("file watcher error: %v", err)

		case <-fw.stopChan:
			return
		}
	}
}

// signalRebuild pushes to Rebuilds without blocking if a rebuild is already
// pending.
func (fw *FileWatcher) signalRebuild() {
	select {
	case fw.Rebuilds <- struct{}{}:
	default:
	}
}

func (fw *FileWatcher) watchDir(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			fw.log.Warnf("error accessing path %s: %v", path, err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if err := fw.watcher.Add(path); err != nil {
			fw.log.Warnf("failed to watch directory %s: %v", path, err)
		}
		return nil
	})
}
