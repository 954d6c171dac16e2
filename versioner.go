package assetpipe

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
)

// Versioner computes each asset's recursive content version:
//
//	version(a) = MD5(MD5(bytes(a)) || version(d1) || version(d2) || ...)
//
// dependencies contribute in the order recorded on Asset.Deps (insertion
// order from the graph walk), and the hex digest strings are concatenated,
// not the raw bytes, matching the original assetman formula.
type Versioner struct {
	staticDir string
	cache     *ContentHashCache
	log       *Logger

	visiting map[string]struct{}
}

// NewVersioner creates a Versioner rooted at staticDir. cache may be nil, in
// which case every file's own digest is recomputed from disk every run.
func NewVersioner(staticDir string, cache *ContentHashCache, logger *Logger) *Versioner {
	return &Versioner{
		staticDir: staticDir,
		cache:     cache,
		log:       logger,
		visiting:  make(map[string]struct{}),
	}
}

// VersionAll computes Version and VersionedPath for every asset in m,
// visiting dependencies before dependents so a dependency's version is
// always available when its dependent needs it.
func (v *Versioner) VersionAll(m *Manifest) error {
	for _, relPath := range m.SortedRelPaths() {
		if _, err := v.version(m, relPath); err != nil {
			return err
		}
	}
	return nil
}

func (v *Versioner) version(m *Manifest, relPath string) (string, error) {
	asset := m.Assets[relPath]
	if asset.Version != "" {
		return asset.Version, nil
	}
	if _, cycle := v.visiting[relPath]; cycle {
		return "", &DependencyError{SourcePath: relPath, Missing: []string{relPath}}
	}
	v.visiting[relPath] = struct{}{}
	defer delete(v.visiting, relPath)

	selfHash, err := v.fileDigest(relPath)
	if err != nil {
		return "", err
	}

	h := md5.New()
	h.Write([]byte(selfHash))
	for _, dep := range asset.Deps {
		depVersion, err := v.version(m, dep)
		if err != nil {
			return "", err
		}
		h.Write([]byte(depVersion))
	}

	version := hex.EncodeToString(h.Sum(nil))
	asset.Version = version
	asset.VersionedPath = versionedPathFor(relPath, version)
	return version, nil
}

// fileDigest returns MD5(bytes(relPath)) as a hex string, consulting the
// ContentHashCache first when one is configured.
func (v *Versioner) fileDigest(relPath string) (string, error) {
	absPath := filepath.Join(v.staticDir, relPath)

	info, err := os.Stat(absPath)
	if err != nil {
		return "", &DependencyError{SourcePath: relPath, Missing: []string{relPath}}
	}

	if v.cache != nil {
		if hash, ok := v.cache.Lookup(absPath, info.ModTime(), info.Size()); ok {
			return hash, nil
		}
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", &DependencyError{SourcePath: relPath, Missing: []string{relPath}}
	}
	sum := md5.Sum(content)
	hash := hex.EncodeToString(sum[:])

	if v.cache != nil {
		v.cache.Store(absPath, info.ModTime(), info.Size(), hash)
	}
	return hash, nil
}

// versionedPathFor builds the flat, directory-free object-store key for an
// asset: just the version followed by the original extension, e.g.
// "js/app.js" + "abc123..." -> "abc123....js". Matches
// original_source/assetman/compile.py's
// manifest.assets[path]['versioned_path'] = version + ext.
func versionedPathFor(relPath, version string) string {
	return version + filepath.Ext(relPath)
}
