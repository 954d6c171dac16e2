package assetpipe

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
)

// Asset is one file participating in the build: a bundle member or a
// transitive dependency of one.
type Asset struct {
	// Deps holds this asset's direct dependency rel_paths, in the insertion
	// order recorded by the GraphBuilder.
	Deps []string `json:"deps"`
	// Version is the recursive content hash (see Versioner); empty until
	// computed.
	Version string `json:"version,omitempty"`
	// VersionedPath is Version + the original file extension.
	VersionedPath string `json:"versioned_path,omitempty"`
	// Age is the number of manifest generations since this asset was first
	// observed; incremented on merge when the entry isn't touched.
	Age int `json:"age,omitempty"`

	// depSet backs Deps for O(1) membership checks during graph building;
	// not serialized.
	depSet map[string]struct{}
}

// AddDep records a dependency of this asset, preserving first-seen order.
func (a *Asset) AddDep(relPath string) {
	if a.depSet == nil {
		a.depSet = make(map[string]struct{})
	}
	if _, ok := a.depSet[relPath]; ok {
		return
	}
	a.depSet[relPath] = struct{}{}
	a.Deps = append(a.Deps, relPath)
}

// HasDep reports whether relPath is already a recorded dependency.
func (a *Asset) HasDep(relPath string) bool {
	_, ok := a.depSet[relPath]
	return ok
}

// BundleKind identifies which compiler pipeline a Bundle runs through.
type BundleKind int

const (
	BundleJS BundleKind = iota
	BundleCSS
	BundleLess
	BundleSass
)

func (k BundleKind) String() string {
	switch k {
	case BundleJS:
		return "js"
	case BundleCSS:
		return "css"
	case BundleLess:
		return "less"
	case BundleSass:
		return "sass"
	default:
		return "unknown"
	}
}

// OutputExt is the file extension used for this kind's compiled artifact.
func (k BundleKind) OutputExt() string {
	if k == BundleJS {
		return "js"
	}
	return "css"
}

// Bundle is a named group of assets declared in a template via an
// include_js/include_css/include_less/include_sass block.
type Bundle struct {
	Kind           BundleKind
	Members        []string // ordered, as declared
	SourceTemplate string   // diagnostic only

	NameHash      string
	Version       string
	VersionedPath string
}

// BlockEntry is the persisted form of a Bundle inside Manifest.Blocks.
type BlockEntry struct {
	Version       string `json:"version"`
	VersionedPath string `json:"versioned_path"`
	Age           int    `json:"age,omitempty"`
}

// manifestFile is the literal on-disk JSON shape.
type manifestFile struct {
	Assets map[string]*Asset      `json:"assets"`
	Blocks map[string]*BlockEntry `json:"blocks"`
}

// Manifest is the in-memory, populated form of the build: every asset
// reached by the graph walk, plus every bundle's computed block entry.
type Manifest struct {
	Assets map[string]*Asset
	Blocks map[string]*BlockEntry
}

// NewManifest returns an empty Manifest.
func NewManifest() *Manifest {
	return &Manifest{
		Assets: make(map[string]*Asset),
		Blocks: make(map[string]*BlockEntry),
	}
}

// EnsureAsset returns the Asset for relPath, creating an empty entry if this
// is the first time it's been seen.
func (m *Manifest) EnsureAsset(relPath string) *Asset {
	a, ok := m.Assets[relPath]
	if !ok {
		a = &Asset{}
		m.Assets[relPath] = a
	}
	return a
}

// SortedRelPaths returns every asset rel_path in lexicographic order, used
// wherever output must be byte-reproducible.
func (m *Manifest) SortedRelPaths() []string {
	paths := make([]string, 0, len(m.Assets))
	for p := range m.Assets {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Closed reports whether every dependency referenced by any asset is itself
// a key in Assets (the "manifest closure" invariant from spec §8).
func (m *Manifest) Closed() bool {
	for _, a := range m.Assets {
		for _, d := range a.Deps {
			if _, ok := m.Assets[d]; !ok {
				return false
			}
		}
	}
	return true
}

// ResolveURL returns the versioned reference for relPath, honoring the
// local/CDN distinction the original assetman.static_url() call supported.
func (m *Manifest) ResolveURL(relPath string, local bool, localCDNPrefix string, cdnPrefixes []string) (string, error) {
	asset, ok := m.Assets[relPath]
	if !ok {
		return "", &DependencyError{SourcePath: relPath}
	}
	if local {
		return localCDNPrefix + "/" + asset.VersionedPath, nil
	}
	prefix := cdnPrefixes[0]
	if len(cdnPrefixes) > 1 {
		prefix = shardPrefix(cdnPrefixes, asset.VersionedPath)
	}
	return prefix + "/" + asset.VersionedPath, nil
}

// ManifestStore persists a Manifest to/from the on-disk JSON format
// described by spec §6.
type ManifestStore struct {
	Path string
	log  *Logger
}

// NewManifestStore creates a store rooted at path.
func NewManifestStore(path string, logger *Logger) *ManifestStore {
	return &ManifestStore{Path: path, log: logger}
}

// Load reads the manifest file. Absence or corruption yields an empty
// manifest and a warning log, never an error (spec §4.8/§7).
func (s *ManifestStore) Load() *Manifest {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Warnf("no manifest at %s, starting from an empty one", s.Path)
		} else {
			s.log.Warnf("%v", &ManifestCorruptError{Path: s.Path, Err: err})
		}
		return NewManifest()
	}

	var raw manifestFile
	if err := json.Unmarshal(data, &raw); err != nil || raw.Assets == nil || raw.Blocks == nil {
		s.log.Warnf("%v", &ManifestCorruptError{Path: s.Path, Err: err})
		return NewManifest()
	}

	return &Manifest{Assets: raw.Assets, Blocks: raw.Blocks}
}

// Write persists fresh, merging into the cached manifest (already
// loaded by the caller) according to mode.
func (s *ManifestStore) Write(cached, fresh *Manifest, mode MergeMode) error {
	merged := fresh
	if mode == MergeUnion {
		merged = unionManifests(cached, fresh)
	}

	raw := manifestFile{Assets: merged.Assets, Blocks: merged.Blocks}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(s.Path, data, 0o644)
}

// unionManifests merges fresh into cached: entries touched this generation
// are overwritten (age reset to 0), entries only present in cached survive
// with their age incremented.
func unionManifests(cached, fresh *Manifest) *Manifest {
	merged := NewManifest()

	for path, asset := range cached.Assets {
		copied := *asset
		copied.Age++
		merged.Assets[path] = &copied
	}
	for path, asset := range fresh.Assets {
		copied := *asset
		copied.Age = 0
		merged.Assets[path] = &copied
	}

	for hash, block := range cached.Blocks {
		copied := *block
		copied.Age++
		merged.Blocks[hash] = &copied
	}
	for hash, block := range fresh.Blocks {
		copied := *block
		copied.Age = 0
		merged.Blocks[hash] = &copied
	}

	return merged
}
