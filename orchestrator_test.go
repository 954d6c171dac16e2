package assetpipe

import (
	"context"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
)

func newTestPipeline(t *testing.T, cfg *Config) (*Pipeline, *fakeObjectStore) {
	t.Helper()
	store := newFakeObjectStore()
	p, err := NewPipeline(cfg, store, NewLogger(false), nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	p.compiler.tool = passthroughInvoker()
	return p, store
}

func minimalLessProject(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()

	templatesDir := filepath.Join(dir, "templates")
	staticDir := filepath.Join(dir, "static")

	writeFile(t, dir, "templates/index.html", `
{% include_less %}
"css/site.less"
{% end %}
`)
	writeFile(t, dir, "static/css/site.less", `body { color: red; }`)

	cfg := DefaultConfig()
	cfg.TemplateDirs = []string{templatesDir}
	cfg.StaticDir = staticDir
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.CDNPrefixes = []string{"https://cdn1.example.com"}
	return cfg
}

func TestPipelineMinimalLessBundle(t *testing.T) {
	cfg := minimalLessProject(t)
	p, store := newTestPipeline(t, cfg)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected a compiled bundle artifact on disk")
	}
	if len(store.objects) == 0 {
		t.Error("expected the bundle to be uploaded")
	}
}

func TestPipelineChangePropagation(t *testing.T) {
	cfg := minimalLessProject(t)
	p, _ := newTestPipeline(t, cfg)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run (first): %v", err)
	}

	m1 := NewManifestStore(cfg.ManifestPathOrDefault(), NewLogger(false)).Load()
	var firstVersionedPath string
	for _, b := range m1.Blocks {
		firstVersionedPath = b.VersionedPath
	}

	writeFile(t, cfg.StaticDir, "css/site.less", `body { color: blue; }`)

	p2, _ := newTestPipeline(t, cfg)
	if err := p2.Run(context.Background()); err != nil {
		t.Fatalf("Run (second): %v", err)
	}

	m2 := NewManifestStore(cfg.ManifestPathOrDefault(), NewLogger(false)).Load()
	var secondVersionedPath string
	for _, b := range m2.Blocks {
		secondVersionedPath = b.VersionedPath
	}

	if firstVersionedPath == secondVersionedPath {
		t.Error("changing a bundle member's content should produce a new versioned path")
	}
}

func TestPipelineDryRunReportsNeedsCompile(t *testing.T) {
	cfg := minimalLessProject(t)
	cfg.TestNeedsCompile = true
	p, _ := newTestPipeline(t, cfg)

	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected ErrNeedsCompilation on first dry run")
	}
	if ExitCode(err) != 1 {
		t.Errorf("expected exit code 1 for dry-run-needs-compile, got %d", ExitCode(err))
	}

	entries, _ := os.ReadDir(cfg.OutputDir)
	if len(entries) != 0 {
		t.Error("dry run must not write any compiled artifact")
	}
}

func TestPipelineUnknownReferenceIsDependencyError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "templates/index.html", `
{% include_js %}
"js/missing.js"
{% end %}
`)
	if err := os.MkdirAll(filepath.Join(dir, "static"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.TemplateDirs = []string{filepath.Join(dir, "templates")}
	cfg.StaticDir = filepath.Join(dir, "static")
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.CDNPrefixes = []string{"https://cdn1.example.com"}

	p, _ := newTestPipeline(t, cfg)
	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected a DependencyError for a reference to a missing file")
	}
	if ExitCode(err) != 2 {
		t.Errorf("expected exit code 2 for a dependency error, got %d", ExitCode(err))
	}
}

func TestPipelineCRC32ShardingAcrossCDNPrefixes(t *testing.T) {
	cfg := minimalLessProject(t)
	cfg.CDNPrefixes = []string{"https://cdn1.example.com", "https://cdn2.example.com", "https://cdn3.example.com"}
	p, store := newTestPipeline(t, cfg)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	m := NewManifestStore(cfg.ManifestPathOrDefault(), NewLogger(false)).Load()
	for relPath, asset := range m.Assets {
		url, err := m.ResolveURL(relPath, false, cfg.LocalCDNPrefix, cfg.CDNPrefixes)
		if err != nil {
			t.Fatalf("ResolveURL: %v", err)
		}
		shard := crc32.ChecksumIEEE([]byte(asset.VersionedPath)) % uint32(len(cfg.CDNPrefixes))
		want := cfg.CDNPrefixes[shard] + "/" + asset.VersionedPath
		if url != want {
			t.Errorf("resolved URL %s, want %s (CRC32 shard %d)", url, want, shard)
		}
	}
	if len(store.objects) == 0 {
		t.Error("expected uploads to have occurred")
	}
}
