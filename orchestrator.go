package assetpipe

import (
	"context"
	"fmt"
)

// Pipeline wires every stage together: scan templates, build the dependency
// graph, version every asset, hash and plan bundles, compile what's needed,
// and publish. It owns the long-lived collaborators (cache, object store,
// metrics) that survive across repeated runs in --watch mode.
type Pipeline struct {
	cfg *Config
	log *Logger

	scanner   *Scanner
	graph     *GraphBuilder
	versioner *Versioner
	hasher    BundleHasher
	planner   *IncrementalPlanner
	compiler  *CompilerPool
	publisher *Publisher
	manifests *ManifestStore
	cache     *ContentHashCache
	metrics   *Metrics
}

// NewPipeline assembles a Pipeline from cfg. store may be nil when
// cfg.SkipUpload is set.
func NewPipeline(cfg *Config, store ObjectStore, logger *Logger, metrics *Metrics) (*Pipeline, error) {
	cache, err := NewContentHashCache(4096)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:       cfg,
		log:       logger,
		scanner:   NewScanner(cfg, nil, logger),
		graph:     NewGraphBuilder(cfg.StaticDir, cfg.StaticURLPrefix, logger),
		versioner: NewVersioner(cfg.StaticDir, cache, logger),
		planner:   NewIncrementalPlanner(cfg.OutputDir, cfg.ForceRecompile),
		compiler:  NewCompilerPool(cfg, logger),
		publisher: NewPublisher(cfg, store, logger),
		manifests: NewManifestStore(cfg.ManifestPathOrDefault(), logger),
		cache:     cache,
		metrics:   metrics,
	}, nil
}

// Run executes one full build. When cfg.TestNeedsCompile is set, it stops
// after planning and returns ErrNeedsCompilation if any bundle would need
// to be (re)compiled, without writing anything.
func (p *Pipeline) Run(ctx context.Context) error {
	cached := p.manifests.Load()

	scanResult, err := p.scanner.Scan()
	if err != nil {
		return err
	}

	fresh := NewManifest()

	roots := append([]string{}, scanResult.Seeds...)
	bundles := make([]*Bundle, 0, len(scanResult.Bundles))
	for _, decl := range scanResult.Bundles {
		b := &Bundle{Kind: decl.Kind, Members: decl.Members, SourceTemplate: decl.SourceTemplate}
		bundles = append(bundles, b)
		roots = append(roots, decl.Members...)
	}

	if err := p.graph.Build(fresh, roots); err != nil {
		return err
	}

	if err := p.versioner.VersionAll(fresh); err != nil {
		return err
	}

	if !fresh.Closed() {
		return fmt.Errorf("manifest not closed after graph walk: a referenced asset was never visited")
	}

	// Identical declarations in several templates share a name_hash. Every
	// occurrence's members were walked above; each name_hash is planned and
	// compiled once.
	unique := make([]*Bundle, 0, len(bundles))
	seenNameHash := make(map[string]struct{}, len(bundles))
	for _, b := range bundles {
		if err := p.hasher.Hash(b, fresh); err != nil {
			return err
		}
		if _, dup := seenNameHash[b.NameHash]; dup {
			continue
		}
		seenNameHash[b.NameHash] = struct{}{}
		unique = append(unique, b)
	}
	bundles = unique

	plan := p.planner.Plan(bundles, cached)

	if p.cfg.TestNeedsCompile {
		if plan.NeedsCompile() {
			return ErrNeedsCompilation
		}
		return nil
	}

	if err := p.compiler.CompileAll(ctx, plan, fresh); err != nil {
		if p.metrics != nil {
			p.metrics.CompileErrors.Inc()
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.BundlesCompiled.Add(float64(len(plan.ToCompile)))
	}

	// Bundles that weren't recompiled this run still need their block entry
	// carried forward into the fresh manifest so the write below doesn't
	// lose them. This covers both an unchanged name_hash (read from the
	// cached manifest) and a new name_hash the planner matched against an
	// already-compiled artifact by version alone.
	for _, b := range bundles {
		if _, ok := fresh.Blocks[b.NameHash]; ok {
			continue
		}
		if entry, ok := cached.Blocks[b.NameHash]; ok {
			fresh.Blocks[b.NameHash] = &BlockEntry{Version: entry.Version, VersionedPath: entry.VersionedPath}
			continue
		}
		fresh.Blocks[b.NameHash] = &BlockEntry{Version: b.Version, VersionedPath: b.VersionedPath}
	}

	if err := p.publisher.PublishAll(ctx, fresh); err != nil {
		if p.metrics != nil {
			p.metrics.UploadErrors.Inc()
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.Uploads.Add(float64(len(fresh.Assets) + len(fresh.Blocks)))
	}

	mode := MergeReplace
	if p.cfg.MergeManifestUpdates {
		mode = MergeUnion
	}
	if err := p.manifests.Write(cached, fresh, mode); err != nil {
		return err
	}

	if p.metrics != nil {
		hits, misses := p.cache.Stats()
		p.metrics.RecordCacheStats(hits, misses)
	}

	return nil
}
