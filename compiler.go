package assetpipe

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// toolInvoker runs an external compiler/minifier binary against input and
// returns its stdout. Kept as an interface (rather than calling exec.Command
// directly from every compile method) so tests can substitute a fake
// without touching the filesystem or $PATH.
type toolInvoker interface {
	Run(ctx context.Context, argv []string, stdin []byte) ([]byte, error)
}

// execInvoker is the real toolInvoker, shelling out via os/exec.
type execInvoker struct{}

func (execInvoker) Run(ctx context.Context, argv []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &CompileError{Argv: argv, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// CompilerPool compiles every Bundle in a BuildPlan concurrently, bounded to
// runtime.NumCPU() workers, mirroring the teacher's worker-pool shape
// (bounded errgroup) applied to external compiler invocations instead of
// HTTP request handling.
type CompilerPool struct {
	cfg     *Config
	tool    toolInvoker
	inliner *ImageInliner
	log     *Logger
}

// NewCompilerPool creates a CompilerPool for cfg.
func NewCompilerPool(cfg *Config, logger *Logger) *CompilerPool {
	return &CompilerPool{
		cfg:     cfg,
		tool:    execInvoker{},
		inliner: NewImageInliner(cfg, logger),
		log:     logger,
	}
}

// CompileAll compiles every bundle in plan.ToCompile, capped at
// runtime.NumCPU() concurrent workers, and writes each artifact to
// <OutputDir>/<VersionedPath>.
func (p *CompilerPool) CompileAll(ctx context.Context, plan *BuildPlan, m *Manifest) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, bundle := range plan.ToCompile {
		bundle := bundle
		g.Go(func() error {
			return p.compileOne(ctx, bundle, m)
		})
	}

	return g.Wait()
}

func (p *CompilerPool) compileOne(ctx context.Context, b *Bundle, m *Manifest) error {
	memberPaths, err := p.memberPaths(b)
	if err != nil {
		return err
	}

	var content []byte
	switch b.Kind {
	case BundleJS:
		// original_source/assetman/compilers.py:129-141 passes every member
		// straight to the closure compiler on the command line, one --js
		// flag per file; there's no stdin and no prior concatenation step.
		content, err = p.tool.Run(ctx, p.closureArgv(memberPaths), nil)
	case BundleCSS:
		content, err = p.concatMembers(memberPaths)
	case BundleLess:
		// compilers.py:235-247: lessc has no multi-file mode, so each
		// member is compiled separately and the text outputs concatenated.
		content, err = p.compileEachMember(ctx, p.cfg.LessCompilerPath, memberPaths)
	case BundleSass:
		// compilers.py:249-260: the sass compiler takes every member path
		// on the command line in one invocation, no stdin.
		content, err = p.tool.Run(ctx, append([]string{p.cfg.SassCompilerPath}, memberPaths...), nil)
	}
	if err != nil {
		return err
	}

	if b.Kind == BundleCSS || b.Kind == BundleLess || b.Kind == BundleSass {
		if !p.cfg.SkipInlineImages {
			content, err = p.inliner.Inline(content)
			if err != nil {
				return err
			}
		}
		content, err = p.tool.Run(ctx, []string{p.cfg.MinifyCompressorPath}, content)
		if err != nil {
			return err
		}
	}

	outPath := filepath.Join(p.cfg.OutputDir, b.VersionedPath)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(outPath, content, 0o644); err != nil {
		return err
	}

	m.Blocks[b.NameHash] = &BlockEntry{Version: b.Version, VersionedPath: b.VersionedPath}
	p.log.Infof("compiled %s bundle (%d members) -> %s", b.Kind, len(b.Members), b.VersionedPath)
	return nil
}

// memberPaths resolves every member's absolute path and confirms it exists,
// since every compile strategy below needs real files on disk rather than
// pre-read bytes (argv paths, not stdin, for js/less/sass).
func (p *CompilerPool) memberPaths(b *Bundle) ([]string, error) {
	paths := make([]string, len(b.Members))
	for i, member := range b.Members {
		abs := filepath.Join(p.cfg.StaticDir, member)
		if _, err := os.Stat(abs); err != nil {
			return nil, &DependencyError{SourcePath: member, Missing: []string{member}}
		}
		paths[i] = abs
	}
	return paths, nil
}

// closureArgv builds the closure-compiler invocation: one --js flag per
// member path, in declaration order.
func (p *CompilerPool) closureArgv(memberPaths []string) []string {
	argv := make([]string, 0, len(memberPaths)*2+2)
	argv = append(argv, p.cfg.JavaBin, "-jar", p.cfg.ClosureCompilerPath)
	for _, path := range memberPaths {
		argv = append(argv, "--js", path)
	}
	return argv
}

// compileEachMember invokes toolPath once per member path and concatenates
// the resulting text outputs with a newline, the strategy LESS compilation
// needs in the absence of a multi-file mode.
func (p *CompilerPool) compileEachMember(ctx context.Context, toolPath string, memberPaths []string) ([]byte, error) {
	var buf bytes.Buffer
	for i, path := range memberPaths {
		out, err := p.tool.Run(ctx, []string{toolPath, path}, nil)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(out)
	}
	return buf.Bytes(), nil
}

// concatMembers reads every member in declaration order and joins them with
// a newline, the "dumb concatenation" plain CSS gets since it has no
// compile step of its own before inlining/minification.
func (p *CompilerPool) concatMembers(memberPaths []string) ([]byte, error) {
	var buf bytes.Buffer
	for i, path := range memberPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &DependencyError{SourcePath: path, Missing: []string{path}}
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}
