package assetpipe

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeInvoker stands in for an external minifier/compiler binary, matching
// the out-of-scope "thin interface" external tool collaborator.
type fakeInvoker struct {
	fn func(argv []string, stdin []byte) ([]byte, error)
}

func (f *fakeInvoker) Run(ctx context.Context, argv []string, stdin []byte) ([]byte, error) {
	return f.fn(argv, stdin)
}

// passthroughInvoker simulates enough of the real tool contract for tests:
// it honors --js <path> flags (closure compiler), falls back to reading the
// last argv path (lessc/sass invoked against a file), and otherwise passes
// stdin straight through (the generic minify step).
func passthroughInvoker() *fakeInvoker {
	return &fakeInvoker{fn: func(argv []string, stdin []byte) ([]byte, error) {
		var jsOut []byte
		for i, a := range argv {
			if a == "--js" && i+1 < len(argv) {
				data, err := os.ReadFile(argv[i+1])
				if err != nil {
					return nil, err
				}
				if len(jsOut) > 0 {
					jsOut = append(jsOut, '\n')
				}
				jsOut = append(jsOut, data...)
			}
		}
		if len(jsOut) > 0 {
			return bytes.TrimSpace(jsOut), nil
		}
		if len(argv) >= 2 {
			if data, err := os.ReadFile(argv[len(argv)-1]); err == nil {
				return bytes.TrimSpace(data), nil
			}
		}
		return bytes.TrimSpace(stdin), nil
	}}
}

func TestCompilerPoolConcatenatesInDeclarationOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "js/a.js", "AAA")
	writeFile(t, dir, "js/b.js", "BBB")

	cfg := DefaultConfig()
	cfg.StaticDir = dir
	cfg.OutputDir = t.TempDir()

	pool := NewCompilerPool(cfg, NewLogger(false))
	pool.tool = passthroughInvoker()

	b := &Bundle{Kind: BundleJS, Members: []string{"js/a.js", "js/b.js"}, NameHash: "nh1", Version: "v1", VersionedPath: "v1.js"}
	m := NewManifest()

	if err := pool.compileOne(context.Background(), b, m); err != nil {
		t.Fatalf("compileOne: %v", err)
	}

	out, err := os.ReadFile(filepath.Join(cfg.OutputDir, "v1.js"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "AAA\nBBB" {
		t.Errorf("unexpected concatenated output: %q", out)
	}

	if _, ok := m.Blocks["nh1"]; !ok {
		t.Error("compileOne should record a block entry")
	}
}

func TestCompilerPoolCompileErrorWraps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "js/a.js", "AAA")

	cfg := DefaultConfig()
	cfg.StaticDir = dir
	cfg.OutputDir = t.TempDir()

	pool := NewCompilerPool(cfg, NewLogger(false))
	pool.tool = &fakeInvoker{fn: func(argv []string, stdin []byte) ([]byte, error) {
		return nil, &CompileError{Argv: argv, Stderr: "boom"}
	}}

	b := &Bundle{Kind: BundleJS, Members: []string{"js/a.js"}, NameHash: "nh1", Version: "v1", VersionedPath: "v1.js"}
	err := pool.compileOne(context.Background(), b, NewManifest())
	if err == nil {
		t.Fatal("expected compile error to propagate")
	}
	if _, ok := err.(*CompileError); !ok {
		t.Errorf("expected *CompileError, got %T", err)
	}
}

func TestCompilerPoolCompileAllRespectsPlan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "js/a.js", "AAA")

	cfg := DefaultConfig()
	cfg.StaticDir = dir
	cfg.OutputDir = t.TempDir()

	pool := NewCompilerPool(cfg, NewLogger(false))
	pool.tool = passthroughInvoker()

	b := &Bundle{Kind: BundleJS, Members: []string{"js/a.js"}, NameHash: "nh1", Version: "v1", VersionedPath: "v1.js"}
	plan := &BuildPlan{ToCompile: []*Bundle{b}}
	m := NewManifest()

	if err := pool.CompileAll(context.Background(), plan, m); err != nil {
		t.Fatalf("CompileAll: %v", err)
	}
	if _, ok := m.Blocks["nh1"]; !ok {
		t.Error("CompileAll should compile every bundle in the plan")
	}
}
