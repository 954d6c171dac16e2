package assetpipe

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// depExtractor returns the rel_paths that src declares as dependencies. The
// rel_path itself (not an absolute path) is what gets recorded on Asset.Deps
// and looked up in the Manifest.
type depExtractor func(relPath string, src []byte) []string

var (
	// cssImportPattern matches @import "foo.less"; and @import url("foo.css");
	// the target must be quoted.
	cssImportPattern = regexp.MustCompile(`@import\s+(?:url\()?["']([^"')]+)["']\)?`)
	// htmlStaticRefPattern mirrors scanner.go's static_url() pattern, for the
	// (rare) case a bundle member is itself an .html partial.
	htmlStaticRefPattern = regexp.MustCompile(`static_url\(\s*["']([^"']+)["']\s*\)`)
)

// staticPrefixPattern matches a StaticURLPrefix-qualified reference
// literally embedded in source text — inside a quoted JS string, a CSS
// url(...), or bare — capturing the rel_path that follows the prefix.
// original_source/assetman/compile.py:iter_static_deps/static_finder scans
// for this same textual pattern rather than requiring a dedicated grammar
// per source kind.
func staticPrefixPattern(prefix string) *regexp.Regexp {
	if prefix == "" {
		return nil
	}
	return regexp.MustCompile(regexp.QuoteMeta(prefix) + `([A-Za-z0-9_.\-/]+\.[A-Za-z0-9]+)`)
}

func extractPrefixedDeps(prefixRe *regexp.Regexp, src []byte) []string {
	if prefixRe == nil {
		return nil
	}
	matches := prefixRe.FindAllSubmatch(src, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Clean(string(m[1])))
	}
	return out
}

func extractHTMLDeps(relPath string, src []byte) []string {
	return resolveRelative(relPath, firstCaptures(htmlStaticRefPattern, src))
}

func firstCaptures(re *regexp.Regexp, src []byte) []string {
	matches := re.FindAllSubmatch(src, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, string(m[1]))
	}
	return out
}

// resolveRelative resolves each ref found in relPath's source against
// relPath's own directory, unless ref is already rooted at "/" (meaning
// it's relative to the static root).
func resolveRelative(relPath string, refs []string) []string {
	dir := filepath.Dir(relPath)
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if strings.HasPrefix(ref, "/") {
			out = append(out, strings.TrimPrefix(ref, "/"))
			continue
		}
		out = append(out, filepath.Clean(filepath.Join(dir, ref)))
	}
	return out
}

// isCompassImport reports whether a @import ref points into the Compass
// framework, which .scss files pull in without it resolving to a real file
// under the static root.
func isCompassImport(ref string) bool {
	return ref == "compass" || strings.HasPrefix(ref, "compass/") || strings.Contains(ref, "/compass/")
}

// extractorForExt picks the depExtractor for a given file extension
// (without leading dot), scanning for prefixRe's static-prefixed references
// in addition to each kind's own grammar.
func extractorForExt(ext string, prefixRe *regexp.Regexp) depExtractor {
	switch ext {
	case "js":
		return func(relPath string, src []byte) []string {
			return extractPrefixedDeps(prefixRe, src)
		}
	case "css", "less":
		return func(relPath string, src []byte) []string {
			deps := resolveRelative(relPath, firstCaptures(cssImportPattern, src))
			return append(deps, extractPrefixedDeps(prefixRe, src)...)
		}
	case "scss":
		return func(relPath string, src []byte) []string {
			var imports []string
			for _, ref := range firstCaptures(cssImportPattern, src) {
				if isCompassImport(ref) {
					continue
				}
				imports = append(imports, ref)
			}
			deps := resolveRelative(relPath, imports)
			return append(deps, extractPrefixedDeps(prefixRe, src)...)
		}
	case "html":
		return extractHTMLDeps
	default:
		return func(string, []byte) []string { return nil }
	}
}

// GraphBuilder walks assets starting from a set of roots (bundle members and
// static_url() seeds), recording each visited asset's direct dependencies
// into a Manifest and raising DependencyError on a missing file or a cycle.
type GraphBuilder struct {
	staticDir string
	prefixRe  *regexp.Regexp
	log       *Logger

	inFlight map[string]struct{}
}

// NewGraphBuilder creates a GraphBuilder rooted at staticDir, scanning for
// dependency references qualified by staticURLPrefix (e.g. "/s/").
func NewGraphBuilder(staticDir, staticURLPrefix string, logger *Logger) *GraphBuilder {
	return &GraphBuilder{
		staticDir: staticDir,
		prefixRe:  staticPrefixPattern(staticURLPrefix),
		log:       logger,
		inFlight:  make(map[string]struct{}),
	}
}

// Build walks every root and its transitive dependencies into m, returning
// the first DependencyError encountered (missing file or cycle).
func (g *GraphBuilder) Build(m *Manifest, roots []string) error {
	for _, root := range roots {
		if err := g.walk(m, root); err != nil {
			return err
		}
	}
	return nil
}

func (g *GraphBuilder) walk(m *Manifest, relPath string) error {
	if _, ok := g.inFlight[relPath]; ok {
		return &DependencyError{SourcePath: relPath, Missing: []string{relPath}}
	}
	if _, already := m.Assets[relPath]; already {
		// Already fully visited in a prior root's walk; nothing left to do.
		if asset := m.Assets[relPath]; asset.Version != "" || len(asset.Deps) > 0 || g.leafOK(relPath) {
			return nil
		}
	}

	g.inFlight[relPath] = struct{}{}
	defer delete(g.inFlight, relPath)

	asset := m.EnsureAsset(relPath)

	absPath := filepath.Join(g.staticDir, relPath)
	src, err := os.ReadFile(absPath)
	if err != nil {
		return &DependencyError{SourcePath: relPath, Missing: []string{relPath}}
	}

	ext := strings.TrimPrefix(filepath.Ext(relPath), ".")
	deps := extractorForExt(ext, g.prefixRe)(relPath, src)

	var missing []string
	for _, dep := range deps {
		if _, err := os.Stat(filepath.Join(g.staticDir, dep)); err != nil {
			missing = append(missing, dep)
			continue
		}
		asset.AddDep(dep)
	}
	if len(missing) > 0 {
		g.log.Warnf("%s references missing static file(s) %s", relPath, quoteList(missing))
		return &DependencyError{SourcePath: relPath, Missing: missing}
	}

	for _, dep := range asset.Deps {
		if err := g.walk(m, dep); err != nil {
			return err
		}
	}

	return nil
}

// leafOK reports whether relPath exists on disk; used to short-circuit a
// revisit of an asset with no dependencies (common for images/fonts).
func (g *GraphBuilder) leafOK(relPath string) bool {
	_, err := os.Stat(filepath.Join(g.staticDir, relPath))
	return err == nil
}
