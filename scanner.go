package assetpipe

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// BundleDecl is a raw, as-parsed include_* block found in a template, before
// the GraphBuilder has resolved member rel_paths against the dependency
// graph.
type BundleDecl struct {
	Kind           BundleKind
	Members        []string
	SourceTemplate string
}

// TemplateParser extracts bundle declarations and static_url() seed
// references from a single template's contents. Concrete template grammars
// are a thin interface boundary; RegexTemplateParser is the only
// implementation shipped here, but callers can supply their own for a
// different templating engine.
type TemplateParser interface {
	// Parse returns every include_* bundle declared in src, plus every
	// literal static_url() argument (candidate seed assets).
	Parse(path string, src []byte) ([]BundleDecl, []string, error)
}

var (
	includeBlockPattern = regexp.MustCompile(`(?s)\{%\s*include_(js|css|less|sass)\s*%\}(.*?)\{%\s*end\s*%\}`)
	memberLinePattern   = regexp.MustCompile(`["']([^"']+)["']`)
	staticURLPattern    = regexp.MustCompile(`static_url\(\s*(.*?)\s*\)`)
	literalArgPattern   = regexp.MustCompile(`^["']([^"']+)["']$`)
)

// RegexTemplateParser is the default TemplateParser, matching the
// `{% include_js %}...{% end %}` / `static_url("...")` grammar described in
// spec §4.1. It never needs the full template engine that renders the page;
// it only needs to find these two constructs textually.
type RegexTemplateParser struct{}

// Parse implements TemplateParser.
func (p *RegexTemplateParser) Parse(path string, src []byte) ([]BundleDecl, []string, error) {
	text := string(src)

	var decls []BundleDecl
	for _, m := range includeBlockPattern.FindAllStringSubmatch(text, -1) {
		kind, ok := parseBundleKind(m[1])
		if !ok {
			continue
		}
		var members []string
		for _, line := range strings.Split(m[2], "\n") {
			mm := memberLinePattern.FindStringSubmatch(line)
			if mm != nil {
				members = append(members, mm[1])
			}
		}
		if len(members) == 0 {
			continue
		}
		decls = append(decls, BundleDecl{Kind: kind, Members: members, SourceTemplate: path})
	}

	var seeds []string
	for _, m := range staticURLPattern.FindAllStringSubmatch(text, -1) {
		arg := strings.TrimSpace(m[1])
		lit := literalArgPattern.FindStringSubmatch(arg)
		if lit == nil {
			return nil, nil, &ParseError{
				SourcePath: path,
				Message:    fmt.Sprintf("static_url() requires a string literal argument, got %q", arg),
			}
		}
		seeds = append(seeds, lit[1])
	}

	return decls, seeds, nil
}

func parseBundleKind(token string) (BundleKind, bool) {
	switch token {
	case "js":
		return BundleJS, true
	case "css":
		return BundleCSS, true
	case "less":
		return BundleLess, true
	case "sass":
		return BundleSass, true
	default:
		return 0, false
	}
}

// Scanner walks a Config's template directories and collects every bundle
// declaration and static_url() seed across all templates.
type Scanner struct {
	cfg    *Config
	parser TemplateParser
	log    *Logger
}

// NewScanner creates a Scanner using parser, or a *RegexTemplateParser if
// parser is nil.
func NewScanner(cfg *Config, parser TemplateParser, logger *Logger) *Scanner {
	if parser == nil {
		parser = &RegexTemplateParser{}
	}
	return &Scanner{cfg: cfg, parser: parser, log: logger}
}

// ScanResult is the aggregate output of walking every template directory.
type ScanResult struct {
	Bundles []BundleDecl
	// Seeds are rel_paths referenced directly via static_url(), deduplicated.
	Seeds []string
}

// Scan walks every directory in s.cfg.TemplateDirs for files whose extension
// matches s.cfg.TemplateExt, parsing each with s.parser.
func (s *Scanner) Scan() (*ScanResult, error) {
	result := &ScanResult{}
	seen := make(map[string]struct{})

	for _, root := range s.cfg.TemplateDirs {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			if strings.TrimPrefix(filepath.Ext(path), ".") != s.cfg.TemplateExt {
				return nil
			}

			src, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			decls, seeds, err := s.parser.Parse(path, src)
			if err != nil {
				return err
			}

			result.Bundles = append(result.Bundles, decls...)
			for _, seed := range seeds {
				if _, ok := seen[seed]; ok {
					continue
				}
				seen[seed] = struct{}{}
				result.Seeds = append(result.Seeds, seed)
			}

			s.log.Debugf("scanned %s: %d bundles, %d seeds", path, len(decls), len(seeds))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}
