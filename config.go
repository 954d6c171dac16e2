package assetpipe

import (
	"fmt"
	"os"
	"regexp"
)

// MergeMode controls how a freshly built manifest is persisted relative to
// the one already on disk.
type MergeMode int

const (
	// MergeUnion keeps every prior entry not touched this run, incrementing
	// its age, and overwrites entries present in both generations.
	MergeUnion MergeMode = iota
	// MergeReplace discards the prior manifest entirely.
	MergeReplace
)

const (
	// MaxInlineFileSize is the largest source file size (in bytes) that
	// image-inlining will consider encoding as a data URI.
	MaxInlineFileSize = 24 * 1024

	// MaxInlineDataURISize is the largest encoded data URI that inlining
	// will substitute into CSS (IE8's URL length ceiling).
	MaxInlineDataURISize = 32 * 1024

	// UploadWorkerCount is the fixed size of the publisher's upload pool.
	UploadWorkerCount = 5

	// DefaultCacheControl is applied to every object uploaded to the store.
	DefaultCacheControl = "public, max-age=315360000"

	// DefaultExpiresYears is how far in the future the Expires header is set.
	DefaultExpiresYears = 10
)

// Config drives every stage of the pipeline: scanning, graph building,
// compiling, and publishing.
type Config struct {
	// TemplateDirs are root directories walked for template files.
	TemplateDirs []string
	// TemplateExt is the file extension (without leading dot) that marks a
	// file as a template to be scanned.
	TemplateExt string

	// StaticDir is the filesystem root that rel_paths are resolved against.
	StaticDir string
	// OutputDir ("compiled_asset_root") is where compiled bundle artifacts
	// and manifest.json are written.
	OutputDir string
	// StaticURLPrefix identifies in-project static references inside
	// templates, JS, and CSS (e.g. "/s/"). Must begin and end with "/".
	StaticURLPrefix string
	// ManifestPath overrides the default "<OutputDir>/manifest.json" location.
	ManifestPath string

	// LocalCDNPrefix is the key prefix used for the origin-proxy upload
	// variant (e.g. "/cdn").
	LocalCDNPrefix string
	// CDNPrefixes is one or more CDN host prefixes. When more than one is
	// given, the prefix used for a given asset is chosen by CRC32-mod-length
	// sharding over its versioned basename.
	CDNPrefixes []string

	// TestNeedsCompile runs the planner only; no files are written.
	TestNeedsCompile bool
	// ForceRecompile compiles every bundle regardless of the incremental plan.
	ForceRecompile bool
	// SkipInlineImages disables CSS image inlining.
	SkipInlineImages bool
	// SkipUpload skips the publish stage entirely.
	SkipUpload bool
	// ForceUpload uploads every object even if a HEAD shows it already exists.
	ForceUpload bool
	// MergeManifestUpdates selects union (true) vs full-replacement (false)
	// manifest persistence.
	MergeManifestUpdates bool

	// External tool paths, consulted by CompilerPool.
	JavaBin              string
	ClosureCompilerPath  string
	MinifyCompressorPath string
	LessCompilerPath     string
	SassCompilerPath     string

	// Object store connection details.
	ObjectStoreEndpoint  string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	ObjectStoreBucket    string
	ObjectStoreUseSSL    bool

	// EnableWatcher reruns the pipeline when template/static files change.
	EnableWatcher bool

	// EnableMetrics exposes a Prometheus endpoint while the pipeline runs
	// in watch mode.
	EnableMetrics   bool
	MetricsAddr     string
	MetricsEndpoint string

	Debug bool
}

// DefaultConfig returns a Config with the same defaults
// original_source/assetman/settings.py ships for tool paths, plus sane
// pipeline defaults for everything else.
func DefaultConfig() *Config {
	return &Config{
		TemplateExt: "html",
		StaticDir:   "./static",
		OutputDir:   "./assets",

		StaticURLPrefix: "/s/",
		LocalCDNPrefix:  "/cdn",

		MergeManifestUpdates: true,

		JavaBin:              "java",
		ClosureCompilerPath:  "/bin/closure-compiler.jar",
		MinifyCompressorPath: "/bin/minify",
		LessCompilerPath:     "/bin/lessc",
		SassCompilerPath:     "/bin/sass",

		MetricsEndpoint: "/metrics",
		MetricsAddr:     ":9100",
	}
}

// Option mutates a Config in place.
type Option func(*Config)

func WithTemplateDirs(dirs ...string) Option {
	return func(c *Config) { c.TemplateDirs = dirs }
}

func WithTemplateExt(ext string) Option {
	return func(c *Config) { c.TemplateExt = ext }
}

func WithStaticDir(dir string) Option {
	return func(c *Config) { c.StaticDir = dir }
}

func WithOutputDir(dir string) Option {
	return func(c *Config) { c.OutputDir = dir }
}

func WithStaticURLPrefix(prefix string) Option {
	return func(c *Config) { c.StaticURLPrefix = prefix }
}

func WithCDNPrefixes(prefixes ...string) Option {
	return func(c *Config) { c.CDNPrefixes = prefixes }
}

func WithLocalCDNPrefix(prefix string) Option {
	return func(c *Config) { c.LocalCDNPrefix = prefix }
}

func WithForceRecompile(force bool) Option {
	return func(c *Config) { c.ForceRecompile = force }
}

func WithSkipInlineImages(skip bool) Option {
	return func(c *Config) { c.SkipInlineImages = skip }
}

func WithObjectStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) Option {
	return func(c *Config) {
		c.ObjectStoreEndpoint = endpoint
		c.ObjectStoreAccessKey = accessKey
		c.ObjectStoreSecretKey = secretKey
		c.ObjectStoreBucket = bucket
		c.ObjectStoreUseSSL = useSSL
	}
}

func WithWatcher(enable bool) Option {
	return func(c *Config) { c.EnableWatcher = enable }
}

func WithMetrics(enable bool, addr string) Option {
	return func(c *Config) {
		c.EnableMetrics = enable
		if addr != "" {
			c.MetricsAddr = addr
		}
	}
}

var staticURLPrefixPattern = regexp.MustCompile(`^/.*?/$`)

// Validate fails fast on configuration that would otherwise surface as a
// confusing error deep inside a pipeline stage.
func (c *Config) Validate() error {
	if !staticURLPrefixPattern.MatchString(c.StaticURLPrefix) {
		return fmt.Errorf("static-url-prefix must begin and end with '/', got %q", c.StaticURLPrefix)
	}

	for _, dir := range c.TemplateDirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("template directory not found: %q", dir)
		}
	}

	if info, err := os.Stat(c.StaticDir); err != nil || !info.IsDir() {
		return fmt.Errorf("static directory not found: %q", c.StaticDir)
	}

	if len(c.CDNPrefixes) == 0 {
		return fmt.Errorf("at least one cdn prefix is required")
	}

	return nil
}

// ManifestPathOrDefault returns the configured manifest path, falling back
// to "<OutputDir>/manifest.json".
func (c *Config) ManifestPathOrDefault() string {
	if c.ManifestPath != "" {
		return c.ManifestPath
	}
	return c.OutputDir + "/manifest.json"
}
