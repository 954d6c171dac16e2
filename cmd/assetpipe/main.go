package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/7424labs/assetpipe"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// pipelineFile is the shape of an optional --config YAML file. It's merged in
// before flags/env so that command-line overrides still win.
type pipelineFile struct {
	TemplateDirs    []string `yaml:"template_dirs"`
	TemplateExt     string   `yaml:"template_ext"`
	StaticDir       string   `yaml:"static_dir"`
	OutputDir       string   `yaml:"output_dir"`
	StaticURLPrefix string   `yaml:"static_url_prefix"`
	LocalCDNPrefix  string   `yaml:"local_cdn_prefix"`
	CDNPrefixes     []string `yaml:"cdn_prefixes"`
}

func loadPipelineFile(path string) (*pipelineFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var pf pipelineFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &pf, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(assetpipe.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "assetpipe",
		Short: "Compile, version, and publish a web application's static assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromViper(v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringSlice("template-dirs", nil, "Template directories to scan (repeatable)")
	flags.String("template-ext", "html", "Template file extension")
	flags.String("static-dir", "./static", "Static asset root directory")
	flags.String("output-dir", "./assets", "Compiled artifact output directory")
	flags.String("static-url-prefix", "/s/", "URL prefix identifying static references")
	flags.String("manifest-path", "", "Override manifest.json location")
	flags.String("local-cdn-prefix", "/cdn", "Key prefix for the origin-proxy upload variant")
	flags.StringSlice("cdn-prefixes", nil, "One or more CDN host prefixes (repeatable)")
	flags.Bool("dry-run", false, "Only report whether compilation is needed")
	flags.Bool("force", false, "Recompile every bundle regardless of the incremental plan")
	flags.Bool("skip-inline-images", false, "Disable CSS image inlining")
	flags.Bool("skip-upload", false, "Skip the publish stage")
	flags.Bool("force-upload", false, "Upload every object even if it already exists")
	flags.Bool("merge-manifest", true, "Union-merge the manifest instead of replacing it")
	flags.String("object-store-endpoint", "", "S3-compatible object store endpoint")
	flags.String("object-store-access-key", "", "Object store access key")
	flags.String("object-store-secret-key", "", "Object store secret key")
	flags.String("object-store-bucket", "", "Object store bucket")
	flags.Bool("object-store-ssl", true, "Use TLS when talking to the object store")
	flags.Bool("watch", false, "Rerun the pipeline as source files change")
	flags.Bool("metrics", false, "Expose a Prometheus metrics endpoint during --watch")
	flags.String("metrics-addr", ":9100", "Metrics listener address")
	flags.Bool("debug", false, "Verbose logging")
	flags.String("config", "", "Optional YAML file of pipeline defaults, overridden by flags/env")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("ASSETPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

func configFromViper(v *viper.Viper) (*assetpipe.Config, error) {
	cfg := assetpipe.DefaultConfig()

	if path := v.GetString("config"); path != "" {
		pf, err := loadPipelineFile(path)
		if err != nil {
			return nil, err
		}
		if len(pf.TemplateDirs) > 0 {
			cfg.TemplateDirs = pf.TemplateDirs
		}
		if pf.TemplateExt != "" {
			cfg.TemplateExt = pf.TemplateExt
		}
		if pf.StaticDir != "" {
			cfg.StaticDir = pf.StaticDir
		}
		if pf.OutputDir != "" {
			cfg.OutputDir = pf.OutputDir
		}
		if pf.StaticURLPrefix != "" {
			cfg.StaticURLPrefix = pf.StaticURLPrefix
		}
		if pf.LocalCDNPrefix != "" {
			cfg.LocalCDNPrefix = pf.LocalCDNPrefix
		}
		if len(pf.CDNPrefixes) > 0 {
			cfg.CDNPrefixes = pf.CDNPrefixes
		}
	}

	if v.IsSet("template-dirs") {
		cfg.TemplateDirs = v.GetStringSlice("template-dirs")
	}
	if v.IsSet("template-ext") {
		cfg.TemplateExt = v.GetString("template-ext")
	}
	if v.IsSet("static-dir") {
		cfg.StaticDir = v.GetString("static-dir")
	}
	if v.IsSet("output-dir") {
		cfg.OutputDir = v.GetString("output-dir")
	}
	if v.IsSet("static-url-prefix") {
		cfg.StaticURLPrefix = v.GetString("static-url-prefix")
	}
	cfg.ManifestPath = v.GetString("manifest-path")
	if v.IsSet("local-cdn-prefix") {
		cfg.LocalCDNPrefix = v.GetString("local-cdn-prefix")
	}
	if v.IsSet("cdn-prefixes") {
		cfg.CDNPrefixes = v.GetStringSlice("cdn-prefixes")
	}
	cfg.TestNeedsCompile = v.GetBool("dry-run")
	cfg.ForceRecompile = v.GetBool("force")
	cfg.SkipInlineImages = v.GetBool("skip-inline-images")
	cfg.SkipUpload = v.GetBool("skip-upload")
	cfg.ForceUpload = v.GetBool("force-upload")
	cfg.MergeManifestUpdates = v.GetBool("merge-manifest")
	cfg.ObjectStoreEndpoint = v.GetString("object-store-endpoint")
	cfg.ObjectStoreAccessKey = v.GetString("object-store-access-key")
	cfg.ObjectStoreSecretKey = v.GetString("object-store-secret-key")
	cfg.ObjectStoreBucket = v.GetString("object-store-bucket")
	cfg.ObjectStoreUseSSL = v.GetBool("object-store-ssl")
	cfg.EnableWatcher = v.GetBool("watch")
	cfg.EnableMetrics = v.GetBool("metrics")
	cfg.MetricsAddr = v.GetString("metrics-addr")
	cfg.Debug = v.GetBool("debug")

	return cfg, nil
}

func run(ctx context.Context, cfg *assetpipe.Config) error {
	logger := assetpipe.NewLogger(cfg.Debug)

	var store assetpipe.ObjectStore
	if !cfg.SkipUpload {
		s, err := assetpipe.NewMinioObjectStore(cfg)
		if err != nil {
			return err
		}
		store = s
	}

	var metrics *assetpipe.Metrics
	if cfg.EnableMetrics {
		metrics = assetpipe.NewMetrics()
		metrics.Serve(cfg.MetricsAddr, cfg.MetricsEndpoint)
		logger.Infof("metrics listening on %s%s", cfg.MetricsAddr, cfg.MetricsEndpoint)
	}

	pipeline, err := assetpipe.NewPipeline(cfg, store, logger, metrics)
	if err != nil {
		return err
	}

	if err := pipeline.Run(ctx); err != nil {
		return err
	}
	logger.Infof("build complete")

	if !cfg.EnableWatcher {
		return nil
	}

	cache, err := assetpipe.NewContentHashCache(4096)
	if err != nil {
		return err
	}
	watcher, err := assetpipe.NewFileWatcher(append(append([]string{}, cfg.TemplateDirs...), cfg.StaticDir), cache, logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-watcher.Rebuilds:
			logger.Infof("change detected, rebuilding")
			if err := pipeline.Run(ctx); err != nil {
				logger.Errorf("rebuild failed: %v", err)
			} else {
				logger.Infof("rebuild complete")
			}
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "shutting down")
			return nil
		}
	}
}
