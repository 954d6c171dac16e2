package assetpipe

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments the pipeline updates during a
// build, adapted from the teacher's setupMetrics (request/response counters
// for an HTTP server) into build-lifecycle counters for a CLI run.
type Metrics struct {
	BundlesCompiled prometheus.Counter
	CompileErrors   prometheus.Counter
	Uploads         prometheus.Counter
	UploadErrors    prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	BuildDuration   prometheus.Histogram

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics registers a fresh set of pipeline counters on their own
// registry, so repeated pipeline runs within one process (tests, --watch
// mode) don't panic on duplicate registration against the default registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		BundlesCompiled: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetpipe_bundles_compiled_total",
			Help: "Number of bundles successfully compiled.",
		}),
		CompileErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetpipe_compile_errors_total",
			Help: "Number of bundle compile failures.",
		}),
		Uploads: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetpipe_uploads_total",
			Help: "Number of objects uploaded to the object store.",
		}),
		UploadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetpipe_upload_errors_total",
			Help: "Number of object upload failures.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetpipe_content_hash_cache_hits_total",
			Help: "Number of content-hash cache hits during versioning.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetpipe_content_hash_cache_misses_total",
			Help: "Number of content-hash cache misses during versioning.",
		}),
		BuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "assetpipe_build_duration_seconds",
			Help:    "Wall-clock duration of a full pipeline run.",
			Buckets: prometheus.DefBuckets,
		}),
		registry: reg,
	}
}

// Serve starts a debug HTTP listener exposing the registry at
// Config.MetricsEndpoint, used during long --watch sessions. It returns
// immediately; call Shutdown to stop it.
func (m *Metrics) Serve(addr, endpoint string) {
	mux := http.NewServeMux()
	mux.Handle(endpoint, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = m.server.ListenAndServe()
	}()
}

// Shutdown stops the debug metrics listener, if one was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// RecordCacheStats copies a ContentHashCache's cumulative counters onto the
// corresponding Prometheus counters. Counters only go up, so this is called
// once at the end of a run with the cache's lifetime totals.
func (m *Metrics) RecordCacheStats(hits, misses int64) {
	m.CacheHits.Add(float64(hits))
	m.CacheMisses.Add(float64(misses))
}
