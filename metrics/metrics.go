// Package metrics exposes Prometheus instrumentation for the cube
// engine and its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stackcube/stackcube/cube"
)

// Provider owns the registry and all engine collectors.
type Provider struct {
	registry *prometheus.Registry

	Engine *EngineMetrics

	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
}

// EngineMetrics records cube engine events. It satisfies the engine
// and cache observer contracts.
type EngineMetrics struct {
	chunkReads      prometheus.Counter
	chunkReadTime   prometheus.Histogram
	assetReadErrors prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

func NewProvider(namespace string) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine := &EngineMetrics{
		chunkReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_reads_total",
			Help:      "Number of cube chunks materialized.",
		}),
		chunkReadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_read_seconds",
			Help:      "Wall time to materialize one chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		assetReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_read_errors_total",
			Help:      "Number of granule reads skipped due to asset errors.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_cache_hits_total",
			Help:      "Number of chunk reads served from the cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_cache_misses_total",
			Help:      "Number of chunk reads that went to the engine.",
		}),
	}
	reg.MustRegister(engine.chunkReads, engine.chunkReadTime,
		engine.assetReadErrors, engine.cacheHits, engine.cacheMisses)

	p := &Provider{
		registry: reg,
		Engine:   engine,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "path", "status"}),
	}
	reg.MustRegister(p.requestDuration, p.requestsTotal)
	return p
}

// Handler serves the /metrics endpoint.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (p *Provider) ObserveRequest(method, path string, status int, d time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": strconv.Itoa(status)}
	p.requestDuration.With(labels).Observe(d.Seconds())
	p.requestsTotal.With(labels).Inc()
}

func (m *EngineMetrics) ChunkRead(coords cube.ChunkCoords, d time.Duration) {
	m.chunkReads.Inc()
	m.chunkReadTime.Observe(d.Seconds())
}

func (m *EngineMetrics) AssetReadError(url string, err error) {
	m.assetReadErrors.Inc()
}

func (m *EngineMetrics) CacheHit()  { m.cacheHits.Inc() }
func (m *EngineMetrics) CacheMiss() { m.cacheMisses.Inc() }
