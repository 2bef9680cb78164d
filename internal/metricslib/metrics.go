// Package metricslib re-expresses the teacher's expvar counters
// (cacheHits, cacheMisses, requestsCoalesced, requestsProcessed,
// queueFullErrors in imageapi/image.go) as prometheus/client_golang
// instruments, because the pipeline is meant to be scraped by an
// operator, not inspected through a single process's /debug/vars.
package metricslib

import "github.com/prometheus/client_golang/prometheus"

// Recorder holds every metric the pipeline's stages report to.
type Recorder struct {
	MemoryCacheHits    prometheus.Counter
	MemoryCacheMisses  prometheus.Counter
	DiskCacheHits      prometheus.Counter
	DiskCacheMisses    prometheus.Counter
	RequestsCoalesced  *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	QueueFull          *prometheus.CounterVec
	RateLimiterWaits   prometheus.Counter
	TaskTerminal       *prometheus.CounterVec
	ResumableStored    prometheus.Counter
	ResumableResumed   prometheus.Counter
}

// New registers and returns a Recorder on reg. Pass prometheus.NewRegistry()
// for isolated tests, or a shared registry (e.g. prometheus.DefaultRegisterer)
// in production.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		MemoryCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_memory_cache_hits_total",
			Help: "Number of memory cache lookups that hit.",
		}),
		MemoryCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_memory_cache_misses_total",
			Help: "Number of memory cache lookups that missed.",
		}),
		DiskCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_disk_cache_hits_total",
			Help: "Number of data cache lookups that hit.",
		}),
		DiskCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_disk_cache_misses_total",
			Help: "Number of data cache lookups that missed.",
		}),
		RequestsCoalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_requests_coalesced_total",
			Help: "Number of subscriptions that joined an already in-flight task instead of starting a new one.",
		}, []string{"task_kind"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_stage_queue_depth",
			Help: "Current number of queued jobs per stage.",
		}, []string{"stage"}),
		QueueFull: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_queue_full_total",
			Help: "Number of times a non-blocking submit found a stage's queue full.",
		}, []string{"stage"}),
		RateLimiterWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_rate_limiter_deferred_total",
			Help: "Number of data-loading starts deferred by the rate limiter.",
		}),
		TaskTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_task_terminal_total",
			Help: "Terminal task outcomes by kind.",
		}, []string{"kind", "outcome"}),
		ResumableStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_resumable_data_stored_total",
			Help: "Number of partial downloads preserved for resume.",
		}),
		ResumableResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_resumable_data_resumed_total",
			Help: "Number of downloads that resumed from stored partial data.",
		}),
	}

	reg.MustRegister(
		r.MemoryCacheHits, r.MemoryCacheMisses,
		r.DiskCacheHits, r.DiskCacheMisses,
		r.RequestsCoalesced, r.QueueDepth, r.QueueFull,
		r.RateLimiterWaits, r.TaskTerminal,
		r.ResumableStored, r.ResumableResumed,
	)

	return r
}

// SetQueueDepth implements queue.DepthRecorder.
func (r *Recorder) SetQueueDepth(stage string, depth int) {
	r.QueueDepth.WithLabelValues(stage).Set(float64(depth))
}

// IncQueueFull implements queue.DepthRecorder.
func (r *Recorder) IncQueueFull(stage string) {
	r.QueueFull.WithLabelValues(stage).Inc()
}
