// Package imagepipeline implements an image loading pipeline: a
// dependency graph of cooperating stages (memory cache, disk cache,
// resumable network fetch, progressive decode, processing, decompression,
// and cache writeback) supporting request coalescing, back-pressure,
// priority-aware cancellation, and bounded per-stage concurrency.
package imagepipeline

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teacup-imaging/imagepipeline/internal/logger"
	"github.com/teacup-imaging/imagepipeline/internal/memorycache"
	"github.com/teacup-imaging/imagepipeline/internal/metricslib"
	"github.com/teacup-imaging/imagepipeline/internal/metricsserver"
	"github.com/teacup-imaging/imagepipeline/internal/queue"
	"github.com/teacup-imaging/imagepipeline/internal/ratelimiter"
	"github.com/teacup-imaging/imagepipeline/internal/resumable"
	"github.com/teacup-imaging/imagepipeline/internal/runtime"
	"github.com/teacup-imaging/imagepipeline/internal/task"
	"github.com/teacup-imaging/imagepipeline/internal/tracing"
)

// dataChunk is LoadImageData's emitted value shape: bytes received so far
// plus whatever transport metadata accompanied them.
type dataChunk struct {
	bytes       []byte
	urlResponse *URLResponse
}

// Pipeline is the public entry point for loading and caching images.
type Pipeline struct {
	cfg Config

	log      *logger.Logger
	metrics  *metricslib.Recorder
	tracer   *tracing.Tracer
	registry *prometheus.Registry
	cors     []string

	memCache    *memorycache.Cache[ImageContainer]
	dataCache   DataCache
	dataLoader  DataLoader
	rateLimiter *ratelimiter.RateLimiter
	resumable   *resumable.Store

	stages stageSet

	loadImageArena     *task.Arena[ImageResponse]
	loadImageDataArena *task.Arena[dataChunk]
	decodeImageArena   *task.Arena[ImageContainer]
	processImageArena  *task.Arena[ImageContainer]

	ctx    context.Context
	cancel context.CancelFunc

	invalidated atomic.Bool
}

type stageSet struct {
	dataLoading   *queue.Stage
	dataCaching   *queue.Stage
	decoding      *queue.Stage
	encoding      *queue.Stage
	processing    *queue.Stage
	decompressing *queue.Stage
}

// New constructs a Pipeline. The returned Pipeline's stage worker pools
// are already running; call Shutdown when done.
func New(cfg Config) (*Pipeline, error) {
	if cfg.DataLoader == nil {
		return nil, fmt.Errorf("imagepipeline: Config.DataLoader is required")
	}
	cfg.fillDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pipeline{
		cfg:        cfg,
		log:        cfg.Log,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		registry:   cfg.Registry,
		cors:       cfg.CORSAllowedOrigins,
		dataCache:  cfg.DataCache,
		dataLoader: cfg.DataLoader,
		resumable:  resumable.New(cfg.ResumableDataMaxAge),
		ctx:        ctx,
		cancel:     cancel,

		loadImageArena:     task.NewArena[ImageResponse](),
		loadImageDataArena: task.NewArena[dataChunk](),
		decodeImageArena:   task.NewArena[ImageContainer](),
		processImageArena:  task.NewArena[ImageContainer](),
	}

	p.memCache = memorycache.New[ImageContainer](cfg.MemoryCacheCostLimitBytes, cfg.MemoryCacheCountLimit, cfg.MemoryCacheTTL, cost)

	if cfg.EnableAutomaxprocs {
		runtime.SetMaxProcs(p.log)
	}

	if cfg.IsRateLimiterEnabled {
		p.rateLimiter = ratelimiter.New(cfg.RateLimiterCapacity, cfg.RateLimiterRefillPerSecond, rateLimiterRecorder{p.metrics})
	}

	p.stages = stageSet{
		dataLoading:   queue.NewStage(ctx, "dataLoading", cfg.Stages.DataLoading.MaxConcurrentOperationCount, false, p.metrics),
		dataCaching:   queue.NewStage(ctx, "dataCaching", cfg.Stages.DataCaching.MaxConcurrentOperationCount, false, p.metrics),
		decoding:      queue.NewStage(ctx, "decoding", cfg.Stages.Decoding.MaxConcurrentOperationCount, true, p.metrics),
		encoding:      queue.NewStage(ctx, "encoding", cfg.Stages.Encoding.MaxConcurrentOperationCount, true, p.metrics),
		processing:    queue.NewStage(ctx, "processing", cfg.Stages.Processing.MaxConcurrentOperationCount, false, p.metrics),
		decompressing: queue.NewStage(ctx, "decompressing", cfg.Stages.Decompressing.MaxConcurrentOperationCount, true, p.metrics),
	}

	for _, s := range []*queue.Stage{
		p.stages.dataLoading, p.stages.dataCaching, p.stages.decoding,
		p.stages.encoding, p.stages.processing, p.stages.decompressing,
	} {
		go s.Run()
	}

	return p, nil
}

type rateLimiterRecorder struct{ m *metricslib.Recorder }

func (r rateLimiterRecorder) IncDeferred() { r.m.RateLimiterWaits.Inc() }

// Shutdown stops every stage's worker pool: workers stop taking jobs and
// later stage submissions fail with queue.ErrShutdown. The contexts of
// in-flight ImageTasks are not cancelled by it.
func (p *Pipeline) Shutdown() {
	p.cancel()
}

// Invalidate transitions the pipeline to a terminal state: new requests
// fail immediately with ErrPipelineInvalidated. Already in-flight tasks
// are unaffected.
func (p *Pipeline) Invalidate() {
	p.invalidated.Store(true)
}

func (p *Pipeline) checkInvalidated() error {
	if p.invalidated.Load() {
		return ErrPipelineInvalidated
	}
	return nil
}

// Healthy implements metricsserver.HealthChecker: a Pipeline is healthy
// until Invalidate has been called.
func (p *Pipeline) Healthy() error {
	return p.checkInvalidated()
}

// AdminHandler returns the /metrics and /healthz HTTP surface for this
// Pipeline's own prometheus registry, for an embedding process to serve
// alongside its own routes (e.g. on a separate operator-only listener,
// the same way the teacher's cmd/image-service/main.go runs its metrics
// server on a distinct listen address from its public API).
func (p *Pipeline) AdminHandler() http.Handler {
	s := &metricsserver.Server{
		Registry:           p.registry,
		Log:                p.log,
		Checker:            p,
		CORSAllowedOrigins: p.cors,
	}
	return s.Router()
}

// newTaskID assigns each ImageTask a globally unique identifier (the
// teacher's own per-request uuid, repurposed from HTTP request-ID
// correlation to task correlation), so a caller that logs an ImageTask's
// ID alongside the pipeline's own structured logs can join the two
// without a pipeline-local counter colliding across processes.
func (p *Pipeline) newTaskID() string {
	return uuid.NewString()
}

// --- process-wide default pipeline ---

var defaultPipeline atomic.Pointer[Pipeline]

// SetDefault atomically swaps the process-wide default Pipeline. This
// keeps the convenience of a process-wide default without forcing a hard
// singleton: nothing stops a caller from never touching it and threading
// Pipelines through their own code instead.
func SetDefault(p *Pipeline) {
	defaultPipeline.Store(p)
}

// Default returns the process-wide default Pipeline, or nil if
// SetDefault was never called.
func Default() *Pipeline {
	return defaultPipeline.Load()
}
