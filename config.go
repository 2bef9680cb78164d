package imagepipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teacup-imaging/imagepipeline/internal/config"
	"github.com/teacup-imaging/imagepipeline/internal/logger"
	"github.com/teacup-imaging/imagepipeline/internal/metricslib"
	"github.com/teacup-imaging/imagepipeline/internal/tracing"
)

// DataCachePolicy is the disk-cache writeback policy.
type DataCachePolicy = config.DataCachePolicy

const (
	PolicyAutomatic          = config.PolicyAutomatic
	PolicyStoreOriginalData  = config.PolicyStoreOriginalData
	PolicyStoreEncodedImages = config.PolicyStoreEncodedImages
	PolicyStoreAll           = config.PolicyStoreAll
)

// StageLimits bounds one stage's worker concurrency.
type StageLimits struct {
	MaxConcurrentOperationCount int
}

// StageConfig configures every per-stage bounded worker queue the
// pipeline runs.
type StageConfig struct {
	DataLoading   StageLimits
	DataCaching   StageLimits
	Decoding      StageLimits
	Encoding      StageLimits
	Processing    StageLimits
	Decompressing StageLimits
}

// Config is the Pipeline's construction-time configuration.
type Config struct {
	// Required.
	DataLoader DataLoader

	// Optional collaborators.
	DataCache DataCache

	// Decoder/encoder factories.
	Decoders    *DecoderRegistry
	MakeEncoder func() Encoder

	IsDeduplicationEnabled         bool
	IsProgressiveDecodingEnabled   bool
	IsStoringPreviewsInMemoryCache bool
	IsResumableDataEnabled        bool
	IsRateLimiterEnabled          bool
	IsDecompressionEnabled        bool

	DataCachePolicy DataCachePolicy

	RateLimiterCapacity        int
	RateLimiterRefillPerSecond float64

	MemoryCacheCostLimitBytes int64
	MemoryCacheCountLimit     int
	MemoryCacheTTL            time.Duration

	ResumableDataMaxAge time.Duration

	Stages StageConfig

	// Ambient collaborators. Log and Tracer default to no-op
	// implementations and Metrics to a Recorder on Registry, so a
	// zero-value Config (plus DataLoader) is always usable.
	Log     *logger.Logger
	Metrics *metricslib.Recorder
	Tracer  *tracing.Tracer

	// Registry backs both Metrics and AdminHandler's /metrics endpoint.
	// Defaults to a private registry so constructing multiple Pipelines
	// never collides on metric registration.
	Registry *prometheus.Registry

	// CORSAllowedOrigins, passed through to AdminHandler, enables the
	// rs/cors middleware on the admin surface for the given origins.
	// Left empty, the admin surface applies no CORS middleware.
	CORSAllowedOrigins []string

	// EnableAutomaxprocs sets GOMAXPROCS to match the container's CPU
	// quota on Pipeline construction, the same maxprocs.Set call the
	// teacher's cmd/image-service/main.go makes at startup.
	EnableAutomaxprocs bool
}

// defaultMemoryCacheCostLimitBytes approximates "20% of device RAM" for a
// process that has no notion of "device RAM"; embedding apps on a real
// device should override this from the actual platform memory query.
const defaultMemoryCacheCostLimitBytes = 256 << 20 // 256MiB

// DefaultConfig returns the pipeline's baseline configuration, requiring
// only that the caller fill in DataLoader (and, usually, Decoders).
func DefaultConfig(dataLoader DataLoader) Config {
	def := config.Default()
	return Config{
		DataLoader:                     dataLoader,
		IsDeduplicationEnabled:         def.IsDeduplicationEnabled,
		IsProgressiveDecodingEnabled:   def.IsProgressiveDecodingEnabled,
		IsStoringPreviewsInMemoryCache: def.IsStoringPreviewsInMemoryCache,
		IsResumableDataEnabled:         def.IsResumableDataEnabled,
		IsRateLimiterEnabled:           def.IsRateLimiterEnabled,
		IsDecompressionEnabled:         def.IsDecompressionEnabled,
		DataCachePolicy:                def.DataCachePolicy,
		RateLimiterCapacity:            def.RateLimiterCapacity,
		RateLimiterRefillPerSecond:     def.RateLimiterRefillPerSecond,
		MemoryCacheCostLimitBytes:      defaultMemoryCacheCostLimitBytes,
		ResumableDataMaxAge:            10 * time.Minute,
		Stages: StageConfig{
			DataLoading:   StageLimits{def.Stages["dataLoading"].MaxConcurrentOperationCount},
			DataCaching:   StageLimits{def.Stages["dataCaching"].MaxConcurrentOperationCount},
			Decoding:      StageLimits{def.Stages["decoding"].MaxConcurrentOperationCount},
			Encoding:      StageLimits{def.Stages["encoding"].MaxConcurrentOperationCount},
			Processing:    StageLimits{def.Stages["processing"].MaxConcurrentOperationCount},
			Decompressing: StageLimits{def.Stages["decompressing"].MaxConcurrentOperationCount},
		},
	}
}

// FromYAMLFile builds a Config from a YAML file in internal/config's
// PipelineConfig shape, the declarative counterpart to DefaultConfig for
// apps that want stage sizing and feature flags in a config file rather
// than Go source. The caller still supplies DataLoader (and usually
// Decoders) since those are collaborators, not data.
func FromYAMLFile(path string, dataLoader DataLoader) (Config, error) {
	fc, err := config.Load(path)
	if err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig(dataLoader)
	cfg.IsDeduplicationEnabled = fc.IsDeduplicationEnabled
	cfg.IsProgressiveDecodingEnabled = fc.IsProgressiveDecodingEnabled
	cfg.IsStoringPreviewsInMemoryCache = fc.IsStoringPreviewsInMemoryCache
	cfg.IsResumableDataEnabled = fc.IsResumableDataEnabled
	cfg.IsRateLimiterEnabled = fc.IsRateLimiterEnabled
	cfg.IsDecompressionEnabled = fc.IsDecompressionEnabled
	cfg.DataCachePolicy = fc.DataCachePolicy
	cfg.RateLimiterCapacity = fc.RateLimiterCapacity
	cfg.RateLimiterRefillPerSecond = fc.RateLimiterRefillPerSecond
	cfg.MemoryCacheCostLimitBytes = fc.MemoryCacheCostLimitBytes
	cfg.MemoryCacheCountLimit = fc.MemoryCacheCountLimit
	cfg.MemoryCacheTTL = fc.MemoryCacheTTL

	for name, sc := range fc.Stages {
		limits := StageLimits{sc.MaxConcurrentOperationCount}
		switch name {
		case "dataLoading":
			cfg.Stages.DataLoading = limits
		case "dataCaching":
			cfg.Stages.DataCaching = limits
		case "decoding":
			cfg.Stages.Decoding = limits
		case "encoding":
			cfg.Stages.Encoding = limits
		case "processing":
			cfg.Stages.Processing = limits
		case "decompressing":
			cfg.Stages.Decompressing = limits
		}
	}

	return cfg, nil
}

// FromEnv builds a Config from commandline flags overlaid with
// prefix-prefixed environment variables (internal/config.LoadFromEnv),
// the declarative counterpart to FromYAMLFile for apps that configure
// the pipeline the way the teacher's own binary configures itself.
func FromEnv(prefix string, dataLoader DataLoader) Config {
	fc := config.LoadFromEnv(prefix)

	cfg := DefaultConfig(dataLoader)
	cfg.IsRateLimiterEnabled = fc.IsRateLimiterEnabled
	cfg.RateLimiterCapacity = fc.RateLimiterCapacity
	cfg.RateLimiterRefillPerSecond = fc.RateLimiterRefillPerSecond
	cfg.IsProgressiveDecodingEnabled = fc.IsProgressiveDecodingEnabled
	cfg.MemoryCacheCostLimitBytes = fc.MemoryCacheCostLimitBytes

	return cfg
}

func (c *Config) fillDefaults() {
	if c.Log == nil {
		c.Log = logger.Nop()
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}
	if c.Metrics == nil {
		c.Metrics = metricslib.New(c.Registry)
	}
	if c.Tracer == nil {
		c.Tracer = tracing.Noop(c.Log)
	}
	if c.Stages.DataLoading.MaxConcurrentOperationCount < 1 {
		c.Stages.DataLoading.MaxConcurrentOperationCount = 6
	}
	if c.Stages.DataCaching.MaxConcurrentOperationCount < 1 {
		c.Stages.DataCaching.MaxConcurrentOperationCount = 2
	}
	if c.Stages.Decoding.MaxConcurrentOperationCount < 1 {
		c.Stages.Decoding.MaxConcurrentOperationCount = 1
	}
	if c.Stages.Encoding.MaxConcurrentOperationCount < 1 {
		c.Stages.Encoding.MaxConcurrentOperationCount = 1
	}
	if c.Stages.Processing.MaxConcurrentOperationCount < 1 {
		c.Stages.Processing.MaxConcurrentOperationCount = 2
	}
	if c.Stages.Decompressing.MaxConcurrentOperationCount < 1 {
		c.Stages.Decompressing.MaxConcurrentOperationCount = 1
	}
	if c.RateLimiterCapacity < 1 {
		c.RateLimiterCapacity = 20
	}
	if c.RateLimiterRefillPerSecond <= 0 {
		c.RateLimiterRefillPerSecond = 10
	}
	if c.MemoryCacheCostLimitBytes <= 0 {
		c.MemoryCacheCostLimitBytes = defaultMemoryCacheCostLimitBytes
	}
	if c.DataCachePolicy == "" {
		c.DataCachePolicy = PolicyStoreOriginalData
	}
	if c.Decoders == nil {
		c.Decoders = NewDecoderRegistry(nil)
	}
}
