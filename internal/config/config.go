// Package config loads a PipelineConfig either from YAML (Load) or from
// the same flag/envy.Parse flow the teacher's cmd/image-service/main.go
// uses for its own commandline flags (LoadFromEnv), so apps embedding the
// pipeline can configure it either declaratively or the way the teacher's
// own binary is configured.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jamiealquiza/envy"
	"gopkg.in/yaml.v3"
)

// StageConfig configures one bounded worker stage.
type StageConfig struct {
	MaxConcurrentOperationCount int `yaml:"max_concurrent_operation_count"`
}

// DataCachePolicy controls what LoadImage writes to the disk cache.
type DataCachePolicy string

const (
	PolicyAutomatic          DataCachePolicy = "automatic"
	PolicyStoreOriginalData  DataCachePolicy = "storeOriginalData"
	PolicyStoreEncodedImages DataCachePolicy = "storeEncodedImages"
	PolicyStoreAll           DataCachePolicy = "storeAll"
)

// PipelineConfig is the YAML-loadable shape of pipeline.Config.
type PipelineConfig struct {
	IsDeduplicationEnabled          bool            `yaml:"is_deduplication_enabled"`
	IsProgressiveDecodingEnabled    bool            `yaml:"is_progressive_decoding_enabled"`
	IsStoringPreviewsInMemoryCache  bool            `yaml:"is_storing_previews_in_memory_cache"`
	IsResumableDataEnabled          bool            `yaml:"is_resumable_data_enabled"`
	IsRateLimiterEnabled            bool            `yaml:"is_rate_limiter_enabled"`
	IsDecompressionEnabled          bool            `yaml:"is_decompression_enabled"`
	DataCachePolicy                 DataCachePolicy `yaml:"data_cache_policy"`
	RateLimiterCapacity             int             `yaml:"rate_limiter_capacity"`
	RateLimiterRefillPerSecond      float64         `yaml:"rate_limiter_refill_per_second"`
	MemoryCacheCostLimitBytes       int64           `yaml:"memory_cache_cost_limit_bytes"`
	MemoryCacheCountLimit           int             `yaml:"memory_cache_count_limit"`
	MemoryCacheTTL                  time.Duration   `yaml:"memory_cache_ttl"`
	Stages                          map[string]StageConfig `yaml:"stages"`
}

// Default returns the pipeline's baseline configuration.
func Default() PipelineConfig {
	return PipelineConfig{
		IsDeduplicationEnabled:         true,
		IsProgressiveDecodingEnabled:   false,
		IsStoringPreviewsInMemoryCache: false,
		IsResumableDataEnabled:         true,
		IsRateLimiterEnabled:           true,
		IsDecompressionEnabled:         true,
		DataCachePolicy:                PolicyStoreOriginalData,
		RateLimiterCapacity:            20,
		RateLimiterRefillPerSecond:     10,
		MemoryCacheCountLimit:          0,
		Stages: map[string]StageConfig{
			"dataLoading":    {MaxConcurrentOperationCount: 6},
			"dataCaching":    {MaxConcurrentOperationCount: 2},
			"decoding":       {MaxConcurrentOperationCount: 1},
			"encoding":       {MaxConcurrentOperationCount: 1},
			"processing":     {MaxConcurrentOperationCount: 2},
			"decompressing":  {MaxConcurrentOperationCount: 1},
		},
	}
}

// Load reads and validates a PipelineConfig from a YAML file, filling in
// defaults for anything left zero-valued.
func Load(path string) (PipelineConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate rejects configurations that could deadlock the pipeline or
// starve a stage entirely.
func (c PipelineConfig) Validate() error {
	switch c.DataCachePolicy {
	case PolicyAutomatic, PolicyStoreOriginalData, PolicyStoreEncodedImages, PolicyStoreAll, "":
	default:
		return fmt.Errorf("config: unknown data cache policy %q", c.DataCachePolicy)
	}

	for name, stage := range c.Stages {
		if stage.MaxConcurrentOperationCount < 1 {
			return fmt.Errorf("config: stage %q must allow at least one concurrent operation", name)
		}
	}

	if c.IsRateLimiterEnabled && (c.RateLimiterCapacity < 1 || c.RateLimiterRefillPerSecond <= 0) {
		return fmt.Errorf("config: rate limiter capacity and refill rate must be positive")
	}

	return nil
}

// Commandline flags for LoadFromEnv, overridden by prefix-prefixed
// environment variables via envy.Parse the same way
// cmd/image-service/main.go's own flags are.
var (
	envRateLimiterEnabled         = flag.Bool("rate-limiter-enabled", true, "enable the outbound rate limiter")
	envRateLimiterCapacity        = flag.Int("rate-limiter-capacity", 20, "rate limiter token bucket capacity")
	envRateLimiterRefillPerSecond = flag.Float64("rate-limiter-refill-per-second", 10, "rate limiter refill rate per second")
	envProgressiveDecodingEnabled = flag.Bool("progressive-decoding-enabled", false, "enable progressive image decoding")
	envMemoryCacheCostLimitBytes  = flag.Int64("memory-cache-cost-limit-bytes", 0, "memory cache cost bound in bytes (0 keeps the built-in default)")
)

// LoadFromEnv builds a PipelineConfig from command-line flags overlaid
// with prefix-prefixed environment variables, the same
// envy.Parse-then-flag.Parse sequence the teacher's
// cmd/image-service/main.go uses for its own "IMAGE"-prefixed flags.
func LoadFromEnv(prefix string) PipelineConfig {
	cfg := Default()

	envy.Parse(prefix)
	if !flag.Parsed() {
		flag.Parse()
	}

	cfg.IsRateLimiterEnabled = *envRateLimiterEnabled
	cfg.RateLimiterCapacity = *envRateLimiterCapacity
	cfg.RateLimiterRefillPerSecond = *envRateLimiterRefillPerSecond
	cfg.IsProgressiveDecodingEnabled = *envProgressiveDecodingEnabled
	if *envMemoryCacheCostLimitBytes > 0 {
		cfg.MemoryCacheCostLimitBytes = *envMemoryCacheCostLimitBytes
	}

	return cfg
}
