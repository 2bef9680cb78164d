package imagepipeline

import (
	"context"

	"github.com/teacup-imaging/imagepipeline/internal/cachekey"
	"github.com/teacup-imaging/imagepipeline/internal/task"
)

// Priority is the request/task priority.
type Priority = task.Priority

const (
	VeryLow  = task.VeryLow
	Low      = task.Low
	Normal   = task.Normal
	High     = task.High
	VeryHigh = task.VeryHigh
)

// Options is the set of per-request cache/load behavior flags.
type Options struct {
	ReloadIgnoringCachedData bool
	ReturnCacheDataDontLoad  bool
	DisableMemoryCacheReads  bool
	DisableMemoryCacheWrites bool
	DisableDiskCacheReads    bool
	DisableDiskCacheWrites   bool
}

// Processor is a deterministic, pure transformation over image
// containers, identified by a stable string key.
type Processor interface {
	// Identifier is a stable, human-readable name, used in imageCacheKey
	// serialization.
	Identifier() string

	// Key is a content-hashable key distinguishing this processor
	// instance's configuration (e.g. "resize(100x100)").
	Key() string

	// Process transforms container, or returns (nil, nil) to decline: on
	// the final pass a decline surfaces as a processingFailed error, on a
	// preview pass it's a silently dropped preview.
	Process(ctx context.Context, container ImageContainer) (*ImageContainer, error)
}

// URLRequest is the opaque URL-or-request source passed to the configured
// DataLoader. Method/Headers are used verbatim by the DataLoader; the core
// never performs HTTP itself.
type URLRequest struct {
	URL     string
	Method  string
	Headers map[string]string
}

// Request is the pipeline's immutable request value. Equality is defined by (imageCacheKey, dataCacheKey, loadKey,
// processor-identifier-sequence, options) — NOT priority, which callers
// adjust independently of request identity via ImageTask.SetPriority.
type Request struct {
	Source     URLRequest
	Processors []Processor
	Options    Options
	Priority   Priority
	UserInfo   map[string]interface{}
}

// ImageID returns the userInfo["imageId"] override, if present, which
// replaces the URL component in cache-key derivation verbatim.
func (r Request) ImageID() string {
	if r.UserInfo == nil {
		return ""
	}
	if v, ok := r.UserInfo["imageId"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (r Request) dataSource() cachekey.DataSource {
	return cachekey.DataSource{ImageID: r.ImageID(), URL: r.Source.URL}
}

// DataCacheKey derives the request's data-cache key.
func (r Request) DataCacheKey() (string, error) {
	return cachekey.DataCacheKey(r.dataSource())
}

// ImageCacheKey derives the request's image-cache key, folding in the
// applied processor chain's identifiers.
func (r Request) ImageCacheKey() (string, error) {
	dataKey, err := r.DataCacheKey()
	if err != nil {
		return "", err
	}
	ids := make([]string, len(r.Processors))
	for i, p := range r.Processors {
		ids[i] = p.Identifier()
	}
	return cachekey.ImageCacheKey(dataKey, ids), nil
}

// LoadKey derives the request's load-coalescing key: dataCacheKey plus
// the byte-affecting header subset, so requests differing only by a
// cache-irrelevant header still share one in-flight fetch.
func (r Request) LoadKey() (string, error) {
	dataKey, err := r.DataCacheKey()
	if err != nil {
		return "", err
	}
	return cachekey.LoadKey(dataKey, r.Source.Headers), nil
}

// withProcessors returns a copy of r using the given processor prefix.
func (r Request) withProcessors(p []Processor) Request {
	out := r
	out.Processors = p
	return out
}
