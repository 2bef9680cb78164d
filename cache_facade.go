package imagepipeline

// CacheDestination selects which tier a CacheFacade operation targets.
type CacheDestination int

const (
	CacheDestinationMemory CacheDestination = iota
	CacheDestinationDisk
	CacheDestinationAll
)

// CacheFacade is the thin get/set/remove/contains surface over the
// pipeline's memory and disk caches, honoring the same cache-control
// options as LoadImage and respecting imageId through Request's own key
// derivation.
type CacheFacade struct {
	p *Pipeline
}

// Cache returns the facade bound to this Pipeline's caches.
func (p *Pipeline) Cache() CacheFacade { return CacheFacade{p: p} }

// Get looks up req's imageCacheKey in the requested destination(s),
// memory first.
func (c CacheFacade) Get(req Request, dest CacheDestination) (ImageResponse, bool) {
	key, err := req.ImageCacheKey()
	if err != nil {
		return ImageResponse{}, false
	}

	if dest != CacheDestinationDisk && !req.Options.DisableMemoryCacheReads {
		if container, ok := c.p.memCache.Get(key); ok {
			return ImageResponse{Container: container, CacheType: CacheTypeMemory}, true
		}
	}
	if dest != CacheDestinationMemory && c.p.dataCache != nil && !req.Options.DisableDiskCacheReads {
		if data, ok := c.p.dataCache.CachedData(key); ok {
			return ImageResponse{Container: ImageContainer{Data: data}, CacheType: CacheTypeDisk}, true
		}
	}
	return ImageResponse{}, false
}

// Set inserts container under req's imageCacheKey into the requested
// destination(s). A disk write is skipped if container has no encoded
// bytes: the facade doesn't encode on the caller's behalf.
func (c CacheFacade) Set(req Request, container ImageContainer, dest CacheDestination) {
	key, err := req.ImageCacheKey()
	if err != nil {
		return
	}

	if dest != CacheDestinationDisk && !req.Options.DisableMemoryCacheWrites {
		c.p.memCache.Add(key, container)
	}
	if dest != CacheDestinationMemory && c.p.dataCache != nil && !req.Options.DisableDiskCacheWrites && len(container.Data) > 0 {
		c.p.dataCache.StoreData(key, container.Data)
	}
}

// Remove deletes req's imageCacheKey from the requested destination(s).
// Explicit removal always runs, regardless of the request's read/write
// cache-control options.
func (c CacheFacade) Remove(req Request, dest CacheDestination) {
	key, err := req.ImageCacheKey()
	if err != nil {
		return
	}

	if dest != CacheDestinationDisk {
		c.p.memCache.Remove(key)
	}
	if dest != CacheDestinationMemory && c.p.dataCache != nil {
		c.p.dataCache.RemoveData(key)
	}
}

// Contains reports presence in the requested destination(s) without
// affecting recency order.
func (c CacheFacade) Contains(req Request, dest CacheDestination) bool {
	key, err := req.ImageCacheKey()
	if err != nil {
		return false
	}

	switch dest {
	case CacheDestinationMemory:
		return c.p.memCache.Contains(key)
	case CacheDestinationDisk:
		return c.p.dataCache != nil && c.p.dataCache.ContainsData(key)
	default:
		return c.p.memCache.Contains(key) || (c.p.dataCache != nil && c.p.dataCache.ContainsData(key))
	}
}
