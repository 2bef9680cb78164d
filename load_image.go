package imagepipeline

import (
	"context"
	"net/url"
	"strconv"

	"github.com/teacup-imaging/imagepipeline/internal/backpressure"
	"github.com/teacup-imaging/imagepipeline/internal/cachekey"
	"github.com/teacup-imaging/imagepipeline/internal/task"
)

// LoadImage is the pipeline's top-level public entry point: it looks up
// or creates a coalesced LoadImage task and attaches a new client-facing
// ImageTask to it.
func (p *Pipeline) LoadImage(req Request, priority Priority, h Handlers) (*ImageTask, error) {
	if err := p.checkInvalidated(); err != nil {
		return nil, err
	}
	if req.Source.URL == "" && req.ImageID() == "" {
		return nil, errDataMissing()
	}

	imageCacheKey, err := req.ImageCacheKey()
	if err != nil {
		return nil, err
	}
	key := imageCacheKey + "#" + optionsSignature(req.Options)

	it := newImageTask(p.newTaskID(), req, priority)

	t, reused := p.loadImageArena.GetOrCreate(key, p.cfg.IsDeduplicationEnabled, p.startLoadImage(req, imageCacheKey))
	if reused {
		p.metrics.RequestsCoalesced.WithLabelValues("loadImage").Inc()
	}

	sub := t.Subscribe(priority, func(e task.Event[ImageResponse]) {
		switch e.Kind {
		case task.EventProgress:
			it.dispatchProgress(e.Completed, e.Total, h)
		case task.EventValue:
			if e.IsFinal {
				it.dispatchComplete(e.Value, nil, h)
			} else {
				it.dispatchPreview(e.Value, h)
			}
		case task.EventError:
			it.dispatchComplete(ImageResponse{}, e.Err, h)
		}
	})
	it.attach(sub)
	return it, nil
}

// LoadImagePtr is a convenience wrapper for callers that only have an
// optional *Request (e.g. deserialized from a UI binding layer): a nil
// req fails with imageRequestMissing rather than panicking or being
// silently treated as a missing-source request.
func (p *Pipeline) LoadImagePtr(req *Request, priority Priority, h Handlers) (*ImageTask, error) {
	if req == nil {
		return nil, ErrImageRequestMissing
	}
	return p.LoadImage(*req, priority, h)
}

// LoadData is the bytes-only variant: it short-circuits after
// LoadImageData, never decoding, processing, or decompressing.
func (p *Pipeline) LoadData(req Request, priority Priority, h Handlers) (*ImageTask, error) {
	if err := p.checkInvalidated(); err != nil {
		return nil, err
	}
	if req.Source.URL == "" && req.ImageID() == "" {
		return nil, errDataMissing()
	}

	loadKey, err := req.LoadKey()
	if err != nil {
		return nil, err
	}

	it := newImageTask(p.newTaskID(), req, priority)

	t, reused := p.loadImageDataArena.GetOrCreate(loadKey, p.cfg.IsDeduplicationEnabled, p.startLoadImageData(req, loadKey))
	if reused {
		p.metrics.RequestsCoalesced.WithLabelValues("loadImageData").Inc()
	}

	sub := t.Subscribe(priority, func(e task.Event[dataChunk]) {
		switch e.Kind {
		case task.EventProgress:
			it.dispatchProgress(e.Completed, e.Total, h)
		case task.EventValue:
			resp := ImageResponse{Container: ImageContainer{Data: e.Value.bytes}, URLResponse: e.Value.urlResponse}
			if e.IsFinal {
				it.dispatchComplete(resp, nil, h)
			} else {
				it.dispatchPreview(resp, h)
			}
		case task.EventError:
			it.dispatchComplete(ImageResponse{}, e.Err, h)
		}
	})
	it.attach(sub)
	return it, nil
}

// startLoadImage builds the LoadImage task body: memory cache, processed
// disk cache, intermediate-processor cache, return-cache-only guard, then
// a full decode+process load, run once per coalesced (imageCacheKey,
// options) pair.
func (p *Pipeline) startLoadImage(req Request, imageCacheKey string) task.StartFunc[ImageResponse] {
	return func(ctx context.Context, t *task.Task[ImageResponse]) {
		// Step 1: memory cache fast path.
		if !req.Options.DisableMemoryCacheReads && !req.Options.ReloadIgnoringCachedData {
			if container, ok := p.memCache.Get(imageCacheKey); ok {
				p.metrics.MemoryCacheHits.Inc()
				resp := ImageResponse{Container: container, CacheType: CacheTypeMemory}
				if !container.IsPreview {
					t.EmitValue(resp, true)
					return
				}
				t.EmitValue(resp, false)
			} else {
				p.metrics.MemoryCacheMisses.Inc()
			}
		}

		// Step 2: processed disk-cache path.
		if p.dataCache != nil && policyIncludesEncoded(p.cfg.DataCachePolicy) &&
			!req.Options.ReloadIgnoringCachedData && !req.Options.DisableDiskCacheReads {

			if data, ok := p.readDataCache(ctx, imageCacheKey); ok {
				p.metrics.DiskCacheHits.Inc()
				if container, err := p.decodeOnce(ctx, req, data); err == nil {
					p.finishLoadImage(ctx, t, req, container, CacheTypeDisk)
					return
				}
			} else {
				p.metrics.DiskCacheMisses.Inc()
			}
		}

		// Step 3: intermediate cache walk.
		if !req.Options.DisableMemoryCacheReads && !req.Options.ReloadIgnoringCachedData && len(req.Processors) > 0 {
			if container, upTo, ok := p.walkIntermediateCache(req); ok {
				if identity, err := p.processChainIdentity(req, upTo); err == nil {
					base := newImmediateTask(container)
					chain := p.applyProcessors(req.Processors[upTo:], base, identity)
					p.driveLoadImage(ctx, t, req, chain)
					return
				}
			}
		}

		// Step 4: returnCacheDataDontLoad guard.
		if req.Options.ReturnCacheDataDontLoad {
			t.EmitError(errDataLoadingFailed(ErrResourceUnavailable))
			return
		}

		// Step 5: full load.
		upstream, err := p.resolveImageTask(req)
		if err != nil {
			t.EmitError(err)
			return
		}
		p.driveLoadImage(ctx, t, req, upstream)
	}
}

// driveLoadImage subscribes t to upstream (an image-producing task,
// either a fresh decode+process chain or a synthetic single-shot task
// seeded from an intermediate cache hit) and applies decompression and
// writeback to each delivered value, with the same single-slot
// back-pressure as decode/process.
func (p *Pipeline) driveLoadImage(ctx context.Context, t *task.Task[ImageResponse], req Request, upstream *task.Task[ImageContainer]) {
	var sub *task.Subscription[ImageContainer]

	coalescer := backpressure.New(func(ev containerEvent) {
		p.finishLoadImage(ctx, t, req, ev.container, CacheTypeNone)
	})

	t.OnPriorityChange(func(pr Priority) {
		if sub != nil {
			sub.SetPriority(pr)
		}
	})

	sub = upstream.Subscribe(t.Priority(), func(e task.Event[ImageContainer]) {
		switch e.Kind {
		case task.EventProgress:
			t.EmitProgress(e.Completed, e.Total)
		case task.EventValue:
			coalescer.Submit(containerEvent{container: e.Value, final: e.IsFinal})
		case task.EventError:
			t.EmitError(e.Err)
		}
	})

	<-ctx.Done()
	sub.Unsubscribe()
}

// finishLoadImage applies Decompress, then the configured writeback
// policy, to one delivered container, and emits the resulting
// ImageResponse.
func (p *Pipeline) finishLoadImage(ctx context.Context, t *task.Task[ImageResponse], req Request, container ImageContainer, cacheType CacheType) {
	if ctx.Err() != nil {
		return
	}
	isFinal := !container.IsPreview

	decompressed, err := p.decompress(ctx, container)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if isFinal {
			t.EmitError(err)
		}
		return
	}
	container = decompressed

	if !req.Options.DisableMemoryCacheWrites && (!container.IsPreview || p.cfg.IsStoringPreviewsInMemoryCache) {
		if imageCacheKey, err := req.ImageCacheKey(); err == nil {
			p.memCache.Add(imageCacheKey, container)
		}
	}

	if isFinal {
		if cacheType != CacheTypeDisk {
			p.writeProcessedToDataCache(req, container)
		}
		p.metrics.TaskTerminal.WithLabelValues("loadImage", "success").Inc()
	}

	t.EmitValue(ImageResponse{Container: container, CacheType: cacheType}, isFinal)
}

// resolveImageTask returns the task producing req's fully processed
// image: a DecodeImage task (coalesced by loadKey) chained through a
// ProcessImage task per processor (each coalesced by processKey).
func (p *Pipeline) resolveImageTask(req Request) (*task.Task[ImageContainer], error) {
	loadKey, err := req.LoadKey()
	if err != nil {
		return nil, err
	}
	base, reused := p.decodeImageArena.GetOrCreate(loadKey, p.cfg.IsDeduplicationEnabled, p.startDecodeImage(req, loadKey))
	if reused {
		p.metrics.RequestsCoalesced.WithLabelValues("decodeImage").Inc()
	}

	baseIdentity, err := req.DataCacheKey()
	if err != nil {
		return nil, err
	}

	return p.applyProcessors(req.Processors, base, baseIdentity), nil
}

// applyProcessors chains one ProcessImage task per processor onto base,
// coalescing each by processKey(identity, processor.key) so two requests
// sharing a processor prefix share that prefix's work.
func (p *Pipeline) applyProcessors(procs []Processor, base *task.Task[ImageContainer], baseIdentity string) *task.Task[ImageContainer] {
	current := base
	identity := baseIdentity
	for _, proc := range procs {
		processKey := cachekey.ProcessKey(identity, proc.Key())
		upstream := current
		t, reused := p.processImageArena.GetOrCreate(processKey, p.cfg.IsDeduplicationEnabled, p.startProcessImage(proc, upstream))
		if reused {
			p.metrics.RequestsCoalesced.WithLabelValues("processImage").Inc()
		}
		current = t
		identity = processKey
	}
	return current
}

// processChainIdentity computes the processKey-chain identity that
// applyProcessors would assign after applying req.Processors[:upTo],
// without re-running any of that work — used by the intermediate cache
// walk to resume the SAME coalescing chain a fresh full load would use.
func (p *Pipeline) processChainIdentity(req Request, upTo int) (string, error) {
	identity, err := req.DataCacheKey()
	if err != nil {
		return "", err
	}
	for i := 0; i < upTo; i++ {
		identity = cachekey.ProcessKey(identity, req.Processors[i].Key())
	}
	return identity, nil
}

// walkIntermediateCache probes the memory cache for the longest processor
// prefix already resolved, from longest to shortest. upTo is the count of
// processors already applied in the hit.
func (p *Pipeline) walkIntermediateCache(req Request) (container ImageContainer, upTo int, ok bool) {
	procs := req.Processors
	for i := len(procs) - 1; i >= 0; i-- {
		prefixReq := req.withProcessors(procs[:i+1])
		key, err := prefixReq.ImageCacheKey()
		if err != nil {
			continue
		}
		if c, hit := p.memCache.Get(key); hit && !c.IsPreview {
			return c, i + 1, true
		}
	}
	return ImageContainer{}, 0, false
}

// newImmediateTask wraps an already-available container as a single-shot
// task.Task, used to seed applyProcessors from an intermediate cache hit
// instead of a live DecodeImage task.
func newImmediateTask(container ImageContainer) *task.Task[ImageContainer] {
	return task.New("", func(ctx context.Context, t *task.Task[ImageContainer]) {
		t.EmitValue(container, true)
	})
}

// decodeOnce runs a single non-progressive decode pass, used for step 2's
// processed disk-cache hit (the bytes are already final; there is no
// progressive state machine to run).
func (p *Pipeline) decodeOnce(ctx context.Context, req Request, data []byte) (ImageContainer, error) {
	decCtx := DecodingContext{Request: req, Bytes: data}
	decoder, err := p.cfg.Decoders.Resolve(decCtx)
	if err != nil {
		return ImageContainer{}, err
	}

	result, err := p.stages.decoding.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		return decoder.Decode(decCtx, true)
	})
	if err != nil {
		return ImageContainer{}, err
	}

	container, ok := result.(*ImageContainer)
	if !ok || container == nil {
		return ImageContainer{}, errDecodingFailed("decoder returned no container")
	}
	container.IsPreview = false
	return *container, nil
}

// readDataCache performs one keyed DataCache read on the dataCaching
// queue, reporting a miss for both "not found" and a cancelled wait.
func (p *Pipeline) readDataCache(ctx context.Context, key string) ([]byte, bool) {
	result, err := p.stages.dataCaching.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		if b, ok := p.dataCache.CachedData(key); ok {
			return b, nil
		}
		return nil, errCacheMiss
	})
	if err != nil {
		return nil, false
	}
	return result.([]byte), true
}

// writeProcessedToDataCache implements the encoded-image half of the
// configured writeback: only for requests with processors (an unprocessed
// image has no distinct imageCacheKey payload to cache beyond its
// original bytes), only when policy and options allow it, and skipped
// entirely for opaque/non-http(s) sources.
func (p *Pipeline) writeProcessedToDataCache(req Request, container ImageContainer) {
	if p.dataCache == nil || len(req.Processors) == 0 || req.Options.DisableDiskCacheWrites {
		return
	}
	if !policyIncludesEncoded(p.cfg.DataCachePolicy) || p.cfg.MakeEncoder == nil {
		return
	}
	if !hasCacheableSource(req) {
		return
	}
	imageCacheKey, err := req.ImageCacheKey()
	if err != nil {
		return
	}

	go p.stages.encoding.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		enc := p.cfg.MakeEncoder()
		data, err := enc.Encode(container)
		if err != nil || data == nil {
			return nil, err
		}
		p.dataCache.StoreData(imageCacheKey, data)
		return nil, nil
	})
}

// hasCacheableSource reports whether req's source can back a stable disk
// cache key: an explicit imageId override always qualifies; otherwise the
// URL must be a plain http(s) URL, excluding opaque schemes.
func hasCacheableSource(req Request) bool {
	if req.ImageID() != "" {
		return true
	}
	u, err := url.Parse(req.Source.URL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// optionsSignature distinguishes LoadImage tasks by the option flags that
// change cache behavior, so e.g. a reloadIgnoringCachedData request never
// coalesces with (or disturbs) an in-flight cache-respecting one for the
// same image.
func optionsSignature(o Options) string {
	bits := 0
	if o.ReloadIgnoringCachedData {
		bits |= 1
	}
	if o.ReturnCacheDataDontLoad {
		bits |= 2
	}
	if o.DisableMemoryCacheReads {
		bits |= 4
	}
	if o.DisableMemoryCacheWrites {
		bits |= 8
	}
	if o.DisableDiskCacheReads {
		bits |= 16
	}
	if o.DisableDiskCacheWrites {
		bits |= 32
	}
	return strconv.Itoa(bits)
}
