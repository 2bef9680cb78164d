package imagepipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/teacup-imaging/imagepipeline/internal/cachekey"
	"github.com/teacup-imaging/imagepipeline/internal/resumable"
	"github.com/teacup-imaging/imagepipeline/internal/task"
)

// errEmptyBody is runFetch's private signal for a dataIsEmpty error: a
// completion with no error but zero bytes received.
var errEmptyBody = errors.New("imagepipeline: empty response body")

// startLoadImageData builds the LoadImageData task body, keyed by
// loadKey, producing dataChunk values.
func (p *Pipeline) startLoadImageData(req Request, loadKey string) task.StartFunc[dataChunk] {
	return func(ctx context.Context, t *task.Task[dataChunk]) {
		if p.dataCache != nil && policyIncludesOriginal(p.cfg.DataCachePolicy) &&
			!req.Options.ReloadIgnoringCachedData && !req.Options.DisableDiskCacheReads {

			dataKey, err := req.DataCacheKey()
			if err == nil {
				result, err := p.stages.dataCaching.Submit(ctx, func(ctx context.Context) (interface{}, error) {
					if b, ok := p.dataCache.CachedData(dataKey); ok {
						return b, nil
					}
					return nil, errCacheMiss
				})
				if err == nil {
					p.metrics.DiskCacheHits.Inc()
					t.EmitValue(dataChunk{bytes: result.([]byte)}, true)
					return
				}
				if !errors.Is(err, errCacheMiss) && ctx.Err() != nil {
					return
				}
				p.metrics.DiskCacheMisses.Inc()
			}
		}

		fetch := func(ctx context.Context) error {
			return p.fetchData(ctx, req, loadKey, t)
		}

		var err error
		if p.rateLimiter != nil {
			_, err = p.rateLimiter.Execute(ctx, fetch)
		} else {
			err = fetch(ctx)
		}
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			// Cancelled: no terminal event is delivered.
			return
		}
		if errors.Is(err, errEmptyBody) {
			t.EmitError(errDataIsEmpty())
			return
		}
		t.EmitError(errDataLoadingFailed(err))
	}
}

// errCacheMiss is a private sentinel distinguishing "not found" from a
// real DataCache error; DataCache has no error return so this only ever
// originates from the closure above.
var errCacheMiss = errors.New("imagepipeline: data cache miss")

// fetchData runs the real network fetch on the dataLoading queue, giving
// the stage's bounded concurrency and back-pressure to downloads.
func (p *Pipeline) fetchData(ctx context.Context, req Request, loadKey string, t *task.Task[dataChunk]) error {
	_, err := p.stages.dataLoading.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, p.runFetch(ctx, req, loadKey, t)
	})
	return err
}

// runFetch runs one network fetch: resumable-prefix patching, the
// DataLoader call, progressive emission, and writeback/resumable
// preservation on completion or cancellation.
func (p *Pipeline) runFetch(ctx context.Context, req Request, loadKey string, t *task.Task[dataChunk]) error {
	urlReq := req.Source

	// Resumable data is keyed by canonical URL, not by loadKey.
	resumeKey := loadKey
	if u, err := cachekey.CanonicalURL(urlReq.URL); err == nil {
		resumeKey = u
	}

	var resumedPrefix []byte
	if p.cfg.IsResumableDataEnabled {
		if data, ok := p.resumable.Take(resumeKey); ok {
			resumedPrefix = data.Bytes
			urlReq.Headers = cloneHeaders(urlReq.Headers)
			urlReq.Headers["Range"] = fmt.Sprintf("bytes=%d-", len(resumedPrefix))
			if data.Validator != "" {
				urlReq.Headers["If-Range"] = data.Validator
			}
		}
	}

	var (
		buf      []byte
		total    int64 = -1
		first          = true
		lastResp *URLResponse
	)

	onReceive := func(chunk []byte, resp *URLResponse) {
		lastResp = resp
		if first {
			first = false
			if resp != nil && resp.StatusCode == 206 && len(resumedPrefix) > 0 {
				buf = append(buf, resumedPrefix...)
				p.metrics.ResumableResumed.Inc()
			}
			if resp != nil {
				if cl, ok := resp.Headers["Content-Length"]; ok {
					if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
						total = n + int64(len(buf))
					}
				}
			}
		}
		buf = append(buf, chunk...)
		t.EmitProgress(int64(len(buf)), total)
		t.EmitValue(dataChunk{bytes: append([]byte(nil), buf...), urlResponse: resp}, false)
	}

	doneCh := make(chan error, 1)
	onComplete := func(err error) { doneCh <- err }

	cancellable := p.dataLoader.LoadData(ctx, urlReq, onReceive, onComplete)

	select {
	case err := <-doneCh:
		if err != nil {
			p.preserveResumable(resumeKey, buf, lastResp)
			return err
		}
		if len(buf) == 0 {
			return errEmptyBody
		}
		if p.cfg.IsResumableDataEnabled {
			p.resumable.Remove(resumeKey)
		}
		p.writeOriginalToDataCache(req, buf)
		t.EmitValue(dataChunk{bytes: append([]byte(nil), buf...), urlResponse: lastResp}, true)
		return nil

	case <-ctx.Done():
		cancellable.Cancel()
		p.preserveResumable(resumeKey, buf, lastResp)
		return ctx.Err()
	}
}

func (p *Pipeline) preserveResumable(key string, buf []byte, resp *URLResponse) {
	if !p.cfg.IsResumableDataEnabled || len(buf) == 0 {
		return
	}
	p.resumable.Store(key, resumable.Data{Bytes: buf, Validator: validatorFrom(resp)})
	p.metrics.ResumableStored.Inc()
}

func (p *Pipeline) writeOriginalToDataCache(req Request, data []byte) {
	if p.dataCache == nil || req.Options.DisableDiskCacheWrites || !policyIncludesOriginal(p.cfg.DataCachePolicy) {
		return
	}
	dataKey, err := req.DataCacheKey()
	if err != nil {
		return
	}
	final := append([]byte(nil), data...)
	// Fire-and-forget: disk writes are write-behind, never blocking the
	// caller that's waiting on the terminal value.
	go p.stages.dataCaching.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		p.dataCache.StoreData(dataKey, final)
		return nil, nil
	})
}

func validatorFrom(resp *URLResponse) string {
	if resp == nil {
		return ""
	}
	if v, ok := resp.Headers["ETag"]; ok {
		return v
	}
	return resp.Headers["Last-Modified"]
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+2)
	for k, v := range h {
		out[k] = v
	}
	return out
}
