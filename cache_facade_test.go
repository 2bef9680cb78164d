package imagepipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teacup-imaging/imagepipeline/internal/datacache"
)

func newFacadeTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	cfg := DefaultConfig(&fakeDataLoader{})
	cfg.DataCache = datacache.NewInMemory()
	cfg.IsRateLimiterEnabled = false
	cfg.IsResumableDataEnabled = false
	cfg.Decoders = newFallbackRegistry()
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)
	return p
}

func TestCacheFacadeSetAndGetMemory(t *testing.T) {
	p := newFacadeTestPipeline(t)
	req := Request{Source: URLRequest{URL: "http://example.com/a.jpg"}}
	container := ImageContainer{Image: &fakeBitmap{w: 4, h: 4, bpp: 4}}

	p.Cache().Set(req, container, CacheDestinationMemory)

	resp, ok := p.Cache().Get(req, CacheDestinationMemory)
	require.True(t, ok)
	assert.Equal(t, CacheTypeMemory, resp.CacheType)
}

func TestCacheFacadeSetAndGetDisk(t *testing.T) {
	p := newFacadeTestPipeline(t)
	req := Request{Source: URLRequest{URL: "http://example.com/a.jpg"}}
	container := ImageContainer{Data: []byte("encoded-bytes")}

	p.Cache().Set(req, container, CacheDestinationDisk)

	_, memHit := p.Cache().Get(req, CacheDestinationMemory)
	assert.False(t, memHit, "a disk-only Set must not populate the memory cache")

	resp, ok := p.Cache().Get(req, CacheDestinationDisk)
	require.True(t, ok)
	assert.Equal(t, CacheTypeDisk, resp.CacheType)
	assert.Equal(t, []byte("encoded-bytes"), resp.Container.Data)
}

func TestCacheFacadeSetDiskSkipsWriteWithoutEncodedBytes(t *testing.T) {
	p := newFacadeTestPipeline(t)
	req := Request{Source: URLRequest{URL: "http://example.com/a.jpg"}}

	p.Cache().Set(req, ImageContainer{Image: &fakeBitmap{w: 1, h: 1, bpp: 4}}, CacheDestinationDisk)

	assert.False(t, p.Cache().Contains(req, CacheDestinationDisk))
}

func TestCacheFacadeGetPrefersMemoryOverDisk(t *testing.T) {
	p := newFacadeTestPipeline(t)
	req := Request{Source: URLRequest{URL: "http://example.com/a.jpg"}}

	p.Cache().Set(req, ImageContainer{Data: []byte("disk-bytes")}, CacheDestinationAll)

	resp, ok := p.Cache().Get(req, CacheDestinationAll)
	require.True(t, ok)
	assert.Equal(t, CacheTypeMemory, resp.CacheType, "memory must be probed before disk")
}

func TestCacheFacadeRemoveClearsBothTiersRegardlessOfOptions(t *testing.T) {
	p := newFacadeTestPipeline(t)
	req := Request{Source: URLRequest{URL: "http://example.com/a.jpg"}}
	req.Options.DisableMemoryCacheWrites = true // must not block explicit Remove

	p.Cache().Set(req, ImageContainer{Data: []byte("x")}, CacheDestinationDisk)
	p.memCache.Add(mustImageCacheKey(t, req), ImageContainer{Image: &fakeBitmap{w: 1, h: 1, bpp: 4}})

	p.Cache().Remove(req, CacheDestinationAll)

	assert.False(t, p.Cache().Contains(req, CacheDestinationAll))
}

func TestCacheFacadeHonorsDisableReadFlags(t *testing.T) {
	p := newFacadeTestPipeline(t)
	req := Request{Source: URLRequest{URL: "http://example.com/a.jpg"}}
	p.Cache().Set(req, ImageContainer{Image: &fakeBitmap{w: 1, h: 1, bpp: 4}}, CacheDestinationMemory)

	req.Options.DisableMemoryCacheReads = true
	_, ok := p.Cache().Get(req, CacheDestinationMemory)
	assert.False(t, ok, "DisableMemoryCacheReads must suppress the facade read")
}

func TestCacheFacadeContainsDoesNotRequireGet(t *testing.T) {
	p := newFacadeTestPipeline(t)
	req := Request{Source: URLRequest{URL: "http://example.com/a.jpg"}}

	assert.False(t, p.Cache().Contains(req, CacheDestinationAll))
	p.Cache().Set(req, ImageContainer{Image: &fakeBitmap{w: 1, h: 1, bpp: 4}}, CacheDestinationMemory)
	assert.True(t, p.Cache().Contains(req, CacheDestinationAll))
}

func mustImageCacheKey(t *testing.T, req Request) string {
	t.Helper()
	key, err := req.ImageCacheKey()
	require.NoError(t, err)
	return key
}
