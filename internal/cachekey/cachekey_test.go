package cachekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURLLowercasesSchemeAndHost(t *testing.T) {
	got, err := CanonicalURL("HTTP://Example.COM/path")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/path", got)
}

func TestCanonicalURLStripsDefaultPort(t *testing.T) {
	http, err := CanonicalURL("http://example.com:80/a")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/a", http)

	https, err := CanonicalURL("https://example.com:443/a")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", https)
}

func TestCanonicalURLKeepsNonDefaultPort(t *testing.T) {
	got, err := CanonicalURL("http://example.com:8080/a")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:8080/a", got)
}

func TestCanonicalURLDropsFragment(t *testing.T) {
	got, err := CanonicalURL("http://example.com/a#section")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/a", got)
}

func TestCanonicalURLSortsQueryParams(t *testing.T) {
	a, err := CanonicalURL("http://example.com/a?b=2&a=1")
	require.NoError(t, err)
	b, err := CanonicalURL("http://example.com/a?a=1&b=2")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalURLRejectsUnparseable(t *testing.T) {
	_, err := CanonicalURL("http://[::1")
	assert.Error(t, err)
}

func TestDataCacheKeyPrefersImageID(t *testing.T) {
	key, err := DataCacheKey(DataSource{ImageID: "custom-id", URL: "http://example.com/a"})
	require.NoError(t, err)
	assert.Equal(t, "custom-id", key)
}

func TestDataCacheKeyFallsBackToCanonicalURL(t *testing.T) {
	key, err := DataCacheKey(DataSource{URL: "HTTP://Example.com:80/a"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/a", key)
}

func TestImageCacheKeyAppendsProcessorIdentifiersInOrder(t *testing.T) {
	key := ImageCacheKey("data-key", []string{"resize(100x100)", "grayscale"})
	assert.Equal(t, "data-key|resize(100x100)|grayscale", key)
}

func TestImageCacheKeyWithNoProcessorsEqualsDataKey(t *testing.T) {
	key := ImageCacheKey("data-key", nil)
	assert.Equal(t, "data-key", key)
}

func TestLoadKeyIncludesOnlyByteAffectingHeaders(t *testing.T) {
	headers := map[string]string{
		"Range":      "bytes=0-100",
		"User-Agent": "test-agent",
		"Accept":     "image/webp",
	}
	key := LoadKey("data-key", headers)
	assert.Equal(t, "data-key|Accept=image/webp|Range=bytes=0-100", key)
}

func TestLoadKeyStableUnderHeaderIteration(t *testing.T) {
	headers := map[string]string{
		"Accept-Encoding": "gzip",
		"Accept":          "image/webp",
		"If-Range":        `"etag"`,
		"Range":           "bytes=0-100",
	}
	first := LoadKey("data-key", headers)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, LoadKey("data-key", headers))
	}
}

func TestLoadKeyWithNoRelevantHeadersEqualsDataKey(t *testing.T) {
	key := LoadKey("data-key", map[string]string{"User-Agent": "x"})
	assert.Equal(t, "data-key", key)
}

func TestProcessKeyChainsIdentityAndProcessorKey(t *testing.T) {
	step1 := ProcessKey("data-key", "resize(100x100)")
	step2 := ProcessKey(step1, "grayscale")
	assert.Equal(t, "data-key|resize(100x100)|grayscale", step2)
}
