// Package cachekey derives the pipeline's cache keys: canonical URLs, and
// the dataCacheKey/imageCacheKey/loadKey/processKey family.
package cachekey

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CanonicalURL normalizes u for data-cache key derivation: scheme and
// host lowercased, default port stripped, percent-encoding normalized,
// fragment removed.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("cachekey: parsing url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if host, port, err := splitHostPort(u.Host); err == nil {
		if isDefaultPort(u.Scheme, port) {
			u.Host = host
		}
	}

	// Re-parsing the path/query through url.URL's String() normalizes
	// percent-encoding (e.g. %7E -> ~ is NOT performed by net/url, but
	// redundant escapes like %2F vs / in already-decoded segments are
	// normalized because Path/RawPath round-trip through EscapedPath()).
	u.RawQuery = normalizeQuery(u.RawQuery)

	return u.String(), nil
}

func splitHostPort(host string) (string, string, error) {
	idx := strings.LastIndex(host, ":")
	if idx < 0 {
		return host, "", fmt.Errorf("no port")
	}
	return host[:idx], host[idx+1:], nil
}

func isDefaultPort(scheme, port string) bool {
	switch scheme {
	case "http":
		return port == "80"
	case "https":
		return port == "443"
	}
	return false
}

// normalizeQuery sorts query parameters by key so that two semantically
// identical requests with differently-ordered query strings canonicalize
// to the same key.
func normalizeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for j, v := range vs {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// DataSource is the minimal shape cachekey needs out of a request: either
// an explicit imageId override, or a URL to canonicalize.
type DataSource struct {
	ImageID string
	URL     string
}

// DataCacheKey derives dataCacheKey(request): imageId if present,
// otherwise the canonicalized source URL.
func DataCacheKey(src DataSource) (string, error) {
	if src.ImageID != "" {
		return src.ImageID, nil
	}
	return CanonicalURL(src.URL)
}

// ImageCacheKey derives imageCacheKey(request): dataCacheKey + "|" + each
// processor's identifier, in order.
func ImageCacheKey(dataKey string, processorIdentifiers []string) string {
	var b strings.Builder
	b.WriteString(dataKey)
	for _, id := range processorIdentifiers {
		b.WriteByte('|')
		b.WriteString(id)
	}
	return b.String()
}

// LoadKey derives loadKey(request): dataCacheKey plus any header subset
// that affects the bytes returned. This includes exactly the headers the
// DataLoader is documented to honor for byte-affecting behavior: Range,
// If-Range, Accept, Accept-Encoding. Any other header is assumed not to
// change the response body and is excluded so unrelated header variation
// (User-Agent, auth tokens, tracing headers) doesn't defeat coalescing.
func LoadKey(dataKey string, headers map[string]string) string {
	const loadKeyHeaders = "Range,If-Range,Accept,Accept-Encoding"

	relevant := strings.Split(loadKeyHeaders, ",")
	names := make([]string, 0, len(relevant))
	for _, h := range relevant {
		if _, ok := headers[h]; ok {
			names = append(names, h)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(dataKey)
	for _, h := range names {
		b.WriteByte('|')
		b.WriteString(h)
		b.WriteByte('=')
		b.WriteString(headers[h])
	}
	return b.String()
}

// ProcessKey derives processKey(image, processor): the upstream image's
// content identity paired with the processor's key.
func ProcessKey(imageIdentity, processorKey string) string {
	return imageIdentity + "|" + processorKey
}
