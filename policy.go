package imagepipeline

// policyIncludesOriginal reports whether policy calls for caching the
// original downloaded bytes under dataCacheKey.
func policyIncludesOriginal(policy DataCachePolicy) bool {
	switch policy {
	case PolicyAutomatic, PolicyStoreOriginalData, PolicyStoreAll:
		return true
	default:
		return false
	}
}

// policyIncludesEncoded reports whether policy calls for caching the
// final, processed, re-encoded image under imageCacheKey.
func policyIncludesEncoded(policy DataCachePolicy) bool {
	switch policy {
	case PolicyStoreEncodedImages, PolicyStoreAll:
		return true
	default:
		return false
	}
}
