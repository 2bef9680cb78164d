package imagepipeline

// ImageKind tags an ImageContainer's decoded format family, used to decide
// whether processing/decompression apply.
type ImageKind int

const (
	KindStatic ImageKind = iota
	KindAnimated
	KindVector
)

// Bitmap is the opaque decoded bitmap handle. The core never constructs
// or draws into one itself; it is produced by a Decoder and consumed by a
// Processor/Encoder/the UI-binding layer this core doesn't implement.
type Bitmap interface {
	// Width and Height are the natural pixel dimensions, used for cost
	// accounting in MemoryCache and for Decompress's realization target.
	Width() int
	Height() int

	// BytesPerPixel is used to compute MemoryCache's default cost
	// (width*height*bytesPerPixel).
	BytesPerPixel() int

	// Decompressed reports whether the bitmap's pixels are already
	// realized off any lazy-decode path.
	Decompressed() bool
}

// ImageContainer is the pipeline's unit of image payload.
type ImageContainer struct {
	Image     Bitmap
	Data      []byte // optional original bytes, e.g. for animated/vector formats
	Type      ImageKind
	IsPreview bool
	UserInfo  map[string]interface{}
}

// CacheType reports which tier produced an ImageResponse.
type CacheType int

const (
	CacheTypeNone CacheType = iota
	CacheTypeMemory
	CacheTypeDisk
)

func (c CacheType) String() string {
	switch c {
	case CacheTypeMemory:
		return "memory"
	case CacheTypeDisk:
		return "disk"
	default:
		return "nil"
	}
}

// URLResponse is transport metadata accompanying a loaded container.
type URLResponse struct {
	StatusCode int
	Headers    map[string]string
}

// ImageResponse is ImageContainer plus delivery metadata.
type ImageResponse struct {
	Container   ImageContainer
	URLResponse *URLResponse
	CacheType   CacheType
}

// cost computes a container's MemoryCache cost: its bitmap's byte
// footprint, or the length of Data for containers with no realized
// bitmap.
func cost(c ImageContainer) int64 {
	if c.Image != nil {
		return int64(c.Image.Width()) * int64(c.Image.Height()) * int64(c.Image.BytesPerPixel())
	}
	return int64(len(c.Data))
}
