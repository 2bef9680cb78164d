package imagepipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// fakeCancellable adapts a plain func() to DataLoader.LoadData's
// Cancellable return value.
type fakeCancellable func()

func (f fakeCancellable) Cancel() { f() }

// fakeDataLoader is a scriptable DataLoader double: it delivers a fixed
// body (optionally split into chunks) to onReceive, then calls onComplete.
// A non-nil blockUntil channel makes the delivery wait until it is closed
// or the loader is cancelled, for testing in-flight cancellation.
type fakeDataLoader struct {
	mu         sync.Mutex
	calls      int32
	cancels    int32
	body       []byte
	chunkSize  int
	statusCode int
	headers    map[string]string
	completeErr error
	blockUntil chan struct{}
}

func (f *fakeDataLoader) LoadData(ctx context.Context, req URLRequest, onReceive func(chunk []byte, resp *URLResponse), onComplete func(err error)) Cancellable {
	atomic.AddInt32(&f.calls, 1)

	cancelled := make(chan struct{})
	var once sync.Once
	cancel := fakeCancellable(func() {
		once.Do(func() {
			atomic.AddInt32(&f.cancels, 1)
			close(cancelled)
		})
	})

	go func() {
		if f.blockUntil != nil {
			select {
			case <-f.blockUntil:
			case <-cancelled:
				return
			}
		}

		status := f.statusCode
		if status == 0 {
			status = 200
		}
		resp := &URLResponse{StatusCode: status, Headers: f.headers}

		if len(f.body) > 0 {
			size := f.chunkSize
			if size <= 0 {
				size = len(f.body)
			}
			for i := 0; i < len(f.body); i += size {
				end := i + size
				if end > len(f.body) {
					end = len(f.body)
				}
				select {
				case <-cancelled:
					return
				default:
				}
				onReceive(f.body[i:end], resp)
			}
		}

		onComplete(f.completeErr)
	}()

	return cancel
}

// fakeBitmap is a minimal Bitmap double. A non-nil decompressFn replaces
// Decompress's default result, which lets a test observe how many times
// Decompress ran.
type fakeBitmap struct {
	w, h, bpp    int
	decompressed bool
	decompressFn func() (Bitmap, error)
}

func (b *fakeBitmap) Width() int         { return b.w }
func (b *fakeBitmap) Height() int        { return b.h }
func (b *fakeBitmap) BytesPerPixel() int { return b.bpp }
func (b *fakeBitmap) Decompressed() bool { return b.decompressed }

func (b *fakeBitmap) Decompress() (Bitmap, error) {
	if b.decompressFn != nil {
		return b.decompressFn()
	}
	return &fakeBitmap{w: b.w, h: b.h, bpp: b.bpp, decompressed: true}, nil
}

// fakeDecoder decodes every call into a fresh container wrapping a
// fakeBitmap, counting how many times Decode actually ran.
type fakeDecoder struct {
	kind        ImageKind
	decodeCalls int32
}

func (d *fakeDecoder) Decode(ctx DecodingContext, isFinal bool) (*ImageContainer, error) {
	atomic.AddInt32(&d.decodeCalls, 1)
	return &ImageContainer{
		Image: &fakeBitmap{w: 10, h: 10, bpp: 4},
		Type:  d.kind,
	}, nil
}

// newFallbackRegistry builds a DecoderRegistry whose only (fallback)
// factory matches once at least one byte has arrived, producing a fresh
// *fakeDecoder for that decode session.
func newFallbackRegistry() *DecoderRegistry {
	return NewDecoderRegistry(func(ctx DecodingContext) Decoder {
		if len(ctx.Bytes) == 0 {
			return nil
		}
		return &fakeDecoder{kind: KindStatic}
	})
}

// fakeProcessor is a Processor double that widens the bitmap by bump
// pixels, or declines/fails according to its fields.
type fakeProcessor struct {
	id      string
	key     string
	bump    int
	err     error
	decline bool
	calls   int32
}

func (p *fakeProcessor) Identifier() string { return p.id }
func (p *fakeProcessor) Key() string        { return p.key }

func (p *fakeProcessor) Process(ctx context.Context, c ImageContainer) (*ImageContainer, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.err != nil {
		return nil, p.err
	}
	if p.decline {
		return nil, nil
	}
	out := c
	if bmp, ok := c.Image.(*fakeBitmap); ok {
		out.Image = &fakeBitmap{w: bmp.w + p.bump, h: bmp.h, bpp: bmp.bpp, decompressed: bmp.decompressed}
	}
	return &out, nil
}
