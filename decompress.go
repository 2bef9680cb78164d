package imagepipeline

import "context"

// Decompressible is an optional capability a Bitmap may implement to let
// Decompress force pixel realization off the caller's thread. A Bitmap
// that doesn't implement it is treated the same as the "platform has no
// lazy decode" case: decompression is a no-op.
type Decompressible interface {
	Decompress() (Bitmap, error)
}

// decompress runs the Decompress stage on one container: a no-op unless
// decompression is enabled, the container is a static image, a bitmap is
// present, it isn't already realized, and it implements Decompressible.
func (p *Pipeline) decompress(ctx context.Context, container ImageContainer) (ImageContainer, error) {
	if !p.cfg.IsDecompressionEnabled {
		return container, nil
	}
	if container.Type == KindAnimated || container.Type == KindVector {
		return container, nil
	}
	if container.Image == nil || container.Image.Decompressed() {
		return container, nil
	}
	d, ok := container.Image.(Decompressible)
	if !ok {
		return container, nil
	}

	result, err := p.stages.decompressing.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		return d.Decompress()
	})
	if err != nil {
		return container, err
	}

	bmp, ok := result.(Bitmap)
	if !ok || bmp == nil {
		return container, nil
	}
	out := container
	out.Image = bmp
	return out, nil
}
