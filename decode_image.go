package imagepipeline

import (
	"context"
	"errors"

	"github.com/teacup-imaging/imagepipeline/internal/backpressure"
	"github.com/teacup-imaging/imagepipeline/internal/task"
)

// chunkEvent pairs a dataChunk with the isFinal flag the upstream event
// carried, since DecodeImage's backpressure.Coalescer only sees values,
// not the task.Event wrapper.
type chunkEvent struct {
	data  dataChunk
	final bool
}

// startDecodeImage builds the DecodeImage task body: subscribes to the
// shared LoadImageData task for loadKey and runs a progressive decode
// state machine with single-slot back-pressure.
func (p *Pipeline) startDecodeImage(req Request, loadKey string) task.StartFunc[ImageContainer] {
	return func(ctx context.Context, t *task.Task[ImageContainer]) {
		upstream, reused := p.loadImageDataArena.GetOrCreate(loadKey, p.cfg.IsDeduplicationEnabled, p.startLoadImageData(req, loadKey))
		if reused {
			p.metrics.RequestsCoalesced.WithLabelValues("loadImageData").Inc()
		}

		var decoder Decoder
		var sub *task.Subscription[dataChunk]

		coalescer := backpressure.New(func(ev chunkEvent) {
			p.runDecode(ctx, req, t, &decoder, ev.data, ev.final)
		})

		t.OnPriorityChange(func(pr Priority) {
			if sub != nil {
				sub.SetPriority(pr)
			}
		})

		sub = upstream.Subscribe(t.Priority(), func(e task.Event[dataChunk]) {
			switch e.Kind {
			case task.EventProgress:
				t.EmitProgress(e.Completed, e.Total)
			case task.EventValue:
				coalescer.Submit(chunkEvent{data: e.Value, final: e.IsFinal})
			case task.EventError:
				t.EmitError(e.Err)
			}
		})

		<-ctx.Done()
		sub.Unsubscribe()
	}
}

// runDecode runs one decode pass on the decoding queue. A nil decoder is
// resolved on the first chunk that carries enough bytes to sniff; if no
// decoder has matched by the final chunk, decoding fails.
func (p *Pipeline) runDecode(ctx context.Context, req Request, t *task.Task[ImageContainer], decoder *Decoder, chunk dataChunk, isFinal bool) {
	if ctx.Err() != nil {
		return
	}
	if !isFinal && !p.cfg.IsProgressiveDecodingEnabled {
		// Previews are opt-in; with it off, only the final chunk is ever
		// decoded.
		return
	}

	decCtx := DecodingContext{Request: req, Bytes: chunk.bytes, URLResponse: chunk.urlResponse}

	if *decoder == nil {
		d, err := p.cfg.Decoders.Resolve(decCtx)
		if err != nil {
			if errors.Is(err, ErrNoDecoderYet) {
				if isFinal {
					t.EmitError(errDecodingFailed("no decoder matched the final response"))
				}
				return
			}
			t.EmitError(errDecodingFailed(err.Error()))
			return
		}
		*decoder = d
	}

	result, err := p.stages.decoding.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		return (*decoder).Decode(decCtx, isFinal)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if isFinal {
			t.EmitError(errDecodingFailed(err.Error()))
		}
		return
	}

	container, ok := result.(*ImageContainer)
	if !ok || container == nil {
		if isFinal {
			t.EmitError(errDecodingFailed("decoder returned no container"))
		}
		return
	}

	container.IsPreview = !isFinal
	if isFinal {
		p.metrics.TaskTerminal.WithLabelValues("decodeImage", "success").Inc()
	}
	t.EmitValue(*container, isFinal)
}
