package imagepipeline

import (
	"context"

	"github.com/teacup-imaging/imagepipeline/internal/backpressure"
	"github.com/teacup-imaging/imagepipeline/internal/task"
)

// containerEvent pairs an ImageContainer with the isFinal flag its
// producing task.Event carried, for ProcessImage's back-pressure
// coalescer.
type containerEvent struct {
	container ImageContainer
	final     bool
}

// startProcessImage builds one ProcessImage task body: subscribes to upstream (a decode, or a previously-processed image for
// chained processors), applies proc with single-slot back-pressure, and
// bypasses processing entirely for animated/vector containers.
func (p *Pipeline) startProcessImage(proc Processor, upstream *task.Task[ImageContainer]) task.StartFunc[ImageContainer] {
	return func(ctx context.Context, t *task.Task[ImageContainer]) {
		var sub *task.Subscription[ImageContainer]

		coalescer := backpressure.New(func(ev containerEvent) {
			p.runProcess(ctx, proc, t, ev.container, ev.final)
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
}

// runProcess runs one processing pass on the processing queue.
func (p *Pipeline) runProcess(ctx context.Context, proc Processor, t *task.Task[ImageContainer], container ImageContainer, isFinal bool) {
	if ctx.Err() != nil {
		return
	}

	if container.Type == KindAnimated || container.Type == KindVector {
		t.EmitValue(container, isFinal)
		return
	}

	result, err := p.stages.processing.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		return proc.Process(ctx, container)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if isFinal {
			t.EmitError(errProcessingFailed(proc.Identifier(), err))
		}
		return
	}

	out, ok := result.(*ImageContainer)
	if !ok || out == nil {
		if isFinal {
			t.EmitError(errProcessingFailed(proc.Identifier(), nil))
		}
		// A preview pass declining is a silent drop.
		return
	}

	out.IsPreview = !isFinal
	if isFinal {
		p.metrics.TaskTerminal.WithLabelValues("processImage", "success").Inc()
	}
	t.EmitValue(*out, isFinal)
}
