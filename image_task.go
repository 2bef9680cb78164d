package imagepipeline

import "sync"

// prioritySubscription is the shape every task.Subscription[V] provides,
// used so ImageTask can hold either an ImageResponse or dataChunk
// subscription without depending on its type parameter.
type prioritySubscription interface {
	Unsubscribe()
	SetPriority(Priority)
}

// EventKind distinguishes ImageTask's channel-delivery event shapes: a
// cold sequence the caller iterates, as an alternative to handler
// callbacks.
type EventKind int

const (
	EventKindProgress EventKind = iota
	EventKindPreview
	EventKindComplete
)

// TaskEvent is one emission from ImageTask.Events().
type TaskEvent struct {
	Kind               EventKind
	Completed, Total   int64
	Response           ImageResponse
	Err                error
}

// Handlers are the caller-provided callbacks for Pipeline.LoadImage,
// dispatched serially — never concurrently with each other for a single
// ImageTask.
type Handlers struct {
	OnProgress func(completed, total int64)
	OnPreview  func(ImageResponse)
	OnComplete func(ImageResponse, error)
}

// ImageTask is the client-facing handle on one logical request: settable
// priority, cancellation, and either callback or channel-based delivery.
type ImageTask struct {
	id      string
	request Request

	mu       sync.Mutex
	priority Priority
	sub      prioritySubscription
	done     bool

	events chan TaskEvent
}

func newImageTask(id string, request Request, priority Priority) *ImageTask {
	return &ImageTask{
		id:       id,
		request:  request,
		priority: priority,
		events:   make(chan TaskEvent, 8),
	}
}

// attach records sub as the task's underlying subscription. Subscribe can
// deliver a retained terminal event synchronously, before it even returns
// the Subscription — which can drive release() (and so mark the task
// done) before attach ever runs. In that case sub was never recorded for
// release to unsubscribe, so attach unsubscribes it immediately instead
// of leaking it.
func (t *ImageTask) attach(sub prioritySubscription) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	t.sub = sub
	t.mu.Unlock()
}

// ID returns the task's identifier, stable for the task's lifetime.
func (t *ImageTask) ID() string { return t.id }

// Request returns the request this task was created for.
func (t *ImageTask) Request() Request { return t.request }

// Priority returns the task's last-set priority.
func (t *ImageTask) Priority() Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// SetPriority updates the task's priority, propagating upstream through
// the coalesced task graph.
func (t *ImageTask) SetPriority(p Priority) {
	t.mu.Lock()
	t.priority = p
	sub := t.sub
	t.mu.Unlock()

	if sub != nil {
		sub.SetPriority(p)
	}
}

// Cancel unsubscribes from the underlying task graph. If this was the
// last live subscriber of a coalesced task, that task cancels: no
// terminal event is delivered, and the DataLoader's cancellation handle
// is invoked.
func (t *ImageTask) Cancel() {
	t.release()
}

// release unsubscribes from the task graph and closes Events(), exactly
// once, whether triggered by an explicit Cancel or by the task's own
// terminal event. Releasing on completion (not just on Cancel) matters
// just as much as releasing early: a coalesced task only frees its Arena
// slot and upstream subscriptions once every subscriber, including ones
// that merely watched it to completion, has let go.
func (t *ImageTask) release() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	sub := t.sub
	t.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	close(t.events)
}

// Events returns the channel-based alternative to Handlers. It is closed
// after the terminal event (or immediately, on Cancel).
func (t *ImageTask) Events() <-chan TaskEvent {
	return t.events
}

// dispatchProgress runs the caller's OnProgress handler (if any) and
// mirrors the event onto Events().
func (t *ImageTask) dispatchProgress(completed, total int64, h Handlers) {
	if h.OnProgress != nil {
		h.OnProgress(completed, total)
	}
	t.emit(TaskEvent{Kind: EventKindProgress, Completed: completed, Total: total})
}

// dispatchPreview runs the caller's OnPreview handler (if any) and
// mirrors the event onto Events().
func (t *ImageTask) dispatchPreview(resp ImageResponse, h Handlers) {
	if h.OnPreview != nil {
		h.OnPreview(resp)
	}
	t.emit(TaskEvent{Kind: EventKindPreview, Response: resp})
}

// dispatchComplete runs the caller's OnComplete handler (if any), mirrors
// the terminal event onto Events(), and closes it: exactly one terminal
// event is ever delivered, and nothing follows it.
func (t *ImageTask) dispatchComplete(resp ImageResponse, err error, h Handlers) {
	if h.OnComplete != nil {
		h.OnComplete(resp, err)
	}
	t.emit(TaskEvent{Kind: EventKindComplete, Response: resp, Err: err})
	t.release()
}

func (t *ImageTask) emit(e TaskEvent) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done {
		return
	}
	select {
	case t.events <- e:
	default:
		// A caller not draining Events() (e.g. one only using Handlers)
		// must never block task delivery; channel events are best-effort
		// for that caller.
	}
}
