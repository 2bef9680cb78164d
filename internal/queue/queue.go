// Package queue implements the pipeline's bounded, per-stage worker pools.
// It generalizes the teacher's single worker queue (internal/queue.Queue)
// into one independently-sized Stage per configured pipeline stage
// (dataLoading, dataCaching, decoding, encoding, processing,
// decompressing), each reporting depth and saturation to a DepthRecorder.
package queue

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is returned by TrySubmit when the stage's bounded queue has
// no room and the caller asked not to block.
var ErrQueueFull = errors.New("queue: stage is full")

// ErrShutdown is returned when a job is submitted after the stage's
// context has been cancelled.
var ErrShutdown = errors.New("queue: stage has been shut down")

// DepthRecorder receives queue depth and saturation signals for metrics
// export. A nil recorder (the default) simply means no metrics are kept.
type DepthRecorder interface {
	SetQueueDepth(stage string, depth int)
	IncQueueFull(stage string)
}

// Job is a unit of work submitted to a Stage.
type Job func(ctx context.Context) (interface{}, error)

type job struct {
	fn     Job
	result chan jobResult
	ctx    context.Context
}

type jobResult struct {
	value interface{}
	err   error
}

// Stage is a worker queue with a fixed amount of workers, bounded by a
// buffered channel sized workers*4 — the same ratio the teacher's queue
// uses to absorb short bursts without unbounded memory growth.
type Stage struct {
	Name         string
	workers      int
	queue        chan job
	ctx          context.Context
	lockOSThread bool
	metrics      DepthRecorder
}

// NewStage creates a new Stage with the given amount of workers.
// lockOSThread mirrors the teacher's runtime.LockOSThread call for
// decode/encode/decompress stages, where the underlying codec may be
// sensitive to being moved between OS threads mid-call.
func NewStage(ctx context.Context, name string, workers int, lockOSThread bool, metrics DepthRecorder) *Stage {
	if workers < 1 {
		workers = 1
	}
	return &Stage{
		Name:         name,
		workers:      workers,
		queue:        make(chan job, workers*4),
		ctx:          ctx,
		lockOSThread: lockOSThread,
		metrics:      metrics,
	}
}

// Run starts the stage's workers and blocks until its context is done and
// every worker has returned. Workers are joined through an errgroup so a
// caller blocked on Run (typically in its own goroutine) observes the
// stage as fully quiesced, not just "signalled to stop", before Run
// returns — no worker is still mid-job against a Submit's resultChan.
func (s *Stage) Run() {
	g := new(errgroup.Group)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			s.worker()
			return nil
		})
	}

	<-s.ctx.Done()
	close(s.queue)
	_ = g.Wait()
}

func (s *Stage) worker() {
	if s.lockOSThread {
		// Intentionally never unlocked: codec libraries accessed through
		// cgo may keep thread-local state, so workers on this stage keep
		// a dedicated OS thread for their lifetime.
		runtime.LockOSThread()
	}

	for {
		select {
		case j, open := <-s.queue:
			if !open {
				return
			}
			s.recordDepth()

			if j.ctx.Err() != nil {
				j.result <- jobResult{err: j.ctx.Err()}
				continue
			}

			value, err := j.fn(j.ctx)
			j.result <- jobResult{value: value, err: err}

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Stage) recordDepth() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetQueueDepth(s.Name, len(s.queue))
}

// Submit enqueues fn, blocking until there's room (providing back-pressure
// to the caller) or ctx/the stage is cancelled, then waits for the result.
func (s *Stage) Submit(ctx context.Context, fn Job) (interface{}, error) {
	if s.ctx.Err() != nil {
		return nil, ErrShutdown
	}

	resultChan := make(chan jobResult, 1)

	select {
	case s.queue <- job{fn: fn, result: resultChan, ctx: ctx}:
		s.recordDepth()
	case <-s.ctx.Done():
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-resultChan:
		return result.value, result.err
	case <-ctx.Done():
		// The worker may still finish the job; we just stop waiting for it.
		return nil, ctx.Err()
	}
}

// TrySubmit enqueues fn without blocking; if the stage's bounded queue is
// full it returns ErrQueueFull immediately instead of waiting.
func (s *Stage) TrySubmit(ctx context.Context, fn Job) (interface{}, error) {
	if s.ctx.Err() != nil {
		return nil, ErrShutdown
	}

	resultChan := make(chan jobResult, 1)

	select {
	case s.queue <- job{fn: fn, result: resultChan, ctx: ctx}:
		s.recordDepth()
	default:
		if s.metrics != nil {
			s.metrics.IncQueueFull(s.Name)
		}
		return nil, ErrQueueFull
	}

	select {
	case result := <-resultChan:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
