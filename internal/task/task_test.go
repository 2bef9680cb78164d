package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockingStart(started chan struct{}, release chan struct{}) StartFunc[int] {
	return func(ctx context.Context, t *Task[int]) {
		close(started)
		select {
		case <-release:
			t.EmitValue(1, true)
		case <-ctx.Done():
		}
	}
}

func TestSubscribeStartsWorkOnce(t *testing.T) {
	var starts int32
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	tk := New("k", func(ctx context.Context, tk *Task[int]) {
		atomic.AddInt32(&starts, 1)
		close(started)
		<-release
		tk.EmitValue(42, true)
	})

	var got int
	var mu sync.Mutex
	done := make(chan struct{})
	sub := tk.Subscribe(Normal, func(e Event[int]) {
		if e.Kind == EventValue && e.IsFinal {
			mu.Lock()
			got = e.Value
			mu.Unlock()
			close(done)
		}
	})
	defer sub.Unsubscribe()

	<-started
	// A second subscriber must not start the work again.
	sub2 := tk.Subscribe(Normal, func(Event[int]) {})
	defer sub2.Unsubscribe()

	release <- struct{}{}
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 42, got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&starts))
}

func TestTerminalOnce(t *testing.T) {
	release := make(chan struct{})
	tk := New("k", func(ctx context.Context, tk *Task[int]) {
		<-release
		tk.EmitValue(1, true)
		// Emissions after terminal must be dropped, not delivered.
		tk.EmitValue(2, true)
		tk.EmitError(assertError)
	})

	var events []Event[int]
	var mu sync.Mutex
	done := make(chan struct{})
	sub := tk.Subscribe(Normal, func(e Event[int]) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		if e.IsFinal {
			close(done)
		}
	})
	defer sub.Unsubscribe()

	close(release)
	<-done
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.True(t, events[0].IsFinal)
	assert.Equal(t, 1, events[0].Value)
}

var assertError = context.Canceled

func TestCancellationOnLastUnsubscribe(t *testing.T) {
	cancelled := make(chan struct{})
	tk := New("k", func(ctx context.Context, tk *Task[int]) {
		<-ctx.Done()
		close(cancelled)
	})

	sub1 := tk.Subscribe(Normal, func(Event[int]) {})
	sub2 := tk.Subscribe(Low, func(Event[int]) {})

	sub1.Unsubscribe()
	select {
	case <-cancelled:
		t.Fatal("task cancelled with a live subscriber remaining")
	case <-time.After(20 * time.Millisecond):
	}

	sub2.Unsubscribe()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task did not cancel after last unsubscribe")
	}
	assert.Equal(t, StateCancelled, tk.State())
}

func TestPriorityMonotonicity(t *testing.T) {
	tk := New("k", func(ctx context.Context, tk *Task[int]) { <-ctx.Done() })
	defer func() {
		// unwind to cancel the task's goroutine
	}()

	sub1 := tk.Subscribe(Low, func(Event[int]) {})
	assert.Equal(t, Low, tk.Priority())

	sub2 := tk.Subscribe(VeryHigh, func(Event[int]) {})
	assert.Equal(t, VeryHigh, tk.Priority())

	sub2.Unsubscribe()
	assert.Equal(t, Low, tk.Priority())

	sub1.SetPriority(High)
	assert.Equal(t, High, tk.Priority())

	sub1.Unsubscribe()
}

func TestArenaCoalescesByKey(t *testing.T) {
	arena := NewArena[int]()
	var starts int32

	start := func(ctx context.Context, tk *Task[int]) {
		atomic.AddInt32(&starts, 1)
		<-ctx.Done()
	}

	t1, reused1 := arena.GetOrCreate("same", true, start)
	t2, reused2 := arena.GetOrCreate("same", true, start)
	assert.False(t, reused1)
	assert.True(t, reused2)
	assert.Same(t, t1, t2)
	assert.Equal(t, 1, arena.Len())

	t3, reused3 := arena.GetOrCreate("different", true, start)
	assert.False(t, reused3)
	assert.NotSame(t, t1, t3)
	assert.Equal(t, 2, arena.Len())
}

func TestArenaDisabledDedupAlwaysCreatesNew(t *testing.T) {
	arena := NewArena[int]()
	start := func(ctx context.Context, tk *Task[int]) { <-ctx.Done() }

	t1, _ := arena.GetOrCreate("same", false, start)
	t2, _ := arena.GetOrCreate("same", false, start)
	assert.NotSame(t, t1, t2)
	assert.Equal(t, 0, arena.Len())
}

func TestArenaRemovesTaskOnCancellation(t *testing.T) {
	arena := NewArena[int]()
	start := func(ctx context.Context, tk *Task[int]) { <-ctx.Done() }

	tk, _ := arena.GetOrCreate("k", true, start)
	sub := tk.Subscribe(Normal, func(Event[int]) {})
	require.Equal(t, 1, arena.Len())

	sub.Unsubscribe()

	deadline := time.Now().Add(time.Second)
	for arena.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 0, arena.Len())
}
