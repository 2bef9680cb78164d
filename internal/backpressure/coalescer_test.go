package backpressure

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescerRunsSingleValueImmediately(t *testing.T) {
	done := make(chan struct{})
	var got int32
	c := New(func(v int) {
		atomic.StoreInt32(&got, int32(v))
		close(done)
	})

	c.Submit(7)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("process never ran")
	}
	assert.Equal(t, int32(7), atomic.LoadInt32(&got))
}

func TestCoalescerDropsIntermediateValuesWhileRunning(t *testing.T) {
	release := make(chan struct{})
	var processed []int
	var mu sync.Mutex
	firstStarted := make(chan struct{})
	var once sync.Once

	c := New(func(v int) {
		mu.Lock()
		processed = append(processed, v)
		mu.Unlock()
		once.Do(func() { close(firstStarted) })
		<-release
	})

	c.Submit(1)
	<-firstStarted

	// These all arrive while v=1 is still running; only the last should
	// survive to run next.
	c.Submit(2)
	c.Submit(3)
	c.Submit(4)

	release <- struct{}{}
	// allow the coalescer to pick up the waiting value and run it
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(processed)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second value never ran")
		}
		time.Sleep(time.Millisecond)
	}
	release <- struct{}{}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, processed, 2)
	assert.Equal(t, 1, processed[0])
	assert.Equal(t, 4, processed[1])
}

func TestCoalescerInFlightReflectsRunningState(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	c := New(func(int) {
		close(started)
		<-release
	})

	assert.False(t, c.InFlight())
	c.Submit(1)
	<-started
	assert.True(t, c.InFlight())
	close(release)

	deadline := time.Now().Add(time.Second)
	for c.InFlight() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.False(t, c.InFlight())
}
