package ratelimiter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	deferred int32
}

func (r *countingRecorder) IncDeferred() { atomic.AddInt32(&r.deferred, 1) }

func TestExecuteRunsImmediatelyWithinBurst(t *testing.T) {
	rl := New(2, 1, nil)

	var ran bool
	consumed, err := rl.Execute(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.True(t, ran)
}

func TestExecutePropagatesFnError(t *testing.T) {
	rl := New(2, 1, nil)
	wantErr := errors.New("boom")

	_, err := rl.Execute(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestExecuteDefersBeyondBurstAndRecordsWait(t *testing.T) {
	rec := &countingRecorder{}
	rl := New(1, 10, rec) // 1 token capacity, refills at 10/s (~100ms/token)

	ctx := context.Background()
	_, err := rl.Execute(ctx, func(context.Context) error { return nil })
	require.NoError(t, err)

	start := time.Now()
	consumed, err := rl.Execute(ctx, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.deferred))
}

func TestExecuteCancelledWaitDoesNotConsumeToken(t *testing.T) {
	rl := New(1, 1, nil) // capacity 1, refills slowly (1/s)
	ctx := context.Background()

	_, err := rl.Execute(ctx, func(context.Context) error { return nil })
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()

	consumed, err := rl.Execute(cancelCtx, func(context.Context) error {
		t.Fatal("fn must not run when the wait is cancelled before a token is available")
		return nil
	})
	assert.False(t, consumed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBurstExceedsCapacityError(t *testing.T) {
	rl := New(0, 1, nil)
	_, err := rl.Execute(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrBurstExceedsCapacity)
}
