package limbo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlusher struct {
	release  <-chan struct{}
	flushErr error
	flushed  *atomic.Int32
	closed   *atomic.Int32
	once     sync.Once
}

func (f *fakeFlusher) Flush(ctx context.Context) error {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.flushed.Add(1)
	return f.flushErr
}

func (f *fakeFlusher) Close() error {
	f.once.Do(func() { f.closed.Add(1) })
	return nil
}

func TestLimbo_HandoffFlushesAndCloses(t *testing.T) {
	var flushed, closed atomic.Int32
	l := New(Options{FlushTimeout: time.Second})

	for i := 0; i < 5; i++ {
		l.Handoff(&fakeFlusher{flushed: &flushed, closed: &closed})
	}

	require.Eventually(t, func() bool { return closed.Load() == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(5), flushed.Load())

	slots, attempts := l.Stats()
	assert.GreaterOrEqual(t, slots, 1)
	assert.LessOrEqual(t, slots, 5)
	assert.Equal(t, slots, attempts)
}

func TestLimbo_FlushErrorStillCloses(t *testing.T) {
	var flushed, closed atomic.Int32
	l := New(Options{FlushTimeout: time.Second})

	l.Handoff(&fakeFlusher{flushed: &flushed, closed: &closed, flushErr: errors.New("broken pipe")})

	require.Eventually(t, func() bool { return closed.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestLimbo_FlushTimeout(t *testing.T) {
	var flushed, closed atomic.Int32
	never := make(chan struct{})
	l := New(Options{FlushTimeout: 20 * time.Millisecond})

	l.Handoff(&fakeFlusher{release: never, flushed: &flushed, closed: &closed})

	require.Eventually(t, func() bool { return closed.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, flushed.Load())
}

func TestLimbo_OverflowWhenAllSlotsBusy(t *testing.T) {
	var flushed, closed atomic.Int32
	release := make(chan struct{})

	var overflowMu sync.Mutex
	var overflowAttempts []int
	l := New(Options{
		FlushTimeout: 5 * time.Second,
		Backlog:      1,
		Overflow: func(attempt int, f Flusher) {
			overflowMu.Lock()
			overflowAttempts = append(overflowAttempts, attempt)
			overflowMu.Unlock()
			_ = f.Close()
		},
	})

	const total = 40
	for i := 0; i < total; i++ {
		l.Handoff(&fakeFlusher{release: release, flushed: &flushed, closed: &closed})
	}

	slots, _ := l.Stats()
	assert.Equal(t, Slots, slots)

	overflowMu.Lock()
	dropped := len(overflowAttempts)
	// Each busy sender holds one connection in flight and one queued.
	assert.GreaterOrEqual(t, dropped, total-2*Slots)
	for i := 1; i < dropped; i++ {
		assert.Greater(t, overflowAttempts[i], overflowAttempts[i-1])
	}
	overflowMu.Unlock()

	close(release)
	require.Eventually(t, func() bool { return closed.Load() == total }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(total-dropped), flushed.Load())
}

func TestLimbo_FlushPolicyRunsOnCaller(t *testing.T) {
	var flushed, closed atomic.Int32
	policy := FlushPolicy(time.Second)

	policy(16, &fakeFlusher{flushed: &flushed, closed: &closed})
	assert.Equal(t, int32(1), flushed.Load())
	assert.Equal(t, int32(1), closed.Load())
}

func TestLimbo_DropPolicyCloses(t *testing.T) {
	var flushed, closed atomic.Int32
	DropPolicy(16, &fakeFlusher{flushed: &flushed, closed: &closed})
	assert.Zero(t, flushed.Load())
	assert.Equal(t, int32(1), closed.Load())
}

func TestLimbo_DefaultIsShared(t *testing.T) {
	assert.Same(t, Default(), Default())
	assert.False(t, Configure(Options{}), "configuring after first use has no effect")
}
