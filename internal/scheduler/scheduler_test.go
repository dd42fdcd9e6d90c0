package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAfter_RunsOnce(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	done := make(chan struct{})
	var runs atomic.Int32
	require.True(t, s.After("bootstrap.execute", 10*time.Millisecond, func(context.Context) {
		runs.Add(1)
		close(done)
	}))
	assert.True(t, s.Pending("bootstrap.execute"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
	}
	assert.Eventually(t, func() bool { return !s.Pending("bootstrap.execute") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestAfter_DedupByName(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var runs atomic.Int32
	job := func(context.Context) { runs.Add(1) }

	assert.True(t, s.After("bootstrap.execute", 20*time.Millisecond, job))
	assert.False(t, s.After("bootstrap.execute", 20*time.Millisecond, job))

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	// Once fired the name is free again.
	assert.True(t, s.After("bootstrap.execute", time.Millisecond, job))
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestAfter_ConcurrentRequestsScheduleOne(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.After("bootstrap.execute", time.Hour, func(context.Context) {}) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
}

func TestCancel(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var runs atomic.Int32
	require.True(t, s.After("job", 20*time.Millisecond, func(context.Context) { runs.Add(1) }))
	s.Cancel("job")
	s.Cancel("unknown")
	assert.False(t, s.Pending("job"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
}

func TestEvery_RepeatsUntilCancelled(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var runs atomic.Int32
	require.True(t, s.Every("coordinator.cycle", 5*time.Millisecond, func(context.Context) { runs.Add(1) }))
	assert.False(t, s.Every("coordinator.cycle", 5*time.Millisecond, func(context.Context) {}))
	assert.False(t, s.Every("bad", 0, func(context.Context) {}))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Cancel("coordinator.cycle")
	assert.False(t, s.Pending("coordinator.cycle"))
}

func TestEvery_PanicDoesNotKillLoop(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var runs atomic.Int32
	require.True(t, s.Every("flaky", 5*time.Millisecond, func(context.Context) {
		if runs.Add(1) == 1 {
			panic("boom")
		}
	}))
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestStop_CancelsJobContext(t *testing.T) {
	s := New(nil)

	started := make(chan struct{}, 1)
	var sawCancel atomic.Bool
	require.True(t, s.Every("long", time.Millisecond, func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		sawCancel.Store(true)
	}))
	require.True(t, s.After("later", time.Hour, func(context.Context) {}))

	<-started
	s.Stop()
	assert.True(t, sawCancel.Load())
	assert.False(t, s.Pending("later"))
	assert.False(t, s.After("again", time.Millisecond, func(context.Context) {}), "stopped scheduler rejects jobs")
	s.Stop()
}
