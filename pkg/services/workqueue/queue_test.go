package workqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPool_RunsEveryTask(t *testing.T) {
	p := New(context.Background(), zap.NewNop())

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		p.Go("scan", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	require.NoError(t, p.Wait(waitCtx(t)))
	assert.Equal(t, int32(5), ran.Load())
}

func TestPool_EmptyWait(t *testing.T) {
	p := New(context.Background(), zap.NewNop())
	assert.NoError(t, p.Wait(waitCtx(t)))
}

func TestPool_FailuresDoNotStopSiblings(t *testing.T) {
	p := New(context.Background(), zap.NewNop(), WithConcurrency(2))

	boom := errors.New("permission denied for table orders")
	var ran atomic.Int32
	p.Go("scan crm", func(ctx context.Context) error { return boom })
	for i := 0; i < 3; i++ {
		p.Go("scan erp", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	err := p.Wait(waitCtx(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "scan crm")
	assert.Equal(t, int32(3), ran.Load())
}

func TestPool_SerializedByDefault(t *testing.T) {
	p := New(context.Background(), zap.NewNop())

	var running, maxRunning atomic.Int32
	for i := 0; i < 4; i++ {
		p.Go("t", func(ctx context.Context) error {
			observeConcurrency(&running, &maxRunning)
			return nil
		})
	}

	require.NoError(t, p.Wait(waitCtx(t)))
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestPool_BoundedConcurrency(t *testing.T) {
	p := New(context.Background(), zap.NewNop(), WithConcurrency(3))

	var running, maxRunning atomic.Int32
	for i := 0; i < 9; i++ {
		p.Go("t", func(ctx context.Context) error {
			observeConcurrency(&running, &maxRunning)
			return nil
		})
	}

	require.NoError(t, p.Wait(waitCtx(t)))
	assert.LessOrEqual(t, maxRunning.Load(), int32(3))
	assert.Greater(t, maxRunning.Load(), int32(1))
}

func TestPool_NonPositiveConcurrencySerializes(t *testing.T) {
	p := New(context.Background(), zap.NewNop(), WithConcurrency(0))
	assert.Equal(t, 1, cap(p.slots))
}

func TestPool_CancelledParentSkipsWaitingTasks(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	p := New(parent, zap.NewNop())

	started := make(chan struct{})
	p.Go("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	p.Go("never", func(ctx context.Context) error {
		t.Error("task waiting for a slot must not start after cancel")
		return nil
	})
	cancel()

	err := p.Wait(waitCtx(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "never")
}

func TestPool_WaitHonorsContext(t *testing.T) {
	p := New(context.Background(), zap.NewNop())

	release := make(chan struct{})
	defer close(release)
	p.Go("stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)
}

func observeConcurrency(running, maxRunning *atomic.Int32) {
	n := running.Add(1)
	for {
		m := maxRunning.Load()
		if n <= m || maxRunning.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	running.Add(-1)
}
