package netius

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningLoop(t *testing.T) (*Loop, context.Context, func()) {
	t.Helper()
	loop, err := New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	return loop, ctx, func() {
		cancel()
		_ = loop.Shutdown(context.Background())
	}
}

func TestFuture_SingleAssignment(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	f := NewFuture(loop)
	f.SetResult(1, false)
	f.SetResult(2, false)

	assert.Equal(t, 1, f.Result())
	assert.True(t, f.Done())
}

func TestFuture_ForceOverridesTerminalState(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	f := NewFuture(loop)
	f.SetResult(1, false)
	f.SetResult(2, true)

	assert.Equal(t, 2, f.Result())
}

func TestFuture_DoneCallbackNotReentrant(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	f := NewFuture(loop)
	var ranAfterSet bool
	done := make(chan struct{})
	f.AddDoneCallback(func(Future) {
		assert.True(t, ranAfterSet, "done callback ran before SetResult returned")
		close(done)
	})

	f.SetResult("ok", false)
	ranAfterSet = true

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for done callback")
	}
}

func TestFuture_CancelSetsCancelledError(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	f := NewFuture(loop)
	f.Cancel(false)

	require.True(t, f.Cancelled())
	assert.ErrorIs(t, f.Exception(), ErrCancelled)
}

func TestFuture_Partial(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	f := NewFuture(loop)
	var mu sync.Mutex
	var values []any
	f.AddPartialCallback(func(_ Future, v any) {
		mu.Lock()
		values = append(values, v)
		mu.Unlock()
	})

	f.Partial(1)
	f.Partial(2)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(values) >= 2
	}, 2*time.Second, time.Millisecond)

	assert.True(t, f.Running(), "Partial must not change status")
}

func TestFirstOf_LoserCancelled(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	fast := NewFuture(loop)
	slow := NewFuture(loop)

	winner := FirstOf(loop, fast, slow)
	fast.SetResult("fast", false)

	ch := make(chan struct{})
	winner.AddDoneCallback(func(Future) { close(ch) })

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for FirstOf to settle")
	}

	assert.Equal(t, "fast", winner.Result())

	require.Eventually(t, slow.Cancelled, 2*time.Second, time.Millisecond)
}

func TestTask_AwaitResolvesCoroutine(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	inner := NewFuture(loop)
	result := make(chan any, 1)
	errs := make(chan error, 1)

	task := NewTask(loop, RunCoroutine(func() {
		v, err := Await(inner)
		result <- v
		errs <- err
	}))

	_ = loop.Delay(DelayOptions{
		Callback:    func() { task.Drive(context.Background()) },
		Immediately: true,
		Safe:        true,
	})

	inner.SetResult("done", false)

	select {
	case v := <-result:
		assert.Equal(t, "done", v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coroutine body")
	}
	require.NoError(t, <-errs)
}

// blockingCoroutine never reports done on its own; it exists to exercise
// Task.Cancel's context propagation while the Task is still Running.
type blockingCoroutine struct {
	onPoll func(pc *PollCtx)
}

func (b *blockingCoroutine) Poll(pc *PollCtx) bool {
	if b.onPoll != nil {
		b.onPoll(pc)
	}
	return false
}

func TestTask_CancelPropagatesToCoroutineContext(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	cancelled := make(chan struct{})
	var once sync.Once
	task := NewTask(loop, &blockingCoroutine{onPoll: func(pc *PollCtx) {
		go func() {
			<-pc.Ctx.Done()
			once.Do(func() { close(cancelled) })
		}()
	}})

	task.Drive(context.Background())
	task.Cancel(false)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coroutine context cancellation")
	}

	assert.True(t, task.Cancelled())
}

// countingCoroutine reports done on its Nth poll, letting a test assert a
// Task is actually driven repeatedly rather than polled exactly once.
type countingCoroutine struct {
	mu    sync.Mutex
	polls int
	after int
}

func (c *countingCoroutine) Poll(*PollCtx) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	return c.polls >= c.after
}

func (c *countingCoroutine) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

func TestLoop_EnsureDrivesTaskEachTick(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	co := &countingCoroutine{after: 3}
	fut := loop.Ensure(co)

	require.Eventually(t, fut.Done, 2*time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, co.count(), 3)
}

func TestCompat_CreateTaskResolvesWithoutManualDrive(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	compat := NewCompat(loop)
	co := &countingCoroutine{after: 2}
	task := compat.CreateTask(co)

	require.Eventually(t, task.Done, 2*time.Second, time.Millisecond)
}

func TestTask_ClosedCallbackFailsTask(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	task := NewTask(loop, &blockingCoroutine{})
	task.AddClosedCallback(func() bool { return true })

	task.Drive(context.Background())

	assert.True(t, task.Cancelled())
	assert.ErrorIs(t, task.Exception(), ErrPeerClosed)
}

func TestTask_ReadyCallbackDefersPoll(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	var ready atomic.Bool
	polls := atomic.Int32{}
	task := NewTask(loop, &blockingCoroutine{onPoll: func(*PollCtx) { polls.Add(1) }})
	task.AddReadyCallback(ready.Load)

	task.Drive(context.Background())
	assert.Equal(t, int32(0), polls.Load(), "Drive must not poll while Ready() is false")

	ready.Store(true)
	task.Drive(context.Background())
	assert.Equal(t, int32(1), polls.Load())
}
