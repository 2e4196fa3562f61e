package netius

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_TimersFireInDeadlineOrder(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	// Timer callbacks all run on the loop goroutine, one at a time, so a
	// plain counter under mu is enough; no atomics needed.
	record := func(n int) {
		mu.Lock()
		order = append(order, n)
		remaining := 3 - len(order)
		mu.Unlock()
		if remaining == 0 {
			close(done)
		}
	}

	// Scheduled out of order; expected to fire 1, 2, 3 by deadline.
	require.NoError(t, loop.ScheduleTimer(30*time.Millisecond, func() { record(3) }))
	require.NoError(t, loop.ScheduleTimer(10*time.Millisecond, func() { record(1) }))
	require.NoError(t, loop.ScheduleTimer(20*time.Millisecond, func() { record(2) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timers")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestLoop_SleepVsAwaitRace(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	neverResolved := NewFuture(loop)
	sleep := loop.Sleep(20 * time.Millisecond)

	winner := FirstOf(loop, sleep, neverResolved)
	ch := make(chan struct{})
	winner.AddDoneCallback(func(Future) { close(ch) })

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sleep to win the race")
	}

	assert.False(t, winner.Cancelled(), "expected sleep's nil result to win, not a cancellation")

	require.Eventually(t, neverResolved.Cancelled, 2*time.Second, time.Millisecond,
		"timed out waiting for the losing Future to be cancelled")
}

func TestLoop_WaitNotifyFIFO(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	first := loop.Wait("greeting")
	second := loop.Wait("greeting")

	loop.Notify("greeting", "hello")
	loop.Notify("greeting", "world")

	require.Eventually(t, func() bool {
		return first.Done() && second.Done()
	}, 2*time.Second, time.Millisecond, "timed out waiting for Notify to settle both waiters")

	assert.Equal(t, "hello", first.Result())
	assert.Equal(t, "world", second.Result())
}

func TestLoop_DelayVerifyFiltersDuplicateKey(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	var mu sync.Mutex
	var runs int
	callback := func() {
		mu.Lock()
		runs++
		mu.Unlock()
	}

	const key = "refresh-widget"
	require.NoError(t, loop.Delay(DelayOptions{Callback: callback, Key: key, Verify: true, Safe: true}))
	require.NoError(t, loop.Delay(DelayOptions{Callback: callback, Key: key, Verify: true, Safe: true}))
	require.NoError(t, loop.Delay(DelayOptions{Callback: callback, Key: key, Verify: true, Safe: true}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 1
	}, 2*time.Second, time.Millisecond, "duplicate Delay calls sharing a Key should collapse to one run")

	// Once the first call has run, the Key is free again for a new Delay.
	require.NoError(t, loop.Delay(DelayOptions{Callback: callback, Key: key, Verify: true, Safe: true}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 2
	}, 2*time.Second, time.Millisecond, "Key should be released after its callback runs")
}
