package netius

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkedIngress_FIFOAcrossChunkBoundary(t *testing.T) {
	q := NewChunkedIngress()

	const n = chunkSize + 5 // force at least one chunk rollover
	var order []int
	for i := 0; i < n; i++ {
		i := i
		q.pushLocked(Job{Runnable: func() { order = append(order, i) }})
	}

	require.Equal(t, n, q.lengthLocked())

	for i := 0; i < n; i++ {
		job, ok := q.popLocked()
		require.True(t, ok, "popLocked ran out early at index %d", i)
		require.NotNil(t, job.Runnable, "expected non-nil Runnable at index %d", i)
		job.Runnable()
	}

	_, ok := q.popLocked()
	assert.False(t, ok, "expected queue to be empty")

	expected := make([]int, n)
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, order)
}

func TestMicrotaskRing_FIFOOrder(t *testing.T) {
	r := NewMicrotaskRing()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, r.Push(func() { order = append(order, i) }), "Push failed at index %d", i)
	}

	for !r.IsEmpty() {
		fn := r.Pop()
		require.NotNil(t, fn, "Pop returned nil before ring was empty")
		fn()
	}

	expected := make([]int, 10)
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, order)
}
