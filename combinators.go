package netius

import (
	"sync"
	"sync/atomic"
)

// SettledResult is one entry of AllSettled's result slice: exactly one of
// Value/Err is meaningful, selected by Fulfilled.
type SettledResult struct {
	Fulfilled bool
	Value     any
	Err       error
}

// All returns a Future that resolves with []any (one entry per input,
// in order) once every future in futures has resolved, or rejects with
// the first error from any future that rejects. An empty futures
// resolves immediately with an empty slice.
func All(loop *Loop, futures []Future) Future {
	result := NewFuture(loop)

	if len(futures) == 0 {
		result.SetResult(make([]any, 0), false)
		return result
	}

	var mu sync.Mutex
	var completed atomic.Int32
	var rejected atomic.Bool
	values := make([]any, len(futures))

	for i, f := range futures {
		idx := i
		f.AddDoneCallback(func(f Future) {
			if err := f.Exception(); err != nil {
				if rejected.CompareAndSwap(false, true) {
					result.SetException(err, false)
				}
				return
			}

			mu.Lock()
			values[idx] = f.Result()
			mu.Unlock()

			if completed.Add(1) == int32(len(futures)) && !rejected.Load() {
				result.SetResult(values, false)
			}
		})
	}

	return result
}

// Race returns a Future that settles with the first future in futures to
// settle, ignoring the rest. An empty futures never settles.
func Race(loop *Loop, futures []Future) Future {
	result := NewFuture(loop)

	var settled atomic.Bool
	for _, f := range futures {
		f.AddDoneCallback(func(f Future) {
			if !settled.CompareAndSwap(false, true) {
				return
			}
			if err := f.Exception(); err != nil {
				result.SetException(err, false)
			} else {
				result.SetResult(f.Result(), false)
			}
		})
	}

	return result
}

// AllSettled returns a Future that resolves with []SettledResult (one per
// input, in order) once every future in futures has settled, never
// rejecting itself. An empty futures resolves immediately.
func AllSettled(loop *Loop, futures []Future) Future {
	result := NewFuture(loop)

	if len(futures) == 0 {
		result.SetResult(make([]SettledResult, 0), false)
		return result
	}

	var mu sync.Mutex
	var completed atomic.Int32
	results := make([]SettledResult, len(futures))

	for i, f := range futures {
		idx := i
		f.AddDoneCallback(func(f Future) {
			mu.Lock()
			if err := f.Exception(); err != nil {
				results[idx] = SettledResult{Fulfilled: false, Err: err}
			} else {
				results[idx] = SettledResult{Fulfilled: true, Value: f.Result()}
			}
			mu.Unlock()

			if completed.Add(1) == int32(len(futures)) {
				result.SetResult(results, false)
			}
		})
	}

	return result
}

// Any returns a Future that resolves with the value of the first future
// in futures to resolve, or rejects with an *AggregateError collecting
// every rejection once ALL futures have rejected. An empty futures
// rejects immediately with an empty AggregateError.
func Any(loop *Loop, futures []Future) Future {
	result := NewFuture(loop)

	if len(futures) == 0 {
		result.SetException(&AggregateError{Message: "netius: no futures given to Any"}, false)
		return result
	}

	var mu sync.Mutex
	var rejectedCount atomic.Int32
	var resolved atomic.Bool
	errs := make([]error, len(futures))

	for i, f := range futures {
		idx := i
		f.AddDoneCallback(func(f Future) {
			if err := f.Exception(); err != nil {
				mu.Lock()
				errs[idx] = err
				mu.Unlock()

				if rejectedCount.Add(1) == int32(len(futures)) && !resolved.Load() {
					result.SetException(&AggregateError{Message: "netius: all futures rejected", Errors: errs}, false)
				}
				return
			}

			if resolved.CompareAndSwap(false, true) {
				result.SetResult(f.Result(), false)
			}
		})
	}

	return result
}
