package netius

import (
	"context"
	"sync"
)

// FutureStatus mirrors the three-state lifecycle of a Future: it starts
// Running, and transitions exactly once to either Done (set_result) or
// Cancelled (set_exception, including an explicit Cancel()).
type FutureStatus int32

const (
	StatusRunning FutureStatus = iota
	StatusDone
	StatusCancelled
)

// Future is a single-assignment result container with four independent
// callback lists, matching the done/partial/ready/closed shape used
// throughout this package's Connection/Transport/Protocol/Task substrate.
//
// Terminal transitions (SetResult, SetException, Cancel) are no-ops once
// the Future has already left Running, unless force is true.
type Future interface {
	Running() bool
	Done() bool
	Cancelled() bool
	Result() any
	Exception() error

	SetResult(result any, force bool)
	SetException(err error, force bool)
	Cancel(force bool)

	// Partial invokes every partial callback with value, without touching
	// status. Used for streaming/progress notifications on a Future that
	// is still Running.
	Partial(value any)

	AddDoneCallback(fn func(Future))
	AddPartialCallback(fn func(Future, any))
	AddReadyCallback(fn func() bool)
	AddClosedCallback(fn func() bool)

	// Ready reports whether every ready callback currently agrees the
	// Future's prerequisites are satisfied (AND over all callbacks; true
	// when there are none).
	Ready() bool
	// Closed reports whether any closed callback currently reports the
	// owning resource has gone away (OR over all callbacks; false when
	// there are none).
	Closed() bool
}

// future is the concrete Future, always constructed via NewFuture so a
// Loop reference is always attached (callbacks are delayed onto it, per
// the owning loop's Delay, so they never run re-entrantly inside a
// SetResult/SetException/Cancel call).
type future struct {
	mu        sync.Mutex
	loop      *Loop
	status    FutureStatus
	result    any
	err       error
	done      []func(Future)
	partial   []func(Future, any)
	ready     []func() bool
	closedCBs []func() bool
}

var _ Future = (*future)(nil)

// NewFuture creates a pending Future owned by loop. loop may be nil, in
// which case done/partial callbacks run synchronously instead of being
// delayed.
//
// When loop is non-nil, the Future is registered in the loop's registry
// via a weak pointer, so a caller that drops its reference without ever
// observing the result doesn't keep it (or its closures) alive until the
// loop's next Scavenge pass collects it.
func NewFuture(loop *Loop) Future {
	f := &future{loop: loop}
	if loop != nil && loop.registry != nil {
		loop.registry.Track(f)
	}
	return f
}

func (f *future) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status == StatusRunning
}

func (f *future) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status == StatusDone
}

func (f *future) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status == StatusCancelled
}

func (f *future) Result() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

func (f *future) Exception() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *future) SetResult(result any, force bool) {
	f.mu.Lock()
	if !force && f.status != StatusRunning {
		f.mu.Unlock()
		return
	}
	f.status = StatusDone
	f.result = result
	f.mu.Unlock()
	f.dispatchDone()
}

func (f *future) SetException(err error, force bool) {
	f.mu.Lock()
	if !force && f.status != StatusRunning {
		f.mu.Unlock()
		return
	}
	f.status = StatusCancelled
	f.err = err
	f.mu.Unlock()
	f.dispatchDone()
}

// Cancel transitions the Future to Cancelled with ErrCancelled, the Go
// equivalent of set_exception(CancelledError).
func (f *future) Cancel(force bool) {
	f.SetException(ErrCancelled, force)
}

func (f *future) Partial(value any) {
	f.mu.Lock()
	cbs := append([]func(Future, any){}, f.partial...)
	f.mu.Unlock()
	if len(cbs) == 0 {
		return
	}
	run := func() {
		for _, cb := range cbs {
			cb(f, value)
		}
	}
	if f.loop != nil {
		_ = f.loop.Delay(DelayOptions{Callback: run, Immediately: true})
	} else {
		run()
	}
}

func (f *future) AddDoneCallback(fn func(Future)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.done = append(f.done, fn)
	f.mu.Unlock()
}

func (f *future) AddPartialCallback(fn func(Future, any)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.partial = append(f.partial, fn)
	f.mu.Unlock()
}

func (f *future) AddReadyCallback(fn func() bool) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.ready = append(f.ready, fn)
	f.mu.Unlock()
}

func (f *future) AddClosedCallback(fn func() bool) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.closedCBs = append(f.closedCBs, fn)
	f.mu.Unlock()
}

func (f *future) Ready() bool {
	f.mu.Lock()
	cbs := append([]func() bool{}, f.ready...)
	f.mu.Unlock()
	for _, cb := range cbs {
		if !cb() {
			return false
		}
	}
	return true
}

func (f *future) Closed() bool {
	f.mu.Lock()
	cbs := append([]func() bool{}, f.closedCBs...)
	f.mu.Unlock()
	for _, cb := range cbs {
		if cb() {
			return true
		}
	}
	return false
}

// dispatchDone runs the done-callback list after SetResult/SetException
// has returned, so callbacks never execute re-entrantly inside them: off
// the loop goroutine via loop.Delay(immediately: true), on it by pushing
// straight onto the internal queue (SubmitInternal would run the job
// inline there). Once the loop has terminated (RejectAll during shutdown)
// the callbacks run synchronously so Await callers are still released.
func (f *future) dispatchDone() {
	f.mu.Lock()
	cbs := f.done
	f.done = nil
	f.mu.Unlock()
	if len(cbs) == 0 {
		return
	}
	run := func() {
		for _, cb := range cbs {
			cb(f)
		}
	}
	switch {
	case f.loop == nil, f.loop.state.Load() == StateTerminated:
		run()
	case f.loop.isLoopThread():
		f.loop.internalQueueMu.Lock()
		f.loop.internal.pushLocked(Job{Runnable: run})
		f.loop.internalQueueMu.Unlock()
	default:
		_ = f.loop.Delay(DelayOptions{Callback: run, Immediately: true})
	}
}

// Task couples a Future with a Coroutine driver: each Drive call polls the
// Coroutine once (Loop.Ensure/driveTasks call it once per loop tick) until
// it reports done, at which point Drive resolves the Task's own Future with
// nil unless the coroutine already settled it; a panic in Poll rejects it
// with a PanicError.
type Task struct { //nolint:govet
	Future
	driver Coroutine
	loop   *Loop

	// abortCtrl backs Cancel: cancelling the Task aborts this controller's
	// signal, which in turn cancels the context.Context handed to the
	// Coroutine via PollCtx.Ctx on every subsequent Poll.
	abortCtrl *AbortController

	// driveCtxParent/driveCtx/cancelDrive cache the derived, cancellable
	// context built from the first Drive(ctx) call's parent; Cancel aborts
	// it via abortCtrl's signal rather than rebuilding it per Poll.
	driveCtxParent context.Context
	driveCtx       context.Context
	cancelDrive    context.CancelFunc
}

// PollCtx is handed to Coroutine.Poll on every drive. Ctx carries
// cancellation (e.g. from a FirstOf loser); Await is the suspension point
// a goroutine-backed coroutine body blocks on.
type PollCtx struct {
	Ctx context.Context
}

// Coroutine is the Go-native replacement for the source's generator-based
// coroutine: Poll is called repeatedly by the driving Task until it
// returns done=true, at which point result/err (however the Coroutine
// chooses to surface them, typically via a closure) settle the Task's
// Future.
type Coroutine interface {
	Poll(pc *PollCtx) (done bool)
}

// coroutineFunc adapts a plain function to Coroutine; it is polled
// exactly once and is always "done".
type coroutineFunc func(pc *PollCtx)

func (f coroutineFunc) Poll(pc *PollCtx) bool {
	f(pc)
	return true
}

// NewTask wraps a Coroutine as a Task whose Future is owned by loop. It
// does not drive the coroutine: that happens on each Drive call, which
// Loop.Ensure and Compat.CreateTask make once at creation and driveTasks
// makes once per tick.
func NewTask(loop *Loop, driver Coroutine) *Task {
	t := &Task{
		Future:    NewFuture(loop),
		driver:    driver,
		loop:      loop,
		abortCtrl: NewAbortController(),
	}
	return t
}

// Cancel aborts the Task's AbortController (so its Coroutine observes a
// cancelled PollCtx.Ctx on the next Poll) and transitions the Task's
// Future to Cancelled. The Future the coroutine is awaiting is not
// touched: an Await inside a RunCoroutine body stays blocked until that
// Future settles on its own.
func (t *Task) Cancel(force bool) {
	t.abortCtrl.Abort(ErrCancelled)
	t.Future.Cancel(force)
}

// Drive polls the Task's Coroutine once. If it reports done, Drive
// resolves the Task's Future with nil (the coroutine is expected to have
// already called SetResult/SetException on the Task directly, via a
// closure capturing it, if it wants a specific outcome).
func (t *Task) Drive(ctx context.Context) {
	if t.Done() || t.Cancelled() {
		return
	}
	// Closed callbacks report the resource this Task depends on (a
	// Connection, a Server) has gone away: fail it rather than poll a
	// coroutine that can never make further progress.
	if t.Closed() {
		t.SetException(ErrPeerClosed, false)
		return
	}
	// Ready callbacks let a blocked Task defer polling until whatever it's
	// waiting on (other than its own Future) is actually available; absent
	// any registered callback Ready defaults to true, so a plain Task
	// polls every tick as before.
	if !t.Ready() {
		return
	}
	if t.driveCtx == nil || t.driveCtxParent != ctx {
		t.driveCtxParent = ctx
		t.driveCtx, t.cancelDrive = context.WithCancel(ctx)
		t.abortCtrl.Signal().OnAbort(func(any) { t.cancelDrive() })
	}
	done := func() (d bool) {
		defer func() {
			if r := recover(); r != nil {
				var err error
				if e, ok := r.(error); ok {
					err = e
				} else {
					err = &PanicError{Value: r}
				}
				t.SetException(err, false)
				d = true
			}
		}()
		return t.driver.Poll(&PollCtx{Ctx: t.driveCtx})
	}()
	if done && t.Running() {
		t.SetResult(nil, false)
	}
	if done && t.cancelDrive != nil {
		t.cancelDrive()
	}
}

// goroutineCoroutine drives a goroutine-bodied coroutine via a completion
// channel: RunCoroutine starts body on its own goroutine; the returned
// Coroutine's Poll reports done once body has returned (or panicked).
// This makes an ordinary goroutine play the role of a generator that
// "suspends only at a yield/await point" — the await point being Await's
// channel receive, not Poll itself.
type goroutineCoroutine struct {
	done chan struct{}
	once sync.Once
}

// RunCoroutine starts body on its own goroutine and returns a Coroutine
// whose Poll reports done once body returns. Use Await inside body to
// suspend for a Future's result without blocking the event loop thread.
func RunCoroutine(body func()) Coroutine {
	c := &goroutineCoroutine{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		body()
	}()
	return c
}

func (c *goroutineCoroutine) Poll(*PollCtx) bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Await blocks the calling goroutine (expected to be a RunCoroutine body)
// until f settles, then returns its result or its exception as a plain Go
// error — the Go equivalent of a generator's `yield future`.
func Await(f Future) (any, error) {
	ch := make(chan struct{})
	f.AddDoneCallback(func(Future) { close(ch) })
	<-ch
	if f.Cancelled() {
		return nil, f.Exception()
	}
	return f.Result(), nil
}

// FirstOf returns a Future that settles with whichever of futures settles
// first; every other Future is cancelled, implementing the
// sleep(t)-vs-awaited-Future timeout composition pattern ("whichever
// resolves first wins; the loser is cancelled"), grounded on abort.go's
// AbortAny composite-signal pattern.
func FirstOf(loop *Loop, futures ...Future) Future {
	winner := NewFuture(loop)
	var once sync.Once
	for _, f := range futures {
		f := f
		f.AddDoneCallback(func(Future) {
			once.Do(func() {
				if f.Cancelled() {
					winner.SetException(f.Exception(), false)
				} else {
					winner.SetResult(f.Result(), false)
				}
				for _, other := range futures {
					if other != f {
						other.Cancel(false)
					}
				}
			})
		})
	}
	return winner
}
