// Package netius provides a single-threaded, cooperative network event
// loop for Go, in the style of asyncio/netius: non-blocking
// Connection/Transport/Protocol layering, Future/Coroutine-based
// concurrency, and cross-platform I/O polling.
//
// # Architecture
//
// The event loop is built around a [Loop] core that manages task
// scheduling, timer processing, and I/O readiness notification.
// [Connection] wraps an accepted or dialed net.Conn registered with the
// loop's poller; [Transport] decorates a Connection with buffered,
// flow-controlled writes; [Protocol] (and [BaseProtocol]) is the
// callback interface a Transport drives as data arrives.
//
// Asynchronous results flow through [Future] and [Coroutine]: [Await]
// suspends the calling goroutine until a Future settles, and
// [RunCoroutine] lets ordinary blocking Go code run as a Coroutine
// driven by a [Task].
//
// [Observable] replaces ad hoc event-name dispatch with a generic,
// typed-key listener list — Connection emits [ConnEvent] values
// (EvConnect, EvData, EvClose, EvExhausted, EvRestored, EvUpgrade)
// through its embedded Observable rather than string-keyed events.
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms:
//   - macOS: kqueue
//   - Linux: epoll
//   - Windows: IOCP (I/O Completion Ports)
//
// File descriptor operations ([Loop.RegisterFD], [Loop.UnregisterFD],
// [Loop.ModifyFD]) provide cross-platform I/O readiness notification,
// used internally by [Connection] and exposed for protocols that need
// to watch an auxiliary descriptor directly.
//
// # Thread Safety
//
// The loop is designed for concurrent access:
//   - [Loop.Submit] and [Loop.SubmitInternal] are safe to call from any goroutine
//   - [Loop.ScheduleMicrotask] is lock-free (MPSC ring buffer)
//   - Timer and FD registration methods are thread-safe
//   - Future resolution may occur from any goroutine; dispatch to
//     registered callbacks is marshaled onto the loop goroutine
//
// # Execution Model
//
// The loop supports a dual-path execution model:
//   - Fast path (~50ns/task): channel-based scheduling for low-latency scenarios
//   - I/O path (~8-15µs): poll-based scheduling when I/O FDs are registered
//
// Task priority ordering within each tick:
//  1. Timer callbacks (earliest deadline first)
//  2. Internal queue tasks ([Loop.SubmitInternal])
//  3. External queue tasks ([Loop.Submit])
//  4. Microtasks (drained after each macrotask when strict ordering is enabled)
//
// # Usage
//
//	loop, err := netius.New(
//	    netius.WithStrictMicrotaskOrdering(true),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	loop.Submit(netius.Job{Runnable: func() {
//	    loop.Sleep(100 * time.Millisecond)
//	}})
//
//	if err := loop.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Types
//
// The package provides a small error taxonomy on top of the standard
// [error] interface:
//   - [AggregateError]: collects multiple rejection reasons (e.g. [Any])
//   - [AbortError]: for abort operations via [AbortController]
//   - [TypeError], [RangeError]: for argument validation
//   - [TimeoutError]: for Future/Delay timeouts
//   - [PanicError]: wraps a recovered panic from a Task or Coroutine
//
// All error types implement the standard [error] interface; [AggregateError]
// also supports multi-error unwrapping and type-based matching via Is().
package netius
