package netius

import (
	"context"
	"net"
	"time"
)

// Handle is the cancellation handle returned by Compat's CallSoon/CallAt/
// CallLater family, matching compat.py's asynchronous.Handle.
type Handle struct {
	cancel func()
}

// Cancel prevents the scheduled callback from running, if it has not
// already run.
func (h *Handle) Cancel() {
	if h != nil && h.cancel != nil {
		h.cancel()
	}
}

// Compat adapts a Loop to the asyncio-style event-loop contract, matching
// compat.py's LoopCompat one-for-one so code written against that shape
// (call_soon/call_later/create_future/create_connection/getaddrinfo/
// run_until_complete) ports with minimal friction.
type Compat struct {
	loop *Loop
}

// NewCompat wraps loop in the asyncio-compatible surface.
func NewCompat(loop *Loop) *Compat {
	return &Compat{loop: loop}
}

// Time returns the current wall-clock time as seconds since the epoch,
// matching compat.py's time().
func (c *Compat) Time() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// CallSoon schedules callback to run on the next tick of the loop.
func (c *Compat) CallSoon(callback func()) *Handle {
	return c.callDelay(callback, 0, true, false)
}

// CallSoonThreadsafe schedules callback to run on the next tick, safe to
// call from any goroutine.
func (c *Compat) CallSoonThreadsafe(callback func()) *Handle {
	return c.callDelay(callback, 0, true, true)
}

// CallAt schedules callback to run at the given absolute time (seconds
// since the epoch, as returned by Time).
func (c *Compat) CallAt(when float64, callback func()) *Handle {
	delay := when - c.Time()
	if delay < 0 {
		delay = 0
	}
	return c.callDelay(callback, time.Duration(delay*float64(time.Second)), false, false)
}

// CallLater schedules callback to run after delay elapses.
func (c *Compat) CallLater(delay time.Duration, callback func()) *Handle {
	return c.callDelay(callback, delay, false, false)
}

func (c *Compat) callDelay(callback func(), timeout time.Duration, immediately, safe bool) *Handle {
	cancelled := false
	wrapped := func() {
		if !cancelled {
			callback()
		}
	}

	_ = c.loop.Delay(DelayOptions{
		Callback:    wrapped,
		Timeout:     timeout,
		Immediately: immediately,
		Safe:        safe,
	})

	return &Handle{cancel: func() { cancelled = true }}
}

// CreateFuture returns a new, unresolved Future bound to the loop.
func (c *Compat) CreateFuture() Future {
	return NewFuture(c.loop)
}

// CreateTask wraps a Coroutine as a Task, registers it with the loop so
// driveTasks polls it every tick until it settles, and drives it once
// immediately, matching compat.py's create_task/ensure_future.
func (c *Compat) CreateTask(body Coroutine) *Task {
	return c.loop.ensureTask(body)
}

// CreateConnection returns a Future that resolves with (*Transport,
// Protocol) once a TCP connection to address succeeds and the protocol's
// ConnectionMade has fired, matching compat.py's create_connection.
func (c *Compat) CreateConnection(address string, protocolFactory func() Protocol) Future {
	f := NewFuture(c.loop)

	c.loop.promisifyWg.Add(1)
	go func() {
		defer c.loop.promisifyWg.Done()
		conn, err := net.Dial("tcp", address)
		if err != nil {
			_ = c.loop.Delay(DelayOptions{
				Callback:    func() { f.SetException(WrapError("netius: dial failed", err), false) },
				Immediately: true,
				Safe:        true,
			})
			return
		}

		_ = c.loop.Delay(DelayOptions{
			Callback: func() {
				fd, ferr := connFD(conn)
				if ferr != nil {
					f.SetException(ferr, false)
					return
				}
				connection := NewConnection(c.loop, conn, fd)
				protocol := protocolFactory()
				transport := NewTransport(connection, protocol)
				f.SetResult([2]any{transport, protocol}, false)
			},
			Immediately: true,
			Safe:        true,
		})
	}()

	return f
}

// CreateServer binds address, registers the resulting listener with the
// loop, and returns a *Server accepting connections via protocolFactory,
// matching compat.py's create_server. Unlike CreateConnection, binding a
// listening socket is itself non-blocking, so no Future/goroutine handoff
// is needed: the Server is returned directly once net.Listen succeeds.
func (c *Compat) CreateServer(address string, protocolFactory func() Protocol) (*Server, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, WrapError("netius: listen failed", err)
	}
	srv, err := NewServer(c.loop, ln, protocolFactory)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return srv, nil
}

// GetAddrInfo resolves host asynchronously, returning a Future that
// settles with a []net.IPAddr, matching compat.py's getaddrinfo (the
// synchronous socket.getaddrinfo call wrapped so the caller's await
// point still yields control to the loop).
func (c *Compat) GetAddrInfo(host string) Future {
	f := NewFuture(c.loop)

	c.loop.promisifyWg.Add(1)
	go func() {
		defer c.loop.promisifyWg.Done()
		addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
		_ = c.loop.Delay(DelayOptions{
			Callback: func() {
				if err != nil {
					f.SetException(err, false)
					return
				}
				f.SetResult(addrs, false)
			},
			Immediately: true,
			Safe:        true,
		})
	}()

	return f
}

// GetNameInfo is unimplemented, matching compat.py's _getnameinfo raising
// errors.NotImplemented().
func (c *Compat) GetNameInfo(addr net.Addr) Future {
	f := NewFuture(c.loop)
	f.SetException(ErrNotImplemented, false)
	return f
}

// RunUntilComplete blocks the calling goroutine until f settles, then
// returns its result or error, matching compat.py's run_until_complete.
func (c *Compat) RunUntilComplete(f Future) (any, error) {
	return Await(f)
}

// GetDebug reports whether the loop is running with debug-level logging.
func (c *Compat) GetDebug() bool {
	return getGlobalLogger().IsEnabled(LevelDebug)
}

// IsClosed reports whether the loop has stopped.
func (c *Compat) IsClosed() bool {
	return c.loop.state.Load() == StateTerminated
}
