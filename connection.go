package netius

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"weak"

	"github.com/nabbar/golib/certificates"
)

// connFD extracts the raw file descriptor backing conn, for registration
// with a Loop's poller. Returns ErrInvalidArgument if conn exposes no
// SyscallConn (e.g. an in-memory net.Pipe conn).
func connFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, ErrInvalidArgument
	}
	return rawFD(sc)
}

// rawFD extracts the raw file descriptor behind any syscall.Conn,
// including a net.Listener (*net.TCPListener, *net.UnixListener), shared
// by connFD and Server's listener registration.
func rawFD(sc syscall.Conn) (int, error) {
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}

	var fd int
	ctrlErr := raw.Control(func(f uintptr) {
		fd = int(f)
	})
	if ctrlErr != nil {
		return -1, ctrlErr
	}

	return fd, nil
}

// ConnState is the lifecycle state of a Connection.
type ConnState int32

const (
	StatePending ConnState = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnEvent identifies the kinds of events a Connection emits through its
// embedded Observable: a fixed, exhaustively-checkable enum rather than a
// dynamic event-name string.
type ConnEvent int

const (
	EvConnect ConnEvent = iota
	EvData
	EvClose
	EvExhausted
	EvRestored
	EvUpgrade
)

// defaultLowWatermark and defaultHighWatermark are the send-buffer
// hysteresis thresholds applied when a Connection is created without
// explicit watermarks, matching transport.py's set_write_buffer_limits
// default of high=65536 (low defaults to high/4 == 16384).
const (
	defaultHighWatermark int64 = 64 * 1024
	defaultLowWatermark  int64 = 16 * 1024
)

// sendItem is one queued write: either a connection-oriented Write (addr
// nil) or a connectionless SendTo (addr set). callback, if non-nil, is
// invoked once this specific item has been handed to the kernel or has
// failed.
type sendItem struct {
	data     []byte
	offset   int
	addr     net.Addr
	callback func(error)
}

// Connection wraps an already-established net.Conn (accepted or dialed)
// registered with a Loop's poller, tracking a byte-granular pending-write
// queue with watermark hysteresis so a slow reader never grows the
// process's memory unboundedly, and optionally terminating in TLS via
// tls.go's tlsState.
type Connection struct {
	*Observable[ConnEvent]

	loop *Loop
	conn net.Conn
	fd   int

	state atomic.Int32

	sendMu       sync.Mutex
	sendQueue    []sendItem
	pendingBytes atomic.Int64
	minPending   int64
	maxPending   int64
	exhausted    atomic.Bool

	// closing is set by a graceful Close() that finds the send queue
	// non-empty; flush() checks it once the queue drains and finalizes
	// the close at that point instead of rearming for EventWrite.
	closing atomic.Bool

	tls *tlsState

	// owner is a weak back-reference to the Server that accepted this
	// connection (nil for a dial-created Connection, which has no owning
	// Server). Weak so a Connection never keeps its owning Server alive
	// past the Server's own lifetime.
	owner weak.Pointer[Server]

	closeOnce sync.Once
}

// setOwner records a weak back-reference to the Server that accepted this
// Connection. Called by Server.newAcceptedConnection; left unset for
// dial-created connections.
func (c *Connection) setOwner(s *Server) {
	c.owner = weak.Make(s)
}

// Owner returns the Server that accepted this Connection, or nil if there
// is none (a dial-created Connection) or it has already been garbage
// collected.
func (c *Connection) Owner() *Server {
	return c.owner.Value()
}

// NewConnection wraps conn (already connected) as a Connection owned by
// loop, registering fd with the poller for read/write readiness. fd must
// be the same descriptor backing conn (obtained via conn's SyscallConn).
func NewConnection(loop *Loop, conn net.Conn, fd int) *Connection {
	c := &Connection{
		Observable: NewObservable[ConnEvent](),
		loop:       loop,
		conn:       conn,
		fd:         fd,
		minPending: defaultLowWatermark,
		maxPending: defaultHighWatermark,
	}
	c.state.Store(int32(StateOpen))

	if p := loop.Performance(); p != nil {
		p.Mark(connPerfMark(fd, "open"))
	}

	readBuf := make([]byte, 64*1024)
	_ = loop.RegisterFD(fd, EventRead, func(events IOEvents) {
		if events&EventRead != 0 {
			c.onReadable(readBuf)
		}
		if events&EventWrite != 0 {
			c.flush()
		}
	})

	return c
}

// NewTLSConnection wraps conn (a *tls.Conn returned by UpgradeServer or
// UpgradeClient, already handshaked) as a Connection, recording cfg so
// GetExtraInfo("sslcontext") can return it. fd must be the descriptor of
// the underlying raw socket (tls.Conn itself exposes no SyscallConn),
// obtained via connFD on the pre-upgrade net.Conn.
func NewTLSConnection(loop *Loop, conn net.Conn, fd int, cfg certificates.TLSConfig) *Connection {
	c := NewConnection(loop, conn, fd)
	c.tls = &tlsState{cfg: cfg, handshk: true}
	return c
}

// TLSConfig returns the certificates.TLSConfig that produced this
// connection's handshake, or nil for a plaintext Connection.
func (c *Connection) TLSConfig() certificates.TLSConfig {
	if c.tls == nil {
		return nil
	}
	return c.tls.cfg
}

// State returns the current ConnState.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	return c.State() == StateClosed
}

// IsExhausted reports whether PendingBytes has reached maxPending (the
// high watermark): the owning Transport should pause writing.
func (c *Connection) IsExhausted() bool {
	return c.pendingBytes.Load() >= c.maxPending
}

// IsRestored reports whether PendingBytes has drained back to at or below
// minPending (the low watermark): the owning Transport should resume
// writing. Hysteresis between the two watermarks prevents rapid
// pause/resume flapping around a single threshold.
func (c *Connection) IsRestored() bool {
	return c.pendingBytes.Load() <= c.minPending
}

// PendingBytes returns the number of bytes currently queued but not yet
// written to the underlying socket.
func (c *Connection) PendingBytes() int64 {
	return c.pendingBytes.Load()
}

// Watermarks returns the current (low, high) pending-byte thresholds.
func (c *Connection) Watermarks() (low, high int64) {
	return c.minPending, c.maxPending
}

// SetWatermarks validates and installs new low/high pending-byte
// thresholds.
func (c *Connection) SetWatermarks(low, high int64) error {
	if !(high >= low && low >= 0) {
		return ErrInvalidArgument
	}
	c.minPending = low
	c.maxPending = high
	return nil
}

// send queues data (optionally addressed, for datagram sockets) and
// attempts an immediate, non-blocking write; any unwritten remainder
// stays queued for the next writable-readiness callback. send is the
// single write path shared by Transport.Write and Transport.SendTo.
func (c *Connection) send(data []byte, addr net.Addr, callback func(error)) error {
	if c.IsClosed() {
		if callback != nil {
			callback(ErrLoopStopped)
		}
		return ErrPeerClosed
	}

	c.sendMu.Lock()
	wasEmpty := len(c.sendQueue) == 0
	c.sendQueue = append(c.sendQueue, sendItem{data: data, addr: addr, callback: callback})
	c.pendingBytes.Add(int64(len(data)))
	c.sendMu.Unlock()

	c.checkWatermark()

	if wasEmpty {
		c.flush()
	} else if err := c.loop.ModifyFD(c.fd, EventRead|EventWrite); err != nil {
		return err
	}

	return nil
}

// flush writes as much of the queue as the socket currently accepts
// without blocking, classifying any write error via ClassifyIOError. If
// a graceful Close() is pending (c.closing), draining the queue to empty
// finalizes the close instead of rearming for EventWrite.
func (c *Connection) flush() {
	for {
		c.sendMu.Lock()
		if len(c.sendQueue) == 0 {
			c.sendMu.Unlock()
			return
		}
		item := &c.sendQueue[0]
		c.sendMu.Unlock()

		var n int
		var err error
		if pc, ok := c.conn.(net.PacketConn); ok && item.addr != nil {
			// Addressed datagram sends have no raw-syscall path here (no
			// portable sockaddr conversion from net.Addr); they keep using
			// net.PacketConn.WriteTo.
			n, err = pc.WriteTo(item.data[item.offset:], item.addr)
		} else {
			n, err = socketWrite(c.conn, c.fd, item.data[item.offset:])
		}

		if n > 0 {
			item.offset += n
			c.pendingBytes.Add(-int64(n))
			c.checkWatermark()
		}

		if err != nil {
			classified := ClassifyIOError(err)
			if classified == nil || errors.Is(classified, ErrTransientIO) {
				_ = c.loop.ModifyFD(c.fd, EventRead|EventWrite)
				return
			}
			_ = c.closeNow(classified)
			return
		}

		if item.offset >= len(item.data) {
			c.sendMu.Lock()
			c.sendQueue = c.sendQueue[1:]
			done := len(c.sendQueue) == 0
			c.sendMu.Unlock()

			if item.callback != nil {
				item.callback(nil)
			}

			if done {
				if c.closing.Load() {
					_ = c.closeNow(nil)
					return
				}
				_ = c.loop.ModifyFD(c.fd, EventRead)
				return
			}
		}
	}
}

// failPending rejects every still-queued send's callback with err, used
// when the connection fails mid-write.
func (c *Connection) failPending(err error) {
	c.sendMu.Lock()
	queue := c.sendQueue
	c.sendQueue = nil
	c.sendMu.Unlock()

	for _, item := range queue {
		if item.callback != nil {
			item.callback(err)
		}
	}
}

// checkWatermark emits EvExhausted/EvRestored on the hysteresis
// transitions, the Go analogue of transport.py's _handle_flow.
func (c *Connection) checkWatermark() {
	if c.exhausted.Load() {
		if c.IsRestored() {
			c.exhausted.Store(false)
			c.Emit(EvRestored, c)
		}
		return
	}
	if c.IsExhausted() {
		c.exhausted.Store(true)
		c.Emit(EvExhausted, c)
	}
}

// onReadable is registered with the poller for EventRead; it reads
// available bytes and emits EvData, or EvClose on EOF/error.
func (c *Connection) onReadable(buf []byte) {
	n, err := socketRead(c.conn, c.fd, buf)
	if n > 0 {
		data := make([]byte, n)
		copy(data, buf[:n])
		c.Emit(EvData, c, data)
	}
	if err != nil {
		classified := ClassifyIOError(err)
		if classified != nil && errors.Is(classified, ErrTransientIO) {
			return
		}
		_ = c.Close()
		return
	}
	// A raw read returning (0, nil) on a stream socket is EOF: the peer
	// half-closed its side, matching net.Conn.Read's io.EOF convention
	// that Close relied on before flush/onReadable moved to socketRead.
	if n == 0 {
		_ = c.Close()
	}
}

// closeNow idempotently releases the fd and closes the underlying socket,
// emitting EvClose exactly once. err, if non-nil, fails any writes still
// queued at that point (there are none on the graceful drain-to-empty
// path, since flush only calls this once the queue is empty).
func (c *Connection) closeNow(err error) error {
	var cerr error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.failPending(err)
		_ = c.loop.UnregisterFD(c.fd)
		cerr = c.conn.Close()
		if p := c.loop.Performance(); p != nil {
			openMark, closeMark := connPerfMark(c.fd, "open"), connPerfMark(c.fd, "close")
			p.Mark(closeMark)
			_ = p.Measure(connPerfMark(c.fd, "lifetime"), openMark, closeMark)
		}
		c.Emit(EvClose, c)
	})
	return cerr
}

// connPerfMark names a Performance mark/measure scoped to one connection's
// fd, so concurrent connections' timelines don't collide on mark name.
func connPerfMark(fd int, event string) string {
	return "connection:" + event + ":" + strconv.Itoa(fd)
}

// Close requests an orderly close: if the send queue is already empty,
// the connection closes immediately; otherwise flush() finishes draining
// the queue and finalizes the close once it empties, matching
// transport.py's close(flush=True). Idempotent either way.
func (c *Connection) Close() error {
	c.sendMu.Lock()
	empty := len(c.sendQueue) == 0
	c.sendMu.Unlock()

	if empty {
		return c.closeNow(nil)
	}

	c.closing.Store(true)
	return nil
}

// Abort closes the connection immediately, discarding any writes still
// queued rather than waiting for them to flush, matching transport.py's
// close(flush=False).
func (c *Connection) Abort() error {
	return c.closeNow(ErrCancelled)
}
