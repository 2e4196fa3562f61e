package netius

import "net"

// Transport decorates a Connection with the asyncio/netius-style transport
// API: buffered, flow-controlled writes plus protocol attachment, grounded
// on transport.py's Transport/TransportStream/TransportDatagram split.
type Transport struct {
	conn     *Connection
	protocol Protocol
	extra    map[string]any
	closing  bool
}

// NewTransport wraps conn, attaching protocol as its data/event sink and
// calling protocol.ConnectionMade immediately, matching transport.py's
// constructor-time _set_protocol.
func NewTransport(conn *Connection, protocol Protocol) *Transport {
	t := &Transport{
		conn:     conn,
		protocol: protocol,
		extra:    make(map[string]any),
	}

	t.extra["peername"] = conn.conn.RemoteAddr()
	t.extra["sockname"] = conn.conn.LocalAddr()
	if tlsCfg := conn.TLSConfig(); tlsCfg != nil {
		t.extra["sslcontext"] = tlsCfg
	}

	conn.On(EvData, func(args ...any) {
		if len(args) < 2 {
			return
		}
		data, _ := args[1].([]byte)
		t.protocol.DataReceived(data)
	})
	conn.On(EvClose, func(args ...any) {
		t.closing = true
		t.protocol.ConnectionLost(nil)
	})
	conn.On(EvExhausted, func(args ...any) {
		t.protocol.PauseWriting()
	})
	conn.On(EvRestored, func(args ...any) {
		t.protocol.ResumeWriting()
	})

	if protocol != nil {
		protocol.ConnectionMade(t)
	}

	return t
}

// Write queues data for the connection-oriented peer. Matches
// transport.py's Transport.write: always non-blocking from the caller's
// perspective, queuing onto the Connection's send buffer.
func (t *Transport) Write(data []byte) (int, error) {
	if t.conn.IsClosed() {
		return 0, ErrPeerClosed
	}
	if err := t.conn.send(data, nil, nil); err != nil {
		return 0, err
	}
	return len(data), nil
}

// SendTo queues data addressed to addr, for connectionless (datagram)
// transports. Matches transport.py's TransportDatagram.sendto.
func (t *Transport) SendTo(data []byte, addr net.Addr) (int, error) {
	if t.conn.IsClosed() {
		return 0, ErrPeerClosed
	}
	if err := t.conn.send(data, addr, nil); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Close requests an orderly close: if the send queue is already empty the
// connection closes immediately, otherwise it closes once flush drains the
// remaining queued writes. Matches transport.py's Transport.close.
func (t *Transport) Close() error {
	t.closing = true
	return t.conn.Close()
}

// Abort closes the connection immediately, discarding any queued writes
// rather than flushing them. Matches transport.py's Transport.close(flush=False)
// path (here named Abort for parity with the AbortController/AbortSignal
// naming elsewhere).
func (t *Transport) Abort() error {
	t.closing = true
	return t.conn.Abort()
}

// IsClosing reports whether Close or Abort has been called, or the peer
// has already disconnected.
func (t *Transport) IsClosing() bool {
	return t.closing || t.conn.IsClosed()
}

// GetExtraInfo returns transport-specific metadata (peername, sockname,
// socket, sslcontext, ...), matching transport.py's get_extra_info.
func (t *Transport) GetExtraInfo(name string) (any, bool) {
	v, ok := t.extra[name]
	return v, ok
}

// SetExtraInfo installs or overwrites a GetExtraInfo entry (e.g.
// "sslcontext" after a TLS upgrade).
func (t *Transport) SetExtraInfo(name string, value any) {
	t.extra[name] = value
}

// GetWriteBufferSize returns the number of bytes currently queued but
// unwritten, matching transport.py's get_write_buffer_size.
func (t *Transport) GetWriteBufferSize() int64 {
	return t.conn.PendingBytes()
}

// GetWriteBufferLimits returns the current (high, low) watermark pair,
// matching transport.py's get_write_buffer_limits ordering.
func (t *Transport) GetWriteBufferLimits() (high, low int64) {
	low, high = t.conn.Watermarks()
	return high, low
}

// SetWriteBufferLimits installs new watermarks, applying transport.py's
// set_write_buffer_limits defaulting: a high <= 0 becomes 4*low when low
// is given (>= 0) and the default high watermark otherwise, and a
// negative low defaults to high/4.
func (t *Transport) SetWriteBufferLimits(high, low int64) error {
	if high <= 0 {
		if low >= 0 {
			high = 4 * low
		} else {
			high = defaultHighWatermark
		}
	}
	if low < 0 {
		low = high / 4
	}
	return t.conn.SetWatermarks(low, high)
}

// Protocol returns the transport's current protocol.
func (t *Transport) Protocol() Protocol {
	return t.protocol
}

// SetProtocol swaps the transport's protocol without touching the
// underlying connection, matching transport.py's set_protocol (used
// during protocol upgrades, e.g. plaintext to TLS).
func (t *Transport) SetProtocol(p Protocol) {
	t.protocol = p
}
