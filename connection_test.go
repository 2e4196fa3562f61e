package netius

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoProtocol mirrors every byte it receives back to the transport and
// records lifecycle events, used by both the Connection-level and
// Server-level tests below.
type echoProtocol struct {
	mu           sync.Mutex
	made         bool
	lost         error
	paused       int32
	resumed      int32
	received     []byte
	connectedCh  chan struct{}
	disconnectCh chan struct{}
}

func newEchoProtocol() *echoProtocol {
	return &echoProtocol{
		connectedCh:  make(chan struct{}),
		disconnectCh: make(chan struct{}),
	}
}

func (p *echoProtocol) ConnectionMade(t *Transport) {
	p.mu.Lock()
	p.made = true
	p.mu.Unlock()
	close(p.connectedCh)
	_ = t
}

func (p *echoProtocol) DataReceived(data []byte) {
	p.mu.Lock()
	p.received = append(p.received, data...)
	p.mu.Unlock()
}

func (p *echoProtocol) EOFReceived() bool { return false }

func (p *echoProtocol) PauseWriting() { atomic.AddInt32(&p.paused, 1) }

func (p *echoProtocol) ResumeWriting() { atomic.AddInt32(&p.resumed, 1) }

func (p *echoProtocol) ConnectionLost(err error) {
	p.mu.Lock()
	p.lost = err
	p.mu.Unlock()
	close(p.disconnectCh)
}

func (p *echoProtocol) receivedLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

func pipePair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-accepted
	require.NotNil(t, server, "accept failed")
	return client, server
}

func TestConnection_ReadEmitsData(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	client, server := pipePair(t)
	defer client.Close()

	fd, err := connFD(server)
	require.NoError(t, err)
	conn := NewConnection(loop, server, fd)
	defer conn.Close()

	received := make(chan []byte, 1)
	conn.On(EvData, func(args ...any) {
		data, _ := args[1].([]byte)
		received <- data
	})

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EvData")
	}
}

func TestConnection_CloseIsIdempotentAndEmitsOnce(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	client, server := pipePair(t)
	defer client.Close()

	fd, err := connFD(server)
	require.NoError(t, err)
	conn := NewConnection(loop, server, fd)

	var closedCount int32
	conn.On(EvClose, func(args ...any) {
		atomic.AddInt32(&closedCount, 1)
	})

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "second Close should be a no-op")

	assert.EqualValues(t, 1, atomic.LoadInt32(&closedCount), "expected EvClose exactly once")
	assert.True(t, conn.IsClosed())
}

func TestConnection_WatermarkHysteresis(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	fd, err := connFD(server)
	require.NoError(t, err)
	conn := NewConnection(loop, server, fd)
	defer conn.Close()

	require.NoError(t, conn.SetWatermarks(8, 16))

	exhausted := make(chan struct{}, 1)
	restored := make(chan struct{}, 1)
	conn.On(EvExhausted, func(args ...any) {
		select {
		case exhausted <- struct{}{}:
		default:
		}
	})
	conn.On(EvRestored, func(args ...any) {
		select {
		case restored <- struct{}{}:
		default:
		}
	})

	// Queuing 64 bytes puts pendingBytes past the 16-byte high watermark,
	// which emits EvExhausted as soon as send enqueues it.
	payload := make([]byte, 64)
	require.NoError(t, conn.send(payload, nil, nil))

	select {
	case <-exhausted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EvExhausted")
	}

	// Once flush writes the queued bytes, pendingBytes falls to/under the
	// low watermark, which emits EvRestored; the client side is drained so
	// the writes never back up.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	select {
	case <-restored:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EvRestored")
	}
}

func TestTransport_WriteAndProtocolLifecycle(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	client, server := pipePair(t)
	defer client.Close()

	fd, err := connFD(server)
	require.NoError(t, err)
	conn := NewConnection(loop, server, fd)
	proto := newEchoProtocol()
	transport := NewTransport(conn, proto)

	select {
	case <-proto.connectedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ConnectionMade")
	}

	_, err = transport.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	_ = client.Close()

	select {
	case <-proto.disconnectCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ConnectionLost")
	}
}

func TestServer_AcceptsAndEchoes(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var proto *echoOnReceiveProtocol
	var mu sync.Mutex
	srv, err := NewServer(loop, ln, func() Protocol {
		mu.Lock()
		proto = &echoOnReceiveProtocol{inner: newEchoProtocol()}
		p := proto
		mu.Unlock()
		return p
	})
	require.NoError(t, err)
	defer srv.Close()

	client, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("ECHO"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ECHO", string(buf[:n]))

	mu.Lock()
	accepted := proto.transport
	mu.Unlock()
	assert.Same(t, srv, accepted.conn.Owner())
}

// echoOnReceiveProtocol writes back whatever it receives, wrapping an
// echoProtocol so TestServer_AcceptsAndEchoes can also assert lifecycle
// events fired via the embedded instance.
type echoOnReceiveProtocol struct {
	inner     *echoProtocol
	transport *Transport
}

func (p *echoOnReceiveProtocol) ConnectionMade(t *Transport) {
	p.transport = t
	p.inner.ConnectionMade(t)
}

func (p *echoOnReceiveProtocol) DataReceived(data []byte) {
	p.inner.DataReceived(data)
	_, _ = p.transport.Write(data)
}

func (p *echoOnReceiveProtocol) EOFReceived() bool { return p.inner.EOFReceived() }

func (p *echoOnReceiveProtocol) PauseWriting() { p.inner.PauseWriting() }

func (p *echoOnReceiveProtocol) ResumeWriting() { p.inner.ResumeWriting() }

func (p *echoOnReceiveProtocol) ConnectionLost(err error) { p.inner.ConnectionLost(err) }

var _ Protocol = (*echoOnReceiveProtocol)(nil)

// queueItem directly appends a sendItem to conn's queue, bypassing send's
// immediate-flush-when-empty path, so Close/Abort can be tested against a
// genuinely non-empty queue without depending on the kernel socket buffer
// actually filling up.
func queueItem(conn *Connection, data []byte, callback func(error)) {
	conn.sendMu.Lock()
	conn.sendQueue = append(conn.sendQueue, sendItem{data: data, callback: callback})
	conn.pendingBytes.Add(int64(len(data)))
	conn.sendMu.Unlock()
}

func TestConnection_CloseIsGracefulWhenQueueNonEmpty(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	fd, err := connFD(server)
	require.NoError(t, err)
	conn := NewConnection(loop, server, fd)

	flushed := make(chan error, 1)
	queueItem(conn, []byte("queued"), func(err error) { flushed <- err })

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsClosed(), "Close must defer finalization while the queue is non-empty")
	assert.True(t, conn.closing.Load())

	conn.flush()

	select {
	case err := <-flushed:
		assert.NoError(t, err, "graceful close must let queued writes succeed, not discard them")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued write to flush")
	}

	require.Eventually(t, conn.IsClosed, 2*time.Second, time.Millisecond)
}

func TestConnection_AbortDiscardsQueuedWritesImmediately(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	fd, err := connFD(server)
	require.NoError(t, err)
	conn := NewConnection(loop, server, fd)

	var gotErr error
	done := make(chan struct{})
	queueItem(conn, []byte("queued"), func(err error) {
		gotErr = err
		close(done)
	})

	require.NoError(t, conn.Abort())
	assert.True(t, conn.IsClosed(), "Abort must close immediately, not defer to flush")

	select {
	case <-done:
		assert.ErrorIs(t, gotErr, ErrCancelled, "Abort must reject queued writes rather than send them")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued write callback")
	}
}

func TestLoop_PerformanceRecordsConnectionLifetime(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	client, server := pipePair(t)
	defer client.Close()

	fd, err := connFD(server)
	require.NoError(t, err)
	conn := NewConnection(loop, server, fd)

	require.NoError(t, conn.Close())

	perf := loop.Performance()
	require.NotNil(t, perf)

	entries := perf.GetEntriesByName(connPerfMark(fd, "lifetime"), "measure")
	require.Len(t, entries, 1)
	assert.GreaterOrEqual(t, entries[0].Duration, 0.0)
}
