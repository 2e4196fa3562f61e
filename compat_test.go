package netius

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompat_CallLaterRunsAfterDelay(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	c := NewCompat(loop)
	start := time.Now()
	ran := make(chan time.Time, 1)
	c.CallLater(50*time.Millisecond, func() { ran <- time.Now() })

	select {
	case at := <-ran:
		assert.GreaterOrEqual(t, at.Sub(start), 40*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CallLater callback")
	}
}

func TestCompat_CallSoonHandleCancel(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	c := NewCompat(loop)
	ran := make(chan struct{}, 1)
	h := c.CallSoon(func() { ran <- struct{}{} })
	h.Cancel()

	c.CallSoon(func() {}) // fence: ensures the queue has progressed past h's slot

	select {
	case <-ran:
		t.Fatal("cancelled callback should not have run")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCompat_CreateServerAndCreateConnectionRoundTrip(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	c := NewCompat(loop)

	serverProto := newEchoProtocol()
	srv, err := c.CreateServer("127.0.0.1:0", func() Protocol {
		return &echoOnReceiveProtocol{inner: serverProto}
	})
	require.NoError(t, err)
	defer srv.Close()

	clientProto := newEchoProtocol()
	result := c.CreateConnection(srv.Addr().String(), func() Protocol { return clientProto })

	v, err := Await(result)
	require.NoError(t, err)
	pair, ok := v.([2]any)
	require.True(t, ok, "expected [2]any result, got %T", v)
	transport, ok := pair[0].(*Transport)
	require.True(t, ok, "expected *Transport, got %T", pair[0])

	select {
	case <-clientProto.connectedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client ConnectionMade")
	}

	_, err = transport.Write([]byte("round-trip"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return clientProto.receivedLen() >= len("round-trip")
	}, 2*time.Second, time.Millisecond, "timed out waiting for echoed data")
}

func TestCompat_GetAddrInfoResolvesLoopback(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	c := NewCompat(loop)
	f := c.GetAddrInfo("localhost")

	v, err := Await(f)
	require.NoError(t, err)
	addrs, ok := v.([]net.IPAddr)
	require.True(t, ok, "expected []net.IPAddr, got %T", v)
	assert.NotEmpty(t, addrs)
}

func TestCompat_GetNameInfoNotImplemented(t *testing.T) {
	loop, _, stop := newRunningLoop(t)
	defer stop()

	c := NewCompat(loop)
	f := c.GetNameInfo(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1})

	_, err := Await(f)
	assert.ErrorIs(t, err, ErrNotImplemented)
}
