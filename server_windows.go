//go:build windows

package netius

import (
	"net"
)

// NewServer on Windows drives accept from a background goroutine rather
// than registering the listener's fd with the IOCP poller directly:
// overlapped AcceptEx plumbing buys nothing here since ln.Accept() already
// parks its goroutine on the runtime's own IOCP handle. Each accepted
// connection is handed to the loop thread-safely via Submit, matching the
// teacher's fastWakeupCh/Submit pattern for external-thread handoff.
func NewServer(loop *Loop, ln net.Listener, protocolFactory func() Protocol) (*Server, error) {
	s := &Server{loop: loop, ln: ln, fd: -1, protocolFactory: protocolFactory}

	stop := make(chan struct{})
	s.stopAccept = func() {
		close(stop)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-stop:
					return
				default:
				}
				if ne, ok := err.(net.Error); ok && ne.Temporary() { //nolint:staticcheck
					continue
				}
				return
			}

			select {
			case <-stop:
				_ = conn.Close()
				return
			default:
			}

			_ = loop.Submit(Job{Runnable: func() {
				s.newAcceptedConnection(conn)
			}})
		}
	}()

	return s, nil
}
