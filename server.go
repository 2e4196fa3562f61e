package netius

import (
	"net"
	"sync"
)

// Server owns a listening socket registered with a Loop's poller, accepting
// new connections and handing each off as a Connection wrapped in a
// Transport bound to a freshly constructed Protocol: the counterpart to a
// dial-created Connection (see Compat.CreateConnection), grounded on
// transport.py's server-side accept loop.
//
// NewServer and the accept loop itself are platform-specific (see
// server_unix.go and server_windows.go): Unix registers the listener's raw
// fd directly with the poller, while Windows drives accept from a
// background goroutine and hands new connections to the loop thread-safely.
type Server struct {
	loop            *Loop
	ln              net.Listener
	fd              int
	protocolFactory func() Protocol

	// stopAccept, when non-nil, is invoked by Close before the listener is
	// closed, to stop a platform's background accept loop (unused on Unix,
	// where accept is driven entirely by poller readiness callbacks).
	stopAccept func()

	closeOnce sync.Once
}

// newAcceptedConnection promotes an accepted net.Conn into a Connection and
// hands it to a fresh Protocol via a new Transport. Shared by every
// platform's accept loop.
func (s *Server) newAcceptedConnection(conn net.Conn) {
	fd, err := connFD(conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	connection := NewConnection(s.loop, conn, fd)
	connection.setOwner(s)
	NewTransport(connection, s.protocolFactory())
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close stops monitoring the listener and closes it, idempotently.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopAccept != nil {
			s.stopAccept()
		}
		if s.fd >= 0 {
			_ = s.loop.UnregisterFD(s.fd)
		}
		err = s.ln.Close()
	})
	return err
}
