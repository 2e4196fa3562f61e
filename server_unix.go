//go:build linux || darwin

package netius

import (
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// NewServer registers ln's raw file descriptor with loop's poller for
// EventRead readiness; each accepted connection is wrapped as a Connection
// and handed to protocolFactory()'s Protocol via a new Transport.
// protocolFactory is called once per accepted connection, mirroring
// asyncio's per-connection protocol_factory().
func NewServer(loop *Loop, ln net.Listener, protocolFactory func() Protocol) (*Server, error) {
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return nil, ErrInvalidArgument
	}
	fd, err := rawFD(sc)
	if err != nil {
		return nil, err
	}

	s := &Server{loop: loop, ln: ln, fd: fd, protocolFactory: protocolFactory}

	if err := loop.RegisterFD(fd, EventRead, func(IOEvents) {
		s.accept()
	}); err != nil {
		return nil, err
	}

	return s, nil
}

// accept drains every connection currently queued on the listener's raw fd
// via non-blocking unix.Accept, so a single EventRead callback never blocks
// the loop thread: Go's net package always leaves its listener fds
// non-blocking, so an empty backlog returns EAGAIN immediately rather than
// parking. Level-triggered readiness means the callback fires again if the
// backlog refills before the next tick.
func (s *Server) accept() {
	for {
		nfd, _, err := unix.Accept(s.fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				return
			}
			return
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}

		file := os.NewFile(uintptr(nfd), "")
		conn, err := net.FileConn(file)
		_ = file.Close()
		if err != nil {
			continue
		}

		s.newAcceptedConnection(conn)
	}
}
