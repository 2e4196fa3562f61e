//go:build linux || darwin

package netius

import (
	"net"

	"golang.org/x/sys/unix"
)

// socketRead issues a raw, non-blocking read against fd directly,
// bypassing net.Conn.Read's behavior of parking the calling goroutine
// until the socket is readable. Since the runtime already marks every fd
// it owns O_NONBLOCK, this returns immediately with EAGAIN/EWOULDBLOCK
// instead of blocking, the idiom a single-goroutine event loop requires so
// one stalled peer can never stall every other connection's I/O.
func socketRead(_ net.Conn, fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// socketWrite issues a raw, non-blocking write against fd directly, for
// the same reason socketRead bypasses net.Conn.Read: net.Conn.Write fully
// writes or blocks the calling goroutine on a stream socket, which would
// stall the entire loop on a slow reader.
func socketWrite(_ net.Conn, fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
