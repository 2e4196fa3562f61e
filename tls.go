package netius

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/nabbar/golib/certificates"
	tlsvrs "github.com/nabbar/golib/certificates/tlsversion"
)

// tlsState wraps the crypto/tls.Conn a Connection upgrades to once a TLS
// handshake completes, keeping the certificates.TLSConfig that produced it
// for GetExtraInfo("sslcontext") and renegotiation.
type tlsState struct {
	cfg     certificates.TLSConfig
	conn    *tls.Conn
	handshk bool
}

// TLSServerConfig builds a certificates.TLSConfig for a server-side
// Connection from a PEM key/certificate pair and optional client CA file,
// matching the configuration surface exposed throughout the certificates
// package (AddCertificatePairFile, AddRootCAFile, SetVersionMin/Max).
func TLSServerConfig(keyFile, certFile, clientCAFile string, minVersion tlsvrs.Version) (certificates.TLSConfig, error) {
	cfg := certificates.New()

	if err := cfg.AddCertificatePairFile(keyFile, certFile); err != nil {
		return nil, WrapError("netius: load TLS certificate pair", err)
	}

	if clientCAFile != "" {
		if err := cfg.AddRootCAFile(clientCAFile); err != nil {
			return nil, WrapError("netius: load TLS client CA", err)
		}
	}

	if minVersion != tlsvrs.VersionUnknown {
		cfg.SetVersionMin(minVersion)
	}

	return cfg, nil
}

// UpgradeServer wraps conn in a server-side TLS handshake using cfg,
// returning the *tls.Conn once the handshake completes; the fd to register
// with the Loop's poller remains conn's own. Matches transport.py's _upgrade pattern
// of swapping the raw socket for a wrapped one after negotiation.
func UpgradeServer(conn net.Conn, cfg certificates.TLSConfig, serverName string) (*tls.Conn, error) {
	tlsCfg := cfg.TLS(serverName)
	tlsConn := tls.Server(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, WrapError("netius: TLS handshake failed", err)
	}
	return tlsConn, nil
}

// UpgradeClient wraps conn in a client-side TLS handshake using cfg.
func UpgradeClient(conn net.Conn, cfg certificates.TLSConfig, serverName string) (*tls.Conn, error) {
	tlsCfg := cfg.TLS(serverName)
	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, WrapError("netius: TLS handshake failed", err)
	}
	return tlsConn, nil
}

// Upgrade promotes an already-open, plaintext Connection to TLS in place
// (STARTTLS-style), matching protocol.py's upgrade dispatch: the
// handshake runs on a background goroutine (it blocks on the network),
// and the fd is swapped back onto the poller only once it completes. The
// returned Future resolves with the Connection itself, or the handshake
// error. Emits EvUpgrade on success.
func (c *Connection) Upgrade(cfg certificates.TLSConfig, serverName string, isServer bool) Future {
	f := NewFuture(c.loop)

	if err := c.loop.UnregisterFD(c.fd); err != nil {
		f.SetException(err, false)
		return f
	}

	perf := c.loop.Performance()
	startMark := connPerfMark(c.fd, "tls-upgrade-start")
	if perf != nil {
		perf.Mark(startMark)
	}

	c.loop.promisifyWg.Add(1)
	go func() {
		defer c.loop.promisifyWg.Done()

		var tlsConn *tls.Conn
		var err error
		if isServer {
			tlsConn, err = UpgradeServer(c.conn, cfg, serverName)
		} else {
			tlsConn, err = UpgradeClient(c.conn, cfg, serverName)
		}

		if perf != nil {
			endMark := connPerfMark(c.fd, "tls-upgrade-end")
			perf.Mark(endMark)
			_ = perf.Measure(connPerfMark(c.fd, "tls-upgrade"), startMark, endMark)
		}

		_ = c.loop.Delay(DelayOptions{
			Callback: func() {
				if err != nil {
					f.SetException(err, false)
					return
				}

				c.conn = tlsConn
				c.tls = &tlsState{cfg: cfg, conn: tlsConn, handshk: true}

				readBuf := make([]byte, 64*1024)
				if rerr := c.loop.RegisterFD(c.fd, EventRead, func(events IOEvents) {
					if events&EventRead != 0 {
						c.onReadable(readBuf)
					}
					if events&EventWrite != 0 {
						c.flush()
					}
				}); rerr != nil {
					f.SetException(rerr, false)
					return
				}

				c.Emit(EvUpgrade, c)
				f.SetResult(c, false)
			},
			Immediately: true,
			Safe:        true,
		})
	}()

	return f
}
