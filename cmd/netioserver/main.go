// Command netioserver is a minimal TCP echo server built on the event
// loop, Connection/Transport/Protocol substrate and Compat adapter,
// driven entirely by the HOST/PORT/SSL/KEY_FILE/CER_FILE/LEVEL/POLL
// environment variables.
//
// Run with: go run ./cmd/netioserver
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	netius "github.com/sitedata/netius"
)

type echoProtocol struct {
	netius.BaseProtocol
}

func (p *echoProtocol) DataReceived(data []byte) {
	echoed := make([]byte, len(data))
	copy(echoed, data)
	_ = p.Send(echoed)
}

func (p *echoProtocol) ConnectionLost(err error) {
	netius.SInfo("netioserver", "connection closed")
}

func main() {
	cfg, err := netius.LoadServerConfig()
	if err != nil {
		panic(err)
	}

	netius.SetStructuredLogger(netius.NewLogifaceLogger(cfg.Level, os.Stderr))

	if cfg.SSL {
		// Compat.CreateServer accepts plaintext connections only and does
		// not call Connection.Upgrade on them; run plaintext and warn
		// rather than silently ignoring the requested cert pair.
		netius.SWarn("netioserver", "SSL requested but CreateServer only accepts plaintext; ignoring KEY_FILE/CER_FILE")
	}

	loop, err := netius.New()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	compat := netius.NewCompat(loop)

	srv, err := compat.CreateServer(cfg.Address(), func() netius.Protocol {
		return &echoProtocol{}
	})
	if err != nil {
		panic(err)
	}
	defer srv.Close()

	netius.SInfo("netioserver", "listening", map[string]interface{}{
		"address": srv.Addr().String(),
		"ssl":     cfg.SSL,
		"poll":    cfg.Poll,
	})

	if err := loop.Run(ctx); err != nil {
		netius.SError("netioserver", "loop exited", err)
	}
}
