package netius

import (
	"net"
	"time"
)

// Protocol is the callback interface a connection-oriented Transport
// drives, matching protocol.py's Protocol/StreamProtocol contract.
type Protocol interface {
	ConnectionMade(t *Transport)
	DataReceived(data []byte)
	EOFReceived() bool
	PauseWriting()
	ResumeWriting()
	ConnectionLost(err error)
}

// DatagramProtocol is the callback interface a connectionless Transport
// drives, matching protocol.py's DatagramProtocol.
type DatagramProtocol interface {
	ConnectionMade(t *Transport)
	DatagramReceived(data []byte, addr net.Addr)
	ErrorReceived(err error)
	ConnectionLost(err error)
}

// BaseProtocol is an embeddable partial implementation of Protocol,
// providing the delayed-call and queued-send-while-paused machinery every
// concrete protocol needs, matching protocol.py's Protocol base class.
//
// The queue is named delayedSends throughout, rather than splitting
// construction, queuing, and flushing across two similarly-named fields.
type BaseProtocol struct {
	loop         *Loop
	transport    *Transport
	paused       bool
	delayedSends [][]byte
}

// ConnectionMade records transport for later use by Delay/Write helpers.
// Embedding types that override ConnectionMade must call this explicitly.
func (p *BaseProtocol) ConnectionMade(t *Transport) {
	p.transport = t
	p.loop = t.conn.loop
}

// DataReceived is a no-op default; concrete protocols override it.
func (p *BaseProtocol) DataReceived(data []byte) {}

// EOFReceived's default keeps the transport open per protocol.py's
// default (return value controls whether the transport half-closes).
func (p *BaseProtocol) EOFReceived() bool { return false }

// PauseWriting marks the protocol paused; concrete protocols overriding
// this should still call the base to maintain delayedSends semantics.
func (p *BaseProtocol) PauseWriting() {
	p.paused = true
}

// ResumeWriting flushes anything queued in delayedSends while paused,
// matching protocol.py's resume_writing/_flush_send.
func (p *BaseProtocol) ResumeWriting() {
	p.paused = false
	p.flushSend()
}

// ConnectionLost is a no-op default; concrete protocols override it.
func (p *BaseProtocol) ConnectionLost(err error) {}

// Delay schedules fn on the owning Loop after timeout, the protocol-level
// convenience wrapping Loop.Delay used throughout protocol.py's
// subclasses for retry/backoff scheduling.
func (p *BaseProtocol) Delay(fn func(), timeout time.Duration) error {
	if p.loop == nil {
		return ErrLoopStopped
	}
	return p.loop.Delay(DelayOptions{Callback: fn, Timeout: timeout})
}

// delaySend queues data in delayedSends instead of writing immediately,
// used when the transport is currently paused (exhausted send buffer).
func (p *BaseProtocol) delaySend(data []byte) {
	p.delayedSends = append(p.delayedSends, data)
}

// flushSend drains delayedSends through the transport, stopping early if
// writing pauses again mid-flush.
func (p *BaseProtocol) flushSend() {
	for len(p.delayedSends) > 0 && !p.paused {
		data := p.delayedSends[0]
		p.delayedSends = p.delayedSends[1:]
		if p.transport != nil {
			if _, err := p.transport.Write(data); err != nil {
				LogError(getGlobalLogger(), "protocol", "flush send failed", err, nil)
				return
			}
		}
	}
}

// Send writes data now if the transport isn't paused, otherwise queues it
// in delayedSends for the next ResumeWriting.
func (p *BaseProtocol) Send(data []byte) error {
	if p.paused {
		p.delaySend(data)
		return nil
	}
	if p.transport == nil {
		return ErrLoopStopped
	}
	_, err := p.transport.Write(data)
	return err
}

// IsPaused reports whether the protocol is currently in a paused
// (exhausted send buffer) state.
func (p *BaseProtocol) IsPaused() bool {
	return p.paused
}

// Transport returns the transport most recently passed to ConnectionMade.
func (p *BaseProtocol) Transport() *Transport {
	return p.transport
}

// Debug logs a diagnostic message tagged with the protocol's own category,
// the Go analogue of protocol.py's self.debug(...) bridge to the standard
// logging module.
func (p *BaseProtocol) Debug(message string, fields map[string]interface{}) {
	LogDebug(getGlobalLogger(), "protocol", message, fields)
}

// Info logs an informational message. Matches protocol.py's self.info(...).
func (p *BaseProtocol) Info(message string, fields map[string]interface{}) {
	LogInfo(getGlobalLogger(), "protocol", message, fields)
}

// Warning logs a warning message. Matches protocol.py's self.warning(...).
func (p *BaseProtocol) Warning(message string, fields map[string]interface{}) {
	LogWarn(getGlobalLogger(), "protocol", message, fields)
}

// Error logs an error, associating err. Matches protocol.py's self.error(...).
func (p *BaseProtocol) Error(message string, err error, fields map[string]interface{}) {
	LogError(getGlobalLogger(), "protocol", message, err, fields)
}

// Critical logs an error at the highest severity this package's Logger
// distinguishes: there's no separate LevelCritical tier, so Critical
// reuses LevelError while marking the entry's fields so a downstream sink
// can still tell it apart, matching protocol.py's self.critical(...).
func (p *BaseProtocol) Critical(message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["severity"] = "critical"
	LogError(getGlobalLogger(), "protocol", message, err, fields)
}
