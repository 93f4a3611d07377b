package nsp

import "errors"

// User-visible condition errors surfaced through Hooks.SockStateChange,
// per spec §7's error taxonomy. These stand in for the errno-style
// conditions of the original protocol (ECONNREFUSED, EHOSTUNREACH) without
// depending on platform-specific syscall error values.
var (
	// ErrConnRefused surfaces on RJ: the peer refused the connect request.
	ErrConnRefused = errors.New("nsp: connection refused")
	// ErrHostUnreachable surfaces on NC via a returned own Connection-Initiate.
	ErrHostUnreachable = errors.New("nsp: host unreachable")
	// ErrConnReset surfaces on a peer-initiated disconnect of a running
	// connection (RUN -> DN/CN).
	ErrConnReset = errors.New("nsp: connection reset by peer")
)

// dropCause names why an inbound segment was dropped, for logging and
// metrics, per spec §7's taxonomy.
type dropCause uint8

const (
	causeMalformed dropCause = iota
	causeUnknownConnection
	causeAcceptQueueFull
	causeReceiveBufferExhausted
	causeOutOfSequence
	causeTerminalConnection
)

func (c dropCause) String() string {
	switch c {
	case causeMalformed:
		return "malformed"
	case causeUnknownConnection:
		return "unknown-connection"
	case causeAcceptQueueFull:
		return "accept-queue-full"
	case causeReceiveBufferExhausted:
		return "receive-buffer-exhausted"
	case causeOutOfSequence:
		return "out-of-sequence"
	case causeTerminalConnection:
		return "terminal-connection"
	default:
		return "unknown"
	}
}

// countDrop increments the metric matching cause and logs it at debug
// level. The counted drops in dispatch.go/fsm.go/receive.go route through
// it; silent drops such as NOP, reserved classes, returned non-CI frames
// and CIs for an unknown listener do not.
func (e *Engine) countDrop(cause dropCause) {
	switch cause {
	case causeMalformed:
		e.metrics.segmentsDroppedMalformed.Inc()
	case causeUnknownConnection:
		e.metrics.segmentsDroppedUnknown.Inc()
	case causeAcceptQueueFull:
		e.metrics.acceptQueueFull.Inc()
	case causeReceiveBufferExhausted:
		e.metrics.receiveBufferExhausted.Inc()
	case causeOutOfSequence:
		e.metrics.segmentsDroppedOutOfSeq.Inc()
	case causeTerminalConnection:
		e.metrics.segmentsDroppedTerminal.Inc()
	}
	if e.log != nil {
		e.log.WithField("cause", cause.String()).Debug("nsp: segment dropped")
	}
}
