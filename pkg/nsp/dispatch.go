package nsp

import "time"

// RoutingControlBlock carries the sidecar fields the routing layer attaches
// to a delivered buffer, per spec §6.
type RoutingControlBlock struct {
	ReturnedToSender bool
	IntraEthernet    bool
	Device           string
	SrcNode          uint16
	DstNode          uint16
	RouteKey         uint32
}

// Receive is the entry point from routing (spec §4.6's TopDispatcher). It
// classifies buf, resolves the target connection or listener, and hands
// off through the connection's backlog for per-connection-serialized
// processing.
func (e *Engine) Receive(buf []byte, rt RoutingControlBlock) {
	class, flags, err := DecodeClass(buf)
	if err != nil {
		return // truncated below the flags byte: silent drop
	}
	switch class {
	case MsgUnknown, MsgNOP, MsgReserved:
		if class == MsgUnknown {
			e.countDrop(causeMalformed)
		}
		return
	}

	isControlClass := flags&flagsClassMask == flagClassControl
	isCI := class == MsgConnectInitiate

	if isControlClass && isCI {
		if rt.ReturnedToSender {
			e.handleReturnedCI(buf, rt)
			return
		}
		e.handleConnectInitiate(buf, rt)
		return
	}

	if rt.ReturnedToSender {
		// We only reflect CI; any other returned-to-sender frame is dropped.
		return
	}

	cb, body, err := DecodeCommonHeader(buf, class, flags)
	if err != nil {
		e.countDrop(causeMalformed)
		return
	}
	cb.IntraEthernet = rt.IntraEthernet
	cb.ReturnedToSender = rt.ReturnedToSender
	cb.RouteKey = rt.RouteKey

	conn, ok := e.table.Lookup(cb.DstPort)
	if !ok {
		if isControlClass {
			e.respondNoLink(cb, rt)
		}
		e.countDrop(causeUnknownConnection)
		return
	}

	e.dispatchToConnection(conn, &cb, body, class)
}

// handleConnectInitiate implements the CI (non-returned) branch of spec
// §4.6 step 2: decode via ListenerMatcher and either enqueue on the
// listener's accept queue or invoke ErrorResponder.
func (e *Engine) handleConnectInitiate(buf []byte, rt RoutingControlBlock) {
	if len(buf) < 1 {
		return // truncated before the CI body even starts
	}
	body, listener, step := matchListener(e.listeners, buf[1:])
	if step != stepOK {
		e.respondMalformedCI(step, body, rt)
		return
	}
	if listener == nil {
		// No reply: an unknown destination object is silently dropped,
		// matching UnknownConnection's "expects reply" gate, which a CI
		// does not satisfy on its own (only a missing *connection*, not a
		// missing *listener*, is diagnosed via reason NL elsewhere).
		return
	}
	if !listener.tryAccept(&body) {
		e.countDrop(causeAcceptQueueFull)
		return
	}
}

// handleReturnedCI implements spec §4.6 step 2's returned-to-sender branch:
// the *source* field of the returned CI is our own original local address.
func (e *Engine) handleReturnedCI(buf []byte, rt RoutingControlBlock) {
	if len(buf) < 5 {
		return
	}
	srcPort := le16(buf[1:3])
	conn, ok := e.table.LookupReturned(srcPort)
	if !ok {
		return
	}
	conn.backlog.Run(func() {
		e.onReturnedCI(conn)
	})
}

// respondMalformedCI implements ErrorResponder for a malformed CI (spec
// §4.7): emit a Disconnect-Initiate with the mapped reason, unless the
// table entry is ReasonNone, and log a rate-limited martian diagnostic.
func (e *Engine) respondMalformedCI(step ciErrStep, body ciBody, rt RoutingControlBlock) {
	reason := ciErrTable[step]
	e.martian.Log(rt.Device, rt.SrcNode, rt.DstNode, body.SrcPort, body.DstPort, "malformed-ci")
	if reason != ReasonNone {
		e.metrics.martianLogged.Inc()
	}
	if reason == ReasonNone || e.router == nil || body.SrcPort == 0 {
		return
	}
	out := encodeDisconnectInitiate(0, body.SrcPort, uint16(reason))
	_ = e.router.Emit(out)
}

// respondNoLink implements ErrorResponder for an unknown connection (spec
// §4.6 step 5, §7's UnknownConnection): only connect-class messages that
// plausibly expect a reply get a no-link Disconnect reply.
func (e *Engine) respondNoLink(cb ControlBlock, rt RoutingControlBlock) {
	expectsReply := cb.Class == MsgConnectConfirm || cb.Class == MsgDisconnectInitiate
	if !expectsReply || !cb.HasSrc || cb.SrcPort == 0 || e.router == nil {
		return
	}
	out := encodeDisconnectConfirm(0, cb.SrcPort, uint16(ReasonNL))
	_ = e.router.Emit(out)
}

// encodeDisconnectInitiate builds the wire bytes for a Disconnect-Initiate
// reply, per spec §6.
func encodeDisconnectInitiate(localAddr, remoteAddr, reason uint16) []byte {
	out := encodeDisconnectConfirm(localAddr, remoteAddr, reason)
	out[0] = 0x08 | subDI
	return out
}

// dispatchToConnection implements spec §4.6 steps 6-9: route-cache update,
// backoff/stamp reset, and hand-off through the connection's backlog to
// AckProcessor and ConnectionFSM.
func (e *Engine) dispatchToConnection(conn *Connection, cb *ControlBlock, body []byte, class MsgClass) {
	conn.backlog.Run(func() {
		if conn.state.IsTerminal() {
			e.countDrop(causeTerminalConnection)
			return
		}

		if conn.routeKey != cb.RouteKey && conn.state == StateRUN {
			conn.routeKey = cb.RouteKey
			conn.intraEther = cb.IntraEthernet
		}
		conn.nspRxtShift = 0
		conn.stamp = time.Now()

		carryingOther := class == MsgOtherData
		ackEligible := class == MsgData || class == MsgOtherData || class == MsgLinkService || class == MsgPureAck
		rest := body
		if ackEligible {
			var acks ackOutcome
			rest, acks = processAcks(conn, body, carryingOther)
			if acks.DataAdvanced {
				e.metrics.acksProcessed.Inc()
			}
			if acks.OtherAdvanced {
				e.metrics.acksProcessed.Inc()
			}
			if acks.DataAdvanced || acks.OtherAdvanced {
				e.wakeWriter(conn)
			}
		}

		e.transition(conn, cb, rest)
	})
}
