package nsp

import (
	"encoding/binary"

	"github.com/Jarek-Egger/godecnet/internal/seqnum"
)

// transition applies one inbound message to a connection's FSM, per the
// table in spec §4.4. The caller runs this inside conn.backlog.Run, which
// serializes every receive-side mutation of conn for the duration of a
// single dispatch (spec §5: per-connection serialization).
func (e *Engine) transition(conn *Connection, cb *ControlBlock, body []byte) {
	switch cb.Class {
	case MsgConnectAck:
		e.onConnectAck(conn)
	case MsgConnectConfirm:
		e.onConnectConfirm(conn, cb, body)
	case MsgDisconnectInitiate:
		e.onDisconnectInitiate(conn, body)
	case MsgDisconnectConfirm:
		e.onDisconnectConfirm(conn, body)
	case MsgLinkService:
		e.promoteOnTraffic(conn, cb)
		e.onLinkService(conn, body)
	case MsgOtherData:
		e.promoteOnTraffic(conn, cb)
		e.onOtherData(conn, body)
	case MsgData:
		e.promoteOnTraffic(conn, cb)
		e.onData(conn, cb, body)
	case MsgPureAck:
		// Acks were already processed by the caller; a pure ack only
		// counts as first post-accept traffic.
		e.promoteOnTraffic(conn, cb)
	default:
		// NOP, reserved: nothing further to do.
	}
}

// setState moves conn to state s, keeping the connectionsByState gauge in
// sync with the FSM's actual occupancy per state.
func (e *Engine) setState(conn *Connection, s State) {
	old := conn.state
	conn.state = s
	if old == s {
		return
	}
	e.metrics.connectionsByState.WithLabelValues(old.String()).Dec()
	e.metrics.connectionsByState.WithLabelValues(s.String()).Inc()
}

// confirmAccept sends the Connect-Confirm reply for a connection accepted
// via Engine.Accept and advances it from StateCR to StateCC.
func (e *Engine) confirmAccept(conn *Connection, opts AcceptOptions) {
	reply := encodeConnectConfirm(conn.localAddr, conn.remoteAddr, opts.Services, opts.Info, uint16(e.config.Segbufsize), opts.UserData)
	if e.router != nil {
		_ = e.router.Emit(reply)
	}
	e.setState(conn, StateCC)
}

// encodeConnectConfirm builds the wire bytes for a Connect-Confirm reply,
// per spec §6: flags, dst/src ports, services/info/segsize, and an
// optional length-prefixed user-data field, mirroring the layout
// onConnectConfirm parses on the initiating side.
func encodeConnectConfirm(localAddr, remoteAddr uint16, services, info uint8, segsize uint16, userData []byte) []byte {
	out := make([]byte, 9, 9+1+len(userData))
	out[0] = 0x08 | subCC
	binary.LittleEndian.PutUint16(out[1:3], remoteAddr)
	binary.LittleEndian.PutUint16(out[3:5], localAddr)
	out[5] = services
	out[6] = info
	binary.LittleEndian.PutUint16(out[7:9], segsize)
	if userData != nil {
		out = append(out, byte(len(userData)))
		out = append(out, userData...)
	}
	return out
}

// promoteOnTraffic implements "CC -> any data/ack frame -> RUN (equivalent
// promotion on first post-accept traffic)" per spec §4.4, applying the same
// segsize clamping rule as the explicit CC transition.
func (e *Engine) promoteOnTraffic(conn *Connection, cb *ControlBlock) {
	if conn.state != StateCC {
		return
	}
	e.setState(conn, StateRUN)
	e.clampSegsize(conn, cb)
	e.notifyState(conn)
}

// onConnectAck implements "CI -> CA -> CD": clear persist, arm conntimer.
func (e *Engine) onConnectAck(conn *Connection) {
	if conn.state != StateCI {
		return
	}
	conn.persist = false
	conn.conntimer = e.config.OutgoingTimer
	e.setState(conn, StateCD)
}

// onConnectConfirm implements "CI or CD -> CC -> RUN", plus the duplicate-CC
// no-op from RUN (spec §8: "a duplicate CC in state RUN is a no-op").
func (e *Engine) onConnectConfirm(conn *Connection, cb *ControlBlock, body []byte) {
	switch conn.state {
	case StateCI, StateCD:
		conn.persist = false
		conn.conntimer = 0
		conn.remoteAddr = cb.SrcPort
		if len(body) < 4 {
			return
		}
		conn.servicesRem = body[0]
		conn.infoRem = body[1]
		conn.segsizeRem = le16(body[2:4])
		conn.fcType = fcTypeFromInfo(body[1])
		e.clampSegsize(conn, cb)
		if conn.fcType == FCNone {
			conn.flowremDat = e.config.NoFCMaxCwnd
			conn.flowremOth = e.config.NoFCMaxCwnd
		}
		if len(body) > 4 {
			n := int(body[4])
			rest := body[5:]
			if n <= maxUserDataLen && len(rest) >= n {
				conn.connectData.set(rest[:n])
			}
		}
		e.setState(conn, StateRUN)
		e.notifyState(conn)
	case StateRUN:
		// duplicate CC, no-op
	}
}

// clampSegsize applies spec §4.4's segsize clamping rule: when the routing
// header was "short" (no Intra-Ethernet bit) the peer's declared segsize is
// clamped to our configured segment buffer size minus protocol overhead.
func (e *Engine) clampSegsize(conn *Connection, cb *ControlBlock) {
	if !cb.IntraEthernet {
		overhead := maxNSPDataHeader + 6
		if e.config.Segbufsize > overhead {
			conn.segsizeRem = uint16(e.config.Segbufsize - overhead)
		}
	}
}

// maxNSPDataHeader is the largest NSP data-message header: two piggyback
// ack words (4 bytes) plus the segnum (2 bytes).
const maxNSPDataHeader = 6

func fcTypeFromInfo(info uint8) FCType {
	switch info & 0x03 {
	case 1:
		return FCSegment
	case 2:
		return FCMessage
	default:
		return FCNone
	}
}

// onDisconnectInitiate implements the DI transitions of spec §4.4.
func (e *Engine) onDisconnectInitiate(conn *Connection, body []byte) {
	switch conn.state {
	case StateCI, StateCD:
		conn.conntimer = 0
		conn.userErr = ErrConnRefused
		e.setState(conn, StateRJ)
		e.notifyState(conn)
		e.terminate(conn)
	case StateRUN:
		conn.userErr = ErrConnReset
		e.metrics.connectionsPeerDisconnect.Inc()
		e.setState(conn, StateDN)
		e.notifyState(conn)
		e.terminate(conn)
	case StateDI:
		e.setState(conn, StateDIC)
		e.notifyState(conn)
		e.terminate(conn)
	default:
		// explicit no-op for combinations not named by spec §4.4
	}
}

// onDisconnectConfirm implements the DC transitions of spec §4.4, which
// branch on the reason code carried in the DC body.
func (e *Engine) onDisconnectConfirm(conn *Connection, body []byte) {
	var reason uint16
	if len(body) >= 2 {
		reason = le16(body[0:2])
	}
	switch conn.state {
	case StateCI:
		if ReasonCode(reason) == ReasonNL {
			e.setState(conn, StateNR)
			e.notifyState(conn)
			e.terminate(conn)
		}
	case StateDR:
		if ReasonCode(reason) == ReasonDC {
			e.setState(conn, StateDRC)
		} else if ReasonCode(reason) == ReasonNL {
			e.setState(conn, StateCN)
		}
		e.notifyState(conn)
		e.terminate(conn)
	case StateRUN:
		conn.reason = reason
		conn.userErr = ErrConnReset
		e.metrics.connectionsPeerDisconnect.Inc()
		e.setState(conn, StateCN)
		e.notifyState(conn)
		e.terminate(conn)
	default:
	}
}

// onReturnedCI implements "CI -> 'own CI returned to sender' -> NC" (spec
// §4.4, §8 scenario 5).
func (e *Engine) onReturnedCI(conn *Connection) {
	if conn.state != StateCI {
		return
	}
	e.setState(conn, StateNC)
	conn.userErr = ErrHostUnreachable
	e.notifyState(conn)
	e.metrics.connectionsReturnedOwnCI.Inc()
	e.terminate(conn)
}

// notifyState fires SockStateChange if hooks are wired.
func (e *Engine) notifyState(conn *Connection) {
	hooks := conn.hooks
	if hooks == nil {
		hooks = noopHooks{}
	}
	hooks.SockStateChange(conn)
}

// terminate implements "after any terminal transition" from spec §4.4:
// schedule a destroy-timer, and emit a Disconnect-Confirm with reason DC if
// the remote address is known (spec §3's invariant: remote_addr==0 means no
// outbound reply is generated).
func (e *Engine) terminate(conn *Connection) {
	conn.persist = true
	if e.scheduler != nil {
		e.scheduler.Schedule(conn, TimerPersist, e.config.DestroyDelay)
	}
	if conn.remoteAddr == 0 {
		return
	}
	reply := encodeDisconnectConfirm(conn.localAddr, conn.remoteAddr, uint16(ReasonDC))
	if e.router != nil {
		_ = e.router.Emit(reply)
	}
}

// encodeDisconnectConfirm builds the wire bytes for a Disconnect-Confirm
// reply, per spec §6.
func encodeDisconnectConfirm(localAddr, remoteAddr, reason uint16) []byte {
	out := make([]byte, 7)
	out[0] = 0x08 | subDC
	binary.LittleEndian.PutUint16(out[1:3], remoteAddr)
	binary.LittleEndian.PutUint16(out[3:5], localAddr)
	binary.LittleEndian.PutUint16(out[5:7], reason)
	return out
}

// --- Link-Service, Other-Data, Data handlers (RUN state) ---

const (
	lsFlagsReservedMask = 0xF8
	lsFlagsSubchanBit   = 0x04 // 0 = data subchannel, 1 = interrupt subchannel
	lsFlagsActionMask   = 0x03
	lsActionNoChange    = 0x00
	lsActionDontSend    = 0x01
	lsActionSend        = 0x02
)

// onLinkService implements spec §4.4's Link-Service handler: RUN state
// only, 4-byte body (segnum, lsflags, fcval).
func (e *Engine) onLinkService(conn *Connection, body []byte) {
	if conn.state != StateRUN || len(body) < 4 {
		return
	}
	segnum16 := le16(body[0:2])
	lsflags := body[2]
	fcval := int8(body[3])

	if lsflags&lsFlagsReservedMask != 0 {
		return
	}
	segno := seqnum.Norm(segnum16)
	if !seqnum.Next(conn.numOthRcv, segno) {
		e.countDrop(causeOutOfSequence)
		return
	}
	conn.numOthRcv = segno

	if lsflags&lsFlagsSubchanBit == 0 {
		switch lsflags & lsFlagsActionMask {
		case lsActionNoChange:
			if fcval < 0 && conn.fcType == FCSegment && conn.flowremDat > int32(-fcval) {
				conn.flowremDat -= int32(-fcval)
			} else if fcval > 0 {
				conn.flowremDat += int32(fcval)
				e.wakeWriter(conn)
			}
		case lsActionDontSend:
			conn.flowremSw = FlowDontSend
		case lsActionSend:
			conn.flowremSw = FlowSend
			e.wakeWriter(conn)
		}
	} else {
		if fcval > 0 {
			conn.flowremOth += int32(fcval)
			e.wakeWriter(conn)
		}
	}

	e.emitOtherDataAck(conn)
}

// wakeWriter is the writer-wake hook for flow-control credit increases and
// ack progression: it fires Hooks.SockStateChange, through which the
// out-of-scope send path learns that a blocked writer may proceed.
func (e *Engine) wakeWriter(conn *Connection) {
	e.notifyState(conn)
}

// emitOtherDataAck sends an other-data ack to the peer, per spec §4.4's
// "Emit an other-data ack" instruction closing out Link-Service and
// Other-Data handling.
func (e *Engine) emitOtherDataAck(conn *Connection) {
	if conn.remoteAddr == 0 || e.router == nil {
		return
	}
	ack := uint16(conn.numOthRcv) | ackBitPresent | (uint16(subchanOtherAck) << ackSubchanShift)
	out := make([]byte, 7)
	out[0] = 0x04 // pure ack, no payload
	binary.LittleEndian.PutUint16(out[1:3], conn.remoteAddr)
	binary.LittleEndian.PutUint16(out[3:5], conn.localAddr)
	binary.LittleEndian.PutUint16(out[5:7], ack)
	_ = e.router.Emit(out)
}

// onOtherData implements spec §4.4's interrupt-subchannel Data handler.
func (e *Engine) onOtherData(conn *Connection, body []byte) {
	if conn.state != StateRUN || len(body) < 2 {
		return
	}
	segno := seqnum.Norm(le16(body[0:2]))
	payload := body[2:]

	if seqnum.Next(conn.numOthRcv, segno) {
		result := e.enqueue(conn, &conn.othQueue, payload)
		if result == enqueueAccepted {
			conn.numOthRcv = segno
			conn.othReport = false
		}
	} else {
		e.countDrop(causeOutOfSequence)
	}
	// Ack reflects in-order acceptance regardless of queue outcome.
	e.emitOtherDataAck(conn)
}

// sendAckPolicy decides whether a data segment demands an immediate ack
// rather than a coalesced delayed one. Per spec §9's open question, the
// exact derivation from segnum is not reproduced from the original; this
// module's policy is: odd segment numbers request immediate ack, even ones
// may be delayed and coalesced with the next outbound segment. This is
// recorded as an explicit decision in DESIGN.md, not a guess at the
// original macro's bit layout.
func sendAckPolicy(segno seqnum.Value) bool {
	return segno&1 == 1
}

// onData implements spec §4.4's data-subchannel handler.
func (e *Engine) onData(conn *Connection, cb *ControlBlock, body []byte) {
	if conn.state != StateRUN || len(body) < 2 {
		return
	}
	segno := seqnum.Norm(le16(body[0:2]))
	payload := body[2:]

	if seqnum.Next(conn.numDataRcv, segno) {
		result := e.enqueue(conn, &conn.dataQueue, payload)
		if result == enqueueAccepted {
			conn.numDataRcv = segno
			if conn.congested() && conn.flowlocSw == FlowSend {
				conn.flowlocSw = FlowDontSend
				e.emitGatingLinkService(conn)
			}
		}
	} else {
		e.countDrop(causeOutOfSequence)
	}

	if sendAckPolicy(segno) {
		e.emitDataAck(conn)
	} else {
		conn.ackdelay = true
		if e.scheduler != nil {
			e.scheduler.Schedule(conn, TimerAckDelay, e.config.AckDelay)
		}
	}
}

// emitDataAck sends a data-subchannel ack to the peer.
func (e *Engine) emitDataAck(conn *Connection) {
	if conn.remoteAddr == 0 || e.router == nil {
		return
	}
	ack := uint16(conn.numDataRcv) | ackBitPresent
	out := make([]byte, 7)
	out[0] = 0x04
	binary.LittleEndian.PutUint16(out[1:3], conn.remoteAddr)
	binary.LittleEndian.PutUint16(out[3:5], conn.localAddr)
	binary.LittleEndian.PutUint16(out[5:7], ack)
	_ = e.router.Emit(out)
}

// emitGatingLinkService sends a DONTSEND Link-Service to the peer when the
// receive buffer becomes congested, per spec §4.4.
func (e *Engine) emitGatingLinkService(conn *Connection) {
	if conn.remoteAddr == 0 || e.router == nil {
		return
	}
	out := make([]byte, 9)
	out[0] = subLS // link-service flags byte
	binary.LittleEndian.PutUint16(out[1:3], conn.remoteAddr)
	binary.LittleEndian.PutUint16(out[3:5], conn.localAddr)
	conn.numOthSent = seqnum.Add(conn.numOthSent, 1)
	binary.LittleEndian.PutUint16(out[5:7], uint16(conn.numOthSent))
	out[7] = lsActionDontSend
	out[8] = 0 // fcval
	_ = e.router.Emit(out)
}
