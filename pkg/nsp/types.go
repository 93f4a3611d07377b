// Package nsp implements the receive-side DECnet Network Services Protocol
// (NSP) engine: segment decoding, listener matching for Connection-Initiate,
// piggyback-ack processing, the connection state machine, in-order receive
// queueing with flow control, and top-level dispatch from the routing layer.
package nsp

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/Jarek-Egger/godecnet/internal/backlog"
	"github.com/Jarek-Egger/godecnet/internal/seqnum"
)

// State is one of the NSP connection states.
type State uint8

const (
	StateClosed State = iota
	StateCI           // Connect-Initiate sent/outstanding
	StateCR           // Connect-Request received, awaiting accept (inbound, pre-RUN)
	StateCD           // Connect-Delivered: CA received for our CI
	StateCC           // Connect-Confirm sent (inbound accept path)
	StateRUN          // Running: data may flow
	StateDI           // Disconnect-Initiate sent
	StateDIC          // Disconnect-Initiate received while in DI; terminal
	StateDR           // Disconnect received, reject pending
	StateDRC          // Disconnect-Confirm sent in reply to DR
	StateDN           // Disconnect-Notify: orderly shutdown complete
	StateDIR          // Disconnect-Initiate received, reply pending
	StateRJ           // Rejected: peer refused connect
	StateNR           // No-Resources / no-link: CI got a DC with no-link reason
	StateNC           // No-Connection: terminal unreachable/returned-CI state
	StateCN           // Connection-None: terminal state reached via DC(NL)/RUN-DC
	StateO            // Other: reserved terminal bucket for protocol edge states
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateCI:
		return "CI"
	case StateCR:
		return "CR"
	case StateCD:
		return "CD"
	case StateCC:
		return "CC"
	case StateRUN:
		return "RUN"
	case StateDI:
		return "DI"
	case StateDIC:
		return "DIC"
	case StateDR:
		return "DR"
	case StateDRC:
		return "DRC"
	case StateDN:
		return "DN"
	case StateDIR:
		return "DIR"
	case StateRJ:
		return "RJ"
	case StateNR:
		return "NR"
	case StateNC:
		return "NC"
	case StateCN:
		return "CN"
	case StateO:
		return "O"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further state transitions or replies should
// be produced for inbound segments on a connection in this state (spec §8:
// "after any terminal transition, further inbound segments ... produce no
// further state changes or replies").
func (s State) IsTerminal() bool {
	switch s {
	case StateDN, StateRJ, StateNR, StateNC, StateCN, StateDRC, StateDIC, StateClosed:
		return true
	default:
		return false
	}
}

// FlowSwitch is the peer-commanded (or locally advertised) flow gate.
type FlowSwitch uint8

const (
	FlowNoChange FlowSwitch = iota
	FlowSend
	FlowDontSend
)

// FCType is the peer's advertised flow-control discipline.
type FCType uint8

const (
	FCNone    FCType = iota // no flow control negotiated
	FCSegment               // segment-count flow control (SCMC)
	FCMessage               // message-count flow control
)

// maxUserDataLen bounds the inline connect/disconnect payload buffers per
// spec §3 ("small inline byte buffers up to 16 bytes with length").
const maxUserDataLen = 16

// userData is a small inline byte buffer with an explicit length, used for
// connect-confirm and disconnect optional payloads.
type userData struct {
	buf [maxUserDataLen]byte
	len uint8
}

func (u *userData) set(b []byte) {
	n := len(b)
	if n > maxUserDataLen {
		n = maxUserDataLen
	}
	copy(u.buf[:], b[:n])
	u.len = uint8(n)
}

func (u *userData) bytes() []byte {
	return u.buf[:u.len]
}

// Connection represents one NSP association, per spec §3.
type Connection struct {
	mu sync.Mutex

	ID xid.ID // opaque correlation id for logs/metrics, not a wire value

	state State

	localAddr  uint16
	remoteAddr uint16 // 0 until learned from CC or CI

	// Data subchannel.
	numDataSent seqnum.Value
	numDataRcv  seqnum.Value
	ackrcvData  seqnum.Value

	// Other-data (interrupt) subchannel.
	numOthSent seqnum.Value
	numOthRcv  seqnum.Value
	ackrcvOth  seqnum.Value
	othReport  bool // latch cleared on successful other-data enqueue

	// Flow control.
	flowremDat int32 // segments we may send, data subchannel
	flowremOth int32 // segments we may send, other-data subchannel
	flowremSw  FlowSwitch
	flowlocSw  FlowSwitch
	fcType     FCType

	// Peer capabilities learned at connect time.
	servicesRem uint8
	infoRem     uint8
	segsizeRem  uint16

	connectData    userData
	disconnectData userData
	reason         uint16 // last wire disconnect reason code
	userErr        error  // user-visible condition, e.g. ErrConnRefused

	// Timers (opaque fields; actual expiry driven by TimerScheduler).
	persist        bool
	conntimer      time.Duration
	ackdelay       bool
	nspRxtShift    int
	stamp          time.Time

	// Receive-side accounting.
	rmemAlloc int
	rcvbuf    int
	dropped   uint64

	// Routing cache, consulted by TopDispatcher step 6.
	routeKey   uint32
	intraEther bool

	backlog backlog.Queue

	dataQueue Queue
	othQueue  Queue

	sendQueue SendQueue

	hooks Hooks
}

// LocalAddr returns the connection's local 16-bit link-address.
func (c *Connection) LocalAddr() uint16 { return c.localAddr }

// RemoteAddr returns the connection's remote 16-bit link-address, or 0 if
// not yet learned.
func (c *Connection) RemoteAddr() uint16 { return c.remoteAddr }

// State returns the connection's current FSM state.
func (c *Connection) State() State { return c.state }

// Reason returns the most recent wire disconnect reason code.
func (c *Connection) Reason() uint16 { return c.reason }

// UserError returns the user-visible condition associated with the
// connection's current terminal state, if any (ErrConnRefused,
// ErrHostUnreachable, ErrConnReset), or nil otherwise.
func (c *Connection) UserError() error { return c.userErr }

// DataQueue returns the connection's data-subchannel receive queue, for a
// user receive path to Drain.
func (c *Connection) DataQueue() *Queue { return &c.dataQueue }

// OthQueue returns the connection's other-data (interrupt) subchannel
// receive queue, for a user receive path to Drain.
func (c *Connection) OthQueue() *Queue { return &c.othQueue }

// bindQueues wires each receive queue's back-reference to conn, so Drain
// can release each entry's charge against the right connection.
func (c *Connection) bindQueues() {
	c.dataQueue.conn = c
	c.othQueue.conn = c
}
