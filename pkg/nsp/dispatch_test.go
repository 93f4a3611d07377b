package nsp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatchEngine(router Router) *Engine {
	return NewEngine(DefaultConfig(), WithRouter(router))
}

func TestReceiveConnectInitiateReachesListenerAcceptQueue(t *testing.T) {
	e := newDispatchEngine(&fakeRouter{})
	listener := NewListener("MIRROR", 0, 4)
	e.Listeners().Listen(listener)

	seg := append([]byte{0x18}, ciBodyBytes("MIRROR", nil)...)
	e.Receive(seg, RoutingControlBlock{})

	assert.Equal(t, 1, listener.Pending())
}

func TestReceiveMalformedCIEmitsDisconnectInitiateReply(t *testing.T) {
	router := &fakeRouter{}
	e := newDispatchEngine(router)

	body := []byte{
		0x56, 0x00, // src_port
		0x00, 0x00, // dst_port
		0x01, 0x00, 0x40, 0x02, // services, info, segsize
		0x00, 0x05, 0x00, // dest descriptor: number=0, type=5 (invalid)
	}
	seg := append([]byte{0x18}, body...)
	e.Receive(seg, RoutingControlBlock{Device: "nspd0"})

	require.Len(t, router.emitted, 1)
	reply := router.emitted[0]
	assert.Equal(t, uint8(0x08|subDI), reply[0])
	assert.EqualValues(t, 0x0056, binary.LittleEndian.Uint16(reply[1:3]))
	assert.EqualValues(t, ReasonID, binary.LittleEndian.Uint16(reply[5:7]))
}

func TestReceiveReturnedCIMarksConnectionUnreachable(t *testing.T) {
	e := newDispatchEngine(&fakeRouter{})
	conn := &Connection{state: StateCI, localAddr: 100, hooks: &fakeHooks{}, sendQueue: noopSendQueue{}}
	e.Table().Insert(conn)

	seg := []byte{0x18, 100, 0, 0, 0, 0, 0, 0, 0}
	e.Receive(seg, RoutingControlBlock{ReturnedToSender: true})

	assert.Equal(t, StateNC, conn.State())
	assert.Equal(t, ErrHostUnreachable, conn.UserError())
}

func TestReceiveDataSegmentProcessesAckThenQueuesPayload(t *testing.T) {
	router := &fakeRouter{}
	e := newDispatchEngine(router)
	conn := &Connection{
		state: StateRUN, localAddr: 1, remoteAddr: 2, numDataRcv: 2,
		hooks: &fakeHooks{}, sendQueue: &fakeSendQueue{}, rcvbuf: 4096,
	}
	e.Table().Insert(conn)

	// flags=data, dst=1, src=2, ack word (data subchannel, value 0x10),
	// segnum=3 (odd -> immediate ack), payload "ab"
	seg := []byte{0x00, 1, 0, 2, 0, 0x10, 0x80, 3, 0, 'a', 'b'}
	e.Receive(seg, RoutingControlBlock{})

	assert.EqualValues(t, 0x10, conn.ackrcvData)
	assert.EqualValues(t, 3, conn.numDataRcv)
	assert.Equal(t, 1, conn.dataQueue.Len())
	assert.Len(t, router.emitted, 1) // immediate data ack
}

func TestReceiveOtherDataCarriesCrossSubchannelAck(t *testing.T) {
	router := &fakeRouter{}
	e := newDispatchEngine(router)
	conn := &Connection{
		state: StateRUN, localAddr: 1, remoteAddr: 2, numOthRcv: 4,
		hooks: &fakeHooks{}, sendQueue: &fakeSendQueue{}, rcvbuf: 4096,
	}
	e.Table().Insert(conn)

	// Other-Data class (flags 0x30), carrying an ack word whose subchannel
	// bits read as other-ack but XOR to data-ack (spec §8 scenario 4).
	ackWord := uint16(0x8000) | ackOtherXorBit | 0x0007
	seg := make([]byte, 9)
	seg[0] = 0x30
	binary.LittleEndian.PutUint16(seg[1:3], 1) // dst_port
	binary.LittleEndian.PutUint16(seg[3:5], 2) // src_port
	binary.LittleEndian.PutUint16(seg[5:7], ackWord)
	binary.LittleEndian.PutUint16(seg[7:9], 5) // segnum=5 (next after 4)

	conn.ackrcvData = 0
	e.Receive(seg, RoutingControlBlock{})

	assert.EqualValues(t, 7, conn.ackrcvData)
	assert.EqualValues(t, 5, conn.numOthRcv)
}

func TestLinkServiceDontSendThenSendGatesWriter(t *testing.T) {
	e := newDispatchEngine(&fakeRouter{})
	hooks := &fakeHooks{}
	conn := &Connection{state: StateRUN, localAddr: 1, remoteAddr: 2, hooks: hooks, sendQueue: noopSendQueue{}}

	dontSend := []byte{1, 0, lsActionDontSend, 0}
	e.onLinkService(conn, dontSend)
	assert.Equal(t, FlowDontSend, conn.flowremSw)

	send := []byte{2, 0, lsActionSend, 0}
	e.onLinkService(conn, send)
	assert.Equal(t, FlowSend, conn.flowremSw)
	assert.Equal(t, 1, hooks.stateChanges) // wakeWriter fired once, on SEND
}
