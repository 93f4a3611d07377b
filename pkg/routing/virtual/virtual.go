// Package virtual is a TCP-backed fake DECnet routing layer, used by tests
// and the example command in place of a real routing/datalink stack.
package virtual

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Jarek-Egger/godecnet/pkg/nsp"
)

// Deliverer receives a decoded inbound buffer plus its routing sidecar.
// nsp.Engine.Receive satisfies this signature.
type Deliverer func(buf []byte, rt nsp.RoutingControlBlock)

// Bus is a length-prefixed-framing TCP connection to a broker that
// fans inbound segments out to every connected peer, standing in for a
// real DECnet routing/datalink layer in tests and examples.
type Bus struct {
	log      *log.Logger
	mu       sync.Mutex
	channel  string
	conn     net.Conn
	deliver  Deliverer
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool

	device  string
	srcNode uint16
	dstNode uint16

	// reflectOwnCI loops back any Connection-Initiate we send as a
	// returned-to-sender segment instead of delivering it onward, for
	// exercising the host-unreachable path in tests without a live peer.
	reflectOwnCI bool
	intraEther   bool
}

// NewBus creates a Bus for channel (host:port of the broker). The
// connection is not established until Connect is called.
func NewBus(channel string, logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Bus{channel: channel, log: logger, stopChan: make(chan struct{})}
}

// SetIdentity sets the device name and node addresses attached to every
// buffer this bus delivers, for martian-diagnostic fields.
func (b *Bus) SetIdentity(device string, srcNode, dstNode uint16) {
	b.device = device
	b.srcNode = srcNode
	b.dstNode = dstNode
}

// SetReflectOwnCI toggles whether outbound Connection-Initiate segments are
// looped back as returned-to-sender instead of written to the wire.
func (b *Bus) SetReflectOwnCI(v bool) { b.reflectOwnCI = v }

// SetIntraEthernet toggles the Intra-Ethernet bit attached to delivered
// buffers, per spec §4.4's segsize-clamping rule.
func (b *Bus) SetIntraEthernet(v bool) { b.intraEther = v }

// Connect dials the broker.
func (b *Bus) Connect() error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	b.conn = conn
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return nil
}

// Disconnect closes the connection and stops the reception loop.
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if running {
		close(b.stopChan)
		b.wg.Wait()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Emit implements nsp.Router: it frames seg and writes it to the broker, or
// loops a Connection-Initiate back as returned-to-sender if configured to.
func (b *Bus) Emit(seg []byte) error {
	if b.reflectOwnCI {
		if class, _, err := nsp.DecodeClass(seg); err == nil && class == nsp.MsgConnectInitiate {
			b.dispatchInbound(seg, true)
			return nil
		}
	}
	if b.conn == nil {
		return errors.New("virtual: no active connection, abort send")
	}
	framed := frame(seg)
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	_, err := b.conn.Write(framed)
	return err
}

// Subscribe starts the reception loop, calling deliver for each framed
// buffer received from the broker.
func (b *Bus) Subscribe(deliver Deliverer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliver = deliver
	if b.running {
		return
	}
	b.running = true
	b.wg.Add(1)
	go b.run()
}

func (b *Bus) dispatchInbound(seg []byte, returned bool) {
	if b.deliver == nil {
		return
	}
	b.deliver(seg, nsp.RoutingControlBlock{
		ReturnedToSender: returned,
		IntraEthernet:    b.intraEther,
		Device:           b.device,
		SrcNode:          b.srcNode,
		DstNode:          b.dstNode,
	})
}

func (b *Bus) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopChan:
			return
		default:
		}
		buf, err := b.recvOne()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			b.log.WithError(err).Warn("virtual: reception loop stopped")
			return
		}
		b.dispatchInbound(buf, false)
	}
}

func (b *Bus) recvOne() ([]byte, error) {
	if b.conn == nil {
		return nil, errors.New("virtual: no active connection, abort receive")
	}
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	header := make([]byte, 4)
	if _, err := readFull(b.conn, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	body := make([]byte, length)
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := readFull(b.conn, body); err != nil {
		return nil, err
	}
	return body, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func frame(seg []byte) []byte {
	out := make([]byte, 4+len(seg))
	binary.BigEndian.PutUint32(out[:4], uint32(len(seg)))
	copy(out[4:], seg)
	return out
}
