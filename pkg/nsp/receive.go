package nsp

import "sync"

// queueEntry is one queued buffer charged against the connection's
// receive-buffer budget. Per spec §9, the full in-memory size of the
// buffer is charged, not just the payload length.
type queueEntry struct {
	payload []byte
	charge  int
}

// Queue is a per-connection, per-subchannel FIFO of received payloads
// awaiting a user-level drain, each with its own lock per spec §5.
type Queue struct {
	mu      sync.Mutex
	entries []queueEntry
	conn    *Connection // back-reference for charge release on Drain
}

// Len returns the number of buffers currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// DrainedBuffer is one payload handed back to the user receive path,
// paired with the release callback that gives its charge back to the
// connection's receive-buffer budget once the caller is done with it.
type DrainedBuffer struct {
	Payload []byte
	Release func()
}

// Drain removes and returns every queued payload, in order, along with a
// Release closure per entry. The caller must call Release once it has
// finished with Payload, so the connection's rmemAlloc accounting (spec
// §3) reflects buffers actually handed to the user rather than growing
// without bound.
func (q *Queue) Drain() []DrainedBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DrainedBuffer, len(q.entries))
	conn := q.conn
	for i, e := range q.entries {
		e := e
		out[i] = DrainedBuffer{
			Payload: e.payload,
			Release: func() { conn.release(e.charge) },
		}
	}
	q.entries = nil
	return out
}

func (q *Queue) append(e queueEntry) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
}

// bufferCharge is the in-memory accounting charge for a queued buffer:
// payload length plus a fixed per-buffer overhead, matching spec §9's
// instruction to charge the buffer's full in-memory size rather than just
// the payload.
const bufferOverhead = 64

func bufferCharge(payload []byte) int {
	return len(payload) + bufferOverhead
}

// enqueueResult reports the outcome of a ReceiveQueueing attempt.
type enqueueResult uint8

const (
	enqueueAccepted enqueueResult = iota
	enqueueFilteredOut
	enqueueBufferExhausted
)

// enqueue runs the ReceiveQueueing algorithm of spec §4.5: user filter,
// then receive-buffer admission, then append under the queue's own lock.
func (e *Engine) enqueue(conn *Connection, q *Queue, payload []byte) enqueueResult {
	hooks := conn.hooks
	if hooks == nil {
		hooks = noopHooks{}
	}
	if !hooks.UserFilter(conn, payload) {
		return enqueueFilteredOut
	}

	charge := bufferCharge(payload)

	conn.mu.Lock()
	if conn.rcvbuf > 0 && conn.rmemAlloc+charge > conn.rcvbuf {
		conn.dropped++
		conn.mu.Unlock()
		e.countDrop(causeReceiveBufferExhausted)
		return enqueueBufferExhausted
	}
	conn.rmemAlloc += charge
	conn.mu.Unlock()

	q.append(queueEntry{payload: payload, charge: charge})
	hooks.SockDataReady(conn)
	return enqueueAccepted
}

// congested reports whether a connection's receive buffer usage is above
// the congestion threshold used to gate DONTSEND, per spec §4.4's Data
// handler.
func (conn *Connection) congested() bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.rcvbuf == 0 {
		return false
	}
	// Congestion threshold: above three quarters of the configured budget.
	return conn.rmemAlloc*4 >= conn.rcvbuf*3
}

// release gives back charge bytes to the connection's receive-buffer
// budget. Called via the Release closure DrainedBuffer hands back to a
// user receive path once it is done with a drained payload.
func (conn *Connection) release(charge int) {
	conn.mu.Lock()
	conn.rmemAlloc -= charge
	if conn.rmemAlloc < 0 {
		conn.rmemAlloc = 0
	}
	conn.mu.Unlock()
}
