package nsp

import "sync"

// ConnectionTable maps local link-addresses to connections. Lookups never
// block a concurrent insert/remove (spec §5: "connection-table lookups are
// performed under RCU-style read-side protection"); sync.Map gives us that
// property directly since its read path never takes the writer's lock for
// keys already resident in the read-only snapshot.
type ConnectionTable struct {
	m       sync.Map // uint16 -> *Connection
	mu      sync.Mutex // serializes the address allocator only
	nextTmp uint16
}

// NewConnectionTable creates an empty table.
func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{nextTmp: 1}
}

// Lookup finds a connection by local link-address.
func (t *ConnectionTable) Lookup(localAddr uint16) (*Connection, bool) {
	v, ok := t.m.Load(localAddr)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// LookupReturned finds the connection whose local address equals the
// source port of a returned-to-sender Connection-Initiate. Per spec §9,
// the *source* field of a returned CI is the key, because the packet was
// ours going out.
func (t *ConnectionTable) LookupReturned(returnedSrcPort uint16) (*Connection, bool) {
	return t.Lookup(returnedSrcPort)
}

// Insert adds conn under conn.localAddr, allocating one if unset.
func (t *ConnectionTable) Insert(conn *Connection) {
	if conn.localAddr == 0 {
		t.mu.Lock()
		for {
			t.nextTmp++
			if t.nextTmp == 0 {
				t.nextTmp = 1
			}
			if _, exists := t.m.Load(t.nextTmp); !exists {
				conn.localAddr = t.nextTmp
				break
			}
		}
		t.mu.Unlock()
	}
	t.m.Store(conn.localAddr, conn)
}

// Remove deletes the connection for localAddr, called when the
// destroy-timer installed after a terminal FSM transition fires.
func (t *ConnectionTable) Remove(localAddr uint16) {
	t.m.Delete(localAddr)
}

// Range iterates every connection currently in the table.
func (t *ConnectionTable) Range(fn func(*Connection) bool) {
	t.m.Range(func(_, v any) bool {
		return fn(v.(*Connection))
	})
}
