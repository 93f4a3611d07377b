package nsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionTableInsertAllocatesLocalAddr(t *testing.T) {
	table := NewConnectionTable()
	conn := &Connection{}
	table.Insert(conn)
	assert.NotZero(t, conn.localAddr)

	got, ok := table.Lookup(conn.localAddr)
	require.True(t, ok)
	assert.Same(t, conn, got)
}

func TestConnectionTableInsertRespectsPresetLocalAddr(t *testing.T) {
	table := NewConnectionTable()
	conn := &Connection{localAddr: 777}
	table.Insert(conn)
	got, ok := table.Lookup(777)
	require.True(t, ok)
	assert.Same(t, conn, got)
}

func TestConnectionTableAllocatorSkipsCollisions(t *testing.T) {
	table := NewConnectionTable()
	first := &Connection{}
	table.Insert(first)
	second := &Connection{}
	table.Insert(second)
	assert.NotEqual(t, first.localAddr, second.localAddr)
}

func TestConnectionTableRemove(t *testing.T) {
	table := NewConnectionTable()
	conn := &Connection{localAddr: 42}
	table.Insert(conn)
	table.Remove(42)
	_, ok := table.Lookup(42)
	assert.False(t, ok)
}

func TestConnectionTableRange(t *testing.T) {
	table := NewConnectionTable()
	table.Insert(&Connection{localAddr: 1})
	table.Insert(&Connection{localAddr: 2})

	seen := map[uint16]bool{}
	table.Range(func(c *Connection) bool {
		seen[c.localAddr] = true
		return true
	})
	assert.Len(t, seen, 2)
}

func TestConnectionTableLookupReturnedUsesLocalAddr(t *testing.T) {
	table := NewConnectionTable()
	conn := &Connection{localAddr: 55}
	table.Insert(conn)
	got, ok := table.LookupReturned(55)
	require.True(t, ok)
	assert.Same(t, conn, got)
}
