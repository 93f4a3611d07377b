package nsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDrainReturnsReleasableChargedBuffers(t *testing.T) {
	e := newTestEngine(&fakeRouter{})
	conn := &Connection{state: StateRUN, hooks: &fakeHooks{}, sendQueue: noopSendQueue{}, rcvbuf: 4096}
	conn.bindQueues()

	require.Equal(t, enqueueAccepted, e.enqueue(conn, conn.DataQueue(), []byte("hi")))
	require.Equal(t, enqueueAccepted, e.enqueue(conn, conn.DataQueue(), []byte("there")))

	before := conn.rmemAlloc
	assert.Positive(t, before)

	drained := conn.DataQueue().Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, []byte("hi"), drained[0].Payload)
	assert.Equal(t, []byte("there"), drained[1].Payload)
	assert.Equal(t, 0, conn.DataQueue().Len())

	drained[0].Release()
	assert.Less(t, conn.rmemAlloc, before)
	drained[1].Release()
	assert.Equal(t, 0, conn.rmemAlloc)
}

func TestEnqueueBufferExhaustedCountsDrop(t *testing.T) {
	e := newTestEngine(&fakeRouter{})
	conn := &Connection{state: StateRUN, hooks: &fakeHooks{}, sendQueue: noopSendQueue{}, rcvbuf: 1}
	conn.bindQueues()

	result := e.enqueue(conn, conn.OthQueue(), []byte("x"))
	assert.Equal(t, enqueueBufferExhausted, result)
	assert.Equal(t, 0, conn.OthQueue().Len())
	assert.EqualValues(t, 1, conn.dropped)
}
