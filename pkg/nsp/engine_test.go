package nsp

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptPromotesPendingCIToCCAndRepliesWithConnectConfirm(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(router)
	listener := NewListener("MIRROR", 0, 4)
	e.Listeners().Listen(listener)

	seg := append([]byte{0x18}, ciBodyBytes("MIRROR", []byte("hi"))...)
	e.Receive(seg, RoutingControlBlock{})
	require.Equal(t, 1, listener.Pending())

	hooks := &fakeHooks{}
	conn, ok := e.Accept(listener, hooks, &fakeSendQueue{}, AcceptOptions{Services: 1})
	require.True(t, ok)
	require.NotNil(t, conn)

	assert.Equal(t, StateCC, conn.State())
	assert.EqualValues(t, 0x1234, conn.RemoteAddr())
	assert.NotZero(t, conn.LocalAddr())
	assert.Equal(t, []byte("hi"), conn.connectData.bytes())

	require.Len(t, router.emitted, 1)
	reply := router.emitted[0]
	assert.Equal(t, uint8(0x08|subCC), reply[0])

	stored, ok := e.Table().Lookup(conn.LocalAddr())
	require.True(t, ok)
	assert.Same(t, conn, stored)
}

func TestAcceptOnEmptyListenerReportsFalse(t *testing.T) {
	e := newTestEngine(&fakeRouter{})
	listener := NewListener("MIRROR", 0, 4)
	conn, ok := e.Accept(listener, nil, nil, AcceptOptions{})
	assert.False(t, ok)
	assert.Nil(t, conn)
}

func TestPromoteOnTrafficAfterAcceptReachesRun(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(router)
	listener := NewListener("MIRROR", 0, 4)
	e.Listeners().Listen(listener)

	seg := append([]byte{0x18}, ciBodyBytes("MIRROR", nil)...)
	e.Receive(seg, RoutingControlBlock{})

	conn, ok := e.Accept(listener, &fakeHooks{}, &fakeSendQueue{}, AcceptOptions{})
	require.True(t, ok)

	e.promoteOnTraffic(conn, &ControlBlock{})
	assert.Equal(t, StateRUN, conn.State())
}

func TestNewConnectionAndAcceptTrackByStateGauge(t *testing.T) {
	e := newTestEngine(&fakeRouter{})
	listener := NewListener("MIRROR", 0, 4)
	e.Listeners().Listen(listener)

	before := testutil.ToFloat64(e.metrics.connectionsByState.WithLabelValues(StateCI.String()))
	e.NewConnection(nil, nil)
	after := testutil.ToFloat64(e.metrics.connectionsByState.WithLabelValues(StateCI.String()))
	assert.Equal(t, before+1, after)

	seg := append([]byte{0x18}, ciBodyBytes("MIRROR", nil)...)
	e.Receive(seg, RoutingControlBlock{})
	conn, ok := e.Accept(listener, &fakeHooks{}, &fakeSendQueue{}, AcceptOptions{})
	require.True(t, ok)

	assert.Equal(t, float64(0), testutil.ToFloat64(e.metrics.connectionsByState.WithLabelValues(StateCR.String())))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.connectionsByState.WithLabelValues(conn.State().String())))
}
