package nsp

import (
	log "github.com/sirupsen/logrus"
	"github.com/rs/xid"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine is the top-level NSP receive engine: it owns the connection
// table, listener registry, configuration, and the out-of-scope
// collaborators (router, timer scheduler), and is the entry point from the
// routing layer (spec §4.6's TopDispatcher).
type Engine struct {
	config    Config
	table     *ConnectionTable
	listeners *ListenerTable
	router    Router
	scheduler TimerScheduler
	metrics   *engineMetrics
	martian   *martianLogger
	log       *log.Logger
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithRouter wires the routing-layer collaborator used to emit replies.
func WithRouter(r Router) EngineOption {
	return func(e *Engine) { e.router = r }
}

// WithScheduler wires the timer-wheel collaborator.
func WithScheduler(s TimerScheduler) EngineOption {
	return func(e *Engine) { e.scheduler = s }
}

// WithMetricsRegisterer registers the engine's Prometheus collectors
// against reg instead of the default registry.
func WithMetricsRegisterer(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) { e.metrics = newEngineMetrics(reg) }
}

// WithLogger overrides the logrus logger used for martian diagnostics.
func WithLogger(l *log.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// NewEngine constructs an Engine from the given configuration.
func NewEngine(cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		config:    cfg,
		table:     NewConnectionTable(),
		listeners: NewListenerTable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = newEngineMetrics(nil)
	}
	e.martian = newMartianLogger(cfg.LogMartians, e.log)
	return e
}

// Listeners returns the engine's listener registry, for Listen/Unlisten.
func (e *Engine) Listeners() *ListenerTable { return e.listeners }

// Table returns the engine's connection table.
func (e *Engine) Table() *ConnectionTable { return e.table }

// NewConnection allocates a Connection in StateCI (outbound) and inserts it
// into the table, wiring the given hooks and send queue.
func (e *Engine) NewConnection(hooks Hooks, sendQueue SendQueue) *Connection {
	if hooks == nil {
		hooks = noopHooks{}
	}
	if sendQueue == nil {
		sendQueue = noopSendQueue{}
	}
	conn := &Connection{
		ID:        xid.New(),
		state:     StateCI,
		hooks:     hooks,
		sendQueue: sendQueue,
		rcvbuf:    e.config.Segbufsize * 8,
	}
	conn.bindQueues()
	e.table.Insert(conn)
	e.metrics.connectionsByState.WithLabelValues(StateCI.String()).Inc()
	return conn
}

// AcceptOptions carries the local side of a Connect-Confirm reply: the
// services/info bytes and optional piggyback user data we advertise back
// to the peer (spec §4.2's accept path, continued past the listener's
// accept queue).
type AcceptOptions struct {
	Services uint8
	Info     uint8
	UserData []byte
}

// newInboundConnection allocates a Connection for an accepted
// Connection-Initiate in StateCR: the connection exists and is reachable
// by local address, but no Connect-Confirm has been sent yet (spec §4.4,
// "CR: Connect-Request received, awaiting accept").
func (e *Engine) newInboundConnection(body *ciBody, hooks Hooks, sendQueue SendQueue) *Connection {
	if hooks == nil {
		hooks = noopHooks{}
	}
	if sendQueue == nil {
		sendQueue = noopSendQueue{}
	}
	conn := &Connection{
		ID:          xid.New(),
		state:       StateCR,
		remoteAddr:  body.SrcPort,
		servicesRem: body.Services,
		infoRem:     body.Info,
		segsizeRem:  body.Segsize,
		fcType:      fcTypeFromInfo(body.Info),
		hooks:       hooks,
		sendQueue:   sendQueue,
		rcvbuf:      e.config.Segbufsize * 8,
	}
	if body.UserData != nil {
		conn.connectData.set(body.UserData)
	}
	if conn.fcType == FCNone {
		conn.flowremDat = e.config.NoFCMaxCwnd
		conn.flowremOth = e.config.NoFCMaxCwnd
	}
	conn.bindQueues()
	e.table.Insert(conn)
	e.metrics.connectionsByState.WithLabelValues(StateCR.String()).Inc()
	return conn
}

// Accept promotes a listener's oldest pending Connection-Initiate into a
// running inbound Connection: it allocates the Connection (StateCR),
// replies with a Connect-Confirm, and advances it to StateCC, from where
// the first data/ack frame on the connection promotes it to StateRUN
// (fsm.go's promoteOnTraffic). It reports false if the listener's accept
// queue was empty.
func (e *Engine) Accept(listener *Listener, hooks Hooks, sendQueue SendQueue, opts AcceptOptions) (*Connection, bool) {
	body, ok := listener.Accept()
	if !ok {
		return nil, false
	}
	conn := e.newInboundConnection(body, hooks, sendQueue)
	conn.backlog.Run(func() {
		e.confirmAccept(conn, opts)
	})
	return conn, true
}
