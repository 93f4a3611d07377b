package nsp

import "github.com/prometheus/client_golang/prometheus"

// engineMetrics collects the Prometheus series published by an Engine,
// mirroring the socket-observability style of the go-tcpinfo examples:
// counters named by the error taxonomy of spec §7, plus a connections-by-
// state gauge and ack/martian counters.
type engineMetrics struct {
	segmentsDroppedMalformed  prometheus.Counter
	segmentsDroppedUnknown    prometheus.Counter
	acceptQueueFull           prometheus.Counter
	receiveBufferExhausted    prometheus.Counter
	segmentsDroppedOutOfSeq   prometheus.Counter
	segmentsDroppedTerminal   prometheus.Counter
	connectionsReturnedOwnCI  prometheus.Counter
	connectionsPeerDisconnect prometheus.Counter

	connectionsByState *prometheus.GaugeVec
	acksProcessed      prometheus.Counter
	martianLogged      prometheus.Counter
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	m := &engineMetrics{
		segmentsDroppedMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nsp", Name: "segments_dropped_malformed_total",
			Help: "Inbound segments dropped for truncation or a reserved flag bit.",
		}),
		segmentsDroppedUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nsp", Name: "segments_dropped_unknown_connection_total",
			Help: "Inbound segments addressed to an unknown local link-address.",
		}),
		acceptQueueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nsp", Name: "accept_queue_full_total",
			Help: "Connection-Initiate segments dropped because the listener's accept queue was full.",
		}),
		receiveBufferExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nsp", Name: "receive_buffer_exhausted_total",
			Help: "Payload segments dropped because the connection's receive-buffer budget was exceeded.",
		}),
		segmentsDroppedOutOfSeq: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nsp", Name: "segments_dropped_out_of_sequence_total",
			Help: "Data or other-data segments dropped for not matching the expected sequence number.",
		}),
		segmentsDroppedTerminal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nsp", Name: "segments_dropped_terminal_connection_total",
			Help: "Inbound segments dropped because their connection had already reached a terminal state.",
		}),
		connectionsReturnedOwnCI: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nsp", Name: "connections_returned_own_ci_total",
			Help: "Connections terminated because routing returned our own Connection-Initiate.",
		}),
		connectionsPeerDisconnect: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nsp", Name: "connections_peer_disconnect_total",
			Help: "Connections terminated by a peer-initiated disconnect.",
		}),
		connectionsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nsp", Name: "connections_by_state",
			Help: "Current connection count by FSM state.",
		}, []string{"state"}),
		acksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nsp", Name: "acks_processed_total",
			Help: "Subchannel ack watermark advances from inbound piggyback acks, counted once per subchannel per segment.",
		}),
		martianLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nsp", Name: "martians_logged_total",
			Help: "Malformed inbound segments logged (after rate-limiting).",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.segmentsDroppedMalformed,
			m.segmentsDroppedUnknown,
			m.acceptQueueFull,
			m.receiveBufferExhausted,
			m.segmentsDroppedOutOfSeq,
			m.segmentsDroppedTerminal,
			m.connectionsReturnedOwnCI,
			m.connectionsPeerDisconnect,
			m.connectionsByState,
			m.acksProcessed,
			m.martianLogged,
		)
	}
	return m
}
