package nsp

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Jarek-Egger/godecnet/internal/ratelimit"
)

// martianLogger emits rate-limited diagnostics for malformed inbound
// segments, per spec §4.7. It is a thin wrapper over logrus, matching the
// teacher's own logging style.
type martianLogger struct {
	enabled bool
	limiter *ratelimit.Limiter
	log     *log.Logger
}

func newMartianLogger(enabled bool, logger *log.Logger) *martianLogger {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &martianLogger{
		enabled: enabled,
		limiter: ratelimit.New(10, time.Second),
		log:     logger,
	}
}

// Log emits one martian diagnostic line if logging is enabled and the rate
// limiter allows it, including device/node/link-address fields decoded in
// little-endian form, per spec §4.7.
func (m *martianLogger) Log(device string, srcNode, dstNode uint16, srcAddr, dstAddr uint16, reason string) {
	if m == nil || !m.enabled {
		return
	}
	if !m.limiter.Allow() {
		return
	}
	m.log.WithFields(log.Fields{
		"device":   device,
		"src_node": srcNode,
		"dst_node": dstNode,
		"src_addr": srcAddr,
		"dst_addr": dstAddr,
		"reason":   reason,
	}).Warn("nsp: martian segment")
}
