package nsp

import "encoding/binary"

// MsgClass classifies an inbound NSP segment by its flags byte, per
// spec §4.1.
type MsgClass uint8

const (
	MsgUnknown MsgClass = iota
	MsgNOP
	MsgConnectInitiate
	MsgConnectConfirm
	MsgDisconnectInitiate
	MsgDisconnectConfirm
	MsgReserved
	MsgConnectAck
	MsgData
	MsgLinkService
	MsgOtherData
	MsgPureAck
)

const (
	flagsReservedMask = 0x83
	flagsClassMask    = 0x0C
	flagsSubMask      = 0x70
	flagsBareConnAck  = 0x24
	flagClassControl  = 0x08
	flagClassAck      = 0x04

	subCI       = 0x10
	subCIRetr   = 0x60
	subCC       = 0x20
	subDI       = 0x30
	subDC       = 0x40
	subReserved1 = 0x50
	subReserved2 = 0x70

	subLS   = 0x10
	subOth  = 0x30
)

// truncatedError is returned by field pulls that ran off the end of the
// buffer.
type truncatedError struct{ field string }

func (e *truncatedError) Error() string { return "nsp: truncated segment: " + e.field }

// ControlBlock carries the decoded header fields of an inbound segment,
// the sidecar described in spec §3's "Segment (inbound buffer)" entity.
type ControlBlock struct {
	Class     MsgClass
	NSPFlags  uint8
	DstPort   uint16
	SrcPort   uint16
	HasSrc    bool
	Retrans   bool // CI-class with the 0x60 retransmit subtype

	// Connection-Initiate header fields. DecodeCommonHeader does not set
	// them; a CI body is decoded into ciBody (listener.go) instead.
	Services uint8
	Info     uint8
	Segsize  uint16

	// Routing-layer sidecar, populated by the caller from the routing
	// control block (spec §6).
	ReturnedToSender bool
	IntraEthernet    bool
	RouteKey         uint32
}

// DecodeClass extracts nsp_flags from buf and classifies the segment per
// the table in spec §4.1. It does not pull any further fields.
func DecodeClass(buf []byte) (MsgClass, uint8, error) {
	if len(buf) < 1 {
		return MsgUnknown, 0, &truncatedError{"nsp_flags"}
	}
	flags := buf[0]
	if flags&flagsReservedMask != 0 {
		return MsgUnknown, flags, nil
	}
	if flags == flagsBareConnAck {
		return MsgConnectAck, flags, nil
	}
	switch flags & flagsClassMask {
	case flagClassControl:
		switch flags & flagsSubMask {
		case 0x00:
			return MsgNOP, flags, nil
		case subCI:
			return MsgConnectInitiate, flags, nil
		case subCIRetr:
			return MsgConnectInitiate, flags, nil
		case subCC:
			return MsgConnectConfirm, flags, nil
		case subDI:
			return MsgDisconnectInitiate, flags, nil
		case subDC:
			return MsgDisconnectConfirm, flags, nil
		default:
			return MsgReserved, flags, nil
		}
	case flagClassAck:
		return MsgPureAck, flags, nil
	default: // 0x00: data-class
		switch flags & flagsSubMask {
		case 0x00:
			return MsgData, flags, nil
		case subLS:
			return MsgLinkService, flags, nil
		case subOth:
			return MsgOtherData, flags, nil
		default:
			return MsgReserved, flags, nil
		}
	}
}

// DecodeCommonHeader decodes the common, non-CI header per spec §6: the
// 1-byte flags were already read by DecodeClass; this pulls dst_port and,
// unless the message is a bare connack, src_port. buf must still start at
// byte 0 (the flags byte).
func DecodeCommonHeader(buf []byte, class MsgClass, flags uint8) (cb ControlBlock, rest []byte, err error) {
	cb.Class = class
	cb.NSPFlags = flags
	cb.Retrans = class == MsgConnectInitiate && flags&flagsSubMask == subCIRetr

	if len(buf) < 3 {
		return cb, nil, &truncatedError{"dst_port"}
	}
	cb.DstPort = binary.LittleEndian.Uint16(buf[1:3])
	off := 3

	if flags == flagsBareConnAck {
		return cb, buf[off:], nil
	}

	if len(buf) < off+2 {
		return cb, nil, &truncatedError{"src_port"}
	}
	cb.SrcPort = binary.LittleEndian.Uint16(buf[off : off+2])
	cb.HasSrc = true
	off += 2

	return cb, buf[off:], nil
}
