package nsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeClassTable(t *testing.T) {
	cases := []struct {
		name  string
		flags uint8
		class MsgClass
	}{
		{"nop", 0x08, MsgNOP},
		{"ci", 0x18, MsgConnectInitiate},
		{"ci-retrans", 0x68, MsgConnectInitiate},
		{"cc", 0x28, MsgConnectConfirm},
		{"di", 0x38, MsgDisconnectInitiate},
		{"dc", 0x48, MsgDisconnectConfirm},
		{"reserved-50", 0x58, MsgReserved},
		{"reserved-70", 0x78, MsgReserved},
		{"connack", 0x24, MsgConnectAck},
		{"data", 0x00, MsgData},
		{"link-service", 0x10, MsgLinkService},
		{"other-data", 0x30, MsgOtherData},
		{"pure-ack", 0x04, MsgPureAck},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class, flags, err := DecodeClass([]byte{tc.flags, 0, 0, 0, 0})
			assert.NoError(t, err)
			assert.Equal(t, tc.flags, flags)
			assert.Equal(t, tc.class, class)
		})
	}
}

func TestDecodeClassReservedBitsRejected(t *testing.T) {
	for _, flags := range []uint8{0x81, 0x02, 0x80} {
		class, _, err := DecodeClass([]byte{flags})
		assert.NoError(t, err)
		assert.Equal(t, MsgUnknown, class)
	}
}

func TestDecodeClassTruncated(t *testing.T) {
	_, _, err := DecodeClass(nil)
	assert.Error(t, err)
}

func TestDecodeCommonHeader(t *testing.T) {
	// dst=0x0202, src=0x0101
	buf := []byte{0x00, 0x02, 0x02, 0x01, 0x01, 'h', 'i'}
	cb, rest, err := DecodeCommonHeader(buf, MsgData, 0x00)
	assert.NoError(t, err)
	assert.EqualValues(t, 0x0202, cb.DstPort)
	assert.EqualValues(t, 0x0101, cb.SrcPort)
	assert.True(t, cb.HasSrc)
	assert.Equal(t, []byte("hi"), rest)
}

func TestDecodeCommonHeaderBareConnAckHasNoSrc(t *testing.T) {
	buf := []byte{0x24, 0x02, 0x02}
	cb, rest, err := DecodeCommonHeader(buf, MsgConnectAck, 0x24)
	assert.NoError(t, err)
	assert.False(t, cb.HasSrc)
	assert.Empty(t, rest)
}

func TestDecodeCommonHeaderTruncated(t *testing.T) {
	_, _, err := DecodeCommonHeader([]byte{0x00, 0x01}, MsgData, 0x00)
	assert.Error(t, err)

	_, _, err = DecodeCommonHeader([]byte{0x00, 0x01, 0x02, 0x03}, MsgData, 0x00)
	assert.Error(t, err)
}
