package websocket

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 125, 126, 65535, 65536} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}

		head, body := EncodeFrame(payload, OpBinary, false)
		require.Equal(t, payload, body)

		frame := append(append([]byte{}, head...), body...)
		h, need := ParseHeader(frame)
		require.Zero(t, need)
		require.True(t, h.FIN)
		require.Equal(t, OpBinary, h.Opcode)
		require.False(t, h.Masked)
		require.Equal(t, size, h.PayloadLen)
		require.Equal(t, len(head), h.HeaderLen)
		require.Equal(t, payload, frame[h.HeaderLen:])
	}
}

func TestEncodeMasked(t *testing.T) {
	payload := []byte("ping")
	head, body := EncodeFrame(payload, OpText, true)
	require.NotEqual(t, payload, body) // masked copy, all-zero key is 1/2^32
	require.Equal(t, []byte("ping"), payload, "payload must not be mutated")

	frame := append(append([]byte{}, head...), body...)
	h, need := ParseHeader(frame)
	require.Zero(t, need)
	require.True(t, h.Masked)
	require.Equal(t, 4, h.PayloadLen)

	unmasked := append([]byte{}, frame[h.HeaderLen:]...)
	MaskBytes(h.MaskKey, unmasked)
	require.Equal(t, payload, unmasked)
}

func TestParseHeaderNeedMore(t *testing.T) {
	payload := make([]byte, 300)
	head, _ := EncodeFrame(payload, OpBinary, false)
	require.Equal(t, 4, len(head))

	_, need := ParseHeader(head[:1])
	require.Equal(t, 1, need)

	_, need = ParseHeader(head[:2])
	require.Equal(t, 2, need)

	h, need := ParseHeader(head)
	require.Zero(t, need)
	require.Equal(t, 300, h.PayloadLen)
}

func TestFormatClosePayload(t *testing.T) {
	p := FormatClosePayload(CloseNormal, []byte("bye"))
	require.Equal(t, 5, len(p))
	require.Equal(t, CloseNormal, binary.BigEndian.Uint16(p))
	require.Equal(t, "bye", string(p[2:]))
}

func TestAcceptKey(t *testing.T) {
	// Known vector from RFC 6455 section 1.3.
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestChallengeKey(t *testing.T) {
	k1, err := ChallengeKey()
	require.NoError(t, err)
	k2, err := ChallengeKey()
	require.NoError(t, err)
	require.Equal(t, 24, len(k1))
	require.NotEqual(t, k1, k2)
}
