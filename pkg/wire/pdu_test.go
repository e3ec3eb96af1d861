package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPDUEncodeDecodeRoundTrip(t *testing.T) {
	pdu := New(TypeRequest, "alice", "sig:abc", "show version", "sys.os=Linux")
	msg := Encode(pdu)

	got, err := Decode(msg)
	require.NoError(t, err)
	require.Equal(t, TypeRequest, got.Type)
	require.Equal(t, "alice", got.Str(0))
	require.Equal(t, "sig:abc", got.Str(1))
	require.Equal(t, "show version", got.Str(2))
	require.Equal(t, "sys.os=Linux", got.Str(3))
}

func TestPDUEncodeDecodeOpaqueBytes(t *testing.T) {
	block := []byte{0x00, 0x01, 0xFF, 0x10, 0x00}
	pdu := PDU{Type: TypeBlock, Parts: [][]byte{block}}
	got, err := Decode(Encode(pdu))
	require.NoError(t, err)
	require.Equal(t, TypeBlock, got.Type)
	require.Equal(t, block, got.Parts[0])
}

func TestPDUDecodeRejectsTruncated(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x00, 0x00})
	require.Error(t, err)
}

func TestPDUDecodeRejectsEmpty(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
}

func TestPDUStrOutOfRangeReturnsEmpty(t *testing.T) {
	pdu := New(TypeDone)
	require.Equal(t, "", pdu.Str(0))
	require.Equal(t, "", pdu.Str(-1))
}
