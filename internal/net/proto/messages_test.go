package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestInputPacketRoundTrip(t *testing.T) {
	packet := Input(1, []uint8{0, 4}, []int{3, 0})

	data, err := Encode(packet)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, KindInput, decoded.Kind)
	require.Equal(t, 1, decoded.Index)
	require.Equal(t, []uint8{0, 4}, decoded.Pressed)
	require.Equal(t, []int{3, 0}, decoded.BufferSizes)
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	data, err := msgpack.Marshal(envelope{Ver: Version + 1, Kind: KindHeartbeat})
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported netplay protocol version")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xc1})
	require.Error(t, err)
}

func TestDecodeKeepsUnknownKinds(t *testing.T) {
	data, err := Encode(Packet{Kind: Kind(42), Index: 2})
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, Kind(42), decoded.Kind)
	require.Equal(t, "Kind(42)", decoded.Kind.String())
}

func TestEmptyInputKeepsNoPressed(t *testing.T) {
	data, err := Encode(Input(0, nil, []int{1}))
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Empty(t, decoded.Pressed)
	require.Equal(t, []int{1}, decoded.BufferSizes)
}
