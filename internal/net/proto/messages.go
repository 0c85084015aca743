package proto

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// Version tracks the wire-protocol revision expected by peers.
	Version = 1
)

// Kind identifies a netplay packet.
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindReady
	KindInput
	KindHeartbeat
	KindDisconnected
	KindAllDisconnected
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "Hello"
	case KindReady:
		return "Ready"
	case KindInput:
		return "Input"
	case KindHeartbeat:
		return "Heartbeat"
	case KindDisconnected:
		return "Disconnected"
	case KindAllDisconnected:
		return "AllDisconnected"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Packet is one netplay message. Pressed and BufferSizes are only meaningful
// for Input packets; BufferSizes[i] is the sender's buffer depth for player i
// and is used for flow control only.
type Packet struct {
	Kind        Kind
	Index       int
	Pressed     []uint8
	BufferSizes []int
}

// Input builds an Input packet.
func Input(index int, pressed []uint8, bufferSizes []int) Packet {
	return Packet{Kind: KindInput, Index: index, Pressed: pressed, BufferSizes: bufferSizes}
}

// Heartbeat builds a keep-alive packet.
func Heartbeat(index int) Packet {
	return Packet{Kind: KindHeartbeat, Index: index}
}

// Hello announces the sender's player index when a link opens.
func Hello(index int) Packet {
	return Packet{Kind: KindHello, Index: index}
}

// AllDisconnected tells a peer that every other peer has gone away.
func AllDisconnected() Packet {
	return Packet{Kind: KindAllDisconnected}
}

type envelope struct {
	Ver         int     `msgpack:"ver"`
	Kind        Kind    `msgpack:"kind"`
	Index       int     `msgpack:"index"`
	Pressed     []uint8 `msgpack:"pressed,omitempty"`
	BufferSizes []int   `msgpack:"bufferSizes,omitempty"`
}

// Encode renders a packet for the wire.
func Encode(packet Packet) ([]byte, error) {
	data, err := msgpack.Marshal(envelope{
		Ver:         Version,
		Kind:        packet.Kind,
		Index:       packet.Index,
		Pressed:     packet.Pressed,
		BufferSizes: packet.BufferSizes,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s packet: %w", packet.Kind, err)
	}
	return data, nil
}

// Decode parses a wire packet. Unknown kinds decode successfully so the
// receiver can log them; a version mismatch or negative index is an error.
func Decode(data []byte) (Packet, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Packet{}, fmt.Errorf("decode packet: %w", err)
	}
	if env.Ver != Version {
		return Packet{}, fmt.Errorf("unsupported netplay protocol version %d", env.Ver)
	}
	if env.Index < 0 {
		return Packet{}, fmt.Errorf("invalid player index %d", env.Index)
	}
	return Packet{
		Kind:        env.Kind,
		Index:       env.Index,
		Pressed:     env.Pressed,
		BufferSizes: env.BufferSizes,
	}, nil
}
