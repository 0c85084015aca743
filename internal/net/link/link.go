// Package link defines how a battle scene exchanges packets with its peers.
package link

import (
	"errors"
	"sync"

	"real-pet/battle/internal/net/proto"
)

// ErrClosed is returned when sending on a closed link.
var ErrClosed = errors.New("link closed")

// Sender delivers packets to one peer.
type Sender interface {
	Send(packet proto.Packet) error
}

// Receiver hands packets from one peer to the scene. TryRecv never blocks.
// Disconnected reports true once the peer is gone and every packet it sent
// has been received.
type Receiver interface {
	TryRecv() (proto.Packet, bool)
	Disconnected() bool
}

// Link is a bidirectional connection to one peer.
type Link interface {
	Sender
	Receiver
	Close() error
}

// mailbox is an unbounded packet queue shared by two pipe ends.
type mailbox struct {
	mu      sync.Mutex
	packets []proto.Packet
	closed  bool
}

func (m *mailbox) push(packet proto.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.packets = append(m.packets, packet)
	return nil
}

func (m *mailbox) pop() (proto.Packet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.packets) == 0 {
		return proto.Packet{}, false
	}
	packet := m.packets[0]
	m.packets[0] = proto.Packet{}
	m.packets = m.packets[1:]
	return packet, true
}

func (m *mailbox) drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed && len(m.packets) == 0
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// PipeEnd is one side of an in-memory link.
type PipeEnd struct {
	in  *mailbox
	out *mailbox
}

// Pipe returns two connected in-memory link ends. Packets are delivered in
// order and never dropped.
func Pipe() (*PipeEnd, *PipeEnd) {
	ab := &mailbox{}
	ba := &mailbox{}
	return &PipeEnd{in: ba, out: ab}, &PipeEnd{in: ab, out: ba}
}

func (p *PipeEnd) Send(packet proto.Packet) error {
	return p.out.push(packet)
}

func (p *PipeEnd) TryRecv() (proto.Packet, bool) {
	return p.in.pop()
}

func (p *PipeEnd) Disconnected() bool {
	return p.in.drained()
}

// Close stops both directions. The peer observes Disconnected after it has
// drained what was already sent.
func (p *PipeEnd) Close() error {
	p.out.close()
	p.in.close()
	return nil
}
