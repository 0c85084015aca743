// Package ws carries netplay packets between peers over websockets.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"real-pet/battle/internal/net/link"
	"real-pet/battle/internal/net/proto"
	"real-pet/battle/internal/telemetry"
	"real-pet/battle/logging"
	loggingnetplay "real-pet/battle/logging/netplay"
)

const (
	defaultHeartbeatInterval = time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
	defaultReadLimit         = 1 << 16
	defaultQueueSize         = 256
)

// Config tunes a websocket link.
type Config struct {
	// Index is the local player index announced in the Hello packet.
	Index             int
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	ReadLimit         int64
	QueueSize         int
	Logger            telemetry.Logger
	Publisher         logging.Publisher
}

// DefaultConfig returns link settings suitable for a LAN battle.
func DefaultConfig(index int) Config {
	return Config{
		Index:             index,
		HeartbeatInterval: defaultHeartbeatInterval,
		WriteTimeout:      defaultWriteTimeout,
		HandshakeTimeout:  defaultHandshakeTimeout,
		ReadLimit:         defaultReadLimit,
		QueueSize:         defaultQueueSize,
	}
}

func (c Config) normalized() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = telemetry.Discard
	}
	if c.Publisher == nil {
		c.Publisher = logging.NopPublisher()
	}
	return c
}

// Link is a connection to one peer. It satisfies link.Link.
type Link struct {
	conn   *websocket.Conn
	cfg    Config
	remote int

	inbox    chan proto.Packet
	outbox   chan []byte
	done     chan struct{}
	readDone chan struct{}

	stopOnce sync.Once
	reason   string
	wg       sync.WaitGroup
	sent     atomic.Uint64
	received atomic.Uint64
}

var _ link.Link = (*Link)(nil)

// Dial connects to a peer listening at url and completes the handshake.
func Dial(ctx context.Context, url string, cfg Config) (*Link, error) {
	cfg = cfg.normalized()
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial peer %s: %w", url, err)
	}
	l, err := open(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

// open exchanges Hello packets and starts the pumps.
func open(conn *websocket.Conn, cfg Config) (*Link, error) {
	conn.SetReadLimit(cfg.ReadLimit)

	hello, err := proto.Encode(proto.Hello(cfg.Index))
	if err != nil {
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(cfg.HandshakeTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, hello); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(cfg.HandshakeTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	packet, err := proto.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if packet.Kind != proto.KindHello {
		return nil, fmt.Errorf("expected Hello, got %s", packet.Kind)
	}
	if packet.Index == cfg.Index {
		return nil, fmt.Errorf("peer claims local player index %d", packet.Index)
	}

	l := &Link{
		conn:     conn,
		cfg:      cfg,
		remote:   packet.Index,
		inbox:    make(chan proto.Packet, cfg.QueueSize),
		outbox:   make(chan []byte, cfg.QueueSize),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	l.sent.Add(uint64(len(hello)))
	l.received.Add(uint64(len(payload)))

	l.wg.Add(2)
	go l.readPump()
	go l.writePump()
	return l, nil
}

// Remote is the player index the peer announced.
func (l *Link) Remote() int {
	return l.remote
}

// Send queues a packet for the peer. It blocks while the write queue is
// full and fails once the link is closed.
func (l *Link) Send(packet proto.Packet) error {
	data, err := proto.Encode(packet)
	if err != nil {
		return err
	}
	select {
	case <-l.done:
		return link.ErrClosed
	default:
	}
	select {
	case l.outbox <- data:
		return nil
	case <-l.done:
		return link.ErrClosed
	}
}

// TryRecv returns the next received packet without blocking.
func (l *Link) TryRecv() (proto.Packet, bool) {
	select {
	case packet, ok := <-l.inbox:
		return packet, ok
	default:
		return proto.Packet{}, false
	}
}

// Disconnected reports whether the peer is gone and every packet it sent has
// been received.
func (l *Link) Disconnected() bool {
	select {
	case <-l.readDone:
		return len(l.inbox) == 0
	default:
		return false
	}
}

// Close flushes queued packets, shuts the link down and waits for the pumps
// to exit.
func (l *Link) Close() error {
	l.stop("closed locally")
	l.wg.Wait()
	return nil
}

func (l *Link) stop(reason string) {
	l.stopOnce.Do(func() {
		l.reason = reason
		close(l.done)
	})
}

// finish runs once the write pump is done with the connection.
func (l *Link) finish() {
	l.conn.Close()
	loggingnetplay.LinkClosed(context.Background(), l.cfg.Publisher, l.remote, loggingnetplay.LinkClosedPayload{
		Remote:   l.conn.RemoteAddr().String(),
		Sent:     humanize.Bytes(l.sent.Load()),
		Received: humanize.Bytes(l.received.Load()),
		Reason:   l.reason,
	})
}

func (l *Link) readTimeout() time.Duration {
	return 3 * l.cfg.HeartbeatInterval
}

func (l *Link) readPump() {
	defer l.wg.Done()
	defer close(l.readDone)
	defer close(l.inbox)

	reason := "peer closed"
	defer func() { l.stop(reason) }()

	for {
		_ = l.conn.SetReadDeadline(time.Now().Add(l.readTimeout()))
		_, payload, err := l.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
				reason = err.Error()
			}
			return
		}
		l.received.Add(uint64(len(payload)))

		packet, err := proto.Decode(payload)
		if err != nil {
			l.cfg.Logger.Printf("discarding malformed packet from player %d: %v", l.remote, err)
			continue
		}
		select {
		case l.inbox <- packet:
		case <-l.done:
			return
		}
	}
}

func (l *Link) writePump() {
	defer l.wg.Done()
	defer l.finish()

	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()

	heartbeat, err := proto.Encode(proto.Heartbeat(l.cfg.Index))
	if err != nil {
		l.stop(err.Error())
		return
	}

	write := func(data []byte) bool {
		_ = l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
		if err := l.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			l.stop(err.Error())
			return false
		}
		l.sent.Add(uint64(len(data)))
		return true
	}

	for {
		select {
		case data := <-l.outbox:
			if !write(data) {
				return
			}
		case <-ticker.C:
			if !write(heartbeat) {
				return
			}
		case <-l.done:
			l.flush(write)
			return
		}
	}
}

// flush writes whatever is still queued, then the close frame.
func (l *Link) flush(write func([]byte) bool) {
	for {
		select {
		case data := <-l.outbox:
			if !write(data) {
				return
			}
		default:
			deadline := time.Now().Add(l.cfg.WriteTimeout)
			_ = l.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}
