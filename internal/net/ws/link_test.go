package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"real-pet/battle/internal/net/link"
	"real-pet/battle/internal/net/proto"
	"real-pet/battle/logging"
	loggingnetplay "real-pet/battle/logging/netplay"
)

func websocketURL(baseURL string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http")
}

type capturedEvents struct {
	mu     sync.Mutex
	events []logging.Event
}

func (c *capturedEvents) Publish(_ context.Context, event logging.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capturedEvents) linkClosed() []loggingnetplay.LinkClosedPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []loggingnetplay.LinkClosedPayload
	for _, event := range c.events {
		if payload, ok := event.Payload.(loggingnetplay.LinkClosedPayload); ok {
			out = append(out, payload)
		}
	}
	return out
}

func connectPair(t *testing.T, hostEvents, guestEvents logging.Publisher) (*Link, *Link) {
	t.Helper()

	hostCfg := DefaultConfig(0)
	hostCfg.Publisher = hostEvents
	acceptor := NewAcceptor(hostCfg)
	srv := httptest.NewServer(http.HandlerFunc(acceptor.Handle))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	guestCfg := DefaultConfig(1)
	guestCfg.Publisher = guestEvents
	guest, err := Dial(ctx, websocketURL(srv.URL), guestCfg)
	require.NoError(t, err)

	host, err := acceptor.Accept(ctx)
	require.NoError(t, err)

	t.Cleanup(func() {
		guest.Close()
		host.Close()
	})
	return host, guest
}

// recvNonHeartbeat polls until a packet other than a heartbeat arrives.
func recvNonHeartbeat(t *testing.T, l *Link) proto.Packet {
	t.Helper()
	var got proto.Packet
	require.Eventually(t, func() bool {
		for {
			packet, ok := l.TryRecv()
			if !ok {
				return false
			}
			if packet.Kind != proto.KindHeartbeat {
				got = packet
				return true
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestHandshakeExchangesPlayerIndices(t *testing.T) {
	host, guest := connectPair(t, nil, nil)

	require.Equal(t, 1, host.Remote())
	require.Equal(t, 0, guest.Remote())
	require.False(t, host.Disconnected())
	require.False(t, guest.Disconnected())
}

func TestPacketsArriveInOrder(t *testing.T) {
	host, guest := connectPair(t, nil, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, guest.Send(proto.Input(1, []uint8{uint8(i)}, []int{i, 0})))
	}
	for i := 0; i < 5; i++ {
		packet := recvNonHeartbeat(t, host)
		require.Equal(t, proto.KindInput, packet.Kind)
		require.Equal(t, 1, packet.Index)
		require.Equal(t, []uint8{uint8(i)}, packet.Pressed)
		require.Equal(t, []int{i, 0}, packet.BufferSizes)
	}
}

func TestPeerCloseDisconnectsAfterDrain(t *testing.T) {
	hostEvents := &capturedEvents{}
	guestEvents := &capturedEvents{}
	host, guest := connectPair(t, hostEvents, guestEvents)

	require.NoError(t, guest.Send(proto.Input(1, []uint8{3}, []int{1, 0})))
	require.NoError(t, guest.Send(proto.AllDisconnected()))
	require.NoError(t, guest.Close())
	require.ErrorIs(t, guest.Send(proto.Heartbeat(1)), link.ErrClosed)

	require.Eventually(t, func() bool {
		select {
		case <-host.readDone:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	require.False(t, host.Disconnected(), "queued packets must be drained first")
	require.Equal(t, proto.KindInput, recvNonHeartbeat(t, host).Kind)
	require.Equal(t, proto.KindAllDisconnected, recvNonHeartbeat(t, host).Kind)
	require.True(t, host.Disconnected())

	closed := guestEvents.linkClosed()
	require.Len(t, closed, 1)
	require.Equal(t, "closed locally", closed[0].Reason)
	require.NotEqual(t, "0 B", closed[0].Sent)

	require.Eventually(t, func() bool {
		return len(hostEvents.linkClosed()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAcceptorRejectsBadHandshake(t *testing.T) {
	acceptor := NewAcceptor(DefaultConfig(0))
	srv := httptest.NewServer(http.HandlerFunc(acceptor.Handle))
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(srv.URL), nil)
	if resp != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Claim the host's own index.
	hello, err := proto.Encode(proto.Hello(0))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, hello))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	packet, err := proto.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, proto.KindHello, packet.Kind)

	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "expected policy close, got %v", err)

	select {
	case l := <-acceptor.Links():
		t.Fatalf("expected no link, got one for player %d", l.Remote())
	default:
	}
}

func TestMalformedPacketsAreSkipped(t *testing.T) {
	acceptor := NewAcceptor(DefaultConfig(0))
	srv := httptest.NewServer(http.HandlerFunc(acceptor.Handle))
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(srv.URL), nil)
	if resp != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello, err := proto.Encode(proto.Hello(1))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, hello))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	host, err := acceptor.Accept(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { host.Close() })

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("not msgpack")))
	input, err := proto.Encode(proto.Input(1, []uint8{9}, []int{0, 1}))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, input))

	packet := recvNonHeartbeat(t, host)
	require.Equal(t, []uint8{9}, packet.Pressed)
}
