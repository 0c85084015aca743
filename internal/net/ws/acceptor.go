package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// Acceptor upgrades incoming peer connections into links.
type Acceptor struct {
	cfg      Config
	upgrader websocket.Upgrader
	links    chan *Link
}

// NewAcceptor creates an acceptor that hands out links announcing cfg.Index.
func NewAcceptor(cfg Config) *Acceptor {
	cfg = cfg.normalized()
	return &Acceptor{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		links: make(chan *Link, 8),
	}
}

// Handle is the http handler peers connect to.
func (a *Acceptor) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.cfg.Logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	l, err := open(conn, a.cfg)
	if err != nil {
		a.cfg.Logger.Printf("handshake failed for %s: %v", r.RemoteAddr, err)
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "handshake failed")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}
	select {
	case a.links <- l:
	case <-r.Context().Done():
		l.Close()
	}
}

// Links delivers handshaken links in accept order.
func (a *Acceptor) Links() <-chan *Link {
	return a.links
}

// Accept waits for the next link.
func (a *Acceptor) Accept(ctx context.Context) (*Link, error) {
	select {
	case l := <-a.links:
		return l, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
