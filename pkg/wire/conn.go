package wire

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is one peer connection carrying framed PDUs over a websocket:
// the router/publisher duplex sockets the mesh server and agent
// exchange PDUs over.
type Conn struct {
	ws *websocket.Conn
	// ID is an opaque per-connection identity (the router socket's peer
	// id).
	ID string
}

// Accept upgrades an inbound HTTP request to a Conn; used by the mesh
// server's listener for both operator and agent connections.
func Accept(w http.ResponseWriter, r *http.Request, id string) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket upgrade: %v", errdefs.ErrUnavailable, err)
	}
	return &Conn{ws: ws, ID: id}, nil
}

// Dial connects to a peer's websocket endpoint; used by agents to reach
// the mesh server and the policy master.
func Dial(ctx context.Context, url string, id string) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial %s: %v", errdefs.ErrUnavailable, url, err)
	}
	return &Conn{ws: ws, ID: id}, nil
}

// Send writes one PDU as a single binary websocket message.
func (c *Conn) Send(pdu PDU) error {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, Encode(pdu)); err != nil {
		return fmt.Errorf("%w: pdu send: %v", errdefs.ErrUnavailable, err)
	}
	return nil
}

// Recv blocks until the next inbound PDU or a connection error.
func (c *Conn) Recv() (PDU, error) {
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return PDU{}, fmt.Errorf("%w: pdu recv: %v", errdefs.ErrUnavailable, err)
	}
	return Decode(msg)
}

// SetDeadline bounds the next Recv/Send pair, used for the configurable
// server-bound VM call timeout.
func (c *Conn) SetDeadline(d time.Duration) error {
	deadline := time.Now().Add(d)
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(deadline)
}

// Close closes the underlying websocket connection.
func (c *Conn) Close() error { return c.ws.Close() }
