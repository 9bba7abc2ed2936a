// Package cdpserver is the Chrome DevTools Protocol websocket listener
// (§4.4). Each accepted connection is one CDP client, potentially with many
// attached sessions; the server itself holds no session state; that lives
// entirely in the Identifier Registry behind the Session Router.
package cdpserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ajsharma/brop-bridge/internal/ids"
	"github.com/ajsharma/brop-bridge/internal/router"
	"github.com/ajsharma/brop-bridge/internal/wire"
)

// Router is the subset of *router.Router the server depends on.
type Router interface {
	RegisterClient(sink router.ClientSink)
	UnregisterClient(clientID ids.ClientID)
	HandleRequest(ctx context.Context, clientID ids.ClientID, req wire.Request) wire.Response
}

// Server accepts CDP client connections on one port.
type Server struct {
	rt            Router
	highWatermark int
	upgrader      websocket.Upgrader
}

// New constructs a CDP Server. highWatermark bounds each connection's
// outbound event queue (§5: client_event_high_watermark); past it, events
// are dropped (logged by the router) while responses instead disconnect the
// client (§5).
func New(rt Router, highWatermark int) *Server {
	return &Server{
		rt:            rt,
		highWatermark: highWatermark,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler, upgrading the connection and blocking
// until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("cdpserver: upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &clientConn{
		id:     ids.NewClientID(),
		conn:   conn,
		send:   make(chan []byte, s.highWatermark),
		closed: make(chan struct{}),
		cancel: cancel,
	}

	s.rt.RegisterClient(c)
	defer s.rt.UnregisterClient(c.id)

	go c.writeLoop()
	s.readLoop(ctx, c)
}

func (s *Server) readLoop(ctx context.Context, c *clientConn) {
	defer c.Close("connection closed")

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req wire.CDPRequest
		if err := json.Unmarshal(data, &req); err != nil {
			// No reliable id to answer a totally malformed frame with;
			// drop it (mirrors extconn's readLoop policy for the
			// extension's own frames).
			continue
		}

		// The router echoes req.SessionID onto every response it builds
		// (§4.4.2); the server only has to relay whatever comes back.
		go func(req wire.CDPRequest) {
			resp := s.rt.HandleRequest(ctx, c.id, wire.FromCDP(req))
			c.DeliverResponse(resp)
		}(req)
	}
}

// clientConn implements router.ClientSink on top of one accepted websocket
// connection (§9: a cooperative reader/writer pair per connection,
// communicating through the send channel only).
type clientConn struct {
	id     ids.ClientID
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}

	closeOnce sync.Once
	cancel    context.CancelFunc
}

func (c *clientConn) ID() ids.ClientID      { return c.id }
func (c *clientConn) Dialect() wire.Dialect { return wire.CDP }

func (c *clientConn) DeliverResponse(resp wire.Response) {
	data, err := json.Marshal(resp.ToCDPResponse())
	if err != nil {
		return
	}
	c.enqueue(data, true)
}

func (c *clientConn) DeliverEvent(ev wire.CDPEvent) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return c.enqueue(data, false)
}

func (c *clientConn) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		_ = c.conn.Close()
	})
}

// enqueue writes a frame to the outbound channel without blocking. A full
// channel means the connection isn't keeping up. An event (mustDeliver
// false) is simply dropped, letting the caller (the router) log a
// backpressure CallLog entry; a response is never dropped (§5) — instead
// the whole connection is torn down as misbehaving.
func (c *clientConn) enqueue(data []byte, mustDeliver bool) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		if mustDeliver {
			c.Close("outbound queue overflow")
		}
		return false
	}
}

func (c *clientConn) writeLoop() {
	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close("write error")
				return
			}
		case <-c.closed:
			return
		}
	}
}
