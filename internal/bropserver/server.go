// Package bropserver is the BROP websocket listener (§4.3). It has no
// session concept: every accepted connection is a single ClientSink that
// forwards decoded requests straight to the Session Router and relays
// whatever it hands back.
package bropserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ajsharma/brop-bridge/internal/bridgeerr"
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

// Server accepts BROP client connections on one port.
type Server struct {
	rt            Router
	highWatermark int
	upgrader      websocket.Upgrader
}

// New constructs a BROP Server. highWatermark bounds each connection's
// outbound queue depth (§5: client_event_high_watermark); BROP responses
// never get dropped for backpressure, but the BROP dialect has no events to
// drop in the first place (§4.3 has no event stream), so the watermark only
// protects a connection against an unread response queue.
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
		log.Printf("bropserver: upgrade failed: %v", err)
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

		var req wire.BROPRequest
		if err := json.Unmarshal(data, &req); err != nil {
			// Malformed frame carries no reliable id to answer with; drop
			// it rather than guess (mirrors extconn's readLoop policy).
			continue
		}
		if err := req.Normalize(); err != nil {
			c.DeliverResponse(wire.NewErrorResponse(wire.BROP, req.ID, "", bridgeerr.FromError(err)))
			continue
		}

		go func(req wire.BROPRequest) {
			resp := s.rt.HandleRequest(ctx, c.id, wire.FromBROP(req))
			c.DeliverResponse(resp)
		}(req)
	}
}

// clientConn implements router.ClientSink on top of one accepted websocket
// connection. Reader and writer run as a cooperative pair: ServeHTTP's
// goroutine is the reader, writeLoop is a second goroutine, and the two
// communicate only via the send channel (§9).
type clientConn struct {
	id     ids.ClientID
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}

	closeOnce sync.Once
	cancel    context.CancelFunc
}

func (c *clientConn) ID() ids.ClientID      { return c.id }
func (c *clientConn) Dialect() wire.Dialect { return wire.BROP }

func (c *clientConn) DeliverResponse(resp wire.Response) {
	data, err := json.Marshal(resp.ToBROPResponse())
	if err != nil {
		return
	}
	c.enqueue(data, true)
}

// DeliverEvent is unreachable in practice: the router never addresses
// events to a BROP ClientSink, since BROP has no session/event model
// (§4.3). Implemented to satisfy the interface and to fail safe (report the
// frame undeliverable) rather than panic if that ever changes.
func (c *clientConn) DeliverEvent(ev wire.CDPEvent) bool {
	return false
}

func (c *clientConn) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		_ = c.conn.Close()
	})
}

// enqueue writes a frame to the outbound channel without blocking. A full
// channel means the connection isn't keeping up; for a must-deliver frame
// (a response) that means disconnecting the client rather than dropping it
// (§5: "command responses are never dropped — instead the client is
// disconnected as misbehaving").
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
