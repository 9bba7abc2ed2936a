// Package extconn implements the Extension Channel (§4.1): the sole,
// singleton, bidirectional message stream to the browser extension. It
// multiplexes many in-flight requests by correlation id and broadcasts
// unsolicited extension events.
//
// Unlike the teacher's Manager, which dials out to a locally reachable
// Chrome and retries with backoff (internal/cdp/manager.go's Start/connect
// loop), this Channel is dialed BY the extension: Accept is called once per
// incoming extension websocket connection, and "reconnect" means a new
// Accept call replacing whatever connection (if any) came before.
package extconn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ajsharma/brop-bridge/internal/bridgeerr"
	"github.com/ajsharma/brop-bridge/internal/ids"
	"github.com/ajsharma/brop-bridge/internal/wire"
)

// wsConn is the subset of *gorilla/websocket.Conn the channel needs; an
// interface so tests can substitute an in-memory fake without a real
// socket.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type pendingCall struct {
	resultCh chan callResult
	timer    *time.Timer
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Channel is the Extension Channel. It is safe for concurrent use; create
// exactly one per Bridge (§9: explicit value, not a singleton global).
type Channel struct {
	mu         sync.Mutex
	conn       wsConn
	writeCh    chan []byte
	generation uint64
	pending    map[ids.CorrelationID]*pendingCall

	corrCounter    int64
	defaultTimeout time.Duration
	version        string

	events chan wire.ExtensionEvent

	// onDisconnect fires once per Accept-replaces-a-live-connection or
	// read-error event, after all pending calls for that generation have
	// been failed. Callers (the Router) use it to tear down sessions (§4.6).
	onDisconnect func()
	// onReconnect fires once a new Accept has installed a fresh connection
	// (every Accept, including the very first one). Callers (the Router) use
	// it to resync state against the newly-connected extension's own view of
	// the world (§4.1 "the registry is rebuilt from a fresh extension-provided
	// target list").
	onReconnect func()
	// onOrphan fires when a reply arrives whose correlation id is no
	// longer pending (already timed out, or from a stale generation).
	// §8 S6: must never be routed, only logged.
	onOrphan func(corr ids.CorrelationID)
}

// NewChannel constructs a Channel. defaultTimeout is used by Call when its
// own timeout argument is zero (§4.1 default 30s, configurable per call via
// extension_call_timeout_ms).
func NewChannel(defaultTimeout time.Duration) *Channel {
	return &Channel{
		pending:        make(map[ids.CorrelationID]*pendingCall),
		events:         make(chan wire.ExtensionEvent, 256),
		defaultTimeout: defaultTimeout,
	}
}

// OnDisconnect registers the callback invoked after a disconnect (extension
// read error, or a new Accept superseding an existing connection) has
// failed all in-flight calls for that generation.
func (c *Channel) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// OnOrphanReply registers the callback invoked when an extension reply
// arrives for a correlation id that is no longer pending.
func (c *Channel) OnOrphanReply(fn func(corr ids.CorrelationID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOrphan = fn
}

// OnReconnect registers the callback invoked after every Accept installs a
// fresh connection, once its reader/writer goroutines are running.
func (c *Channel) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = fn
}

// SetExtensionVersion records the protocolVersion reported in the
// extension's most recent handshake frame (§4.3 supplemented: the
// get_extension_version BROP method answers from this cached value instead
// of reaching the extension).
func (c *Channel) SetExtensionVersion(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = v
}

// ExtensionVersion returns the protocolVersion captured at the last
// successful handshake, or "" if no extension has ever connected.
func (c *Channel) ExtensionVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Events returns the broadcast stream of unsolicited extension frames.
func (c *Channel) Events() <-chan wire.ExtensionEvent {
	return c.events
}

// IsConnected reports whether an extension connection is currently live.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Accept installs conn as the current extension connection, superseding and
// tearing down any previous one (§4.1: "on extension reconnect: all
// outstanding PendingCalls fail with extension-disconnected"). It starts
// the reader and writer goroutines and returns immediately.
func (c *Channel) Accept(conn wsConn) {
	c.mu.Lock()
	oldConn := c.conn
	oldWriteCh := c.writeCh
	oldPending := c.pending

	c.generation++
	gen := c.generation
	c.conn = conn
	c.writeCh = make(chan []byte, 64)
	c.pending = make(map[ids.CorrelationID]*pendingCall)
	onDisconnect := c.onDisconnect
	onReconnect := c.onReconnect
	c.mu.Unlock()

	if oldConn != nil {
		_ = oldConn.Close()
	}
	if oldWriteCh != nil {
		close(oldWriteCh)
	}
	failPending(oldPending, bridgeerr.New(bridgeerr.ExtensionDisconnected, "extension reconnected"))
	if oldConn != nil && onDisconnect != nil {
		onDisconnect()
	}

	go c.writeLoop(c.writeCh, conn)
	go c.readLoop(gen, conn)

	if onReconnect != nil {
		go onReconnect()
	}
}

func failPending(pending map[ids.CorrelationID]*pendingCall, err error) {
	for _, p := range pending {
		p.timer.Stop()
		select {
		case p.resultCh <- callResult{err: err}:
		default:
		}
	}
}

func (c *Channel) writeLoop(ch chan []byte, conn wsConn) {
	for data := range ch {
		if err := conn.WriteMessage(1 /* websocket.TextMessage */, data); err != nil {
			_ = conn.Close()
			return
		}
	}
}

func (c *Channel) readLoop(gen uint64, conn wsConn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(gen)
			return
		}

		reply, event, decodeErr := wire.DecodeExtensionFrame(data)
		if decodeErr != nil {
			continue // malformed frame from the extension; drop it
		}
		if reply != nil {
			c.completeCall(gen, ids.CorrelationID(reply.Corr), reply)
			continue
		}
		select {
		case c.events <- *event:
		default:
			// Event channel backpressured; dropping matches §5's
			// "may drop-and-log on overflow rather than block" for log
			// appends, applied here to the broadcast itself.
		}
	}
}

func (c *Channel) handleDisconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return // superseded by a newer Accept; that path already cleaned up
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[ids.CorrelationID]*pendingCall)
	onDisconnect := c.onDisconnect
	c.mu.Unlock()

	failPending(pending, bridgeerr.New(bridgeerr.ExtensionDisconnected, "extension channel disconnected"))
	if onDisconnect != nil {
		onDisconnect()
	}
}

func (c *Channel) completeCall(gen uint64, corr ids.CorrelationID, reply *wire.ExtensionReply) {
	c.mu.Lock()
	if gen != c.generation {
		// Reply from a stale generation: discard it and report it as an
		// orphan (§8 S6).
		onOrphan := c.onOrphan
		c.mu.Unlock()
		if onOrphan != nil {
			onOrphan(corr)
		}
		return
	}
	p, ok := c.pending[corr]
	if !ok {
		onOrphan := c.onOrphan
		c.mu.Unlock()
		if onOrphan != nil {
			onOrphan(corr)
		}
		return
	}
	delete(c.pending, corr)
	c.mu.Unlock()

	p.timer.Stop()
	result := callResult{}
	if reply.OK {
		result.result = reply.Result
	} else {
		msg := "extension call failed"
		if reply.Error != nil {
			msg = reply.Error.Message
		}
		result.err = bridgeerr.New(bridgeerr.ExtensionError, msg)
	}
	select {
	case p.resultCh <- result:
	default:
	}
}

// Call sends op/params to the extension and blocks until the matching
// reply, timeout, disconnect, or ctx cancellation. timeout == 0 uses the
// channel's default.
func (c *Channel) Call(ctx context.Context, op string, params json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if timeout == 0 {
		timeout = c.defaultTimeout
	}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, bridgeerr.New(bridgeerr.ExtensionDisconnected, "extension channel is not connected")
	}
	gen := c.generation
	c.corrCounter++
	corr := ids.CorrelationID(c.corrCounter)
	resultCh := make(chan callResult, 1)
	timer := time.AfterFunc(timeout, func() { c.timeoutCall(gen, corr) })
	c.pending[corr] = &pendingCall{resultCh: resultCh, timer: timer}
	writeCh := c.writeCh
	c.mu.Unlock()

	frame := wire.ExtensionCall{Corr: int64(corr), Op: op, Params: params}
	data, err := json.Marshal(frame)
	if err != nil {
		c.cancelPending(gen, corr)
		return nil, bridgeerr.Wrap(bridgeerr.Internal, "failed to encode extension call", err)
	}

	select {
	case writeCh <- data:
	case <-ctx.Done():
		c.cancelPending(gen, corr)
		return nil, bridgeerr.Wrap(bridgeerr.Internal, "context done before extension call was sent", ctx.Err())
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-ctx.Done():
		c.cancelPending(gen, corr)
		return nil, bridgeerr.Wrap(bridgeerr.Internal, fmt.Sprintf("context done waiting for extension reply to corr=%d", corr), ctx.Err())
	}
}

func (c *Channel) timeoutCall(gen uint64, corr ids.CorrelationID) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	p, ok := c.pending[corr]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, corr)
	c.mu.Unlock()

	select {
	case p.resultCh <- callResult{err: bridgeerr.Errorf(bridgeerr.ExtensionTimeout, "extension call corr=%d timed out", corr)}:
	default:
	}
}

func (c *Channel) cancelPending(gen uint64, corr ids.CorrelationID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	if p, ok := c.pending[corr]; ok {
		p.timer.Stop()
		delete(c.pending, corr)
	}
}
