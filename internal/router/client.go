package router

import (
	"github.com/ajsharma/brop-bridge/internal/ids"
	"github.com/ajsharma/brop-bridge/internal/wire"
)

// ClientSink is how the Session Router addresses one connected client
// socket, independent of dialect. Each server endpoint (BROP, CDP) is
// expected to implement this on top of its own per-connection writer task
// (§9: "model each connection as a pair of cooperative tasks (reader,
// writer) communicating with the router via typed channels").
type ClientSink interface {
	ID() ids.ClientID
	Dialect() wire.Dialect

	// DeliverResponse writes a response frame addressed to this client.
	// Responses are never dropped for backpressure (§5) — a sink that
	// cannot keep up should disconnect itself rather than silently drop.
	DeliverResponse(resp wire.Response)

	// DeliverEvent writes an event frame. The sink may drop it under
	// backpressure (§5's high-water mark) and report that by returning
	// false; the router logs a backpressure-drop CallLog entry in that case.
	DeliverEvent(ev wire.CDPEvent) bool

	// Close disconnects the client, e.g. when a response cannot be queued
	// (§5: "the client is disconnected as misbehaving").
	Close(reason string)
}
