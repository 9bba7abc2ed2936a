// Package router implements the Session Router (§4.5): the only component
// that translates between the tab/target/session address spaces. It
// consults the Identifier Registry on every inbound client frame, forwards
// what can't be answered locally to the Extension Channel, and fans out
// extension events to every session attached to the affected target.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ajsharma/brop-bridge/internal/bridgeerr"
	"github.com/ajsharma/brop-bridge/internal/calllog"
	"github.com/ajsharma/brop-bridge/internal/consolelog"
	"github.com/ajsharma/brop-bridge/internal/extconn"
	"github.com/ajsharma/brop-bridge/internal/ids"
	"github.com/ajsharma/brop-bridge/internal/wire"
)

// autoAttachState is the per-client Target.setAutoAttach configuration
// (§4.4.1): persisted so later-appearing targets can be auto-attached.
type autoAttachState struct {
	enabled                bool
	waitForDebuggerOnStart bool
	flatten                bool
}

// tabInfo is the router's local cache of Tab entity attributes (§3: url,
// title, status) that the Identifier Registry deliberately doesn't own —
// the registry owns Target/Session identity only.
type tabInfo struct {
	url    string
	title  string
	status string
}

// Router is the Session Router. Construct one per Bridge (§9: explicit
// value, not a singleton) and pass it by reference to every server
// endpoint.
type Router struct {
	mu         sync.Mutex
	clients    map[ids.ClientID]ClientSink
	discover   map[ids.ClientID]bool
	autoAttach map[ids.ClientID]autoAttachState
	tabs       map[ids.TabID]*tabInfo

	registry *ids.Registry
	channel  *extconn.Channel
	console  *consolelog.Store
	calls    *calllog.Store

	defaultExtensionTimeout time.Duration
	defaultBrowserContext   ids.BrowserContextID
}

// NewRouter constructs a Router wired to the given Identifier Registry,
// Extension Channel, Console Log Store, and CallLog Store. When
// useDefaultBrowserContext is true, a default BrowserContext is created
// immediately so that Target.createTarget without an explicit
// browserContextId succeeds (§9 Open Question #1, decided in SPEC_FULL.md).
func NewRouter(registry *ids.Registry, channel *extconn.Channel, console *consolelog.Store, calls *calllog.Store, defaultExtensionTimeout time.Duration, useDefaultBrowserContext bool) *Router {
	rt := &Router{
		clients:                 make(map[ids.ClientID]ClientSink),
		discover:                make(map[ids.ClientID]bool),
		autoAttach:              make(map[ids.ClientID]autoAttachState),
		tabs:                    make(map[ids.TabID]*tabInfo),
		registry:                registry,
		channel:                 channel,
		console:                 console,
		calls:                   calls,
		defaultExtensionTimeout: defaultExtensionTimeout,
	}
	if useDefaultBrowserContext {
		rt.defaultBrowserContext = registry.CreateBrowserContext()
	}
	return rt
}

// tabInfoFor returns a snapshot of the cached tab metadata, or the zero
// value if nothing has been observed for tab yet.
func (rt *Router) tabInfoFor(tab ids.TabID) tabInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if t, ok := rt.tabs[tab]; ok {
		return *t
	}
	return tabInfo{}
}

// updateTab mutates (creating if necessary) the cached metadata for tab.
func (rt *Router) updateTab(tab ids.TabID, fn func(*tabInfo)) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	t, ok := rt.tabs[tab]
	if !ok {
		t = &tabInfo{}
		rt.tabs[tab] = t
	}
	fn(t)
}

// forgetTab drops cached metadata for a closed tab.
func (rt *Router) forgetTab(tab ids.TabID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.tabs, tab)
}

// RegisterClient makes sink addressable for event fan-out and future
// lookups. Server endpoints call this once a connection is accepted.
func (rt *Router) RegisterClient(sink ClientSink) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.clients[sink.ID()] = sink
}

// UnregisterClient tears down everything the router owns for a disconnected
// client (§4.6 "client disconnect"): every session it owned is detached
// from the registry. In-flight PendingCalls are handled independently, by
// the server endpoint cancelling the context it passed to HandleRequest.
func (rt *Router) UnregisterClient(clientID ids.ClientID) {
	detached := rt.registry.DetachAllForClient(clientID)

	rt.mu.Lock()
	delete(rt.clients, clientID)
	delete(rt.discover, clientID)
	delete(rt.autoAttach, clientID)
	rt.mu.Unlock()

	rt.calls.Append(calllog.ProtocolSystem, "client_disconnect",
		map[string]interface{}{"clientId": string(clientID)},
		map[string]interface{}{"sessionsDetached": len(detached)}, nil, 0)
}

// Run consumes the Extension Channel's event stream until ctx is cancelled.
// It is the single task that owns event fan-out (§5: per-target ordering is
// preserved because events are processed one at a time, in the order the
// extension reported them).
func (rt *Router) Run(ctx context.Context) {
	rt.channel.OnDisconnect(rt.handleExtensionDisconnect)
	rt.channel.OnReconnect(rt.handleExtensionReconnect)
	rt.channel.OnOrphanReply(func(corr ids.CorrelationID) {
		rt.calls.Append(calllog.ProtocolSystem, "orphan_reply",
			map[string]interface{}{"corr": fmt.Sprint(corr)}, nil, nil, 0)
	})

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-rt.channel.Events():
			if !ok {
				return
			}
			rt.handleExtensionEvent(ev)
		}
	}
}

// HandleRequest is the single entry point server endpoints call for every
// inbound client frame. It dispatches by dialect, times the round trip, and
// records a CallLog entry regardless of outcome.
func (rt *Router) HandleRequest(ctx context.Context, clientID ids.ClientID, req wire.Request) wire.Response {
	start := time.Now()

	var resp wire.Response
	switch req.Dialect {
	case wire.CDP:
		resp = rt.handleCDP(ctx, clientID, req)
	case wire.BROP:
		resp = rt.handleBROP(ctx, clientID, req)
	default:
		resp = wire.NewErrorResponse(req.Dialect, req.ID, req.SessionID,
			bridgeerr.New(bridgeerr.Internal, "unrecognized dialect"))
	}

	rt.logRequest(req, resp, time.Since(start))
	return resp
}

func (rt *Router) logRequest(req wire.Request, resp wire.Response, duration time.Duration) {
	protocol := calllog.ProtocolBROP
	if req.Dialect == wire.CDP {
		protocol = calllog.ProtocolCDP
	}

	var callErr error
	var result map[string]interface{}
	if resp.Err != nil {
		callErr = fmt.Errorf("%s", resp.Err.Message)
	} else {
		result = decodeForLog(resp.Result)
	}

	rt.calls.Append(protocol, req.Method, decodeForLog(req.Params), result, callErr, duration)
}

func decodeForLog(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v map[string]interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]interface{}{"_raw": string(raw)}
	}
	return v
}

// sinkFor looks up a registered client sink by id.
func (rt *Router) sinkFor(clientID ids.ClientID) (ClientSink, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, ok := rt.clients[clientID]
	return s, ok
}

// callExtension forwards op/params to the extension and is the sole path
// from a server endpoint to the Extension Channel.
func (rt *Router) callExtension(ctx context.Context, op string, params json.RawMessage) (json.RawMessage, error) {
	return rt.channel.Call(ctx, op, params, rt.defaultExtensionTimeout)
}

// withTabID injects tabId into a params object, producing the object the
// extension expects for tab-scoped operations (§6: extension ops mirror
// BROP methods, which are always tabId-scoped).
func withTabID(tab ids.TabID, params json.RawMessage) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &fields); err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.BadRequest, "params must be a JSON object", err)
		}
	}
	tabJSON, err := json.Marshal(tab)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Internal, "failed to encode tabId", err)
	}
	fields["tabId"] = tabJSON
	return json.Marshal(fields)
}
