package router

import (
	"context"
	"encoding/json"

	"github.com/ajsharma/brop-bridge/internal/bridgeerr"
	"github.com/ajsharma/brop-bridge/internal/calllog"
	"github.com/ajsharma/brop-bridge/internal/ids"
	"github.com/ajsharma/brop-bridge/internal/wire"
)

// targetInfoWire is the CDP wire shape of a TargetInfo object, used in
// Target.getTargets, Target.targetCreated, and Target.attachedToTarget.
type targetInfoWire struct {
	TargetID         string `json:"targetId"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	URL              string `json:"url"`
	Attached         bool   `json:"attached"`
	BrowserContextID string `json:"browserContextId,omitempty"`
}

func (rt *Router) targetInfoWireFor(t ids.TargetInfo) targetInfoWire {
	meta := rt.tabInfoFor(t.TabID)
	return targetInfoWire{
		TargetID:         string(t.TargetID),
		Type:             "page",
		Title:            meta.title,
		URL:              meta.url,
		Attached:         t.State == ids.TargetAttached,
		BrowserContextID: string(t.BrowserContextID),
	}
}

// handleCDP dispatches a CDP request (§4.4.1). Target/Browser lifecycle
// methods are answered directly; everything else is forwarded to the
// extension using the session's target as the implicit tab.
func (rt *Router) handleCDP(ctx context.Context, clientID ids.ClientID, req wire.Request) wire.Response {
	switch req.Method {
	case "Browser.getVersion":
		return rt.cdpBrowserGetVersion(req)
	case "Target.setDiscoverTargets":
		return rt.cdpSetDiscoverTargets(clientID, req)
	case "Target.setAutoAttach":
		return rt.cdpSetAutoAttach(clientID, req)
	case "Target.createBrowserContext":
		return rt.cdpCreateBrowserContext(req)
	case "Target.disposeBrowserContext":
		return rt.cdpDisposeBrowserContext(req)
	case "Target.getTargets":
		return rt.cdpGetTargets(req)
	case "Target.createTarget":
		return rt.cdpCreateTarget(ctx, clientID, req)
	case "Target.attachToTarget":
		return rt.cdpAttachToTarget(clientID, req)
	case "Target.detachFromTarget":
		return rt.cdpDetachFromTarget(req)
	case "Target.closeTarget":
		return rt.cdpCloseTarget(ctx, req)
	default:
		return rt.cdpForward(ctx, req)
	}
}

func cdpError(req wire.Request, err error) wire.Response {
	return wire.NewErrorResponse(wire.CDP, req.ID, req.SessionID, bridgeerr.FromError(err))
}

func (rt *Router) cdpBrowserGetVersion(req wire.Request) wire.Response {
	result, _ := json.Marshal(map[string]string{
		"product":         "brop-bridge/1.0",
		"protocolVersion": "1.3",
		"userAgent":       "brop-bridge",
		"jsVersion":       "0",
	})
	return wire.Response{Dialect: wire.CDP, ID: req.ID, SessionID: req.SessionID, Result: result}
}

func (rt *Router) cdpSetDiscoverTargets(clientID ids.ClientID, req wire.Request) wire.Response {
	var params struct {
		Discover bool `json:"discover"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return cdpError(req, bridgeerr.Wrap(bridgeerr.BadRequest, "invalid Target.setDiscoverTargets params", err))
	}

	rt.mu.Lock()
	rt.discover[clientID] = params.Discover
	rt.mu.Unlock()

	if params.Discover {
		for _, t := range rt.registry.Targets() {
			if t.State == ids.TargetDestroyed {
				continue
			}
			rt.emitToClient(clientID, "Target.targetCreated", map[string]interface{}{"targetInfo": rt.targetInfoWireFor(t)})
		}
	}
	return wire.Response{Dialect: wire.CDP, ID: req.ID, SessionID: req.SessionID, Result: json.RawMessage(`{}`)}
}

func (rt *Router) cdpSetAutoAttach(clientID ids.ClientID, req wire.Request) wire.Response {
	var params struct {
		AutoAttach             bool `json:"autoAttach"`
		WaitForDebuggerOnStart bool `json:"waitForDebuggerOnStart"`
		Flatten                bool `json:"flatten"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return cdpError(req, bridgeerr.Wrap(bridgeerr.BadRequest, "invalid Target.setAutoAttach params", err))
	}

	rt.mu.Lock()
	rt.autoAttach[clientID] = autoAttachState{
		enabled:                params.AutoAttach,
		waitForDebuggerOnStart: params.WaitForDebuggerOnStart,
		flatten:                params.Flatten,
	}
	rt.mu.Unlock()

	return wire.Response{Dialect: wire.CDP, ID: req.ID, SessionID: req.SessionID, Result: json.RawMessage(`{}`)}
}

func (rt *Router) cdpCreateBrowserContext(req wire.Request) wire.Response {
	id := rt.registry.CreateBrowserContext()
	result, _ := json.Marshal(map[string]string{"browserContextId": string(id)})
	return wire.Response{Dialect: wire.CDP, ID: req.ID, SessionID: req.SessionID, Result: result}
}

func (rt *Router) cdpDisposeBrowserContext(req wire.Request) wire.Response {
	var params struct {
		BrowserContextID string `json:"browserContextId"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return cdpError(req, bridgeerr.Wrap(bridgeerr.BadRequest, "invalid Target.disposeBrowserContext params", err))
	}
	rt.registry.DestroyBrowserContext(ids.BrowserContextID(params.BrowserContextID))
	return wire.Response{Dialect: wire.CDP, ID: req.ID, SessionID: req.SessionID, Result: json.RawMessage(`{}`)}
}

func (rt *Router) cdpGetTargets(req wire.Request) wire.Response {
	targets := rt.registry.Targets()
	infos := make([]targetInfoWire, 0, len(targets))
	for _, t := range targets {
		if t.State == ids.TargetDestroyed {
			continue
		}
		infos = append(infos, rt.targetInfoWireFor(t))
	}
	result, _ := json.Marshal(map[string]interface{}{"targetInfos": infos})
	return wire.Response{Dialect: wire.CDP, ID: req.ID, SessionID: req.SessionID, Result: result}
}

func (rt *Router) cdpCreateTarget(ctx context.Context, clientID ids.ClientID, req wire.Request) wire.Response {
	var params struct {
		URL              string `json:"url"`
		BrowserContextID string `json:"browserContextId,omitempty"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return cdpError(req, bridgeerr.Wrap(bridgeerr.BadRequest, "invalid Target.createTarget params", err))
	}

	bctx := ids.BrowserContextID(params.BrowserContextID)
	if bctx == "" {
		bctx = rt.defaultBrowserContext
	}
	if bctx == "" {
		return cdpError(req, bridgeerr.New(bridgeerr.BadRequest, "browserContextId is required (default_browser_context is disabled)"))
	}

	extParams, _ := json.Marshal(map[string]string{"url": params.URL})
	result, err := rt.callExtension(ctx, "create_tab", extParams)
	if err != nil {
		return cdpError(req, err)
	}
	var created struct {
		TabID ids.TabID `json:"tabId"`
	}
	if err := json.Unmarshal(result, &created); err != nil {
		return cdpError(req, bridgeerr.Wrap(bridgeerr.Internal, "extension create_tab returned a malformed result", err))
	}

	targetID := rt.registry.RegisterTab(created.TabID, bctx)
	rt.updateTab(created.TabID, func(t *tabInfo) { t.url = params.URL })
	rt.broadcastTargetCreated(targetID)

	rt.mu.Lock()
	aa, hasAutoAttach := rt.autoAttach[clientID]
	rt.mu.Unlock()

	if hasAutoAttach && aa.enabled {
		sid, attachErr := rt.registry.AttachSession(targetID, clientID, aa.flatten)
		if attachErr == nil {
			info, _ := rt.registry.TargetInfoFor(targetID)
			rt.emitToClient(clientID, "Target.attachedToTarget", map[string]interface{}{
				"sessionId":          string(sid),
				"targetInfo":         rt.targetInfoWireFor(info),
				"waitingForDebugger": aa.waitForDebuggerOnStart,
			})
		}
	}

	out, _ := json.Marshal(map[string]string{"targetId": string(targetID)})
	return wire.Response{Dialect: wire.CDP, ID: req.ID, SessionID: req.SessionID, Result: out}
}

func (rt *Router) cdpAttachToTarget(clientID ids.ClientID, req wire.Request) wire.Response {
	var params struct {
		TargetID string `json:"targetId"`
		Flatten  bool   `json:"flatten"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return cdpError(req, bridgeerr.Wrap(bridgeerr.BadRequest, "invalid Target.attachToTarget params", err))
	}

	targetID := ids.TargetID(params.TargetID)
	sid, err := rt.registry.AttachSession(targetID, clientID, params.Flatten)
	if err != nil {
		return cdpError(req, err)
	}

	info, _ := rt.registry.TargetInfoFor(targetID)
	rt.emitToClient(clientID, "Target.attachedToTarget", map[string]interface{}{
		"sessionId":          string(sid),
		"targetInfo":         rt.targetInfoWireFor(info),
		"waitingForDebugger": false,
	})

	result, _ := json.Marshal(map[string]string{"sessionId": string(sid)})
	return wire.Response{Dialect: wire.CDP, ID: req.ID, SessionID: req.SessionID, Result: result}
}

func (rt *Router) cdpDetachFromTarget(req wire.Request) wire.Response {
	var params struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return cdpError(req, bridgeerr.Wrap(bridgeerr.BadRequest, "invalid Target.detachFromTarget params", err))
	}

	sid := ids.SessionID(params.SessionID)
	_, clientID, resolveErr := rt.registry.ResolveSession(sid)
	targetID, err := rt.registry.DetachSession(sid)
	if err != nil {
		return cdpError(req, err)
	}
	if resolveErr == nil {
		rt.emitToClient(clientID, "Target.detachedFromTarget", map[string]interface{}{
			"sessionId": params.SessionID,
			"targetId":  string(targetID),
		})
	}
	return wire.Response{Dialect: wire.CDP, ID: req.ID, SessionID: req.SessionID, Result: json.RawMessage(`{}`)}
}

func (rt *Router) cdpCloseTarget(ctx context.Context, req wire.Request) wire.Response {
	var params struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return cdpError(req, bridgeerr.Wrap(bridgeerr.BadRequest, "invalid Target.closeTarget params", err))
	}

	targetID := ids.TargetID(params.TargetID)
	tab, ok := rt.registry.TabIDForTarget(targetID)
	if !ok {
		return cdpError(req, bridgeerr.New(bridgeerr.TargetGone, "target "+params.TargetID+" is gone"))
	}

	extParams, _ := json.Marshal(map[string]ids.TabID{"tabId": tab})
	if _, err := rt.callExtension(ctx, "close_tab", extParams); err != nil {
		return cdpError(req, err)
	}

	rt.closeTabLocal(tab)
	result, _ := json.Marshal(map[string]bool{"success": true})
	return wire.Response{Dialect: wire.CDP, ID: req.ID, SessionID: req.SessionID, Result: result}
}

// cdpForward handles every CDP method not covered above (Page, Runtime,
// Network, DOM, Input, ...) by resolving the session to its target's tab and
// forwarding method/params verbatim to the extension (§4.4.1: "forwarded to
// the extension using the session's target as the implicit tab").
func (rt *Router) cdpForward(ctx context.Context, req wire.Request) wire.Response {
	if req.SessionID == "" {
		return cdpError(req, bridgeerr.New(bridgeerr.BadRequest, "method "+req.Method+" requires a sessionId"))
	}

	targetID, _, err := rt.registry.ResolveSession(ids.SessionID(req.SessionID))
	if err != nil {
		return cdpError(req, err)
	}
	if err := rt.registry.RequireLive(targetID); err != nil {
		return cdpError(req, err)
	}

	tab, _ := rt.registry.TabIDForTarget(targetID)
	params, err := withTabID(tab, req.Params)
	if err != nil {
		return cdpError(req, err)
	}

	result, err := rt.callExtension(ctx, req.Method, params)
	if err != nil {
		if req.Method == "Runtime.evaluate" {
			if be := bridgeerr.FromError(err); be.Kind == bridgeerr.ExtensionError {
				return rt.runtimeEvaluateException(req, be)
			}
		}
		return cdpError(req, err)
	}
	return wire.Response{Dialect: wire.CDP, ID: req.ID, SessionID: req.SessionID, Result: result}
}

// runtimeEvaluateException maps an extension-reported Runtime.evaluate
// failure (CSP-blocked eval, a thrown exception, a syntax error) onto a
// successful CDP result carrying exceptionDetails, per §9 open question 3's
// conservative mapping: a script failure is never a protocol-level error.
func (rt *Router) runtimeEvaluateException(req wire.Request, be *bridgeerr.BridgeError) wire.Response {
	result, _ := json.Marshal(map[string]interface{}{
		"result": map[string]interface{}{"type": "undefined"},
		"exceptionDetails": map[string]interface{}{
			"text": "Uncaught",
			"exception": map[string]interface{}{
				"type":        "string",
				"description": be.Message,
			},
		},
	})
	return wire.Response{Dialect: wire.CDP, ID: req.ID, SessionID: req.SessionID, Result: result}
}

func (rt *Router) broadcastTargetCreated(targetID ids.TargetID) {
	info, ok := rt.registry.TargetInfoFor(targetID)
	if !ok {
		return
	}
	wireInfo := rt.targetInfoWireFor(info)

	rt.mu.Lock()
	var recipients []ids.ClientID
	for cid, on := range rt.discover {
		if on {
			recipients = append(recipients, cid)
		}
	}
	rt.mu.Unlock()

	for _, cid := range recipients {
		rt.emitToClient(cid, "Target.targetCreated", map[string]interface{}{"targetInfo": wireInfo})
	}
}

// emitToClient delivers an event directly to one client, with no session
// attached (used for Target.targetCreated under setDiscoverTargets).
func (rt *Router) emitToClient(clientID ids.ClientID, method string, params interface{}) {
	sink, ok := rt.sinkFor(clientID)
	if !ok {
		return
	}
	data, _ := json.Marshal(params)
	if !sink.DeliverEvent(wire.CDPEvent{Method: method, Params: data}) {
		rt.calls.Append(
			calllog.ProtocolSystem,
			"backpressure_drop",
			map[string]interface{}{"clientId": string(clientID), "method": method},
			nil, nil, 0,
		)
	}
}

// emitToSession delivers an event to the client owning sid, tagging it with
// sid per the envelope contract (§4.4.2, §4.4.3).
func (rt *Router) emitToSession(sid ids.SessionID, method string, params interface{}) {
	_, clientID, err := rt.registry.ResolveSession(sid)
	if err != nil {
		return
	}
	sink, ok := rt.sinkFor(clientID)
	if !ok {
		return
	}
	data, _ := json.Marshal(params)
	if !sink.DeliverEvent(wire.CDPEvent{Method: method, Params: data, SessionID: string(sid)}) {
		rt.calls.Append(
			calllog.ProtocolSystem,
			"backpressure_drop",
			map[string]interface{}{"sessionId": string(sid), "method": method},
			nil, nil, 0,
		)
	}
}
