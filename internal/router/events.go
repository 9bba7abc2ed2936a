package router

import (
	"context"
	"encoding/json"

	"github.com/ajsharma/brop-bridge/internal/calllog"
	"github.com/ajsharma/brop-bridge/internal/consolelog"
	"github.com/ajsharma/brop-bridge/internal/ids"
	"github.com/ajsharma/brop-bridge/internal/wire"
)

// handleExtensionEvent classifies and processes one unsolicited extension
// frame (§4.5 "Event inbound from the extension"). It is called from Run,
// one event at a time, which is what preserves per-target event ordering
// (§5).
func (rt *Router) handleExtensionEvent(ev wire.ExtensionEvent) {
	switch ev.Event {
	case "tab_created":
		rt.onTabCreated(ev.Params)
	case "tab_updated":
		rt.onTabUpdated(ev.Params)
	case "tab_removed":
		rt.onTabRemoved(ev.Params)
	case "console":
		rt.onConsole(ev.Params)
	case "navigation_committed":
		rt.onNavigationCommitted(ev.Params)
	default:
		rt.calls.Append(calllog.ProtocolSystem, "unrecognized_extension_event",
			map[string]interface{}{"event": ev.Event}, nil, nil, 0)
	}

	rt.calls.Append(calllog.ProtocolCDPEvent, ev.Event, decodeForLog(ev.Params), nil, nil, 0)
}

func (rt *Router) onTabCreated(params json.RawMessage) {
	var p struct {
		TabID ids.TabID `json:"tabId"`
		URL   string    `json:"url"`
		Title string    `json:"title"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}

	targetID := rt.registry.RegisterTab(p.TabID, rt.defaultBrowserContext)
	rt.updateTab(p.TabID, func(t *tabInfo) {
		t.url = p.URL
		t.title = p.Title
		t.status = "complete"
	})
	rt.broadcastTargetCreated(targetID)
}

func (rt *Router) onTabUpdated(params json.RawMessage) {
	var p struct {
		TabID  ids.TabID `json:"tabId"`
		URL    string    `json:"url,omitempty"`
		Title  string    `json:"title,omitempty"`
		Status string    `json:"status,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}

	rt.updateTab(p.TabID, func(t *tabInfo) {
		if p.URL != "" {
			t.url = p.URL
		}
		if p.Title != "" {
			t.title = p.Title
		}
		if p.Status != "" {
			t.status = p.Status
		}
	})

	targetID, ok := rt.registry.TargetIDForTab(p.TabID)
	if !ok {
		return
	}
	info, ok := rt.registry.TargetInfoFor(targetID)
	if !ok {
		return
	}
	wireInfo := rt.targetInfoWireFor(info)
	for _, sid := range rt.registry.SessionsForTarget(targetID) {
		rt.emitToSession(sid, "Target.targetInfoChanged", map[string]interface{}{"targetInfo": wireInfo})
	}
}

func (rt *Router) onTabRemoved(params json.RawMessage) {
	var p struct {
		TabID ids.TabID `json:"tabId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	rt.closeTabLocal(p.TabID)
}

// closeTabLocal is the shared tail of "tab closed externally" (§4.6) and
// Target.closeTarget: destroy the Target, notify every formerly-attached
// session's owning client, and drop the tab's console log and cached
// metadata.
func (rt *Router) closeTabLocal(tab ids.TabID) {
	targetID, detached := rt.registry.UnregisterTab(tab)
	if targetID == "" {
		return
	}
	rt.forgetTab(tab)

	for _, d := range detached {
		rt.emitToClient(d.ClientID, "Target.targetDestroyed", map[string]interface{}{"targetId": string(targetID)})
		rt.emitToClient(d.ClientID, "Target.detachedFromTarget", map[string]interface{}{
			"sessionId": string(d.SessionID),
			"targetId":  string(targetID),
		})
	}

	rt.console.Clear(tab)
}

func (rt *Router) onConsole(params json.RawMessage) {
	var p struct {
		TabID   ids.TabID `json:"tabId"`
		Level   string    `json:"level"`
		Message string    `json:"message"`
		Source  string    `json:"source,omitempty"`
		Line    int       `json:"line,omitempty"`
		Column  int       `json:"column,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}

	rt.console.Append(p.TabID, consolelog.Level(p.Level), p.Message, p.Source, p.Line, p.Column)

	targetID, ok := rt.registry.TargetIDForTab(p.TabID)
	if !ok {
		return
	}
	for _, sid := range rt.registry.SessionsForTarget(targetID) {
		rt.emitToSession(sid, "Runtime.consoleAPICalled", map[string]interface{}{
			"type": p.Level,
			"args": []map[string]string{{"type": "string", "value": p.Message}},
		})
	}
}

func (rt *Router) onNavigationCommitted(params json.RawMessage) {
	var p struct {
		TabID ids.TabID `json:"tabId"`
		URL   string    `json:"url"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}

	rt.updateTab(p.TabID, func(t *tabInfo) { t.url = p.URL; t.status = "loading" })

	targetID, ok := rt.registry.TargetIDForTab(p.TabID)
	if !ok {
		return
	}
	for _, sid := range rt.registry.SessionsForTarget(targetID) {
		rt.emitToSession(sid, "Page.frameNavigated", map[string]interface{}{
			"frame": map[string]interface{}{"id": string(targetID), "url": p.URL},
		})
	}
}

// handleExtensionDisconnect fires whenever the Extension Channel loses its
// connection, including the supersede-by-reconnect case (§4.1: "on
// extension reconnect... all sessions are torn down"). Distinguishing a
// bare disconnect from a reconnect would need a second signal the channel
// doesn't expose; tearing sessions down unconditionally is the safe
// superset and matches the reconnect case exactly.
func (rt *Router) handleExtensionDisconnect() {
	for _, t := range rt.registry.Targets() {
		if t.State == ids.TargetDestroyed {
			continue
		}
		for _, sid := range rt.registry.SessionsForTarget(t.TargetID) {
			_, clientID, resolveErr := rt.registry.ResolveSession(sid)
			if _, err := rt.registry.DetachSession(sid); err != nil {
				continue
			}
			if resolveErr != nil {
				continue
			}
			rt.emitToClient(clientID, "Target.detachedFromTarget", map[string]interface{}{
				"sessionId": string(sid),
				"targetId":  string(t.TargetID),
			})
		}
	}
	rt.calls.Append(calllog.ProtocolSystem, "extension_disconnected", nil, nil, nil, 0)
}

// handleExtensionReconnect fires once per successful extension handshake,
// after the Extension Channel has installed the new connection (§4.1: "on
// extension reconnect, the registry is rebuilt from a fresh
// extension-provided target list"). It requests the newly-connected
// extension's own live tab list and unregisters any target the registry
// still carries as live that the extension no longer reports, so a tab that
// closed while the extension was away can't linger as a ghost CREATED or
// ATTACHED target.
func (rt *Router) handleExtensionReconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), rt.defaultExtensionTimeout)
	defer cancel()

	result, err := rt.callExtension(ctx, "list_tabs", nil)
	if err != nil {
		rt.calls.Append(calllog.ProtocolSystem, "extension_resync_failed",
			nil, nil, err, 0)
		return
	}

	var decoded struct {
		Tabs []struct {
			TabID ids.TabID `json:"tabId"`
		} `json:"tabs"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		rt.calls.Append(calllog.ProtocolSystem, "extension_resync_failed",
			nil, nil, err, 0)
		return
	}

	live := make(map[ids.TabID]bool, len(decoded.Tabs))
	for _, t := range decoded.Tabs {
		live[t.TabID] = true
	}

	var dropped int
	for _, t := range rt.registry.Targets() {
		if t.State == ids.TargetDestroyed || live[t.TabID] {
			continue
		}
		rt.closeTabLocal(t.TabID)
		dropped++
	}

	rt.calls.Append(calllog.ProtocolSystem, "extension_resync",
		map[string]interface{}{"liveTabs": len(live), "droppedTargets": dropped}, nil, nil, 0)
}
