package router

import (
	"context"
	"encoding/json"

	"github.com/ajsharma/brop-bridge/internal/bridgeerr"
	"github.com/ajsharma/brop-bridge/internal/consolelog"
	"github.com/ajsharma/brop-bridge/internal/ids"
	"github.com/ajsharma/brop-bridge/internal/wire"
)

// tabScopedMethods require a tabId field in their params (§4.3: "the BROP
// server has no session concept: it routes by tabId, which must be present
// on any tab-scoped request"). list_tabs, create_tab, get_extension_version,
// and the extension-error queries are the exceptions.
var tabScopedMethods = map[string]bool{
	"navigate":           true,
	"close_tab":          true,
	"activate_tab":       true,
	"get_console_logs":   true,
	"execute_console":    true,
	"evaluate_js":        true,
	"get_page_content":   true,
	"get_screenshot":     true,
	"get_simplified_dom": true,
	"click":              true,
	"type":               true,
	"wait_for_element":   true,
	"get_element":        true,
}

func bropError(req wire.Request, err error) wire.Response {
	return wire.NewErrorResponse(wire.BROP, req.ID, "", bridgeerr.FromError(err))
}

// handleBROP dispatches a BROP request (§4.3).
func (rt *Router) handleBROP(ctx context.Context, clientID ids.ClientID, req wire.Request) wire.Response {
	switch req.Method {
	case "":
		return bropError(req, bridgeerr.New(bridgeerr.UnknownMethod, "request carries no method"))
	case "list_tabs":
		return rt.bropListTabs(req)
	case "create_tab":
		return rt.bropCreateTab(ctx, req)
	case "get_console_logs":
		return rt.bropGetConsoleLogs(req)
	}

	if tabScopedMethods[req.Method] {
		return rt.bropForwardTabScoped(ctx, clientID, req)
	}

	switch req.Method {
	case "get_extension_version":
		return rt.bropGetExtensionVersion(req)
	case "get_extension_errors", "clear_extension_errors":
		return rt.bropForward(ctx, req, req.Params)
	default:
		return bropError(req, bridgeerr.New(bridgeerr.UnknownMethod, "unrecognized BROP method "+req.Method))
	}
}

// bropGetExtensionVersion answers from the version captured at the last
// extension handshake rather than reaching the extension (§4.3 supplemented:
// version is effectively static between reconnects, unlike get_extension_errors
// and clear_extension_errors which read and mutate live extension state).
func (rt *Router) bropGetExtensionVersion(req wire.Request) wire.Response {
	result, _ := json.Marshal(map[string]string{"version": rt.channel.ExtensionVersion()})
	return wire.Response{Dialect: wire.BROP, ID: req.ID, Result: result}
}

func (rt *Router) bropListTabs(req wire.Request) wire.Response {
	targets := rt.registry.Targets()
	tabs := make([]map[string]interface{}, 0, len(targets))
	for _, t := range targets {
		if t.State == ids.TargetDestroyed {
			continue
		}
		meta := rt.tabInfoFor(t.TabID)
		tabs = append(tabs, map[string]interface{}{
			"tabId":  t.TabID,
			"url":    meta.url,
			"title":  meta.title,
			"status": meta.status,
		})
	}
	result, _ := json.Marshal(map[string]interface{}{"tabs": tabs})
	return wire.Response{Dialect: wire.BROP, ID: req.ID, Result: result}
}

func (rt *Router) bropCreateTab(ctx context.Context, req wire.Request) wire.Response {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return bropError(req, bridgeerr.Wrap(bridgeerr.BadRequest, "invalid create_tab params", err))
	}

	result, err := rt.callExtension(ctx, "create_tab", req.Params)
	if err != nil {
		return bropError(req, err)
	}
	var created struct {
		TabID ids.TabID `json:"tabId"`
	}
	if err := json.Unmarshal(result, &created); err != nil {
		return bropError(req, bridgeerr.Wrap(bridgeerr.Internal, "extension create_tab returned a malformed result", err))
	}

	targetID := rt.registry.RegisterTab(created.TabID, rt.defaultBrowserContext)
	rt.updateTab(created.TabID, func(t *tabInfo) { t.url = params.URL })
	rt.broadcastTargetCreated(targetID)

	out, _ := json.Marshal(map[string]interface{}{"tabId": created.TabID})
	return wire.Response{Dialect: wire.BROP, ID: req.ID, Result: out}
}

func (rt *Router) bropGetConsoleLogs(req wire.Request) wire.Response {
	var params struct {
		TabID *ids.TabID `json:"tabId"`
		Limit int        `json:"limit,omitempty"`
		Level string     `json:"level,omitempty"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return bropError(req, bridgeerr.Wrap(bridgeerr.BadRequest, "invalid get_console_logs params", err))
	}
	if params.TabID == nil {
		return bropError(req, bridgeerr.New(bridgeerr.BadRequest, "get_console_logs requires tabId"))
	}

	entries := rt.console.Query(*params.TabID, params.Limit, consolelog.Level(params.Level))
	result, _ := json.Marshal(map[string]interface{}{"entries": entries})
	return wire.Response{Dialect: wire.BROP, ID: req.ID, Result: result}
}

// bropForwardTabScoped validates tabId is present and the target is live,
// then forwards the request verbatim (params already carry tabId) to the
// extension. close_tab and navigate additionally update local state.
func (rt *Router) bropForwardTabScoped(ctx context.Context, clientID ids.ClientID, req wire.Request) wire.Response {
	var probe struct {
		TabID *ids.TabID `json:"tabId"`
	}
	if err := json.Unmarshal(req.Params, &probe); err != nil || probe.TabID == nil {
		return bropError(req, bridgeerr.New(bridgeerr.BadRequest, req.Method+" requires tabId"))
	}
	tab := *probe.TabID

	if targetID, ok := rt.registry.TargetIDForTab(tab); ok {
		if err := rt.registry.RequireLive(targetID); err != nil {
			return bropError(req, err)
		}
	}

	result, err := rt.callExtension(ctx, req.Method, req.Params)
	if err != nil {
		return bropError(req, err)
	}

	switch req.Method {
	case "close_tab":
		rt.closeTabLocal(tab)
	case "navigate":
		var navResult struct {
			FinalURL string `json:"final_url"`
		}
		if json.Unmarshal(result, &navResult) == nil && navResult.FinalURL != "" {
			rt.updateTab(tab, func(t *tabInfo) { t.url = navResult.FinalURL })
		}
	}

	return wire.Response{Dialect: wire.BROP, ID: req.ID, Result: result}
}

// bropForward forwards a request with no tabId requirement straight to the
// extension (get_extension_errors, clear_extension_errors).
func (rt *Router) bropForward(ctx context.Context, req wire.Request, params json.RawMessage) wire.Response {
	result, err := rt.callExtension(ctx, req.Method, params)
	if err != nil {
		return bropError(req, err)
	}
	return wire.Response{Dialect: wire.BROP, ID: req.ID, Result: result}
}
