package router

import (
	"context"
	"encoding/json"

	"github.com/ajsharma/brop-bridge/internal/bridgeerr"
	"github.com/ajsharma/brop-bridge/internal/ids"
)

// TargetSummary is a read-only snapshot of one live CDP target, shaped for
// the Discovery HTTP Endpoint (§4.8) rather than for any client wire
// protocol.
type TargetSummary struct {
	TargetID ids.TargetID
	TabID    ids.TabID
	URL      string
	Title    string
}

// ListTargets returns every live (non-destroyed) target, for the `/json`
// and `/json/list` discovery routes.
func (rt *Router) ListTargets() []TargetSummary {
	targets := rt.registry.Targets()
	out := make([]TargetSummary, 0, len(targets))
	for _, t := range targets {
		if t.State == ids.TargetDestroyed {
			continue
		}
		meta := rt.tabInfoFor(t.TabID)
		out = append(out, TargetSummary{TargetID: t.TargetID, TabID: t.TabID, URL: meta.url, Title: meta.title})
	}
	return out
}

// CreateTarget asks the extension to open a new tab at url and returns its
// freshly registered target (`/json/new`). It mirrors bropCreateTab's
// extension round trip and registry bookkeeping, returning the richer
// summary the HTTP endpoint needs instead of a BROP wire response.
func (rt *Router) CreateTarget(ctx context.Context, url string) (TargetSummary, error) {
	params, _ := json.Marshal(map[string]string{"url": url})
	result, err := rt.callExtension(ctx, "create_tab", params)
	if err != nil {
		return TargetSummary{}, err
	}
	var created struct {
		TabID ids.TabID `json:"tabId"`
	}
	if err := json.Unmarshal(result, &created); err != nil {
		return TargetSummary{}, bridgeerr.Wrap(bridgeerr.Internal, "extension create_tab returned a malformed result", err)
	}

	targetID := rt.registry.RegisterTab(created.TabID, rt.defaultBrowserContext)
	rt.updateTab(created.TabID, func(t *tabInfo) { t.url = url })
	rt.broadcastTargetCreated(targetID)

	return TargetSummary{TargetID: targetID, TabID: created.TabID, URL: url}, nil
}

// ActivateTarget brings a tab to the front (`/json/activate`). It returns
// target-gone for an unknown target and otherwise the error, if any, of the
// extension's activate_tab call; the discovery endpoint answers either
// failure with HTTP 404.
func (rt *Router) ActivateTarget(ctx context.Context, targetID ids.TargetID) error {
	tab, ok := rt.registry.TabIDForTarget(targetID)
	if !ok {
		return bridgeerr.New(bridgeerr.TargetGone, "unknown target "+string(targetID))
	}
	params, err := withTabID(tab, nil)
	if err != nil {
		return err
	}
	_, callErr := rt.callExtension(ctx, "activate_tab", params)
	return callErr
}

// CloseTarget closes a tab by target id (`/json/close`).
func (rt *Router) CloseTarget(ctx context.Context, targetID ids.TargetID) error {
	tab, ok := rt.registry.TabIDForTarget(targetID)
	if !ok {
		return bridgeerr.New(bridgeerr.TargetGone, "unknown target "+string(targetID))
	}
	params, err := withTabID(tab, nil)
	if err != nil {
		return err
	}
	if _, callErr := rt.callExtension(ctx, "close_tab", params); callErr != nil {
		return callErr
	}
	rt.closeTabLocal(tab)
	return nil
}
