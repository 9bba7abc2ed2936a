package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ajsharma/brop-bridge/internal/ids"
	"github.com/ajsharma/brop-bridge/internal/router"
)

type fakeRouter struct {
	targets        []router.TargetSummary
	createErr      error
	activateErr    error
	closeErr       error
	closedTargetID ids.TargetID
}

func (f *fakeRouter) ListTargets() []router.TargetSummary { return f.targets }

func (f *fakeRouter) CreateTarget(ctx context.Context, url string) (router.TargetSummary, error) {
	if f.createErr != nil {
		return router.TargetSummary{}, f.createErr
	}
	summary := router.TargetSummary{TargetID: "target-9", TabID: 9, URL: url}
	f.targets = append(f.targets, summary)
	return summary, nil
}

func (f *fakeRouter) ActivateTarget(ctx context.Context, targetID ids.TargetID) error {
	return f.activateErr
}

func (f *fakeRouter) CloseTarget(ctx context.Context, targetID ids.TargetID) error {
	f.closedTargetID = targetID
	return f.closeErr
}

func TestJSONVersion(t *testing.T) {
	fr := &fakeRouter{}
	srv := New(fr, "localhost", 9222, "brop-bridge", "1.0.0", "proc-abc")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/json/version")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var info browserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := "ws://localhost:9222/devtools/browser/proc-abc"
	if info.WebSocketDebuggerURL != want {
		t.Errorf("expected webSocketDebuggerUrl %q, got %q", want, info.WebSocketDebuggerURL)
	}
	if info.Browser == "" || info.ProtocolVersion == "" {
		t.Error("expected Browser and Protocol-Version to be populated")
	}
}

func TestJSONList(t *testing.T) {
	fr := &fakeRouter{targets: []router.TargetSummary{
		{TargetID: "target-1", TabID: 1, URL: "https://example.com", Title: "Example"},
	}}
	srv := New(fr, "localhost", 9222, "brop-bridge", "1.0.0", "proc-abc")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/json/list")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var targets []targetJSON
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(targets))
	}
	got := targets[0]
	if got.ID != "target-1" {
		t.Errorf("expected id to equal the CDP targetId, got %q", got.ID)
	}
	wantWS := "ws://localhost:9222/devtools/page/target-1"
	if got.WebSocketDebuggerURL != wantWS {
		t.Errorf("expected webSocketDebuggerUrl %q, got %q", wantWS, got.WebSocketDebuggerURL)
	}
	if got.Type != "page" {
		t.Errorf("expected type page, got %q", got.Type)
	}
}

func TestJSONNew(t *testing.T) {
	fr := &fakeRouter{}
	srv := New(fr, "localhost", 9222, "brop-bridge", "1.0.0", "proc-abc")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/json/new?%s", ts.URL, "url=https%3A%2F%2Fexample.com"), nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var created targetJSON
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if created.ID != "target-9" {
		t.Errorf("expected id target-9, got %q", created.ID)
	}
	if created.URL != "https://example.com" {
		t.Errorf("expected url to round-trip, got %q", created.URL)
	}
}

func TestJSONActivateAndClose(t *testing.T) {
	fr := &fakeRouter{}
	srv := New(fr, "localhost", 9222, "brop-bridge", "1.0.0", "proc-abc")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/json/activate/target-1")
	if err != nil {
		t.Fatalf("GET activate failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/json/close/target-1")
	if err != nil {
		t.Fatalf("GET close failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if fr.closedTargetID != "target-1" {
		t.Errorf("expected close to be routed to target-1, got %q", fr.closedTargetID)
	}
}

func TestJSONCloseUnknownTarget(t *testing.T) {
	fr := &fakeRouter{closeErr: fmt.Errorf("target gone")}
	srv := New(fr, "localhost", 9222, "brop-bridge", "1.0.0", "proc-abc")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/json/close/unknown-target")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
