package bropserver

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/ajsharma/brop-bridge/internal/calllog"
	"github.com/ajsharma/brop-bridge/internal/consolelog"
	"github.com/ajsharma/brop-bridge/internal/extconn"
	"github.com/ajsharma/brop-bridge/internal/ids"
	"github.com/ajsharma/brop-bridge/internal/redact"
	"github.com/ajsharma/brop-bridge/internal/router"
	"github.com/ajsharma/brop-bridge/internal/wire"
)

// fakeExtConn stands in for the extension's websocket connection so the
// test never dials a real extension (mirrors internal/router's own test
// double for the same interface).
type fakeExtConn struct {
	mu      sync.Mutex
	outbox  chan []byte
	inbox   chan []byte
	closed  bool
	handler func(op string, params json.RawMessage) (json.RawMessage, *wire.ExtensionError)
}

func newFakeExtConn(handler func(op string, params json.RawMessage) (json.RawMessage, *wire.ExtensionError)) *fakeExtConn {
	c := &fakeExtConn{outbox: make(chan []byte, 16), inbox: make(chan []byte, 16), handler: handler}
	go c.serve()
	return c
}

func (c *fakeExtConn) serve() {
	for frame := range c.outbox {
		var call wire.ExtensionCall
		if json.Unmarshal(frame, &call) != nil {
			continue
		}
		result, extErr := c.handler(call.Op, call.Params)
		reply := wire.ExtensionReply{Corr: call.Corr, OK: extErr == nil, Result: result, Error: extErr}
		data, _ := json.Marshal(reply)
		c.inbox <- data
	}
}

func (c *fakeExtConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return gorillaws.ErrCloseSent
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.outbox <- cp
	return nil
}

func (c *fakeExtConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.inbox
	if !ok {
		return 0, nil, gorillaws.ErrCloseSent
	}
	return gorillaws.TextMessage, data, nil
}

func (c *fakeExtConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.outbox)
		close(c.inbox)
	}
	return nil
}

// newTestServer wires a real Router against a fake extension connection and
// returns an httptest.Server serving the BROP listener.
func newTestServer(t *testing.T, handler func(op string, params json.RawMessage) (json.RawMessage, *wire.ExtensionError)) *httptest.Server {
	t.Helper()
	registry := ids.NewRegistry("target")
	channel := extconn.NewChannel(time.Second)
	console := consolelog.NewStore(1000)
	calls := calllog.NewStore(1000, redact.New(true), nil)
	rt := router.NewRouter(registry, channel, console, calls, time.Second, true)

	conn := newFakeExtConn(handler)
	channel.Accept(conn)

	srv := New(rt, 256)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestListAndCreateTab(t *testing.T) {
	ts := newTestServer(t, func(op string, params json.RawMessage) (json.RawMessage, *wire.ExtensionError) {
		if op == "create_tab" {
			return json.RawMessage(`{"tabId":3}`), nil
		}
		return nil, &wire.ExtensionError{Message: "unexpected op " + op}
	})
	conn := dial(t, ts)

	if err := conn.WriteJSON(wire.BROPRequest{ID: 1, Method: "create_tab", Params: json.RawMessage(`{"url":"https://example.com"}`)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var resp wire.BROPResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}

	if err := conn.WriteJSON(wire.BROPRequest{ID: 2, Method: "list_tabs"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var listResp wire.BROPResponse
	if err := conn.ReadJSON(&listResp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var decoded struct {
		Tabs []map[string]interface{} `json:"tabs"`
	}
	if err := json.Unmarshal(listResp.Result, &decoded); err != nil {
		t.Fatalf("unmarshal tabs: %v", err)
	}
	if len(decoded.Tabs) != 1 {
		t.Fatalf("expected 1 tab, got %d", len(decoded.Tabs))
	}
}

func TestLegacyCommandNormalization(t *testing.T) {
	ts := newTestServer(t, func(op string, params json.RawMessage) (json.RawMessage, *wire.ExtensionError) {
		return json.RawMessage(`{"version":"1.2.3"}`), nil
	})
	conn := dial(t, ts)

	legacy := map[string]interface{}{
		"id": 1,
		"command": map[string]interface{}{
			"type": "get_extension_version",
		},
	}
	if err := conn.WriteJSON(legacy); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var resp wire.BROPResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	ts := newTestServer(t, func(op string, params json.RawMessage) (json.RawMessage, *wire.ExtensionError) {
		return nil, &wire.ExtensionError{Message: "should not be called"}
	})
	conn := dial(t, ts)

	if err := conn.WriteJSON(wire.BROPRequest{ID: 1, Method: "not_a_real_method"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var resp wire.BROPResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure for unknown method")
	}
}
