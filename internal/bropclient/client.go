// Package bropclient is a thin BROP websocket client, used by the
// `control` command tree in cmd/bridge in place of the teacher's
// chromedp-backed Controller. Where the teacher drove a real browser
// directly over CDP, this client drives the bridge's BROP server, which
// forwards each call on to the extension.
package bropclient

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a single BROP connection with blocking request/response
// semantics; one in-flight call at a time, matching how every `control`
// subcommand uses it (dial, issue one call, exit).
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration

	mu     sync.Mutex
	nextID int64
}

// Dial connects to a BROP server at addr (host:port, no scheme).
func Dial(addr string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("dial brop server at %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: 30 * time.Second}, nil
}

// SetTimeout sets the per-call deadline for subsequent calls.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

type bropRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type bropResponse struct {
	ID      int64           `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Call issues method with params and returns its raw result payload.
func (c *Client) Call(method string, params any) (json.RawMessage, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	req := bropRequest{ID: id, Method: method, Params: paramsJSON}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	var resp bropResponse
	if err := c.conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s failed: %s", method, resp.Error)
	}
	return resp.Result, nil
}

// ListTabs calls list_tabs and returns the raw result object, whose "tabs"
// field holds the tab array.
func (c *Client) ListTabs() (json.RawMessage, error) {
	return c.Call("list_tabs", struct{}{})
}

// CreateTab calls create_tab and returns its tabId.
func (c *Client) CreateTab(url string) (int64, error) {
	result, err := c.Call("create_tab", map[string]string{"url": url})
	if err != nil {
		return 0, err
	}
	var created struct {
		TabID int64 `json:"tabId"`
	}
	if err := json.Unmarshal(result, &created); err != nil {
		return 0, fmt.Errorf("decode create_tab result: %w", err)
	}
	return created.TabID, nil
}

// Navigate navigates tabID to url and returns the final, post-redirect URL.
func (c *Client) Navigate(tabID int64, url string) (string, error) {
	result, err := c.Call("navigate", map[string]any{"tabId": tabID, "url": url})
	if err != nil {
		return "", err
	}
	var nav struct {
		FinalURL string `json:"final_url"`
	}
	if err := json.Unmarshal(result, &nav); err != nil {
		return "", fmt.Errorf("decode navigate result: %w", err)
	}
	return nav.FinalURL, nil
}

// Click clicks selector on tabID.
func (c *Client) Click(tabID int64, selector string) error {
	_, err := c.Call("click", map[string]any{"tabId": tabID, "selector": selector})
	return err
}

// Type types text into selector on tabID, clearing any existing value
// first (clear_first mirrors the teacher Controller's Type, which always
// calls chromedp.Clear before SendKeys).
func (c *Client) Type(tabID int64, selector, text string) error {
	_, err := c.Call("type", map[string]any{
		"tabId":       tabID,
		"selector":    selector,
		"text":        text,
		"clear_first": true,
	})
	return err
}

// Evaluate runs js on tabID and returns the raw JSON result.
func (c *Client) Evaluate(tabID int64, js string) (json.RawMessage, error) {
	return c.Call("evaluate_js", map[string]any{"tabId": tabID, "code": js})
}

// Screenshot captures tabID as PNG bytes.
func (c *Client) Screenshot(tabID int64) ([]byte, error) {
	result, err := c.Call("get_screenshot", map[string]any{"tabId": tabID, "format": "png"})
	if err != nil {
		return nil, err
	}
	var shot struct {
		Data []byte `json:"data"`
	}
	if err := json.Unmarshal(result, &shot); err != nil {
		return nil, fmt.Errorf("decode get_screenshot result: %w", err)
	}
	return shot.Data, nil
}

// GetText returns the text content of the element(s) matching selector.
func (c *Client) GetText(tabID int64, selector string) (string, error) {
	result, err := c.Call("get_element", map[string]any{"tabId": tabID, "selector": selector})
	if err != nil {
		return "", err
	}
	var elem struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(result, &elem); err != nil {
		return "", fmt.Errorf("decode get_element result: %w", err)
	}
	return elem.Text, nil
}

// GetTitle and GetURL read page metadata via get_page_content, matching
// how the bridge tracks tab title/url without a dedicated BROP method for
// either alone.
func (c *Client) GetTitle(tabID int64) (string, error) {
	return c.pageMetaField(tabID, "title")
}

func (c *Client) GetURL(tabID int64) (string, error) {
	return c.pageMetaField(tabID, "url")
}

func (c *Client) pageMetaField(tabID int64, field string) (string, error) {
	result, err := c.Call("get_page_content", map[string]any{"tabId": tabID, "include_metadata": true})
	if err != nil {
		return "", err
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(result, &meta); err != nil {
		return "", fmt.Errorf("decode get_page_content result: %w", err)
	}
	raw, ok := meta[field]
	if !ok {
		return "", fmt.Errorf("get_page_content result has no %q field", field)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("decode %q field: %w", field, err)
	}
	return value, nil
}
