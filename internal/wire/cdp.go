package wire

import (
	"encoding/json"

	"github.com/ajsharma/brop-bridge/internal/bridgeerr"
)

// CDPRequest is the wire shape of a CDP client request (§6).
type CDPRequest struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// CDPResponse is the wire shape of a CDP server response. SessionID is
// echoed iff the originating request carried one (§4.4.2, the envelope
// contract).
type CDPResponse struct {
	ID        int64               `json:"id"`
	Result    json.RawMessage     `json:"result,omitempty"`
	Error     *bridgeerr.CDPError `json:"error,omitempty"`
	SessionID string              `json:"sessionId,omitempty"`
}

// CDPEvent is the wire shape of a CDP server-originated event. It carries no
// id field (§8 invariant 3).
type CDPEvent struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}
