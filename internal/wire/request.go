package wire

import (
	"encoding/json"

	"github.com/ajsharma/brop-bridge/internal/bridgeerr"
)

// Request is the internal, dialect-agnostic representation of an inbound
// client request (§9: "introduce an internal request type that is the
// union of what any dialect can express; translate at the edge only").
// Server endpoints build a Request from their own wire frame; the Session
// Router and below never see CDPRequest/BROPRequest again.
type Request struct {
	Dialect Dialect
	ID      int64
	Method  string
	Params  json.RawMessage

	// SessionID is set only for CDP requests that carried one. BROP has no
	// session concept (§3).
	SessionID string
}

// FromCDP builds a dialect-agnostic Request from a decoded CDP request.
func FromCDP(req CDPRequest) Request {
	return Request{
		Dialect:   CDP,
		ID:        req.ID,
		Method:    req.Method,
		Params:    req.Params,
		SessionID: req.SessionID,
	}
}

// FromBROP builds a dialect-agnostic Request from a decoded, already
// Normalize()-d BROP request.
func FromBROP(req BROPRequest) Request {
	return Request{
		Dialect: BROP,
		ID:      req.ID,
		Method:  req.Method,
		Params:  req.Params,
	}
}

// NewErrorResponse builds a dialect-agnostic error Response from a
// BridgeError, reusing its CDP error rendering for both dialects (BROP only
// keeps the Message half via ToBROPResponse).
func NewErrorResponse(dialect Dialect, id int64, sessionID string, err *bridgeerr.BridgeError) Response {
	cdpErr := err.ToCDPError()
	return Response{
		Dialect:   dialect,
		ID:        id,
		SessionID: sessionID,
		Err:       &cdpErr,
	}
}

// Response is the internal, dialect-agnostic representation of an outbound
// reply. Server endpoints render it back into their own wire shape
// (ToCDPResponse/ToBROPResponse) as the last step before writing to the
// socket.
type Response struct {
	Dialect   Dialect
	ID        int64
	SessionID string
	Result    json.RawMessage
	Err       *bridgeerr.CDPError // nil on success
}

// ToCDPResponse renders a Response into the CDP wire shape, echoing
// SessionID per the envelope contract (§4.4.2).
func (r Response) ToCDPResponse() CDPResponse {
	return CDPResponse{
		ID:        r.ID,
		Result:    r.Result,
		Error:     r.Err,
		SessionID: r.SessionID,
	}
}

// ToBROPResponse renders a Response into the BROP wire shape (§6: flat
// success bool, string error).
func (r Response) ToBROPResponse() BROPResponse {
	resp := BROPResponse{ID: r.ID, Result: r.Result}
	if r.Err != nil {
		resp.Success = false
		resp.Error = r.Err.Message
	} else {
		resp.Success = true
	}
	return resp
}
