package wire

import (
	"encoding/json"

	"github.com/ajsharma/brop-bridge/internal/bridgeerr"
)

// BROPRequest is the wire shape of a BROP client request (§4.3, §6). Method
// and Command are mutually exclusive on the wire: Command is the legacy
// `{id, command:{type, ...params}}` form, which Normalize folds into
// Method/Params so downstream code only ever sees the canonical shape.
type BROPRequest struct {
	ID      int64           `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Command json.RawMessage `json:"command,omitempty"`
}

// BROPResponse is the wire shape of a BROP server response (§6). There is no
// session concept on this dialect.
type BROPResponse struct {
	ID      int64           `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Normalize folds the legacy `command:{type, ...}` request shape into the
// canonical Method/Params shape (§4.3: "the extra command form is legacy and
// must remain accepted... the server normalizes both forms to a single
// internal request"). It is a no-op if Method is already set or Command is
// absent.
func (r *BROPRequest) Normalize() error {
	if r.Method != "" || len(r.Command) == 0 {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Command, &fields); err != nil {
		return bridgeerr.New(bridgeerr.BadRequest, "legacy command must be a JSON object")
	}

	typeRaw, ok := fields["type"]
	if !ok {
		return bridgeerr.New(bridgeerr.BadRequest, "legacy command missing \"type\"")
	}
	var method string
	if err := json.Unmarshal(typeRaw, &method); err != nil || method == "" {
		return bridgeerr.New(bridgeerr.BadRequest, "legacy command \"type\" must be a non-empty string")
	}
	delete(fields, "type")

	params, err := json.Marshal(fields)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Internal, "failed to re-encode legacy command params", err)
	}

	r.Method = method
	r.Params = params
	r.Command = nil
	return nil
}
