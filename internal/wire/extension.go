package wire

import (
	"encoding/json"

	"github.com/ajsharma/brop-bridge/internal/bridgeerr"
)

// ExtensionHello is the first frame the extension must send on a fresh
// connection, before any call or event traffic (§4.1 handshake; §6 exit
// code 75 is the Bridge's reaction to a rejected one during startup).
type ExtensionHello struct {
	Hello           string `json:"hello"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
}

// ExtensionCall is a bridge-to-extension request frame (§6). Corr is the
// correlation id assigned by the Extension Channel (§4.1).
type ExtensionCall struct {
	Corr   int64           `json:"corr"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ExtensionError is the structured error an extension reply may carry.
type ExtensionError struct {
	Message string `json:"message"`
}

// ExtensionReply is an extension-to-bridge reply frame, correlated by Corr.
type ExtensionReply struct {
	Corr   int64           `json:"corr"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ExtensionError `json:"error,omitempty"`
}

// ExtensionEvent is an unsolicited extension-to-bridge event frame: tab
// lifecycle, console lines, navigation commits (§4.1).
type ExtensionEvent struct {
	Event  string          `json:"event"`
	Params json.RawMessage `json:"params,omitempty"`
}

// extensionFramePeek is used only to classify an inbound extension frame
// before fully decoding it: replies carry "corr", events carry "event".
type extensionFramePeek struct {
	Corr  *int64  `json:"corr"`
	Event *string `json:"event"`
}

// DecodeExtensionFrame classifies and decodes a raw extension-channel frame
// into either an ExtensionReply or an ExtensionEvent (§4.1: "events... are
// those lacking a correlation id but carrying a method" — here, lacking
// "corr" but carrying "event"). Exactly one of the two return values is
// non-nil on success.
func DecodeExtensionFrame(data []byte) (*ExtensionReply, *ExtensionEvent, error) {
	var peek extensionFramePeek
	if err := json.Unmarshal(data, &peek); err != nil {
		return nil, nil, bridgeerr.Wrap(bridgeerr.BadRequest, "malformed extension frame", err)
	}

	switch {
	case peek.Corr != nil:
		var reply ExtensionReply
		if err := json.Unmarshal(data, &reply); err != nil {
			return nil, nil, bridgeerr.Wrap(bridgeerr.BadRequest, "malformed extension reply", err)
		}
		return &reply, nil, nil
	case peek.Event != nil:
		var event ExtensionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, nil, bridgeerr.Wrap(bridgeerr.BadRequest, "malformed extension event", err)
		}
		return nil, &event, nil
	default:
		return nil, nil, bridgeerr.New(bridgeerr.BadRequest, "extension frame has neither \"corr\" nor \"event\"")
	}
}
