// Package bridgeerr provides the bridge's structured error taxonomy (§7).
// BridgeError preserves an abstract Kind and an optional Cause chain while
// still implementing the standard error interface, so call sites can branch
// on Kind and still support errors.Is/As against the wrapped cause.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error kinds from §7.
type Kind string

const (
	// BadRequest: malformed frame, missing required field. Replied locally,
	// connection kept.
	BadRequest Kind = "bad-request"
	// UnknownMethod: the request named a method the server does not recognize.
	UnknownMethod Kind = "unknown-method"
	// InvalidSession: a CDP request carried a sessionId the registry does not know.
	InvalidSession Kind = "invalid-session"
	// TargetGone: a command addressed a DESTROYED target.
	TargetGone Kind = "target-gone"
	// ExtensionDisconnected: the extension channel is down.
	ExtensionDisconnected Kind = "extension-disconnected"
	// ExtensionTimeout: an extension call's deadline elapsed.
	ExtensionTimeout Kind = "extension-timeout"
	// ExtensionError: the extension replied with a structured error.
	ExtensionError Kind = "extension-error"
	// BackpressureDrop: a client's outbound queue exceeded the high watermark.
	// Never surfaced to callers; logged only.
	BackpressureDrop Kind = "backpressure-drop"
	// Internal: an unexpected internal failure. Logged with a stable id for triage.
	Internal Kind = "internal"
)

// BridgeError is the bridge's structured error type. It implements error,
// Unwrap (for errors.Is/As against Cause), and carries the abstract Kind
// that server endpoints translate into their own wire error shape.
type BridgeError struct {
	Kind    Kind
	Message string
	Cause   *BridgeError
}

// New constructs a BridgeError of the given kind with a message.
func New(kind Kind, message string) *BridgeError {
	if message == "" {
		message = string(kind)
	}
	return &BridgeError{Kind: kind, Message: message}
}

// Errorf constructs a BridgeError of the given kind, formatting the message.
func Errorf(kind Kind, format string, args ...any) *BridgeError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap constructs a BridgeError of the given kind that wraps an underlying
// error. The cause is converted into a BridgeError chain (kind Internal if
// it isn't already one) so the chain survives errors.Is/As via Unwrap.
func Wrap(kind Kind, message string, cause error) *BridgeError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &BridgeError{
		Kind:    kind,
		Message: message,
		Cause:   FromError(cause),
	}
}

// FromError converts an arbitrary error into a BridgeError chain, preserving
// an existing BridgeError's Kind or defaulting to Internal.
func FromError(err error) *BridgeError {
	if err == nil {
		return nil
	}
	var be *BridgeError
	if errors.As(err, &be) {
		return be
	}
	return &BridgeError{
		Kind:    Internal,
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap returns the underlying BridgeError to support errors.Is/As.
func (e *BridgeError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a BridgeError of the same Kind. This lets
// call sites write errors.Is(err, bridgeerr.New(bridgeerr.TargetGone, ""))
// without caring about Message.
func (e *BridgeError) Is(target error) bool {
	var t *BridgeError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) a BridgeError,
// defaulting to Internal for anything else.
func KindOf(err error) Kind {
	var be *BridgeError
	if errors.As(err, &be) && be != nil {
		return be.Kind
	}
	return Internal
}

// cdpErrorCode maps each abstract kind to the CDP JSON-RPC error envelope
// code this bridge emits. CDP does not define a rich enum for these; the
// ranges mirror Chrome's own DevTools protocol handler (generic -32000 range
// for protocol-level failures, distinguished by code offset per kind so
// clients can at least disambiguate mechanically).
var cdpErrorCode = map[Kind]int{
	BadRequest:            -32602, // invalid params, mirrors JSON-RPC's own code
	UnknownMethod:         -32601, // method not found
	InvalidSession:        -32001,
	TargetGone:            -32002,
	ExtensionDisconnected: -32003,
	ExtensionTimeout:      -32004,
	ExtensionError:        -32005,
	Internal:              -32000,
}

// CDPError is the wire shape of a CDP response's error field (§6).
type CDPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ToCDPError renders a BridgeError into the CDP error envelope shape.
func (e *BridgeError) ToCDPError() CDPError {
	code, ok := cdpErrorCode[e.Kind]
	if !ok {
		code = cdpErrorCode[Internal]
	}
	return CDPError{Code: code, Message: e.Message}
}

// ToBROPError renders a BridgeError as a flat "kind: message" string. The
// BROP server does not use it: its responses carry only the message
// (wire.Response.ToBROPResponse).
func (e *BridgeError) ToBROPError() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
