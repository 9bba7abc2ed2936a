package bridgeerr

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(TargetGone, "")
	if err.Kind != TargetGone {
		t.Errorf("expected Kind %s, got %s", TargetGone, err.Kind)
	}
	if err.Message != string(TargetGone) {
		t.Errorf("expected default message %s, got %s", TargetGone, err.Message)
	}
}

func TestErrorf(t *testing.T) {
	err := Errorf(BadRequest, "missing field %s", "tabId")
	want := "missing field tabId"
	if err.Message != want {
		t.Errorf("expected message %q, got %q", want, err.Message)
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	base := errors.New("socket closed")
	err := Wrap(ExtensionDisconnected, "extension channel down", base)

	if err.Kind != ExtensionDisconnected {
		t.Errorf("expected Kind %s, got %s", ExtensionDisconnected, err.Kind)
	}
	if err.Cause == nil || err.Cause.Message != "socket closed" {
		t.Errorf("expected cause to wrap %q, got %+v", base, err.Cause)
	}
	if got := errors.Unwrap(err); got == nil {
		t.Error("expected Unwrap to return the cause")
	}
}

func TestFromErrorPreservesKind(t *testing.T) {
	original := New(TargetGone, "target T destroyed")
	converted := FromError(original)
	if converted != original {
		t.Errorf("expected FromError to return the same *BridgeError, got a copy")
	}
}

func TestFromErrorDefaultsInternal(t *testing.T) {
	converted := FromError(errors.New("boom"))
	if converted.Kind != Internal {
		t.Errorf("expected Kind %s, got %s", Internal, converted.Kind)
	}
}

func TestIsMatchesByKind(t *testing.T) {
	a := New(TargetGone, "first message")
	b := New(TargetGone, "second message")
	c := New(InvalidSession, "third message")

	if !errors.Is(a, b) {
		t.Error("expected errors of the same kind to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("expected errors of different kinds not to match")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"bridge error", New(ExtensionTimeout, "deadline exceeded"), ExtensionTimeout},
		{"plain error", errors.New("unstructured"), Internal},
		{"nil error", nil, Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestToCDPError(t *testing.T) {
	tests := []struct {
		kind     Kind
		wantCode int
	}{
		{BadRequest, -32602},
		{UnknownMethod, -32601},
		{InvalidSession, -32001},
		{TargetGone, -32002},
		{ExtensionDisconnected, -32003},
		{ExtensionTimeout, -32004},
		{ExtensionError, -32005},
		{Internal, -32000},
		{BackpressureDrop, -32000}, // unmapped kind falls back to Internal's code
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := New(tt.kind, "msg")
			cdpErr := e.ToCDPError()
			if cdpErr.Code != tt.wantCode {
				t.Errorf("ToCDPError().Code = %d, want %d", cdpErr.Code, tt.wantCode)
			}
			if cdpErr.Message != "msg" {
				t.Errorf("ToCDPError().Message = %q, want %q", cdpErr.Message, "msg")
			}
		})
	}
}

func TestToBROPError(t *testing.T) {
	e := New(UnknownMethod, "no such method foo")
	want := "unknown-method: no such method foo"
	if got := e.ToBROPError(); got != want {
		t.Errorf("ToBROPError() = %q, want %q", got, want)
	}
}
