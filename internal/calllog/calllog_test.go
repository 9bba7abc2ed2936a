package calllog

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/ajsharma/brop-bridge/internal/redact"
)

func TestAppendAndRecent(t *testing.T) {
	s := NewStore(10, redact.New(true), nil)

	s.Append(ProtocolBROP, "list_tabs", nil, map[string]interface{}{"tabs": []interface{}{}}, nil, time.Millisecond)
	s.Append(ProtocolCDP, "Browser.getVersion", nil, nil, nil, time.Millisecond)

	entries := s.Recent(0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Most-recent-first.
	if entries[0].Method != "Browser.getVersion" {
		t.Errorf("expected most recent entry first, got %s", entries[0].Method)
	}
}

func TestAppendRedactsParams(t *testing.T) {
	s := NewStore(10, redact.New(true), nil)

	s.Append(ProtocolBROP, "navigate", map[string]interface{}{"tabId": float64(1), "cookie": "secret"}, nil, nil, 0)

	entries := s.Recent(1)
	if !strings.Contains(entries[0].Params, redact.RedactedValue) {
		t.Errorf("expected params to be redacted, got %s", entries[0].Params)
	}
	if strings.Contains(entries[0].Params, "secret") {
		t.Errorf("expected secret value to be redacted, got %s", entries[0].Params)
	}
}

func TestAppendTruncatesLargePayloads(t *testing.T) {
	s := NewStore(10, redact.New(false), nil)

	huge := strings.Repeat("x", maxFieldBytes*2)
	s.Append(ProtocolCDP, "DOM.getDocument", nil, map[string]interface{}{"html": huge}, nil, 0)

	entries := s.Recent(1)
	if !entries[0].Truncated {
		t.Error("expected Truncated to be true for an oversized payload")
	}
	if !strings.HasSuffix(entries[0].Result, truncatedMarker) {
		t.Errorf("expected result to end with truncation marker, got suffix %q", entries[0].Result[len(entries[0].Result)-20:])
	}
	if len(entries[0].Result) > maxFieldBytes+len(truncatedMarker) {
		t.Errorf("expected result length bounded, got %d bytes", len(entries[0].Result))
	}
}

func TestBoundedRing(t *testing.T) {
	const max = 5
	s := NewStore(max, redact.New(true), nil)

	for i := 0; i < 50; i++ {
		s.Append(ProtocolSystem, "tick", nil, nil, nil, 0)
	}

	if got := s.Len(); got != max {
		t.Errorf("expected bounded length %d, got %d", max, got)
	}
}

func TestAppendRecordsError(t *testing.T) {
	s := NewStore(10, redact.New(true), nil)
	callErr := errors.New("extension disconnected")

	s.Append(ProtocolCDP, "Page.navigate", nil, nil, callErr, 0)

	entries := s.Recent(1)
	if entries[0].Error != "extension disconnected" {
		t.Errorf("expected error message recorded, got %q", entries[0].Error)
	}
}

func TestSinkLogsErrorsAndSystemEntries(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s := NewStore(10, redact.New(true), logger)

	s.Append(ProtocolCDP, "Page.navigate", nil, nil, errors.New("boom"), 0)
	if len(hook.Entries) != 1 {
		t.Fatalf("expected 1 log entry for a failed call, got %d", len(hook.Entries))
	}
	if hook.LastEntry().Level != logrus.WarnLevel {
		t.Errorf("expected warn level for a failed call, got %s", hook.LastEntry().Level)
	}

	hook.Reset()
	s.Append(ProtocolSystem, "extension_reconnect", nil, nil, nil, 0)
	if len(hook.Entries) != 1 {
		t.Fatalf("expected 1 log entry for a SYSTEM call, got %d", len(hook.Entries))
	}
}

func TestSinkLogsSuccessAtDebug(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s := NewStore(10, redact.New(true), logger)

	s.Append(ProtocolBROP, "list_tabs", nil, nil, nil, 0)
	if len(hook.Entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(hook.Entries))
	}
	if hook.LastEntry().Level != logrus.DebugLevel {
		t.Errorf("expected debug level for a successful call, got %s", hook.LastEntry().Level)
	}
}

func TestNilLoggerDisablesSink(t *testing.T) {
	s := NewStore(10, redact.New(true), nil)
	// Must not panic with a nil logger.
	s.Append(ProtocolCDP, "Browser.getVersion", nil, nil, nil, 0)
}
