// Package calllog implements the CallLog (§3): a bounded ring recording
// every request/response cycle for operator visibility, with sensitive
// fields redacted and oversized payloads truncated. When the Store has a
// structured logger, each entry is also written to it synchronously: SYSTEM
// entries and failed calls at warn level, ordinary successful calls at debug
// level. Without a logger (enable_request_log off) entries are only kept in
// the ring.
package calllog

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ajsharma/brop-bridge/internal/redact"
)

// Protocol tags which wire dialect (or the process itself) produced an entry.
type Protocol string

const (
	ProtocolBROP     Protocol = "BROP"
	ProtocolCDP      Protocol = "CDP"
	ProtocolCDPEvent Protocol = "CDP_EVENT"
	ProtocolSystem   Protocol = "SYSTEM"
)

const (
	// maxFieldBytes bounds how much of a marshaled params/result object is
	// retained per entry (§3: "large payloads truncated with explicit marker").
	maxFieldBytes   = 8 * 1024
	truncatedMarker = "...[truncated]"
)

// Entry is one CallLog record (§3).
type Entry struct {
	ID        string
	Timestamp time.Time
	Protocol  Protocol
	Method    string
	Params    string
	Result    string
	Error     string
	Duration  time.Duration
	Truncated bool
}

// Store is the bounded CallLog ring plus its optional structured-logging
// sink.
type Store struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	size    int

	nonce    atomic.Uint64
	redactor *redact.Redactor
	logger   *logrus.Logger // nil disables the structured-logging sink
}

// NewStore constructs a Store bounded at max entries (§6
// max_call_log_entries). redactor may be nil to disable redaction (not
// recommended); logger may be nil to disable the structured-logging sink
// entirely (enable_request_log governs whether the caller passes one).
func NewStore(max int, redactor *redact.Redactor, logger *logrus.Logger) *Store {
	return &Store{
		entries:  make([]Entry, max),
		redactor: redactor,
		logger:   logger,
	}
}

func marshalTruncated(v map[string]interface{}) (string, bool) {
	if v == nil {
		return "", false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<marshal error: %v>", err), false
	}
	if len(data) <= maxFieldBytes {
		return string(data), false
	}
	return string(data[:maxFieldBytes]) + truncatedMarker, true
}

// Append redacts and truncates params/result, appends a new Entry to the
// ring, and — depending on outcome and configuration — writes it to the
// structured-logging sink. It returns the stored Entry.
func (s *Store) Append(protocol Protocol, method string, params, result map[string]interface{}, callErr error, duration time.Duration) Entry {
	if s.redactor != nil {
		params = s.redactor.RedactParams(params)
		result = s.redactor.RedactParams(result)
	}
	paramsStr, pTrunc := marshalTruncated(params)
	resultStr, rTrunc := marshalTruncated(result)

	e := Entry{
		ID:        fmt.Sprintf("%d-%d", time.Now().UnixNano(), s.nonce.Add(1)),
		Timestamp: time.Now(),
		Protocol:  protocol,
		Method:    method,
		Params:    paramsStr,
		Result:    resultStr,
		Duration:  duration,
		Truncated: pTrunc || rTrunc,
	}
	if callErr != nil {
		e.Error = callErr.Error()
	}

	s.mu.Lock()
	s.push(e)
	s.mu.Unlock()

	s.sinkLog(e, callErr)
	return e
}

func (s *Store) push(e Entry) {
	capacity := len(s.entries)
	if capacity == 0 {
		return
	}
	if s.size < capacity {
		s.entries[(s.start+s.size)%capacity] = e
		s.size++
		return
	}
	s.entries[s.start] = e
	s.start = (s.start + 1) % capacity
}

func (s *Store) sinkLog(e Entry, callErr error) {
	if s.logger == nil {
		return
	}
	fields := logrus.Fields{
		"protocol": string(e.Protocol),
		"method":   e.Method,
		"duration": e.Duration.String(),
	}
	// SYSTEM entries and call failures go out at warn level, ordinary
	// successful calls at debug level. Neither reaches this point unless the
	// Store was built with a logger, which the bridge passes only when
	// enable_request_log is set.
	if callErr != nil || e.Protocol == ProtocolSystem {
		s.logger.WithFields(fields).WithError(callErr).Warn("call logged")
		return
	}
	s.logger.WithFields(fields).Debug("call logged")
}

// Recent returns up to limit entries (0 = unbounded), most-recent-first.
func (s *Store) Recent(limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, s.size)
	capacity := len(s.entries)
	for i := 0; i < s.size; i++ {
		idx := (s.start + s.size - 1 - i + capacity) % capacity
		out = append(out, s.entries[idx])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len reports how many entries are currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}
