// Package ids defines the bridge's nominal identifier types (§9 design
// notes: "string-typed identifiers everywhere" is re-architected here as
// distinct Go types, so mis-routing tabId/targetId/sessionId is a compile
// error rather than a runtime bug) and the Identifier Registry (§4.2) that
// owns the three address spaces: tabId ↔ targetId, targetId → sessionId(s),
// sessionId → owning client.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TabID is the numeric tab identifier reported by the extension.
type TabID int64

// TargetID is the opaque, stable-for-the-life-of-the-tab CDP target handle.
type TargetID string

// SessionID is the opaque per-attach CDP session handle.
type SessionID string

// BrowserContextID is an opaque CDP browser-context grouping label.
type BrowserContextID string

// ClientID identifies a connected client (CDP or BROP) owning zero or more
// sessions. It is a lookup key, never an ownership reference (§9: break
// cyclic references with the registry as sole owner).
type ClientID string

// CorrelationID tags an in-flight request on the Extension Channel.
type CorrelationID int64

// NewSessionID generates a fresh 128-bit random hex session id (§4.2).
func NewSessionID() SessionID {
	return SessionID(randomHex())
}

// NewClientID generates a fresh 128-bit random hex client id. Server
// endpoints call this once per accepted connection; it is a lookup key
// only; see ClientID's doc comment.
func NewClientID() ClientID {
	return ClientID(randomHex())
}

func randomHex() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the stdlib reader only fails if the OS
		// entropy source is broken; there is no sane fallback.
		panic(fmt.Sprintf("ids: crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(buf)
}

// TargetIDFor derives a TargetID deterministically from a TabID and a
// configured prefix, so that reconnecting to the same tab after an
// extension reconnect yields the same target id (§4.2).
func TargetIDFor(prefix string, tab TabID) TargetID {
	return TargetID(fmt.Sprintf("%s-%d", prefix, tab))
}
