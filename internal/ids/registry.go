package ids

import (
	"sync"

	"github.com/ajsharma/brop-bridge/internal/bridgeerr"
)

// TargetState is a Target's position in the §4.4.4 state machine.
type TargetState int

const (
	// TargetCreated: the tab exists but has no attached session.
	TargetCreated TargetState = iota
	// TargetAttached: one or more sessions are attached.
	TargetAttached
	// TargetDestroyed: terminal; commands against it fail with target-gone.
	TargetDestroyed
)

func (s TargetState) String() string {
	switch s {
	case TargetCreated:
		return "CREATED"
	case TargetAttached:
		return "ATTACHED"
	case TargetDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// TargetInfo is a read-only snapshot of a Target record, returned by
// Targets() for Target.getTargets and the discovery HTTP endpoint.
type TargetInfo struct {
	TargetID         TargetID
	TabID            TabID
	BrowserContextID BrowserContextID
	State            TargetState
}

// DetachedSession describes a session torn down as a side effect of
// UnregisterTab or DetachAllForClient. Callers need the owning client id to
// notify it (§4.6); by the time these calls return, ResolveSession no
// longer has the answer.
type DetachedSession struct {
	SessionID SessionID
	ClientID  ClientID
}

type target struct {
	id               TargetID
	tabID            TabID
	browserContextID BrowserContextID
	state            TargetState
	sessions         map[SessionID]*session
}

type session struct {
	id       SessionID
	targetID TargetID
	clientID ClientID
	flatten  bool
}

// Registry is the pure in-memory, single-coarse-lock store described in
// §4.2. Lookups, registration and single-session attach/detach are O(1);
// Targets and DetachAllForClient walk every target or session. No I/O
// happens under the lock (§9).
type Registry struct {
	mu sync.Mutex

	targetIDPrefix string

	tabToTarget map[TabID]TargetID
	targets     map[TargetID]*target
	sessions    map[SessionID]*session
	contexts    map[BrowserContextID]struct{}
}

// NewRegistry constructs an empty Registry. targetIDPrefix is used to derive
// deterministic target ids from tab ids (§4.2).
func NewRegistry(targetIDPrefix string) *Registry {
	return &Registry{
		targetIDPrefix: targetIDPrefix,
		tabToTarget:    make(map[TabID]TargetID),
		targets:        make(map[TargetID]*target),
		sessions:       make(map[SessionID]*session),
		contexts:       make(map[BrowserContextID]struct{}),
	}
}

// RegisterTab registers a tab reported by the extension, creating its
// Target if one doesn't already exist, and returns the (possibly newly
// derived) TargetID. Idempotent: calling it again for a tab already known
// returns the existing target unchanged.
func (r *Registry) RegisterTab(tab TabID, browserContextID BrowserContextID) TargetID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tid, ok := r.tabToTarget[tab]; ok {
		return tid
	}

	tid := TargetIDFor(r.targetIDPrefix, tab)
	r.tabToTarget[tab] = tid
	r.targets[tid] = &target{
		id:               tid,
		tabID:            tab,
		browserContextID: browserContextID,
		state:            TargetCreated,
		sessions:         make(map[SessionID]*session),
	}
	return tid
}

// UnregisterTab marks the tab's Target DESTROYED (§4.4.4, §4.6 "tab closed
// externally") and returns the sessions that were attached to it, so the
// caller (the Session Router) can notify their owning clients and detach
// them. Calling it on an already-destroyed or unknown tab is a no-op and
// returns a nil slice.
func (r *Registry) UnregisterTab(tab TabID) (TargetID, []DetachedSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tid, ok := r.tabToTarget[tab]
	if !ok {
		return "", nil
	}
	t, ok := r.targets[tid]
	if !ok || t.state == TargetDestroyed {
		return tid, nil
	}

	var detached []DetachedSession
	for sid, s := range t.sessions {
		delete(r.sessions, sid)
		detached = append(detached, DetachedSession{SessionID: sid, ClientID: s.clientID})
	}
	t.sessions = nil
	t.state = TargetDestroyed
	return tid, detached
}

// TargetIDForTab resolves a tab to its target id.
func (r *Registry) TargetIDForTab(tab TabID) (TargetID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tid, ok := r.tabToTarget[tab]
	return tid, ok
}

// TabIDForTarget resolves a target to its tab id.
func (r *Registry) TabIDForTarget(tid TargetID) (TabID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[tid]
	if !ok {
		return 0, false
	}
	return t.tabID, true
}

// CreateBrowserContext allocates a new browser context and returns its id.
func (r *Registry) CreateBrowserContext() BrowserContextID {
	id := BrowserContextID(randomHex())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[id] = struct{}{}
	return id
}

// DestroyBrowserContext removes a browser context. It is a grouping label
// only (§3); targets that referenced it are left as-is.
func (r *Registry) DestroyBrowserContext(id BrowserContextID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contexts, id)
}

// AttachSession attaches clientID to targetID, returning a freshly
// generated SessionID, or *target-gone* if the target is destroyed or
// unknown.
func (r *Registry) AttachSession(targetID TargetID, clientID ClientID, flatten bool) (SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[targetID]
	if !ok || t.state == TargetDestroyed {
		return "", bridgeerr.New(bridgeerr.TargetGone, "target "+string(targetID)+" is gone")
	}

	sid := NewSessionID()
	s := &session{id: sid, targetID: targetID, clientID: clientID, flatten: flatten}
	t.sessions[sid] = s
	t.state = TargetAttached
	r.sessions[sid] = s
	return sid, nil
}

// DetachSession removes a session. Detaching the last session attached to a
// target does not destroy it (§4.4.4).
func (r *Registry) DetachSession(sessionID SessionID) (TargetID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return "", bridgeerr.New(bridgeerr.InvalidSession, "session "+string(sessionID)+" is unknown")
	}
	delete(r.sessions, sessionID)
	if t, ok := r.targets[s.targetID]; ok {
		delete(t.sessions, sessionID)
	}
	return s.targetID, nil
}

// DetachAllForClient tears down every session owned by clientID (§4.6
// client disconnect) and returns the detached session ids.
func (r *Registry) DetachAllForClient(clientID ClientID) []DetachedSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	var detached []DetachedSession
	for sid, s := range r.sessions {
		if s.clientID != clientID {
			continue
		}
		delete(r.sessions, sid)
		if t, ok := r.targets[s.targetID]; ok {
			delete(t.sessions, sid)
		}
		detached = append(detached, DetachedSession{SessionID: sid, ClientID: s.clientID})
	}
	return detached
}

// ResolveSession resolves a session to its target and owning client, or
// *invalid-session* if unknown.
func (r *Registry) ResolveSession(sessionID SessionID) (TargetID, ClientID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return "", "", bridgeerr.New(bridgeerr.InvalidSession, "session "+string(sessionID)+" is unknown")
	}
	return s.targetID, s.clientID, nil
}

// SessionFlatten reports whether a session was attached with flatten=true.
func (r *Registry) SessionFlatten(sessionID SessionID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return false, bridgeerr.New(bridgeerr.InvalidSession, "session "+string(sessionID)+" is unknown")
	}
	return s.flatten, nil
}

// SessionsForTarget resolves a target to every session currently attached
// to it, for event fan-out (§4.2, §8 invariant 4).
func (r *Registry) SessionsForTarget(targetID TargetID) []SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[targetID]
	if !ok {
		return nil
	}
	out := make([]SessionID, 0, len(t.sessions))
	for sid := range t.sessions {
		out = append(out, sid)
	}
	return out
}

// TargetState reports a target's current state, or false if it is unknown.
func (r *Registry) TargetState(targetID TargetID) (TargetState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[targetID]
	if !ok {
		return 0, false
	}
	return t.state, true
}

// RequireLive returns *target-gone* if targetID is unknown or DESTROYED,
// nil otherwise. Server endpoints call this before forwarding any
// target-addressed command (§4.4.4).
func (r *Registry) RequireLive(targetID TargetID) error {
	state, ok := r.TargetState(targetID)
	if !ok || state == TargetDestroyed {
		return bridgeerr.New(bridgeerr.TargetGone, "target "+string(targetID)+" is gone")
	}
	return nil
}

// TargetInfoFor returns a snapshot of a single target, or false if unknown.
func (r *Registry) TargetInfoFor(targetID TargetID) (TargetInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[targetID]
	if !ok {
		return TargetInfo{}, false
	}
	return TargetInfo{
		TargetID:         t.id,
		TabID:            t.tabID,
		BrowserContextID: t.browserContextID,
		State:            t.state,
	}, true
}

// Targets returns a snapshot of every known target, for Target.getTargets
// and the discovery HTTP endpoint.
func (r *Registry) Targets() []TargetInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TargetInfo, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, TargetInfo{
			TargetID:         t.id,
			TabID:            t.tabID,
			BrowserContextID: t.browserContextID,
			State:            t.state,
		})
	}
	return out
}
