// Package discovery serves the Discovery HTTP Endpoint (§4.8): the small
// set of JSON documents CDP clients probe on startup before ever opening a
// websocket. Shapes mirror Chrome's own `/json*` surface byte-for-byte,
// inverted relative to the teacher: the teacher's internal/cdp/discovery.go
// queries a real Chrome's `/json*`; this package serves the same documents
// instead.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ajsharma/brop-bridge/internal/ids"
	"github.com/ajsharma/brop-bridge/internal/router"
)

const targetTypePage = "page"

// Router is the subset of *router.Router the endpoint depends on.
type Router interface {
	ListTargets() []router.TargetSummary
	CreateTarget(ctx context.Context, url string) (router.TargetSummary, error)
	ActivateTarget(ctx context.Context, targetID ids.TargetID) error
	CloseTarget(ctx context.Context, targetID ids.TargetID) error
}

// browserInfo is the `/json/version` response shape (§4.8).
type browserInfo struct {
	Browser         string `json:"Browser"`
	ProtocolVersion string `json:"Protocol-Version"`
	UserAgent       string `json:"User-Agent"`
	V8Version       string `json:"V8-Version"`
	WebKitVersion   string `json:"WebKit-Version"`

	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// targetJSON is one entry of the `/json`/`/json/list` array and the body of
// `/json/new` (§4.8). Every field must be present and `ID` must equal the
// CDP targetId clients will later see in Target.attachedToTarget, since
// that's the identifier a DevTools-compatible client correlates discovery
// entries against live targets with.
type targetJSON struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Server implements the Discovery HTTP Endpoint as a chi.Router, mountable
// standalone on http_port or folded into the CDP listener when
// http_port == cdp_port (§9 open question #2, decided in SPEC_FULL.md).
type Server struct {
	rt              Router
	cdpWebSocketURL func(path string) string
	processVersion  string
	browserName     string
	browserID       string
}

// New constructs a Discovery Server. cdpHost:cdpPort is the address CDP
// clients should connect their websocket to; it is embedded into every
// webSocketDebuggerUrl this server returns, since §4.8 requires that field
// be "the exact URL clients will then open." browserID is the bridge
// process's own stable identity (minted once at startup, mirroring the
// teacher's GetSessionID()) and appears in the browser-level
// devtools/browser/<id> path the way Chrome's own does; per-target paths
// use the CDP targetId instead.
func New(rt Router, cdpHost string, cdpPort int, browserName, processVersion, browserID string) *Server {
	return &Server{
		rt:             rt,
		browserName:    browserName,
		processVersion: processVersion,
		browserID:      browserID,
		cdpWebSocketURL: func(path string) string {
			return fmt.Sprintf("ws://%s:%d/%s", cdpHost, cdpPort, path)
		},
	}
}

// Handler returns the mountable chi.Router for the discovery routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/json/version", s.handleVersion)
	r.Get("/json", s.handleList)
	r.Get("/json/list", s.handleList)
	r.Put("/json/new", s.handleNew)
	r.Get("/json/new", s.handleNew) // Chrome itself also accepts GET here
	r.Get("/json/activate/{targetId}", s.handleActivate)
	r.Get("/json/close/{targetId}", s.handleClose)
	return r
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, browserInfo{
		Browser:              s.browserName + "/" + s.processVersion,
		ProtocolVersion:      "1.3",
		UserAgent:            "brop-bridge/" + s.processVersion,
		WebSocketDebuggerURL: s.cdpWebSocketURL("devtools/browser/" + s.browserID),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	targets := s.rt.ListTargets()
	out := make([]targetJSON, 0, len(targets))
	for _, t := range targets {
		out = append(out, s.render(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		url = "about:blank"
	}

	target, err := s.rt.CreateTarget(r.Context(), url)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.render(router.TargetSummary{
		TargetID: target.TargetID,
		TabID:    target.TabID,
		URL:      target.URL,
	}))
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	targetID := ids.TargetID(chi.URLParam(r, "targetId"))
	if err := s.rt.ActivateTarget(r.Context(), targetID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	fmt.Fprint(w, "Target activated")
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	targetID := ids.TargetID(chi.URLParam(r, "targetId"))
	if err := s.rt.CloseTarget(r.Context(), targetID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	fmt.Fprint(w, "Target is closing")
}

func (s *Server) render(t router.TargetSummary) targetJSON {
	return targetJSON{
		ID:                   string(t.TargetID),
		Type:                 targetTypePage,
		Title:                t.Title,
		URL:                  t.URL,
		WebSocketDebuggerURL: s.cdpWebSocketURL("devtools/page/" + string(t.TargetID)),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
