// Package bridge wires every component into the explicit top-level Bridge
// value (§9: "an explicit value, not a package-level singleton") and owns
// its lifecycle: binding the four listeners, running the Session Router's
// event loop, and shutting everything down within the grace window §5
// requires.
package bridge

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ajsharma/brop-bridge/internal/bropserver"
	"github.com/ajsharma/brop-bridge/internal/calllog"
	"github.com/ajsharma/brop-bridge/internal/cdpserver"
	"github.com/ajsharma/brop-bridge/internal/config"
	"github.com/ajsharma/brop-bridge/internal/consolelog"
	"github.com/ajsharma/brop-bridge/internal/discovery"
	"github.com/ajsharma/brop-bridge/internal/extconn"
	"github.com/ajsharma/brop-bridge/internal/ids"
	"github.com/ajsharma/brop-bridge/internal/redact"
	"github.com/ajsharma/brop-bridge/internal/router"
)

// Version is the bridge's build version, set at build time via ldflags
// (teacher's pattern, internal/config.Version).
var Version = "dev"

// ExitCode is the process exit code vocabulary (§6).
type ExitCode int

const (
	ExitOK                    ExitCode = 0
	ExitPortBindFailure       ExitCode = 64
	ExitInternalError         ExitCode = 70
	ExitExtensionHandshakeBad ExitCode = 75
)

// Error pairs a failure with the exit code cmd/bridge should report it
// with.
type Error struct {
	Code ExitCode
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// handshakeGraceWindow bounds how long Run waits, after binding its
// listeners, for either a successful extension handshake or an observed
// rejection, before deciding the process can proceed without one (the
// extension may simply not be running yet; that is not itself an error,
// since the Extension Channel is dialed by the extension whenever it
// connects, not dialed out to by the bridge — see internal/extconn's
// package doc).
const handshakeGraceWindow = 5 * time.Second

// Bridge is the explicit value wiring the Identifier Registry, Extension
// Channel, Console Log Store, CallLog Store, Session Router, and all four
// network listeners.
type Bridge struct {
	cfg       *config.Config
	browserID string

	registry *ids.Registry
	channel  *extconn.Channel
	console  *consolelog.Store
	calls    *calllog.Store
	rt       *router.Router

	cdpSrv  *cdpserver.Server
	bropSrv *bropserver.Server
	discSrv *discovery.Server

	handshakeAccepted chan struct{}
	handshakeRejected chan string

	mu      sync.Mutex
	addrs   map[string]string
	readyCh chan struct{}
}

// New constructs a Bridge from cfg. It wires every package built so far;
// nothing here talks to a network socket until Run is called.
func New(cfg *config.Config) *Bridge {
	var requestLogger *logrus.Logger
	if cfg.EnableRequestLog {
		requestLogger = logrus.New()
	}

	registry := ids.NewRegistry(cfg.TargetIDPrefix)
	channel := extconn.NewChannel(cfg.ExtensionCallTimeout())
	console := consolelog.NewStore(cfg.MaxConsoleEntriesPerTab)
	calls := calllog.NewStore(cfg.MaxCallLogEntries, redact.New(true), requestLogger)
	rt := router.NewRouter(registry, channel, console, calls, cfg.ExtensionCallTimeout(), cfg.DefaultBrowserContext)

	// browserID mirrors the teacher's GetSessionID(): one UUID minted per
	// process and reused everywhere the process needs a stable identity,
	// here the Discovery Endpoint's devtools/browser/<id> path (§4.8).
	browserID := uuid.NewString()

	b := &Bridge{
		cfg:               cfg,
		browserID:         browserID,
		registry:          registry,
		channel:           channel,
		console:           console,
		calls:             calls,
		rt:                rt,
		handshakeAccepted: make(chan struct{}, 1),
		handshakeRejected: make(chan string, 1),
		addrs:             make(map[string]string),
		readyCh:           make(chan struct{}),
	}

	b.cdpSrv = cdpserver.New(rt, cfg.ClientEventHighWatermark)
	b.bropSrv = bropserver.New(rt, cfg.ClientEventHighWatermark)
	b.discSrv = discovery.New(rt, "localhost", cfg.CDPPort, "brop-bridge", Version, browserID)

	return b
}

// BrowserID returns the process-level identity minted at construction.
func (b *Bridge) BrowserID() string { return b.browserID }

// Ready returns a channel closed once every listener is bound. It never
// closes if Run returns a bind-failure Error first.
func (b *Bridge) Ready() <-chan struct{} { return b.readyCh }

// Addr returns the bound address for a named listener ("cdp", "brop",
// "extension", "discovery"), valid only after Ready() has fired. Mainly
// useful in tests that bind to ":0" and need the OS-assigned port.
func (b *Bridge) Addr(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addrs[name]
}

type boundListener struct {
	name    string
	addr    string
	handler http.Handler
}

// Run binds every listener, runs the Session Router until ctx is
// cancelled, and shuts everything down within the 2-second grace window
// (§5). It returns a *Error carrying the exit code cmd/bridge should use,
// or nil on a clean, ctx-cancelled shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	acceptor := extconn.NewAcceptor(b.channel,
		func() {
			select {
			case b.handshakeAccepted <- struct{}{}:
			default:
			}
		},
		func(reason string) {
			select {
			case b.handshakeRejected <- reason:
			default:
			}
		},
	)

	collapsed := b.cfg.HTTPPort == b.cfg.CDPPort

	cdpMux := http.NewServeMux()
	if collapsed {
		cdpMux.Handle("/json", b.discSrv.Handler())
		cdpMux.Handle("/json/", b.discSrv.Handler())
	}
	cdpMux.Handle("/", b.cdpSrv)

	listeners := []boundListener{
		{name: "cdp", addr: fmt.Sprintf(":%d", b.cfg.CDPPort), handler: cdpMux},
		{name: "brop", addr: fmt.Sprintf(":%d", b.cfg.BROPPort), handler: b.bropSrv},
		{name: "extension", addr: fmt.Sprintf(":%d", b.cfg.ExtPort), handler: acceptor},
	}
	if !collapsed {
		listeners = append(listeners, boundListener{name: "discovery", addr: fmt.Sprintf(":%d", b.cfg.HTTPPort), handler: b.discSrv.Handler()})
	}

	lns := make([]net.Listener, 0, len(listeners))
	srvs := make([]*http.Server, 0, len(listeners))
	for _, l := range listeners {
		ln, err := net.Listen("tcp", l.addr)
		if err != nil {
			for _, prior := range lns {
				_ = prior.Close()
			}
			return &Error{Code: ExitPortBindFailure, Err: fmt.Errorf("%s listener on %s: %w", l.name, l.addr, err)}
		}
		lns = append(lns, ln)
		srv := &http.Server{Handler: l.handler}
		srvs = append(srvs, srv)

		b.mu.Lock()
		b.addrs[l.name] = ln.Addr().String()
		b.mu.Unlock()

		log.Printf("bridge: %s listening on %s", l.name, l.addr)
		go func(srv *http.Server, ln net.Listener, name string) {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				log.Printf("bridge: %s server stopped: %v", name, err)
			}
		}(srv, ln, l.name)
	}

	close(b.readyCh)

	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		b.rt.Run(ctx)
	}()

	if err := b.waitForHandshake(ctx); err != nil {
		b.shutdownServers(srvs)
		return err
	}

	<-ctx.Done()
	log.Printf("bridge: shutdown signal received, grace window %s", shutdownGrace)
	b.shutdownServers(srvs)
	<-routerDone
	return nil
}

// waitForHandshake blocks until either the extension completes its
// handshake, a handshake is observed to fail, the grace window elapses
// with neither happening (not itself an error — the extension may connect
// later), or ctx is cancelled first.
func (b *Bridge) waitForHandshake(ctx context.Context) error {
	select {
	case <-b.handshakeAccepted:
		log.Printf("bridge: extension handshake accepted")
		return nil
	case reason := <-b.handshakeRejected:
		return &Error{Code: ExitExtensionHandshakeBad, Err: fmt.Errorf("extension handshake rejected: %s", reason)}
	case <-time.After(handshakeGraceWindow):
		log.Printf("bridge: no extension connected within %s, continuing to serve clients", handshakeGraceWindow)
		return nil
	case <-ctx.Done():
		return nil
	}
}

const shutdownGrace = 2 * time.Second

func (b *Bridge) shutdownServers(srvs []*http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	var wg sync.WaitGroup
	for _, srv := range srvs {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("bridge: server shutdown error: %v", err)
			}
		}(srv)
	}
	wg.Wait()
}
