package extconn

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ajsharma/brop-bridge/internal/wire"
)

// expectedHello is the token value the extension's handshake frame (§4.1)
// must carry before the Acceptor hands the connection to the Channel.
const expectedHello = "brop-extension"

// Acceptor upgrades inbound HTTP connections on the extension control port
// to websockets, validates the extension's handshake frame, and hands
// validated connections to a Channel. Grounded on the gorilla/websocket
// acceptor shape used by the pack's own extension-relay analog (an Upgrader
// with a permissive CheckOrigin, since the extension is a local,
// user-installed client rather than an arbitrary web origin).
type Acceptor struct {
	channel    *Channel
	upgrader   websocket.Upgrader
	onAccepted func()
	onRejected func(reason string)
}

// NewAcceptor constructs an Acceptor that feeds validated connections to
// channel. onAccepted fires once a connection completes handshake and is
// handed off; onRejected fires with a reason whenever a connection's first
// frame fails handshake. Either callback may be nil; the Bridge uses both
// to decide whether a handshake rejection during its startup window should
// surface as exit code 75 (§6).
func NewAcceptor(channel *Channel, onAccepted func(), onRejected func(reason string)) *Acceptor {
	return &Acceptor{
		channel:    channel,
		onAccepted: onAccepted,
		onRejected: onRejected,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("extconn: upgrade failed: %v", err)
		return
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		a.reject("did not send a handshake frame: " + err.Error())
		return
	}
	var hello wire.ExtensionHello
	if err := json.Unmarshal(data, &hello); err != nil || hello.Hello != expectedHello {
		_ = conn.Close()
		a.reject("missing or mismatched handshake frame")
		return
	}

	a.channel.SetExtensionVersion(hello.ProtocolVersion)
	if a.onAccepted != nil {
		a.onAccepted()
	}
	a.channel.Accept(conn)
}

func (a *Acceptor) reject(reason string) {
	log.Printf("extconn: rejecting extension connection: %s", reason)
	if a.onRejected != nil {
		a.onRejected(reason)
	}
}
