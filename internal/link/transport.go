package link

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wireConn is the subset of *websocket.Conn a Session needs. Defining it as
// an interface keeps Session testable without a real socket.
type wireConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// TransportConfig controls keep-alive and framing limits for a Session's
// underlying connection.
type TransportConfig struct {
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// DefaultTransportConfig mirrors conservative defaults for a long-lived
// inter-node link: a generous frame size and a 30s/40s ping/pong keep-alive.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxMessageSize: 1 << 20,
		PingInterval:   30 * time.Second,
		PongTimeout:    40 * time.Second,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		// Peer authentication happens above the transport layer.
		return true
	},
}

// Accept upgrades an inbound HTTP connection to a link transport.
func Accept(w http.ResponseWriter, r *http.Request) (wireConn, error) {
	return upgrader.Upgrade(w, r, nil)
}

// Dial opens an outbound link transport to a peer node.
func Dial(url string, header http.Header) (wireConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	return conn, err
}
