package websocket

import (
	"io"
	"net/http"

	"github.com/gorilla/websocket"
)

// Websocket exposes the bits of *websocket.Conn we actually use. Note
// that we are emulating an `io.ReadWriter`, so that the event stream
// can be written with ordinary encoders.
type Websocket interface {
	io.Reader
	io.Writer
	Close() error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade upgrades the HTTP server connection to the WebSocket
// protocol, keeping the connection alive with periodic pings.
func Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (Websocket, error) {
	wsConn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		return nil, err
	}
	return Ping(wsConn), nil
}

// IsExpectedWSCloseError returns boolean indicating whether the error
// is a clean disconnection.
func IsExpectedWSCloseError(err error) bool {
	return err == io.EOF || err == io.ErrClosedPipe || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	)
}
