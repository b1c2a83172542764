package websocket

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Ping adds a periodic ping to a websocket connection, so that
// middleboxes don't time out idle connections, and so that a dead
// peer is eventually noticed.
func Ping(c *websocket.Conn) Websocket {
	p := &pingingWebsocket{conn: c}
	p.conn.SetPongHandler(p.pong)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.pinger = time.AfterFunc(pingPeriod, p.ping)
	return p
}

type pingingWebsocket struct {
	pinger  *time.Timer
	writeMu sync.Mutex
	conn    *websocket.Conn
	reader  io.Reader
}

func (p *pingingWebsocket) ping() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		p.conn.Close()
		return
	}
	p.pinger.Reset(pingPeriod)
}

func (p *pingingWebsocket) pong(string) error {
	return p.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// Read assembles data frames into a byte stream, skipping any control
// frames, which are handled by the connection itself.
func (p *pingingWebsocket) Read(b []byte) (int, error) {
	for {
		if p.reader == nil {
			msgType, r, err := p.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
				continue
			}
			p.reader = r
		}
		n, err := p.reader.Read(b)
		if err == io.EOF {
			p.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends b as a single text frame.
func (p *pingingWebsocket) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return 0, err
	}
	w, err := p.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	if err != nil {
		return n, err
	}
	return n, w.Close()
}

func (p *pingingWebsocket) Close() error {
	p.pinger.Stop()
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return p.conn.Close()
}
