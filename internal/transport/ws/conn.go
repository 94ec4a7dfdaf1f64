package ws

import (
	"encoding/json"
	"time"

	"github.com/cwrk-planet/booth-service/internal/protocol"

	"github.com/gorilla/websocket"
)

// wsConn serializes writes to one websocket. gorilla allows a single writer.
type wsConn struct {
	conn      *websocket.Conn
	roomID    string
	peerID    string
	writeWait time.Duration
	sendMu    chan struct{}
	closed    chan struct{}
}

func newWsConn(c *websocket.Conn, roomID, peerID string, writeWait time.Duration) *wsConn {
	return &wsConn{
		conn:      c,
		roomID:    roomID,
		peerID:    peerID,
		writeWait: writeWait,
		sendMu:    make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

func (c *wsConn) Send(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

func (c *wsConn) SendRaw(data []byte) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))

	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// closeWith sends a close frame before tearing the socket down.
func (c *wsConn) closeWith(code int, text string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(c.writeWait))
	_ = c.Close()
}

func (c *wsConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}

	return c.conn.Close()
}
