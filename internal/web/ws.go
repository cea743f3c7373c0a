package web

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/verdant-io/verdant/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The TCP listener is open to any client on the network; the bridge
	// keeps the same posture.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection and runs the regular session handler
// over it: one protocol message per text frame.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	s.core.HandleConn(newWSConn(conn))
}

// wsConn adapts a websocket connection to server.LineConn.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{conn: c}
}

func (c *wsConn) ReadLine() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
