package server

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/verdant-io/verdant/internal/protocol"
)

// LineConn is one client connection able to read and write protocol
// messages. The TCP listener and the WebSocket bridge both implement it,
// so the session handler is transport-agnostic.
type LineConn interface {
	// ReadLine blocks until the next message line arrives. The returned
	// slice is only valid until the next call.
	ReadLine() ([]byte, error)
	// WriteMessage encodes and writes one message. Concurrent calls are
	// serialised so each JSON line stays atomic on the wire.
	WriteMessage(v any) error
	Close() error
	RemoteAddr() string
}

type tcpConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	writeMu sync.Mutex
}

// NewTCPConn wraps a TCP socket as a LineConn.
func NewTCPConn(c net.Conn) LineConn {
	sc := bufio.NewScanner(c)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &tcpConn{conn: c, scanner: sc}
}

func (c *tcpConn) ReadLine() ([]byte, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return c.scanner.Bytes(), nil
}

func (c *tcpConn) WriteMessage(v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
