package ws

import (
	"net"
	"sync"

	"github.com/gobwas/ws/wsutil"
)

// Conn is a live client connection as the registry sees it. Send must be
// safe for concurrent use; a failed Send means the connection is dead.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// socketConn adapts a raw upgraded WebSocket connection to Conn. Writes are
// serialized; broadcasts and the per-connection read loop share the socket.
type socketConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func newSocketConn(conn net.Conn) *socketConn {
	return &socketConn{conn: conn}
}

func (c *socketConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteServerText(c.conn, payload)
}

func (c *socketConn) Close() error {
	return c.conn.Close()
}
