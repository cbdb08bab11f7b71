// Package wsutil provides small WebSocket helpers shared by the
// upstream client and bridge packages. SafeConn addresses a hazard
// gorilla/websocket itself documents: a single *websocket.Conn supports
// at most one concurrent writer. The gateway has two: the bridge's two
// per-session tasks both write to the upstream socket (client→upstream
// forwarding and function-call completion), and the bridge's
// upstream→client task races the session manager's broadcast path on
// the client socket. Grounded on the teacher's wsSession, which solves
// the same hazard with a single writer goroutine draining a channel
// (internal/gateway/ws_control_plane.go); a mutex is used here instead
// of a channel so writes stay synchronous, preserving the "no more
// than one in-flight send per direction" backpressure rule.
package wsutil

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SafeConn serializes writes to an underlying *websocket.Conn. Reads
// are never concurrent in this gateway (each socket has exactly one
// reader goroutine) and so are left on the raw connection.
type SafeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Wrap returns a SafeConn guarding conn's writes.
func Wrap(conn *websocket.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteMessage writes one frame, excluding concurrent writers.
func (c *SafeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// WriteControl writes a control frame (e.g. close), excluding
// concurrent writers the same way WriteMessage does.
func (c *SafeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(messageType, data, deadline)
}
