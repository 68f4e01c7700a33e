// Package rewind provides a net.Conn adapter that replays a captured
// byte prefix before delegating reads to the underlying connection.
package rewind

import (
	"net"
)

// Conn wraps an inner net.Conn, delivering the bytes of initial first
// and only then passing reads through. Cheap to construct: it stores
// the slice it is given rather than copying it.
type Conn struct {
	net.Conn
	initial []byte
	pos     int
}

// New wraps conn so that a Read call first drains initial before
// falling through to conn.Read.
func New(conn net.Conn, initial []byte) *Conn {
	return &Conn{Conn: conn, initial: initial}
}

func (c *Conn) Read(b []byte) (int, error) {
	if c.pos < len(c.initial) {
		n := copy(b, c.initial[c.pos:])
		c.pos += n
		return n, nil
	}
	return c.Conn.Read(b)
}

// Write, Close, and deadline methods are inherited unmodified from the
// embedded net.Conn and pass through unconditionally.
var _ net.Conn = (*Conn)(nil)
