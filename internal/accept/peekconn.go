// Package accept implements the Connection Accept Loop / CONNECT Handler:
// it classifies each newly accepted TCP connection (CONNECT tunnel vs.
// direct mode, TLS vs. cleartext H2), negotiates TLS when needed, dials the
// upstream, and hands both legs to the HTTP/2 Bridge.
package accept

import (
	"bufio"
	"net"
)

// peekConn lets the accept loop inspect the first bytes of a connection
// (to classify CONNECT vs. TLS vs. cleartext H2) without consuming them,
// so the same bytes are still visible to whatever reads the connection
// next -- the CONNECT request parser, a TLS handshake, or the HTTP/2
// bridge's preface read.
type peekConn struct {
	net.Conn
	r *bufio.Reader
}

func newPeekConn(c net.Conn) *peekConn {
	return &peekConn{Conn: c, r: bufio.NewReader(c)}
}

func (c *peekConn) Peek(n int) ([]byte, error) {
	return c.r.Peek(n)
}

func (c *peekConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
