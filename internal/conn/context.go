// Package conn holds the per-connection runtime state threaded through the
// accept loop, TLS endpoint, and HTTP/2 bridge -- the live counterpart to
// the immutable session.Connection record the Session Store owns.
package conn

import (
	"crypto/tls"
	"net"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/proxide/proxide/internal/session"
)

// Context is the mutable, process-local state for one accepted connection.
// It is never handed to subscribers; only session.Connection snapshots are.
type Context struct {
	ID uuid.UUID

	ClientConn  net.Conn
	ClientHello *tls.ClientHelloInfo
	UpstreamConn net.Conn

	Mode          session.Mode
	TargetHost    string // CONNECT target, or configured direct-mode target
	TargetPort    string
	UpstreamAuthority string // direct-mode rewrite target, empty in CONNECT mode

	mu        sync.Mutex
	closeOnce sync.Once
	CloseChan chan struct{}
}

// New creates connection context for a freshly accepted client transport.
func New(client net.Conn, mode session.Mode) *Context {
	return &Context{
		ID:         uuid.NewV4(),
		ClientConn: client,
		Mode:       mode,
		CloseChan:  make(chan struct{}),
	}
}

// Close tears down both legs of the connection and signals CloseChan
// exactly once, regardless of how many callers race to close it.
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.ClientConn != nil {
			_ = c.ClientConn.Close()
		}
		if c.UpstreamConn != nil {
			_ = c.UpstreamConn.Close()
		}
		c.mu.Unlock()
		close(c.CloseChan)
	})
}

// SetUpstreamConn records the dialed upstream connection for later close.
func (c *Context) SetUpstreamConn(uc net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpstreamConn = uc
}
