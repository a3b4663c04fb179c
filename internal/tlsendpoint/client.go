package tlsendpoint

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"github.com/proxide/proxide/internal/helper"
	"github.com/proxide/proxide/internal/perr"
)

// ClientOptions configures the upstream TLS leg.
type ClientOptions struct {
	// RootCAs overrides the system trust store. Nil uses the default.
	RootCAs *x509.CertPool
	// InsecureSkipVerify disables upstream certificate verification. Only
	// meant for testing against self-signed fixtures.
	InsecureSkipVerify bool
}

// Dial opens a real TLS connection to addr (the upstream, never Proxide's
// own CA), negotiating h2 via ALPN. An upstream that does not negotiate
// h2 is rejected outright rather than silently falling back to HTTP/1.1
// semantics this proxy cannot bridge.
func Dial(ctx context.Context, addr string, opts ClientOptions) (*tls.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	tlsConfig := &tls.Config{
		ServerName:         host,
		RootCAs:            opts.RootCAs,
		InsecureSkipVerify: opts.InsecureSkipVerify,
		NextProtos:         []string{"h2"},
		MinVersion:         tls.VersionTLS12,
		KeyLogWriter:       helper.GetTLSKeyLogWriter(),
	}

	dialer := &tls.Dialer{Config: tlsConfig}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, perr.New(perr.UpstreamError, "tls dial "+addr, err)
	}
	conn := rawConn.(*tls.Conn)

	if got := conn.ConnectionState().NegotiatedProtocol; got != "h2" {
		_ = conn.Close()
		return nil, perr.New(perr.UpstreamError, "tls dial "+addr,
			fmt.Errorf("upstream negotiated ALPN %q, want h2", got))
	}
	return conn, nil
}
