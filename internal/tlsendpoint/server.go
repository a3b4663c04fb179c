// Package tlsendpoint implements the two TLS legs of the bridge: a
// server-side acceptor that presents a minted leaf chosen by SNI, and a
// client-side connector that dials the real upstream with normal
// certificate verification.
package tlsendpoint

import (
	"crypto/tls"
	"fmt"

	"github.com/proxide/proxide/cert"
)

// ServerConfig builds a *tls.Config that mints a leaf certificate for
// whichever SNI the client presents, falling back to fallbackHost when the
// ClientHello carries no SNI (e.g. a raw-IP CONNECT target). ALPN always
// advertises h2 only -- Proxide's downstream leg is HTTP/2-only by design.
func ServerConfig(ca cert.CA, fallbackHost string) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"h2"},
		GetCertificate: func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
			host := chi.ServerName
			if host == "" {
				host = fallbackHost
			}
			if host == "" {
				return nil, fmt.Errorf("tlsendpoint: no SNI and no fallback host to mint a certificate for")
			}
			return ca.GetCert(host)
		},
	}
}
