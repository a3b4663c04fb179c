package accept

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/proxide/proxide/cert"
	"github.com/proxide/proxide/internal/conn"
	"github.com/proxide/proxide/internal/h2bridge"
	"github.com/proxide/proxide/internal/helper"
	"github.com/proxide/proxide/internal/session"
	"github.com/proxide/proxide/internal/tlsendpoint"
)

// Config carries everything the accept loop needs to classify, terminate,
// and bridge a connection.
type Config struct {
	CA cert.CA

	Store *session.Store

	// DirectTarget is the fixed upstream host:port used when a connection
	// does not open with a CONNECT request. Empty means CONNECT-only
	// (proxy) mode: a non-CONNECT connection is rejected.
	DirectTarget string

	Logger *slog.Logger

	// UpstreamTLS overrides whether to dial the upstream over TLS. Nil
	// follows spec's default: upstream TLS iff the downstream leg used
	// TLS.
	UpstreamTLS *bool
}

// Serve runs the accept loop until ln.Accept fails or ctx is cancelled,
// spawning one goroutine per accepted connection.
func Serve(ctx context.Context, ln net.Listener, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go handleConn(ctx, raw, cfg, logger)
	}
}

// handleConn classifies one accepted connection, performs the TLS sniff
// and optional handshake, dials upstream, and runs the HTTP/2 Bridge
// until the connection ends.
func handleConn(ctx context.Context, raw net.Conn, cfg Config, logger *slog.Logger) {
	pc := newPeekConn(raw)
	logger = logger.With("client_addr", raw.RemoteAddr().String())

	// A Connection record is inserted before classification/TLS negotiation
	// even run, so a failure in either still has a row to fail: early
	// errors downgrade this record to Failed via UpdateConnectionStatus
	// rather than leaving the attempt unlogged.
	connID := uuid.NewV4()
	cfg.Store.InsertConnection(session.Connection{
		ID:         connID,
		ClientAddr: raw.RemoteAddr().String(),
		OpenedAt:   time.Now(),
		Status:     session.ConnOpen,
	})

	targetHost, targetPort, mode, err := classifyTarget(pc, cfg.DirectTarget)
	if err != nil {
		logger.Error("classify connection", "err", err)
		_, _ = cfg.Store.UpdateConnectionStatus(connID, session.ConnFailed, err.Error())
		_ = raw.Close()
		return
	}

	downConn, negotiatedALPN, usedTLS, err := negotiateDownstream(ctx, pc, cfg.CA, targetHost)
	if err != nil {
		logger.Error("downstream negotiation failed", "err", err)
		_, _ = cfg.Store.UpdateConnectionStatus(connID, session.ConnFailed, err.Error())
		_ = raw.Close()
		return
	}

	cc := conn.New(downConn, mode)
	cc.ID = connID
	cc.TargetHost = targetHost
	cc.TargetPort = targetPort

	addr := net.JoinHostPort(targetHost, targetPort)
	connRecord := session.Connection{
		ID:             cc.ID,
		ClientAddr:     raw.RemoteAddr().String(),
		ServerAddr:     addr,
		ProtocolStack:  protocolStack(usedTLS),
		Mode:           mode,
		NegotiatedALPN: negotiatedALPN,
		OpenedAt:       time.Now(),
		Status:         session.ConnOpen,
	}
	cfg.Store.InsertConnection(connRecord)

	upstreamTLS := usedTLS
	if cfg.UpstreamTLS != nil {
		upstreamTLS = *cfg.UpstreamTLS
	}

	upConn, err := dialUpstream(ctx, addr, upstreamTLS)
	if err != nil {
		logger.Error("upstream dial failed", "err", err)
		_, _ = cfg.Store.UpdateConnectionStatus(cc.ID, session.ConnFailed, err.Error())
		cc.Close()
		return
	}
	cc.SetUpstreamConn(upConn)

	rewriteAuthority := ""
	if mode == session.ModeDirect {
		rewriteAuthority = addr
		cc.UpstreamAuthority = addr
	}

	bridge := h2bridge.New(downConn, upConn, h2bridge.Config{
		Store:            cfg.Store,
		Conn:             cc,
		Logger:           logger,
		RewriteAuthority: rewriteAuthority,
	})
	if err := bridge.Run(ctx); err != nil {
		logger.Debug("bridge exited", "err", err)
	}
}

// classifyTarget implements the classification step: a CONNECT request
// line selects CONNECT mode and yields its target; otherwise the
// connection is bound to the configured direct-mode target.
func classifyTarget(pc *peekConn, directTarget string) (host, port string, mode session.Mode, err error) {
	const connectPrefixLen = len("CONNECT ")
	peek, peekErr := pc.Peek(connectPrefixLen)
	if peekErr == nil && string(peek) == "CONNECT " {
		req, reqErr := http.ReadRequest(pc.r)
		if reqErr != nil {
			return "", "", "", fmt.Errorf("accept: read CONNECT request: %w", reqErr)
		}
		host, port, err = net.SplitHostPort(req.Host)
		if err != nil {
			return "", "", "", fmt.Errorf("accept: bad CONNECT target %q: %w", req.Host, err)
		}
		if _, err := io.WriteString(pc.Conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
			return "", "", "", fmt.Errorf("accept: write CONNECT response: %w", err)
		}
		return host, port, session.ModeConnect, nil
	}

	if directTarget == "" {
		return "", "", "", fmt.Errorf("accept: non-CONNECT connection with no configured direct target")
	}
	host, port, err = net.SplitHostPort(directTarget)
	if err != nil {
		return "", "", "", fmt.Errorf("accept: bad configured direct target %q: %w", directTarget, err)
	}
	return host, port, session.ModeDirect, nil
}

// negotiateDownstream performs the TLS sniff: if the next bytes are a TLS
// ClientHello, the server-side TLS Endpoint is engaged with host as the
// SNI fallback; otherwise the connection is treated as cleartext H2 as-is.
func negotiateDownstream(ctx context.Context, pc *peekConn, ca cert.CA, host string) (downConn net.Conn, negotiatedALPN string, usedTLS bool, err error) {
	peek, err := pc.Peek(3)
	if err != nil {
		return nil, "", false, fmt.Errorf("accept: peek protocol bytes: %w", err)
	}

	if !helper.IsTLS(peek) {
		return pc, "", false, nil
	}

	tlsConn := tls.Server(pc, tlsendpoint.ServerConfig(ca, host))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, "", false, fmt.Errorf("accept: tls handshake: %w", err)
	}
	return tlsConn, tlsConn.ConnectionState().NegotiatedProtocol, true, nil
}

func dialUpstream(ctx context.Context, addr string, useTLS bool) (net.Conn, error) {
	if useTLS {
		return tlsendpoint.Dial(ctx, addr, tlsendpoint.ClientOptions{})
	}
	d := net.Dialer{}
	return d.DialContext(ctx, "tcp", addr)
}

func protocolStack(usedTLS bool) []string {
	if usedTLS {
		return []string{"TCP", "TLS", "H2"}
	}
	return []string{"TCP", "H2"}
}
