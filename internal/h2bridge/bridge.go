package h2bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/net/http2"

	"github.com/proxide/proxide/internal/conn"
	"github.com/proxide/proxide/internal/perr"
	"github.com/proxide/proxide/internal/session"
)

// drainGrace is how long Run waits for in-flight streams to reach a
// terminal state after sending GOAWAY on cancellation, before force-closing.
const drainGrace = 5 * time.Second

// Config carries everything the bridge needs beyond the two raw
// connections: where to record what it observes, and how to rewrite
// request targets in direct mode.
type Config struct {
	Store  *session.Store
	Conn   *conn.Context
	Logger *slog.Logger

	// RewriteAuthority, when non-empty, replaces every request's
	// :authority with this value before forwarding upstream -- direct
	// mode's fixed single-target topology.
	RewriteAuthority string
}

// Bridge runs one HTTP/2 session toward the client (server role, downConn)
// paired 1:1 with one HTTP/2 session toward the upstream (client role,
// upConn), mirroring every observed frame into the Session Store.
type Bridge struct {
	cfg Config

	downConn net.Conn
	upConn   net.Conn

	downFramer *http2.Framer
	upFramer   *http2.Framer

	// Each direction of each leg has its own HPACK state -- four codecs
	// total, matching HTTP/2's per-connection-per-direction dynamic
	// tables.
	downReadCodec  *hpackCodec // decodes blocks arriving from the client
	downWriteCodec *hpackCodec // encodes blocks sent to the client
	upReadCodec    *hpackCodec // decodes blocks arriving from upstream
	upWriteCodec   *hpackCodec // encodes blocks sent upstream

	table *streamTable

	// downWindow/upWindow track only the connection-level flow-control
	// window for the leg being written to; per-stream windows are not
	// tracked separately since Proxide never holds more than one
	// in-flight DATA frame per direction at a time (see OnData/relay).
	downWindow *flowWindow
	upWindow   *flowWindow

	logger *slog.Logger
}

// New builds a Bridge for an already-accepted client connection (downConn,
// having already completed any TLS handshake) and an already-dialed
// upstream connection (upConn), neither of which has exchanged the HTTP/2
// preface yet.
func New(downConn, upConn net.Conn, cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:            cfg,
		downConn:       downConn,
		upConn:         upConn,
		downFramer:     http2.NewFramer(downConn, downConn),
		upFramer:       http2.NewFramer(upConn, upConn),
		downReadCodec:  newHPACKCodec(),
		downWriteCodec: newHPACKCodec(),
		upReadCodec:    newHPACKCodec(),
		upWriteCodec:   newHPACKCodec(),
		table:          newStreamTable(),
		downWindow:     newFlowWindow(defaultInitialWindow),
		upWindow:       newFlowWindow(defaultInitialWindow),
		logger:         logger,
	}
}

// legResult pairs a relay goroutine's exit error with which leg produced
// it, since an H2ProtocolError's remedy (GOAWAY to the offending peer,
// RST_STREAM to its counterparty) depends on which side misbehaved.
type legResult struct {
	leg string
	err error
}

// Run performs the HTTP/2 preface handshake on both legs, then relays
// frames between them until either side closes, a protocol violation
// forces an abort, or ctx is cancelled. It always records the
// Connection's terminal status before returning.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.handshake(); err != nil {
		b.finish(session.ConnFailed, err)
		return err
	}

	resCh := make(chan legResult, 2)
	go func() { resCh <- legResult{"downstream", b.serveDownstream()} }()
	go func() { resCh <- legResult{"upstream", b.serveUpstream()} }()

	var runErr error
	select {
	case res := <-resCh:
		if res.err != nil {
			if perr.Is(res.err, perr.H2ProtocolError) {
				b.abort(res.leg, res.err)
			}
			runErr = wrapLeg(res.leg, res.err)
		}
	case <-ctx.Done():
		runErr = b.drain(ctx.Err())
	case <-b.cfg.Conn.CloseChan:
		runErr = fmt.Errorf("h2bridge: connection closed externally")
	}

	b.downWindow.Close()
	b.upWindow.Close()
	b.cfg.Conn.Close()

	status := session.ConnClosed
	if runErr != nil && !isCleanShutdown(runErr) {
		status = session.ConnFailed
	}
	b.finish(status, runErr)
	return runErr
}

// abort sends GOAWAY to the peer on leg that committed a protocol
// violation, and RST_STREAM to its counterparty on every stream still
// paired, per the documented failure semantics for frame-level violations.
func (b *Bridge) abort(leg string, cause error) {
	down, up := b.table.highWater()
	const code = http2.ErrCodeProtocol
	switch leg {
	case "downstream":
		_ = b.downFramer.WriteGoAway(down, code, []byte(cause.Error()))
		for _, p := range b.table.all() {
			_ = b.upFramer.WriteRSTStream(p.upstreamID, code)
		}
	case "upstream":
		_ = b.upFramer.WriteGoAway(up, code, []byte(cause.Error()))
		for _, p := range b.table.all() {
			_ = b.downFramer.WriteRSTStream(p.downstreamID, code)
		}
	}
}

// drain implements cancellation's graceful shutdown: GOAWAY is sent both
// ways immediately, then Run waits up to drainGrace for every paired
// stream to reach a terminal state (the still-running relay goroutines
// keep advancing pair state in the background) before RST-ing whatever
// is left and returning cause.
func (b *Bridge) drain(cause error) error {
	down, up := b.table.highWater()
	_ = b.downFramer.WriteGoAway(down, http2.ErrCodeNo, nil)
	_ = b.upFramer.WriteGoAway(up, http2.ErrCodeNo, nil)

	deadline := time.NewTimer(drainGrace)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if b.table.openCount() == 0 {
			return cause
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			for _, p := range b.table.all() {
				_ = b.downFramer.WriteRSTStream(p.downstreamID, http2.ErrCodeCancel)
				_ = b.upFramer.WriteRSTStream(p.upstreamID, http2.ErrCodeCancel)
			}
			return cause
		}
	}
}

func (b *Bridge) finish(status session.ConnStatus, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	if _, serr := b.cfg.Store.UpdateConnectionStatus(b.cfg.Conn.ID, status, reason); serr != nil {
		b.logger.Error("update connection status", "err", serr)
	}
}

// handshake exchanges HTTP/2 connection prefaces and initial SETTINGS on
// both legs. Proxide is the server on downConn (it reads the client's
// preface) and the client on upConn (it writes the preface itself).
func (b *Bridge) handshake() error {
	preface := make([]byte, len(http2.ClientPreface))
	if _, err := io.ReadFull(b.downConn, preface); err != nil {
		return fmt.Errorf("h2bridge: read client preface: %w", err)
	}
	if string(preface) != http2.ClientPreface {
		return fmt.Errorf("h2bridge: bad client preface")
	}
	if err := b.downFramer.WriteSettings(); err != nil {
		return fmt.Errorf("h2bridge: write downstream settings: %w", err)
	}

	if _, err := io.WriteString(b.upConn, http2.ClientPreface); err != nil {
		return fmt.Errorf("h2bridge: write upstream preface: %w", err)
	}
	if err := b.upFramer.WriteSettings(); err != nil {
		return fmt.Errorf("h2bridge: write upstream settings: %w", err)
	}
	return nil
}

func wrapLeg(leg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("h2bridge: %s leg: %w", leg, err)
}

func isCleanShutdown(err error) bool {
	return errors.Is(err, io.EOF)
}
